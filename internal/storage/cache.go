package storage

import (
	"database/sql"
	"time"
)

// GetCachedPayload returns a cached raw API payload if it exists and has not
// expired.
func (s *Store) GetCachedPayload(key string) ([]byte, bool, error) {
	var payload []byte
	now := time.Now().UTC().Format(time.RFC3339)
	err := s.db.QueryRow(`SELECT payload FROM api_cache WHERE key = ? AND expires_at > ?`, key, now).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// PutCachedPayload stores a raw API payload for ttl, replacing any previous entry.
func (s *Store) PutCachedPayload(key string, payload []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO api_cache (key, payload, fetched_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at, expires_at = excluded.expires_at`,
		key, payload, now.Format(time.RFC3339), now.Add(ttl).Format(time.RFC3339),
	)
	return err
}

// PurgeExpiredPayloads deletes expired cache entries and returns how many were removed.
func (s *Store) PurgeExpiredPayloads() (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`DELETE FROM api_cache WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
