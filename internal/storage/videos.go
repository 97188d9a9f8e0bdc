package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// --- Playlists ---

func (s *Store) SavePlaylist(p Playlist) error {
	syncedAt := p.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO playlists (id, title, description, channel_title, video_count, published_at, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			channel_title = excluded.channel_title,
			video_count = excluded.video_count,
			published_at = excluded.published_at,
			synced_at = excluded.synced_at`,
		p.ID, p.Title, p.Description, p.ChannelTitle, p.VideoCount,
		formatTime(p.PublishedAt), formatTime(syncedAt),
	)
	return err
}

func (s *Store) GetPlaylist(id string) (Playlist, error) {
	var p Playlist
	var publishedAt, syncedAt string
	err := s.db.QueryRow(`
		SELECT id, title, description, channel_title, video_count, published_at, synced_at
		FROM playlists WHERE id = ?`, id,
	).Scan(&p.ID, &p.Title, &p.Description, &p.ChannelTitle, &p.VideoCount, &publishedAt, &syncedAt)
	if err == sql.ErrNoRows {
		return Playlist{}, ErrNotFound
	}
	if err != nil {
		return Playlist{}, err
	}
	if p.PublishedAt, err = parseTime(publishedAt); err != nil {
		return Playlist{}, fmt.Errorf("parsing published_at: %w", err)
	}
	if p.SyncedAt, err = parseTime(syncedAt); err != nil {
		return Playlist{}, fmt.Errorf("parsing synced_at: %w", err)
	}
	return p, nil
}

// --- Videos ---

// UpsertVideos inserts new videos and refreshes metadata of existing ones in a
// single transaction. Transcript columns are never modified here.
func (s *Store) UpsertVideos(videos []Video) error {
	if len(videos) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO videos (id, playlist_id, title, description, channel_title, published_at, tags, position, duration, thumbnail_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			playlist_id = excluded.playlist_id,
			title = excluded.title,
			description = excluded.description,
			channel_title = excluded.channel_title,
			published_at = excluded.published_at,
			tags = excluded.tags,
			position = excluded.position,
			duration = excluded.duration,
			thumbnail_url = excluded.thumbnail_url,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, v := range videos {
		tags := v.Tags
		if tags == "" {
			tags = "[]"
		}
		if _, err := stmt.Exec(
			v.ID, v.PlaylistID, v.Title, v.Description, v.ChannelTitle,
			formatTime(v.PublishedAt), tags, v.Position, v.Duration, v.ThumbnailURL, now, now,
		); err != nil {
			return fmt.Errorf("upserting video %s: %w", v.ID, err)
		}
	}

	return tx.Commit()
}

const videoColumns = `id, playlist_id, title, description, channel_title, published_at, tags, position, duration, thumbnail_url,
	transcript, transcript_source, transcript_status, transcript_error, transcript_fetched_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (Video, error) {
	var v Video
	var transcript sql.NullString
	var publishedAt, fetchedAt, updatedAt string
	err := row.Scan(
		&v.ID, &v.PlaylistID, &v.Title, &v.Description, &v.ChannelTitle, &publishedAt, &v.Tags,
		&v.Position, &v.Duration, &v.ThumbnailURL,
		&transcript, &v.TranscriptSource, &v.TranscriptStatus, &v.TranscriptError, &fetchedAt, &updatedAt,
	)
	if err != nil {
		return Video{}, err
	}
	if transcript.Valid {
		t := transcript.String
		v.Transcript = &t
	}
	if v.PublishedAt, err = parseTime(publishedAt); err != nil {
		return Video{}, fmt.Errorf("parsing published_at for video %s: %w", v.ID, err)
	}
	if v.TranscriptFetchedAt, err = parseTime(fetchedAt); err != nil {
		return Video{}, fmt.Errorf("parsing transcript_fetched_at for video %s: %w", v.ID, err)
	}
	if v.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Video{}, fmt.Errorf("parsing updated_at for video %s: %w", v.ID, err)
	}
	return v, nil
}

func (s *Store) GetVideo(id string) (Video, error) {
	v, err := scanVideo(s.db.QueryRow(`SELECT `+videoColumns+` FROM videos WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Video{}, ErrNotFound
	}
	return v, err
}

// ListVideos returns all stored videos, newest first.
func (s *Store) ListVideos() ([]Video, error) {
	rows, err := s.db.Query(`SELECT ` + videoColumns + ` FROM videos ORDER BY published_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, rows.Err()
}

// SetTranscript stores a transcript for a video that does not have one yet.
// It reports false, without modifying anything, when a transcript is already
// stored. ErrNotFound is returned for unknown videos.
func (s *Store) SetTranscript(id, text, source string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE videos
		SET transcript = ?, transcript_source = ?, transcript_status = ?, transcript_error = '', transcript_fetched_at = ?, updated_at = ?
		WHERE id = ? AND transcript IS NULL`,
		text, source, TranscriptFetched, now, now, id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM videos WHERE id = ?`, id).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

// MarkTranscriptUnavailable records why no transcript could be fetched. Videos
// that already have a transcript are left untouched.
func (s *Store) MarkTranscriptUnavailable(id, reason string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE videos SET transcript_status = ?, transcript_error = ?, updated_at = ?
		WHERE id = ? AND transcript IS NULL`,
		TranscriptUnavailable, reason, now, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetVideo(id); err != nil {
			return err
		}
	}
	return nil
}
