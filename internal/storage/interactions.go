package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const interactionColumns = `id, created_at, question, prompt, model, answer, source_video_ids, status, error_kind,
	latency_ms, no_relevant_context, feedback_score, feedback_notes`

func (s *Store) SaveInteraction(i Interaction) error {
	status := i.Status
	if status == "" {
		status = "completed"
	}
	sources := i.SourceVideoIDs
	if sources == "" {
		sources = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO interactions (`+interactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.CreatedAt.UTC().Format(time.RFC3339), i.Question, i.Prompt, i.Model, i.Answer,
		sources, status, i.ErrorKind, i.LatencyMs, i.NoRelevantContext, i.FeedbackScore, i.FeedbackNotes,
	)
	return err
}

func scanInteraction(row rowScanner) (Interaction, error) {
	var i Interaction
	var createdAt string
	err := row.Scan(&i.ID, &createdAt, &i.Question, &i.Prompt, &i.Model, &i.Answer, &i.SourceVideoIDs,
		&i.Status, &i.ErrorKind, &i.LatencyMs, &i.NoRelevantContext, &i.FeedbackScore, &i.FeedbackNotes)
	if err != nil {
		return Interaction{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Interaction{}, fmt.Errorf("parsing created_at: %w", err)
	}
	i.CreatedAt = t
	return i, nil
}

func (s *Store) GetInteraction(id string) (Interaction, error) {
	i, err := scanInteraction(s.db.QueryRow(`SELECT `+interactionColumns+` FROM interactions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Interaction{}, ErrNotFound
	}
	return i, err
}

func (s *Store) UpdateFeedback(id string, score int, notes string) error {
	res, err := s.db.Exec(`UPDATE interactions SET feedback_score = ?, feedback_notes = ? WHERE id = ?`, score, notes, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListInteractions(limit, offset int) ([]Interaction, error) {
	rows, err := s.db.Query(`
		SELECT `+interactionColumns+`
		FROM interactions ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}
