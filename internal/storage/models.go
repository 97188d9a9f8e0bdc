package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Transcript status values stored in videos.transcript_status.
const (
	TranscriptPending     = "pending"
	TranscriptFetched     = "fetched"
	TranscriptUnavailable = "unavailable"
)

type Playlist struct {
	ID           string
	Title        string
	Description  string
	ChannelTitle string
	VideoCount   int
	PublishedAt  time.Time
	SyncedAt     time.Time
}

type Video struct {
	ID                  string
	PlaylistID          string
	Title               string
	Description         string
	ChannelTitle        string
	PublishedAt         time.Time
	Tags                string // JSON array stored as text
	Position            int
	Duration            string
	ThumbnailURL        string
	Transcript          *string
	TranscriptSource    string
	TranscriptStatus    string
	TranscriptError     string
	TranscriptFetchedAt time.Time
	UpdatedAt           time.Time
}

type Interaction struct {
	ID                string    `json:"id"`
	CreatedAt         time.Time `json:"created_at"`
	Question          string    `json:"question"`
	Prompt            string    `json:"prompt"`
	Model             string    `json:"model"`
	Answer            string    `json:"answer"`
	SourceVideoIDs    string    `json:"source_video_ids"` // JSON array stored as text
	Status            string    `json:"status"`
	ErrorKind         string    `json:"error_kind,omitempty"`
	LatencyMs         int64     `json:"latency_ms"`
	NoRelevantContext bool      `json:"no_relevant_context"`
	FeedbackScore     int       `json:"feedback_score"`
	FeedbackNotes     string    `json:"feedback_notes"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
