package storage

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueue(t *testing.T, s *Store, job Job) {
	t.Helper()
	if _, err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob %s: %v", job.ID, err)
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestLoadMigrations(t *testing.T) {
	ms, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(ms) != 2 {
		t.Fatalf("got %d migrations, want 2", len(ms))
	}
	if ms[0].version != 1 || ms[0].file != "migrations/001_videos.sql" {
		t.Errorf("first migration = %+v", ms[0])
	}
	if ms[1].version != 2 || ms[1].file != "migrations/002_interactions.sql" {
		t.Errorf("second migration = %+v", ms[1])
	}
}

func TestOpen_CreatesDatabaseFile(t *testing.T) {
	dir := t.TempDir() + "/nested"
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dir + "/" + dbFile); err != nil {
		t.Errorf("database file missing: %v", err)
	}
	var mode string
	if err := s.DB().QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) != 2 {
		t.Fatalf("applied %d migrations, want 2", len(versions))
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{
		"idx_videos_playlist_position",
		"idx_videos_published",
		"idx_jobs_status_run_after",
		"idx_interactions_created",
		"idx_interactions_feedback",
		"idx_api_cache_expires",
	}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

// --- playlists & videos ---

func TestSaveAndGetPlaylist(t *testing.T) {
	s := openTestStore(t)

	published := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	want := Playlist{ID: "PL1", Title: "Racing", ChannelTitle: "Chan", VideoCount: 3, PublishedAt: published}
	if err := s.SavePlaylist(want); err != nil {
		t.Fatalf("SavePlaylist: %v", err)
	}

	want.Title = "Racing (updated)"
	if err := s.SavePlaylist(want); err != nil {
		t.Fatalf("SavePlaylist (update): %v", err)
	}

	got, err := s.GetPlaylist("PL1")
	if err != nil {
		t.Fatalf("GetPlaylist: %v", err)
	}
	if got.Title != "Racing (updated)" {
		t.Errorf("Title = %q, want %q", got.Title, "Racing (updated)")
	}
	if !got.PublishedAt.Equal(published) {
		t.Errorf("PublishedAt = %v, want %v", got.PublishedAt, published)
	}
	if got.SyncedAt.IsZero() {
		t.Error("SyncedAt should be set")
	}

	if _, err := s.GetPlaylist("missing"); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestUpsertVideos_PreservesTranscript(t *testing.T) {
	s := openTestStore(t)

	v := Video{ID: "v1", PlaylistID: "PL1", Title: "Speedrun Tips", Description: "tricks", Tags: `["racing"]`}
	if err := s.UpsertVideos([]Video{v}); err != nil {
		t.Fatalf("UpsertVideos: %v", err)
	}
	if _, err := s.SetTranscript("v1", "hello world", "watch_page"); err != nil {
		t.Fatalf("SetTranscript: %v", err)
	}

	v.Title = "Speedrun Tips 2"
	if err := s.UpsertVideos([]Video{v}); err != nil {
		t.Fatalf("UpsertVideos (update): %v", err)
	}

	got, err := s.GetVideo("v1")
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if got.Title != "Speedrun Tips 2" {
		t.Errorf("Title = %q, want %q", got.Title, "Speedrun Tips 2")
	}
	if got.Transcript == nil || *got.Transcript != "hello world" {
		t.Errorf("Transcript = %v, want %q", got.Transcript, "hello world")
	}
	if got.TranscriptStatus != TranscriptFetched {
		t.Errorf("TranscriptStatus = %q, want %q", got.TranscriptStatus, TranscriptFetched)
	}
	if got.Tags != `["racing"]` {
		t.Errorf("Tags = %q, want %q", got.Tags, `["racing"]`)
	}
}

func TestListVideos_NewestFirst(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var videos []Video
	for i := 0; i < 4; i++ {
		videos = append(videos, Video{
			ID:          fmt.Sprintf("v%d", i),
			PlaylistID:  "PL1",
			Title:       fmt.Sprintf("Video %d", i),
			PublishedAt: base.Add(time.Duration(i) * 24 * time.Hour),
		})
	}
	if err := s.UpsertVideos(videos); err != nil {
		t.Fatalf("UpsertVideos: %v", err)
	}

	got, err := s.ListVideos()
	if err != nil {
		t.Fatalf("ListVideos: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d videos, want 4", len(got))
	}
	if got[0].ID != "v3" {
		t.Errorf("first video = %q, want %q", got[0].ID, "v3")
	}
	if got[0].Transcript != nil {
		t.Errorf("Transcript = %q, want nil", *got[0].Transcript)
	}
	if got[0].TranscriptStatus != TranscriptPending {
		t.Errorf("TranscriptStatus = %q, want %q", got[0].TranscriptStatus, TranscriptPending)
	}
}

func TestSetTranscript_WriteOnce(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertVideos([]Video{{ID: "v1", PlaylistID: "PL1"}}); err != nil {
		t.Fatalf("UpsertVideos: %v", err)
	}

	stored, err := s.SetTranscript("v1", "first", "watch_page")
	if err != nil {
		t.Fatalf("SetTranscript first: %v", err)
	}
	if !stored {
		t.Error("first SetTranscript should store")
	}

	stored, err = s.SetTranscript("v1", "second", "yt-dlp")
	if err != nil {
		t.Fatalf("SetTranscript second: %v", err)
	}
	if stored {
		t.Error("second SetTranscript should be a no-op")
	}

	got, err := s.GetVideo("v1")
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if *got.Transcript != "first" {
		t.Errorf("Transcript = %q, want %q", *got.Transcript, "first")
	}
	if got.TranscriptSource != "watch_page" {
		t.Errorf("TranscriptSource = %q, want %q", got.TranscriptSource, "watch_page")
	}
}

func TestSetTranscript_ConcurrentWriters(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertVideos([]Video{{ID: "v1", PlaylistID: "PL1"}}); err != nil {
		t.Fatalf("UpsertVideos: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	storedCount := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stored, err := s.SetTranscript("v1", fmt.Sprintf("text %d", i), "test")
			if err != nil {
				t.Errorf("SetTranscript %d: %v", i, err)
				return
			}
			if stored {
				mu.Lock()
				storedCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if storedCount != 1 {
		t.Errorf("stored %d times, want exactly 1", storedCount)
	}
}

func TestSetTranscript_UnknownVideo(t *testing.T) {
	s := openTestStore(t)

	_, err := s.SetTranscript("nope", "text", "test")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestMarkTranscriptUnavailable(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertVideos([]Video{{ID: "v1", PlaylistID: "PL1"}, {ID: "v2", PlaylistID: "PL1"}}); err != nil {
		t.Fatalf("UpsertVideos: %v", err)
	}
	if _, err := s.SetTranscript("v2", "kept", "test"); err != nil {
		t.Fatalf("SetTranscript: %v", err)
	}

	if err := s.MarkTranscriptUnavailable("v1", "captions disabled"); err != nil {
		t.Fatalf("MarkTranscriptUnavailable v1: %v", err)
	}
	if err := s.MarkTranscriptUnavailable("v2", "late failure"); err != nil {
		t.Fatalf("MarkTranscriptUnavailable v2: %v", err)
	}

	v1, _ := s.GetVideo("v1")
	if v1.TranscriptStatus != TranscriptUnavailable {
		t.Errorf("v1 status = %q, want %q", v1.TranscriptStatus, TranscriptUnavailable)
	}
	if v1.TranscriptError != "captions disabled" {
		t.Errorf("v1 error = %q, want %q", v1.TranscriptError, "captions disabled")
	}

	v2, _ := s.GetVideo("v2")
	if v2.TranscriptStatus != TranscriptFetched {
		t.Errorf("v2 status = %q, want %q", v2.TranscriptStatus, TranscriptFetched)
	}

	if err := s.MarkTranscriptUnavailable("missing", "x"); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// --- interactions ---

// TestSaveAndGetInteraction saves an interaction and retrieves it by ID.
func TestSaveAndGetInteraction(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	want := Interaction{
		ID:                "int-001",
		CreatedAt:         now,
		Question:          "What racing games?",
		Prompt:            "Video: Speedrun Tips — tricks for racing games",
		Model:             "llama3.2",
		Answer:            "Mario Kart.",
		SourceVideoIDs:    `["v1"]`,
		LatencyMs:         120,
		NoRelevantContext: false,
	}

	if err := s.SaveInteraction(want); err != nil {
		t.Fatalf("SaveInteraction: %v", err)
	}

	got, err := s.GetInteraction("int-001")
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}

	if got.Question != want.Question {
		t.Errorf("Question = %q, want %q", got.Question, want.Question)
	}
	if got.Prompt != want.Prompt {
		t.Errorf("Prompt = %q, want %q", got.Prompt, want.Prompt)
	}
	if got.Answer != want.Answer {
		t.Errorf("Answer = %q, want %q", got.Answer, want.Answer)
	}
	if got.SourceVideoIDs != want.SourceVideoIDs {
		t.Errorf("SourceVideoIDs = %q, want %q", got.SourceVideoIDs, want.SourceVideoIDs)
	}
	if got.LatencyMs != 120 {
		t.Errorf("LatencyMs = %d, want 120", got.LatencyMs)
	}
	if got.Status != "completed" {
		t.Errorf("Status = %q, want %q", got.Status, "completed")
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}

func TestSaveInteraction_FailedWithNoContext(t *testing.T) {
	s := openTestStore(t)

	i := Interaction{
		ID:                "int-failed",
		CreatedAt:         time.Now().UTC(),
		Question:          "anything",
		Status:            "failed",
		ErrorKind:         "UpstreamTimeout",
		NoRelevantContext: true,
	}
	if err := s.SaveInteraction(i); err != nil {
		t.Fatalf("SaveInteraction: %v", err)
	}

	got, err := s.GetInteraction("int-failed")
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}
	if got.Status != "failed" {
		t.Errorf("Status = %q, want %q", got.Status, "failed")
	}
	if got.ErrorKind != "UpstreamTimeout" {
		t.Errorf("ErrorKind = %q, want %q", got.ErrorKind, "UpstreamTimeout")
	}
	if !got.NoRelevantContext {
		t.Error("NoRelevantContext = false, want true")
	}
	if got.SourceVideoIDs != "[]" {
		t.Errorf("SourceVideoIDs = %q, want %q", got.SourceVideoIDs, "[]")
	}
}

// TestGetInteractionNotFound verifies that retrieving a non-existent ID returns ErrNotFound.
func TestGetInteractionNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetInteraction("does-not-exist")
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestUpdateFeedback(t *testing.T) {
	s := openTestStore(t)

	i := Interaction{
		ID:        "int-fb",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Question:  "test query",
	}
	if err := s.SaveInteraction(i); err != nil {
		t.Fatalf("SaveInteraction: %v", err)
	}

	if err := s.UpdateFeedback("int-fb", 5, "great answer"); err != nil {
		t.Fatalf("UpdateFeedback: %v", err)
	}

	got, err := s.GetInteraction("int-fb")
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}
	if got.FeedbackScore != 5 {
		t.Errorf("FeedbackScore = %d, want 5", got.FeedbackScore)
	}
	if got.FeedbackNotes != "great answer" {
		t.Errorf("FeedbackNotes = %q, want %q", got.FeedbackNotes, "great answer")
	}

	if err := s.UpdateFeedback("missing", 1, ""); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestListInteractions(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UTC().Truncate(time.Second)
	for j := 0; j < 10; j++ {
		i := Interaction{
			ID:        fmt.Sprintf("int-%02d", j),
			CreatedAt: base.Add(time.Duration(j) * time.Second),
			Question:  fmt.Sprintf("query %d", j),
		}
		if err := s.SaveInteraction(i); err != nil {
			t.Fatalf("SaveInteraction %d: %v", j, err)
		}
	}

	got, err := s.ListInteractions(5, 0)
	if err != nil {
		t.Fatalf("ListInteractions: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d interactions, want 5", len(got))
	}
	if got[0].ID != "int-09" {
		t.Errorf("first result ID = %q, want %q", got[0].ID, "int-09")
	}

	page, err := s.ListInteractions(3, 8)
	if err != nil {
		t.Fatalf("ListInteractions: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("got %d interactions on last page, want 2", len(page))
	}
	if page[1].ID != "int-00" {
		t.Errorf("last result ID = %q, want %q", page[1].ID, "int-00")
	}
}

// --- api cache ---

func TestCachedPayloadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, ok, err := s.GetCachedPayload("k"); err != nil || ok {
		t.Fatalf("GetCachedPayload on empty cache = (%v, %v), want (false, nil)", ok, err)
	}

	if err := s.PutCachedPayload("k", []byte(`{"items":[]}`), time.Hour); err != nil {
		t.Fatalf("PutCachedPayload: %v", err)
	}
	got, ok, err := s.GetCachedPayload("k")
	if err != nil {
		t.Fatalf("GetCachedPayload: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(got) != `{"items":[]}` {
		t.Errorf("payload = %q, want %q", got, `{"items":[]}`)
	}
}

func TestCachedPayloadExpired(t *testing.T) {
	s := openTestStore(t)

	if err := s.PutCachedPayload("old", []byte("x"), -time.Minute); err != nil {
		t.Fatalf("PutCachedPayload: %v", err)
	}
	if _, ok, _ := s.GetCachedPayload("old"); ok {
		t.Error("expired entry should not be returned")
	}

	n, err := s.PurgeExpiredPayloads()
	if err != nil {
		t.Fatalf("PurgeExpiredPayloads: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d entries, want 1", n)
	}
}

// --- jobs ---

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)

	enqueue(t, s, Job{ID: "j-claim-1", Type: "fetch_transcript", PayloadJSON: `{"video_id":"v1"}`})

	got, err := s.ClaimNextJob([]string{"fetch_transcript"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-claim-1" {
		t.Errorf("ID = %q, want %q", got.ID, "j-claim-1")
	}
	if got.PayloadJSON != `{"video_id":"v1"}` {
		t.Errorf("PayloadJSON = %q, want %q", got.PayloadJSON, `{"video_id":"v1"}`)
	}
	if got.Status != "running" {
		t.Errorf("Status = %q, want %q", got.Status, "running")
	}
	if got.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", got.MaxAttempts)
	}
}

func TestEnqueueJob_DuplicateIgnored(t *testing.T) {
	s := openTestStore(t)

	inserted, err := s.EnqueueJob(Job{ID: "transcript:v1", Type: "fetch_transcript", PayloadJSON: `{}`})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if !inserted {
		t.Error("first EnqueueJob should insert")
	}

	inserted, err = s.EnqueueJob(Job{ID: "transcript:v1", Type: "fetch_transcript", PayloadJSON: `{}`})
	if err != nil {
		t.Fatalf("EnqueueJob duplicate: %v", err)
	}
	if inserted {
		t.Error("duplicate EnqueueJob should be ignored")
	}

	n, err := s.PendingJobCount("fetch_transcript")
	if err != nil {
		t.Fatalf("PendingJobCount: %v", err)
	}
	if n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
}

func TestClaimNextJob_Empty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.ClaimNextJob([]string{"fetch_transcript"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestClaimNextJob_RespectRunAfter(t *testing.T) {
	s := openTestStore(t)

	enqueue(t, s, Job{
		ID:          "j-future",
		Type:        "fetch_transcript",
		PayloadJSON: `{}`,
		RunAfter:    time.Now().UTC().Add(1 * time.Hour),
	})

	got, err := s.ClaimNextJob([]string{"fetch_transcript"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for future run_after, got %+v", got)
	}
}

func TestClaimNextJob_TypeFilter(t *testing.T) {
	s := openTestStore(t)

	enqueue(t, s, Job{ID: "j-a", Type: "a", PayloadJSON: `{}`})
	enqueue(t, s, Job{ID: "j-b", Type: "b", PayloadJSON: `{}`})

	got, err := s.ClaimNextJob([]string{"a"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.Type != "a" {
		t.Errorf("Type = %q, want %q", got.Type, "a")
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)

	enqueue(t, s, Job{ID: "j-complete", Type: "x", PayloadJSON: `{}`})
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.CompleteJob("j-complete"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	var status string
	if err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = 'j-complete'`).Scan(&status); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != "completed" {
		t.Errorf("status = %q, want %q", status, "completed")
	}
}

func TestFailJob_IncrementsAttempts(t *testing.T) {
	s := openTestStore(t)

	enqueue(t, s, Job{ID: "j-fail-inc", Type: "x", PayloadJSON: `{}`})
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob("j-fail-inc", "rate limited"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status, lastError string
	var attempts int
	if err := s.db.QueryRow(`SELECT status, attempts, last_error FROM jobs WHERE id = 'j-fail-inc'`).Scan(&status, &attempts, &lastError); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if status != "pending" {
		t.Errorf("status = %q, want %q", status, "pending")
	}
	if lastError != "rate limited" {
		t.Errorf("last_error = %q, want %q", lastError, "rate limited")
	}
}

func TestFailJob_MaxAttemptsReached(t *testing.T) {
	s := openTestStore(t)

	enqueue(t, s, Job{ID: "j-fail-max", Type: "x", PayloadJSON: `{}`, MaxAttempts: 1})
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob("j-fail-max", "fatal"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status string
	if err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = 'j-fail-max'`).Scan(&status); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != "failed" {
		t.Errorf("status = %q, want %q", status, "failed")
	}
}

func TestRequeueRunningJobs(t *testing.T) {
	s := openTestStore(t)

	enqueue(t, s, Job{ID: "j-stuck", Type: "x", PayloadJSON: `{}`})
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	n, err := s.RequeueRunningJobs()
	if err != nil {
		t.Fatalf("RequeueRunningJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("requeued %d, want 1", n)
	}

	got, err := s.ClaimNextJob([]string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob after requeue: %v", err)
	}
	if got == nil || got.ID != "j-stuck" {
		t.Errorf("expected j-stuck to be claimable again, got %+v", got)
	}
}

func TestEnqueueJob_RevivesFailedJob(t *testing.T) {
	s := openTestStore(t)

	enqueue(t, s, Job{ID: "transcript:v1", Type: "fetch_transcript", PayloadJSON: `{}`, MaxAttempts: 1})
	if _, err := s.ClaimNextJob([]string{"fetch_transcript"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob("transcript:v1", "rate limited"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	revived, err := s.EnqueueJob(Job{ID: "transcript:v1", Type: "fetch_transcript", PayloadJSON: `{}`})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if !revived {
		t.Error("EnqueueJob should revive a failed job")
	}

	var status string
	var attempts, maxAttempts int
	var lastError *string
	if err := s.db.QueryRow(`SELECT status, attempts, max_attempts, last_error FROM jobs WHERE id = 'transcript:v1'`).
		Scan(&status, &attempts, &maxAttempts, &lastError); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != "pending" || attempts != 0 || maxAttempts != 3 || lastError != nil {
		t.Errorf("job = (%s, %d/%d, %v), want (pending, 0/3, nil)", status, attempts, maxAttempts, lastError)
	}

	got, err := s.ClaimNextJob([]string{"fetch_transcript"})
	if err != nil {
		t.Fatalf("ClaimNextJob after revive: %v", err)
	}
	if got == nil || got.ID != "transcript:v1" {
		t.Errorf("claimed %+v, want transcript:v1", got)
	}
}

func TestEnqueueJob_LeavesCompletedAndRunningJobs(t *testing.T) {
	s := openTestStore(t)

	enqueue(t, s, Job{ID: "j-done", Type: "x", PayloadJSON: `{}`})
	enqueue(t, s, Job{ID: "j-busy", Type: "y", PayloadJSON: `{}`})
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.CompleteJob("j-done"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"y"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	for id, want := range map[string]string{"j-done": "completed", "j-busy": "running"} {
		changed, err := s.EnqueueJob(Job{ID: id, Type: "x", PayloadJSON: `{}`})
		if err != nil {
			t.Fatalf("EnqueueJob %s: %v", id, err)
		}
		if changed {
			t.Errorf("EnqueueJob %s reported a change", id)
		}
		var status string
		if err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = ?`, id).Scan(&status); err != nil {
			t.Fatalf("SELECT: %v", err)
		}
		if status != want {
			t.Errorf("%s status = %q, want %q", id, status, want)
		}
	}
}

func TestFailJob_BacksOff(t *testing.T) {
	s := openTestStore(t)

	enqueue(t, s, Job{ID: "j-backoff", Type: "x", PayloadJSON: `{}`})
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	before := time.Now().UTC().Truncate(time.Second)
	if err := s.FailJob("j-backoff", "rate limited"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var runAfter string
	if err := s.db.QueryRow(`SELECT run_after FROM jobs WHERE id = 'j-backoff'`).Scan(&runAfter); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	ra, err := time.Parse(time.RFC3339, runAfter)
	if err != nil {
		t.Fatalf("parse run_after: %v", err)
	}
	if ra.Before(before.Add(retryBaseDelay)) {
		t.Errorf("run_after = %v, want at least %v", ra, before.Add(retryBaseDelay))
	}

	got, err := s.ClaimNextJob([]string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("job claimed before its backoff elapsed: %+v", got)
	}
}

func TestFailJob_NotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.FailJob("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FailJob(missing) = %v, want ErrNotFound", err)
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{10, 30 * time.Minute},
	}
	for _, tt := range tests {
		if got := retryDelay(tt.attempts); got != tt.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
