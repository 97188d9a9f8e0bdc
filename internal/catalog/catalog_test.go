package catalog

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/ytreader/internal/storage"
)

func newTestCatalog(t *testing.T) (*Catalog, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c, err := Open(store, "")
	require.NoError(t, err)
	return c, store
}

func testVideos() []Video {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return []Video{
		{ID: "a", Title: "Speedrun Tips", Description: "tricks for racing games", PublishedAt: base, Tags: []string{"racing"}},
		{ID: "b", Title: "Cooking Pasta", Description: "carbonara", PublishedAt: base.Add(48 * time.Hour)},
		{ID: "c", Title: "Empty", PublishedAt: base.Add(24 * time.Hour)},
	}
}

func TestUpsertAndSnapshot(t *testing.T) {
	c, _ := newTestCatalog(t)

	err := c.Upsert(Playlist{ID: "PL1", Title: "Mixed"}, testVideos())
	require.NoError(t, err)

	videos := c.Videos()
	require.Len(t, videos, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{videos[0].ID, videos[1].ID, videos[2].ID})
	assert.Equal(t, "PL1", videos[0].PlaylistID)
	assert.Equal(t, StatusPending, videos[0].TranscriptStatus)

	p, ok := c.Playlist()
	require.True(t, ok)
	assert.Equal(t, "Mixed", p.Title)
	assert.False(t, p.SyncedAt.IsZero())
}

func TestSnapshotIsACopy(t *testing.T) {
	c, _ := newTestCatalog(t)
	require.NoError(t, c.Upsert(Playlist{ID: "PL1"}, testVideos()))

	v, ok := c.Get("a")
	require.True(t, ok)
	v.Tags[0] = "mutated"
	v.Title = "mutated"

	again, _ := c.Get("a")
	assert.Equal(t, "Speedrun Tips", again.Title)
	assert.Equal(t, []string{"racing"}, again.Tags)
}

func TestUpsertKeepsTranscript(t *testing.T) {
	c, _ := newTestCatalog(t)
	require.NoError(t, c.Upsert(Playlist{ID: "PL1"}, testVideos()))

	_, stored, err := c.SetTranscript("a", "we talk about mario kart", "watch_page")
	require.NoError(t, err)
	require.True(t, stored)

	updated := testVideos()
	updated[0].Title = "Speedrun Tips (remastered)"
	require.NoError(t, c.Upsert(Playlist{ID: "PL1"}, updated))

	text, ok := c.Transcript("a")
	require.True(t, ok)
	assert.Equal(t, "we talk about mario kart", text)

	v, _ := c.Get("a")
	assert.Equal(t, StatusFetched, v.TranscriptStatus)
	assert.Equal(t, "watch_page", v.TranscriptSource)
}

func TestSetTranscriptWriteOnce(t *testing.T) {
	c, _ := newTestCatalog(t)
	require.NoError(t, c.Upsert(Playlist{ID: "PL1"}, testVideos()))

	text, stored, err := c.SetTranscript("a", "first", "watch_page")
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Equal(t, "first", text)

	text, stored, err = c.SetTranscript("a", "second", "yt-dlp")
	require.NoError(t, err)
	assert.False(t, stored)
	assert.Equal(t, "first", text)

	got, _ := c.Transcript("a")
	assert.Equal(t, "first", got)
}

func TestSetTranscriptConcurrent(t *testing.T) {
	c, _ := newTestCatalog(t)
	require.NoError(t, c.Upsert(Playlist{ID: "PL1"}, testVideos()))

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	results := make(map[string]bool)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text, stored, err := c.SetTranscript("a", fmt.Sprintf("text %d", i), "test")
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if stored {
				winners++
			}
			results[text] = true
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Len(t, results, 1, "every caller must observe the same stored transcript")
}

func TestSetTranscriptUnknownVideo(t *testing.T) {
	c, _ := newTestCatalog(t)

	_, _, err := c.SetTranscript("missing", "x", "test")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, c.MarkTranscriptUnavailable("missing", "x"), ErrNotFound)
}

func TestMarkTranscriptUnavailable(t *testing.T) {
	c, _ := newTestCatalog(t)
	require.NoError(t, c.Upsert(Playlist{ID: "PL1"}, testVideos()))

	require.NoError(t, c.MarkTranscriptUnavailable("b", "captions disabled"))
	v, _ := c.Get("b")
	assert.Equal(t, StatusUnavailable, v.TranscriptStatus)
	assert.Nil(t, v.Transcript)

	_, _, err := c.SetTranscript("a", "text", "test")
	require.NoError(t, err)
	require.NoError(t, c.MarkTranscriptUnavailable("a", "late"))
	v, _ = c.Get("a")
	assert.Equal(t, StatusFetched, v.TranscriptStatus)
}

func TestOpenReloadsFromStore(t *testing.T) {
	c, store := newTestCatalog(t)
	require.NoError(t, c.Upsert(Playlist{ID: "PL1", Title: "Mixed"}, testVideos()))
	_, _, err := c.SetTranscript("a", "persisted", "test")
	require.NoError(t, err)

	reloaded, err := Open(store, "PL1")
	require.NoError(t, err)

	text, ok := reloaded.Transcript("a")
	require.True(t, ok)
	assert.Equal(t, "persisted", text)

	v, ok := reloaded.Get("a")
	require.True(t, ok)
	assert.Equal(t, []string{"racing"}, v.Tags)

	p, ok := reloaded.Playlist()
	require.True(t, ok)
	assert.Equal(t, "Mixed", p.Title)

	videos, transcripts := reloaded.Len()
	assert.Equal(t, 3, videos)
	assert.Equal(t, 1, transcripts)
}

func TestHasText(t *testing.T) {
	empty := ""
	blank := "   "
	text := "hello"

	assert.False(t, Video{}.HasText())
	assert.False(t, Video{Transcript: &empty}.HasText())
	assert.False(t, Video{Description: " ", Transcript: &blank}.HasText())
	assert.True(t, Video{Description: "d"}.HasText())
	assert.True(t, Video{Transcript: &text}.HasText())
}
