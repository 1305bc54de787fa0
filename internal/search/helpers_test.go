package search

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tomehub/tomehub/internal/storage"
)

func seedItem(t *testing.T, s *storage.MemoryStore, userID uuid.UUID, typ storage.ItemType, title string) uuid.UUID {
	t.Helper()
	item := &storage.LibraryItem{UserID: userID, Type: typ, Title: title}
	require.NoError(t, s.UpsertLibraryItem(context.Background(), item))
	return item.ID
}

func seedChunk(t *testing.T, s *storage.MemoryStore, c storage.Chunk) storage.Chunk {
	t.Helper()
	chunks := []storage.Chunk{c}
	require.NoError(t, s.UpsertChunks(context.Background(), chunks))
	return chunks[0]
}

// bookChunk seeds a book item with a single chunk and returns the
// stored chunk.
func bookChunk(t *testing.T, s *storage.MemoryStore, userID uuid.UUID, title, text string) storage.Chunk {
	t.Helper()
	itemID := seedItem(t, s, userID, storage.ItemTypeBook, title)
	return seedChunk(t, s, storage.Chunk{
		UserID:      userID,
		ItemID:      itemID,
		ContentType: storage.ContentTypeBookChunk,
		Text:        text,
	})
}

type fakeCorrector struct {
	corrected string
	ok        bool
}

func (f fakeCorrector) Correct(ctx context.Context, userID uuid.UUID, query string) (string, bool) {
	return f.corrected, f.ok
}

type fakeExpander struct {
	variations []string
	err        error
}

func (f fakeExpander) Expand(ctx context.Context, query string, max int) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.variations) > max {
		return f.variations[:max], nil
	}
	return f.variations, nil
}

type captureSink struct {
	mu      sync.Mutex
	entries []*storage.SearchLogEntry
}

func (c *captureSink) Log(ctx context.Context, entry *storage.SearchLogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *captureSink) all() []*storage.SearchLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*storage.SearchLogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}
