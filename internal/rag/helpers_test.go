package rag

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tomehub/tomehub/internal/search"
	"github.com/tomehub/tomehub/internal/storage"
)

func seedBook(t *testing.T, s *storage.MemoryStore, userID uuid.UUID, title string) uuid.UUID {
	t.Helper()
	item := &storage.LibraryItem{UserID: userID, Type: storage.ItemTypeBook, Title: title}
	require.NoError(t, s.UpsertLibraryItem(context.Background(), item))
	return item.ID
}

// libraryHit builds a retrieval hit for one chunk of a titled source.
func libraryHit(bucket, title, text string, score float64) search.Hit {
	return search.Hit{
		ChunkHit: storage.ChunkHit{
			Chunk: storage.Chunk{
				ID:          uuid.New(),
				ItemID:      uuid.New(),
				Title:       title,
				ContentType: storage.ContentTypeBookChunk,
				Text:        text,
			},
			Score: score,
		},
		Bucket: bucket,
	}
}

func graphHit(title, text string, graphScore float64) search.Hit {
	h := libraryHit(search.BucketGraph, title, text, graphScore*100)
	h.GraphScore = graphScore
	return h
}

func kbHit(title, text string, confidence float64) search.Hit {
	h := libraryHit(search.BucketExternalKB, title, text, confidence)
	h.ContentType = storage.ContentTypeExternalKB
	return h
}

// scriptedSearcher records every request and answers from a respond
// callback, an error, or an empty response in that order. A delay makes
// it overshoot fan-out deadlines.
type scriptedSearcher struct {
	mu       sync.Mutex
	requests []search.Request
	delay    time.Duration
	err      error
	respond  func(req search.Request) *search.Response
}

func (s *scriptedSearcher) Search(ctx context.Context, req search.Request) (*search.Response, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			s.record(req)
			return nil, ctx.Err()
		}
	}
	s.record(req)
	if s.err != nil {
		return nil, s.err
	}
	if s.respond != nil {
		return s.respond(req), nil
	}
	return &search.Response{Metadata: search.Metadata{}}, nil
}

func (s *scriptedSearcher) record(req search.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
}

func (s *scriptedSearcher) recorded() []search.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]search.Request(nil), s.requests...)
}

type stubGraph struct {
	hits  []search.Hit
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls int
	fetch int
}

func (g *stubGraph) Search(ctx context.Context, req search.Request, fetch int) ([]search.Hit, error) {
	g.mu.Lock()
	g.calls++
	g.fetch = fetch
	g.mu.Unlock()
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.hits, g.err
}

func (g *stubGraph) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type stubKB struct {
	enabled bool
	edges   map[uuid.UUID][]search.Hit
	err     error
	queried []uuid.UUID
}

func (k *stubKB) Enabled() bool { return k.enabled }

func (k *stubKB) Edges(_ context.Context, _, itemID uuid.UUID, _ string, _ int) ([]search.Hit, error) {
	k.queried = append(k.queried, itemID)
	if k.err != nil {
		return nil, k.err
	}
	return k.edges[itemID], nil
}

type stubPassage struct {
	passageType PassageType
	quotability Quotability
	err         error
}

func (p stubPassage) ClassifyPassage(context.Context, string) (PassageType, Quotability, error) {
	return p.passageType, p.quotability, p.err
}

type failingCatalog struct{ err error }

func (f failingCatalog) BookTitleCatalog(context.Context, uuid.UUID) ([]storage.BookTitle, error) {
	return nil, f.err
}

func (f failingCatalog) LibraryItem(context.Context, uuid.UUID, uuid.UUID) (*storage.LibraryItem, error) {
	return nil, f.err
}
