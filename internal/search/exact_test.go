package search

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehub/tomehub/internal/storage"
)

func TestExactRejectsInnerSubstring(t *testing.T) {
	s := storage.NewMemoryStore()
	userID := uuid.New()
	want := bookChunk(t, s, userID, "Ahlak", "Niyet her amelin ruhudur")
	bookChunk(t, s, userID, "Tarih", "Medeniyet tarihi boyunca savaşlar sürdü")

	strategy := NewExactStrategy(s, Config{})
	hits, err := strategy.Search(context.Background(), Request{Query: "niyet", UserID: userID}, 10)
	require.NoError(t, err)

	require.Len(t, hits, 1, "medeniyet must not satisfy a niyet query")
	assert.Equal(t, want.ID, hits[0].ID)
	assert.Equal(t, 100.0, hits[0].Score)
	assert.Equal(t, BucketExact, hits[0].Bucket)
}

func TestExactMultiTokenRequiresEveryWord(t *testing.T) {
	s := storage.NewMemoryStore()
	userID := uuid.New()
	want := bookChunk(t, s, userID, "Ahlak", "Niyet ve amel birbirinden ayrılamaz")
	// "amelin" fails the word boundary for token "amel".
	bookChunk(t, s, userID, "Tasavvuf", "Niyet her amelin ruhudur")

	strategy := NewExactStrategy(s, Config{})
	hits, err := strategy.Search(context.Background(), Request{Query: "niyet amel", UserID: userID}, 10)
	require.NoError(t, err)

	require.Len(t, hits, 1)
	assert.Equal(t, want.ID, hits[0].ID)
}

func TestExactBackfillMergeDedupes(t *testing.T) {
	s := storage.NewMemoryStore()
	userID := uuid.New()
	want := bookChunk(t, s, userID, "Deneme", "İnsan için vicdan en doğru pusuladır")

	// A high row floor forces the phrase backfill even though the token
	// pass already found the chunk; the merge must not duplicate it.
	strategy := NewExactStrategy(s, Config{MinPrimaryRows: 5})
	hits, err := strategy.Search(context.Background(), Request{Query: "vicdan en doğru", UserID: userID}, 10)
	require.NoError(t, err)

	require.Len(t, hits, 1)
	assert.Equal(t, want.ID, hits[0].ID)
}

func TestExactPDFFallback(t *testing.T) {
	s := storage.NewMemoryStore()
	userID := uuid.New()
	itemID := seedItem(t, s, userID, storage.ItemTypeBook, "Taranmış Kitap")
	want := seedChunk(t, s, storage.Chunk{
		UserID:        userID,
		ItemID:        itemID,
		ContentType:   storage.ContentTypeBookChunk,
		IngestionType: storage.IngestionTypePDF,
		Text:          "vicdan kavramı bu sayfada tanımlanır",
	})

	strategy := NewExactStrategy(s, Config{})
	hits, err := strategy.Search(context.Background(), Request{Query: "vicdan kavramı", UserID: userID}, 10)
	require.NoError(t, err)

	require.Len(t, hits, 1, "PDF-only corpus reruns without the PDF exclusion")
	assert.Equal(t, want.ID, hits[0].ID)
}

func TestExactPDFFallbackSkippedWithFilters(t *testing.T) {
	s := storage.NewMemoryStore()
	userID := uuid.New()
	itemID := seedItem(t, s, userID, storage.ItemTypeBook, "Taranmış Kitap")
	seedChunk(t, s, storage.Chunk{
		UserID:        userID,
		ItemID:        itemID,
		ContentType:   storage.ContentTypeBookChunk,
		IngestionType: storage.IngestionTypePDF,
		Text:          "vicdan kavramı bu sayfada tanımlanır",
	})
	otherItem := seedItem(t, s, userID, storage.ItemTypeBook, "Başka Kitap")

	strategy := NewExactStrategy(s, Config{})
	hits, err := strategy.Search(context.Background(), Request{
		Query:   "vicdan kavramı",
		UserID:  userID,
		Filters: storage.Filters{ItemID: &otherItem},
	}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "item-scoped queries never widen to the PDF fallback")
}

func TestExactSingleTokenPassFlag(t *testing.T) {
	s := storage.NewMemoryStore()
	userID := uuid.New()
	bookChunk(t, s, userID, "Ahlak", "Vicdan insanın iç sesidir")

	withFlag := NewExactStrategy(s, Config{SingleTokenExact: true})
	hits, err := withFlag.Search(context.Background(), Request{Query: "vicdan", UserID: userID}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	withoutFlag := NewExactStrategy(s, Config{})
	hits, err = withoutFlag.Search(context.Background(), Request{Query: "vicdan", UserID: userID}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1, "the LIKE pass still serves single tokens")
}
