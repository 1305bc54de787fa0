package search

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehub/tomehub/internal/storage"
)

func TestLemmaScoresOccurrencesAndTitle(t *testing.T) {
	s := storage.NewMemoryStore()
	userID := uuid.New()
	itemID := seedItem(t, s, userID, storage.ItemTypeBook, "Vicdan Üzerine")
	c := seedChunk(t, s, storage.Chunk{
		UserID:      userID,
		ItemID:      itemID,
		ContentType: storage.ContentTypeBookChunk,
		Text:        "Vicdan insanın iç sesidir",
		Lemmas:      []string{"vicdan", "ses"},
	})

	strategy := NewLemmaStrategy(s)
	hits, err := strategy.Search(context.Background(), Request{Query: "vicdan nedir", UserID: userID}, 10)
	require.NoError(t, err)

	require.Len(t, hits, 1)
	assert.Equal(t, c.ID, hits[0].ID)
	assert.Equal(t, BucketLemma, hits[0].Bucket)
	// One stem occurrence plus the title match: 70 + 5 + 4.
	assert.Equal(t, 79.0, hits[0].Score)
}

func TestLemmaDropsInnerSubstringOnly(t *testing.T) {
	s := storage.NewMemoryStore()
	userID := uuid.New()
	itemID := seedItem(t, s, userID, storage.ItemTypeBook, "Tarih Atlası")
	seedChunk(t, s, storage.Chunk{
		UserID:      userID,
		ItemID:      itemID,
		ContentType: storage.ContentTypeBookChunk,
		Text:        "Medeniyet tarihi boyunca savaşlar sürdü",
		// Noisy extraction put "niyet" into the lemma array.
		Lemmas: []string{"niyet", "tarih"},
	})

	strategy := NewLemmaStrategy(s)
	hits, err := strategy.Search(context.Background(), Request{Query: "niyet", UserID: userID}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "an inner-substring occurrence alone cannot carry the row")
}

func TestLemmaScoreCap(t *testing.T) {
	s := storage.NewMemoryStore()
	userID := uuid.New()
	itemID := seedItem(t, s, userID, storage.ItemTypeBook, "Günce")
	seedChunk(t, s, storage.Chunk{
		UserID:      userID,
		ItemID:      itemID,
		ContentType: storage.ContentTypeBookChunk,
		Text:        "vicdan vicdani vicdanli vicdansiz vicdanen vicdanim",
		Lemmas:      []string{"vicdan"},
	})

	strategy := NewLemmaStrategy(s)
	hits, err := strategy.Search(context.Background(), Request{Query: "vicdan", UserID: userID}, 10)
	require.NoError(t, err)

	require.Len(t, hits, 1)
	assert.Equal(t, 95.0, hits[0].Score)
}

func TestLemmaOrdersByScoreThenID(t *testing.T) {
	s := storage.NewMemoryStore()
	userID := uuid.New()
	itemID := seedItem(t, s, userID, storage.ItemTypeBook, "Derleme")
	rich := seedChunk(t, s, storage.Chunk{
		UserID:      userID,
		ItemID:      itemID,
		ContentType: storage.ContentTypeBookChunk,
		Text:        "vicdan ve vicdani olan insan",
		Lemmas:      []string{"vicdan"},
	})
	poor := seedChunk(t, s, storage.Chunk{
		UserID:      userID,
		ItemID:      itemID,
		ContentType: storage.ContentTypeBookChunk,
		Text:        "vicdan kelimesi bir kez geçer",
		Lemmas:      []string{"vicdan"},
	})

	strategy := NewLemmaStrategy(s)
	hits, err := strategy.Search(context.Background(), Request{Query: "vicdan", UserID: userID}, 10)
	require.NoError(t, err)

	require.Len(t, hits, 2)
	assert.Equal(t, rich.ID, hits[0].ID, "two occurrences outrank one")
	assert.Equal(t, poor.ID, hits[1].ID)
}

func TestQueryLemmas(t *testing.T) {
	assert.Equal(t, []string{"vicdan", "nedir"}, QueryLemmas("vicdan nedir"))
	assert.Nil(t, QueryLemmas("ve ile de"), "stop lemmas alone produce nothing")
	assert.Nil(t, QueryLemmas(""))

	long := QueryLemmas("bir iki vicdan ahlak erdem adalet merhamet sabir")
	assert.Len(t, long, 5, "lemma seeds cap at five")
}
