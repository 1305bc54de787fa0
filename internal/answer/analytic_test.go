package answer

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehub/tomehub/internal/observability"
	"github.com/tomehub/tomehub/internal/rag"
	"github.com/tomehub/tomehub/internal/storage"
)

func TestAnalyticTermExtraction(t *testing.T) {
	nutuk := map[string]struct{}{"nutuk": {}}

	cases := []struct {
		name        string
		question    string
		exclude     map[string]struct{}
		wantMatch   string
		wantDisplay string
		ok          bool
	}{
		{
			name:        "plain term",
			question:    "vicdan kelimesi kaç kez geçiyor?",
			wantMatch:   "vicdan",
			wantDisplay: "vicdan",
			ok:          true,
		},
		{
			name:        "quoted phrase wins over tokens",
			question:    `Kitapta "milli mücadele" kaç kere geçiyor?`,
			wantMatch:   "milli mucadele",
			wantDisplay: "milli mücadele",
			ok:          true,
		},
		{
			name:        "suffixed book title never joins the term",
			question:    "Nutuk'ta vicdan kaç defa geçiyor?",
			exclude:     nutuk,
			wantMatch:   "vicdan",
			wantDisplay: "vicdan",
			ok:          true,
		},
		{
			name:        "frequency phrasing",
			question:    "İrade sözcüğü ne sıklıkla kullanılıyor?",
			wantMatch:   "irade",
			wantDisplay: "irade",
			ok:          true,
		},
		{
			name:     "definition question has no trigger",
			question: "vicdan nedir?",
		},
		{
			name:     "page count is not a frequency question",
			question: "kitapta kaç sayfa var?",
		},
		{
			name:     "carriers alone leave no term",
			question: "kaç kez geçiyor?",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			match, display, ok := analyticTerm(tc.question, tc.exclude)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.wantMatch, match)
			assert.Equal(t, tc.wantDisplay, display)
		})
	}
}

func TestAnalyticCountsStemOccurrences(t *testing.T) {
	store := storage.NewMemoryStore()
	userID := uuid.New()
	bookID := seedBook(t, store, userID, "Nutuk")
	seedChunk(t, store, userID, bookID, 0, intPtr(12),
		"Vicdan insanın içindeki sestir. Vicdanın sesi hiçbir zaman susturulamaz.")
	seedChunk(t, store, userID, bookID, 1, nil,
		"Bu bölümde vicdan kavramı yeniden ele alınır.")
	seedChunk(t, store, userID, bookID, 2, nil,
		"Milletin azmi ve kararı her engeli aşar.")

	a := newAnalyticAnswerer(store, store, observability.Nop())
	ans, ok := a.try(context.Background(), rag.Request{
		Question:      "vicdan kelimesi kaç kez geçiyor?",
		UserID:        userID,
		ContextItemID: &bookID,
	})
	require.True(t, ok)
	require.NotNil(t, ans)

	assert.Contains(t, ans.Text, "«vicdan», Nutuk içinde 3 kez geçiyor.")
	assert.Contains(t, ans.Text, "Geçtiği yerler:")
	assert.Contains(t, ans.Text, "(s. 12)")
	assert.Contains(t, ans.Text, `3. "Bu bölümde vicdan kavramı yeniden ele alınır." (bölüm 2)`)

	assert.Equal(t, StatusAnalytic, ans.Metadata["status"])
	assert.Equal(t, string(rag.ModeAnalytic), ans.Metadata["answer_mode"])
	assert.Equal(t, "vicdan", ans.Metadata["analytic_term"])
	assert.Equal(t, 3, ans.Metadata["analytic_occurrence_count"])
	assert.Equal(t, 2, ans.Metadata["analytic_chunk_count"])

	require.Len(t, ans.Sources, 2)
	assert.Equal(t, "Nutuk", ans.Sources[0].Title)
	assert.Equal(t, 2.0, ans.Sources[0].Score)
	require.NotNil(t, ans.Sources[0].PageNumber)
	assert.Equal(t, 12, *ans.Sources[0].PageNumber)
	assert.Equal(t, 1.0, ans.Sources[1].Score)
	assert.Nil(t, ans.Sources[1].PageNumber)
}

func TestAnalyticCountsQuotedPhrase(t *testing.T) {
	store := storage.NewMemoryStore()
	userID := uuid.New()
	bookID := seedBook(t, store, userID, "Nutuk")
	seedChunk(t, store, userID, bookID, 0, intPtr(3),
		"Milli mücadele ruhu her satırda hissedilir. Milli mücadelenin anlamı büyüktür.")

	a := newAnalyticAnswerer(store, store, observability.Nop())
	ans, ok := a.try(context.Background(), rag.Request{
		Question:      `"milli mücadele" kaç kere geçiyor?`,
		UserID:        userID,
		ContextItemID: &bookID,
	})
	require.True(t, ok)

	assert.Contains(t, ans.Text, "«milli mücadele», Nutuk içinde 2 kez geçiyor.")
	assert.Equal(t, 2, ans.Metadata["analytic_occurrence_count"])
	assert.Equal(t, "milli mucadele", ans.Metadata["analytic_term"])
}

func TestAnalyticKWICWindowClipsLongChunks(t *testing.T) {
	store := storage.NewMemoryStore()
	userID := uuid.New()
	bookID := seedBook(t, store, userID, "Deneme")
	seedChunk(t, store, userID, bookID, 0, intPtr(42),
		"Bir iki üç dört beş altı yedi sekiz dokuz on vicdan kavramı yine burada uzun bir cümlenin tam ortasında geçiyor sayılır")

	a := newAnalyticAnswerer(store, store, observability.Nop())
	ans, ok := a.try(context.Background(), rag.Request{
		Question:      "vicdan kaç kez geçiyor?",
		UserID:        userID,
		ContextItemID: &bookID,
	})
	require.True(t, ok)

	assert.Contains(t, ans.Text,
		`1. "…üç dört beş altı yedi sekiz dokuz on vicdan kavramı yine burada uzun bir cümlenin tam ortasında…" (s. 42)`)
}

func TestAnalyticReportsZeroOccurrences(t *testing.T) {
	store := storage.NewMemoryStore()
	userID := uuid.New()
	bookID := seedBook(t, store, userID, "Nutuk")
	seedChunk(t, store, userID, bookID, 0, nil,
		"Milletin azmi ve kararı her engeli aşar.")

	a := newAnalyticAnswerer(store, store, observability.Nop())
	ans, ok := a.try(context.Background(), rag.Request{
		Question:      "ahlak kelimesi kaç kez geçiyor?",
		UserID:        userID,
		ContextItemID: &bookID,
	})
	require.True(t, ok)

	assert.Equal(t, "«ahlak», Nutuk içinde hiç geçmiyor.", ans.Text)
	assert.Equal(t, 0, ans.Metadata["analytic_occurrence_count"])
	assert.Empty(t, ans.Sources)
}

func TestAnalyticNeedsBookContext(t *testing.T) {
	store := storage.NewMemoryStore()
	a := newAnalyticAnswerer(store, store, observability.Nop())

	ans, ok := a.try(context.Background(), rag.Request{
		Question: "vicdan kaç kez geçiyor?",
		UserID:   uuid.New(),
	})
	assert.False(t, ok)
	assert.Nil(t, ans)
}

func TestAnalyticStoreErrorFallsBackToGeneration(t *testing.T) {
	a := newAnalyticAnswerer(failingSearchStore{err: errors.New("connection refused")}, nil, observability.Nop())
	itemID := uuid.New()

	ans, ok := a.try(context.Background(), rag.Request{
		Question:      "vicdan kaç kez geçiyor?",
		UserID:        uuid.New(),
		ContextItemID: &itemID,
	})
	assert.False(t, ok)
	assert.Nil(t, ans)
}
