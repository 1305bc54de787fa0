package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehub/tomehub/internal/cache"
	"github.com/tomehub/tomehub/internal/llm"
)

func newTestRewriter(provider *llm.MockProvider, c cache.Client, cfg RewriteConfig) *Rewriter {
	router := llm.NewRouter(llm.RouterConfig{Gemini: provider})
	return NewRewriter(nil, router, c, cfg)
}

func chatHistory() []ChatTurn {
	return []ChatTurn{
		{Role: "user", Content: "Ahmet'in defterinde küfür ne anlama geliyor?"},
		{Role: "assistant", Content: "Defterde küfür, günlük alışkanlıkların kaydı olarak geçiyor."},
	}
}

func TestRewriteSkipsWithoutHistory(t *testing.T) {
	provider := llm.NewMockProvider("gemini")
	r := newTestRewriter(provider, nil, RewriteConfig{})

	out := r.Rewrite(context.Background(), "bunun nedeni ne?", nil)

	assert.False(t, out.Applied)
	assert.Equal(t, "bunun nedeni ne?", out.Query)
	assert.Equal(t, rewriteSkipNoHistory, out.SkipReason)
	assert.Empty(t, provider.Calls())
}

func TestRewriteSkipsStandaloneQuestion(t *testing.T) {
	provider := llm.NewMockProvider("gemini")
	r := newTestRewriter(provider, nil, RewriteConfig{})

	question := "medeniyet tarihi kitabında geçen temel dönemler nelerdir acaba söyler misin"
	out := r.Rewrite(context.Background(), question, chatHistory())

	assert.False(t, out.Applied)
	assert.False(t, out.Anaphoric)
	assert.Equal(t, rewriteSkipStandalone, out.SkipReason)
	assert.Empty(t, provider.Calls())
}

func TestRewriteResolvesFollowUp(t *testing.T) {
	provider := llm.NewMockProvider("gemini").Queue("Küfür alışkanlığının defterde kaydedilme nedeni")
	r := newTestRewriter(provider, nil, RewriteConfig{})

	out := r.Rewrite(context.Background(), "peki bunun nedeni ne?", chatHistory())

	assert.True(t, out.Applied)
	assert.True(t, out.Anaphoric)
	assert.False(t, out.Cached)
	assert.Equal(t, "Küfür alışkanlığının defterde kaydedilme nedeni", out.Query)

	calls := provider.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, llm.DefaultLiteModel, calls[0].Model)
	require.Len(t, calls[0].Messages, 2)
	assert.Equal(t, llm.RoleSystem, calls[0].Messages[0].Role)
	assert.Equal(t, rewriteSystemPrompt, calls[0].Messages[0].Content)
	assert.Contains(t, calls[0].Messages[1].Content, "Sohbet geçmişi:")
	assert.Contains(t, calls[0].Messages[1].Content, "Soru: peki bunun nedeni ne?")
}

func TestRewriteCachesResult(t *testing.T) {
	provider := llm.NewMockProvider("gemini").Queue("Küfür alışkanlığının defterde kaydedilme nedeni")
	lru := cache.NewLRUClient(16, time.Minute)
	defer lru.Close()
	r := newTestRewriter(provider, lru, RewriteConfig{})

	first := r.Rewrite(context.Background(), "peki bunun nedeni ne?", chatHistory())
	second := r.Rewrite(context.Background(), "peki bunun nedeni ne?", chatHistory())

	assert.True(t, first.Applied)
	assert.False(t, first.Cached)
	assert.True(t, second.Applied)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Query, second.Query)
	assert.Len(t, provider.Calls(), 1)
}

func TestRewriteGuard(t *testing.T) {
	question := "vicdan ile ahlak arasındaki fark nedir"

	provider := llm.NewMockProvider("gemini")
	guarded := newTestRewriter(provider, nil, RewriteConfig{GuardEnabled: true})
	out := guarded.Rewrite(context.Background(), question, chatHistory())

	assert.False(t, out.Applied)
	assert.Equal(t, rewriteSkipGuard, out.SkipReason)
	assert.Empty(t, provider.Calls())

	// Without the guard the trigger token still sends the question to
	// the model.
	provider = llm.NewMockProvider("gemini").Queue("Vicdan ile ahlak kavramları arasındaki temel farklar")
	open := newTestRewriter(provider, nil, RewriteConfig{})
	out = open.Rewrite(context.Background(), question, chatHistory())

	assert.True(t, out.Applied)
	assert.Len(t, provider.Calls(), 1)
}

func TestRewriteGuardKeepsAnaphoricQuestions(t *testing.T) {
	provider := llm.NewMockProvider("gemini").Queue("Defterdeki küfür kayıtlarının haftalık dağılımı nasıl değişiyor")
	r := newTestRewriter(provider, nil, RewriteConfig{GuardEnabled: true})

	// Five tokens or more, but the pronoun keeps it anaphoric.
	out := r.Rewrite(context.Background(), "peki bunun haftalik dagilimi nasil degisiyor", chatHistory())

	assert.True(t, out.Anaphoric)
	assert.True(t, out.Applied)
}

func TestRewriteTimeoutFallsBack(t *testing.T) {
	provider := llm.NewMockProvider("gemini").Queue("kullanilmayacak")
	r := newTestRewriter(provider, nil, RewriteConfig{Timeout: time.Nanosecond})

	out := r.Rewrite(context.Background(), "peki bunun nedeni ne?", chatHistory())

	assert.False(t, out.Applied)
	assert.Equal(t, "peki bunun nedeni ne?", out.Query)
	assert.Equal(t, rewriteSkipTimeout, out.SkipReason)
}

func TestRewriteProviderErrorFallsBack(t *testing.T) {
	provider := llm.NewMockProvider("gemini").QueueErr(errors.New("model unavailable"))
	r := newTestRewriter(provider, nil, RewriteConfig{})

	out := r.Rewrite(context.Background(), "peki bunun nedeni ne?", chatHistory())

	assert.False(t, out.Applied)
	assert.Equal(t, "peki bunun nedeni ne?", out.Query)
	assert.Equal(t, rewriteSkipError, out.SkipReason)
}

func TestRewriteNoRouterFallsBack(t *testing.T) {
	r := NewRewriter(nil, nil, nil, RewriteConfig{})

	out := r.Rewrite(context.Background(), "peki bunun nedeni ne?", chatHistory())

	assert.False(t, out.Applied)
	assert.Equal(t, rewriteSkipError, out.SkipReason)
}

func TestRewriteRejectsBadOutputs(t *testing.T) {
	tests := []struct {
		name     string
		question string
		output   string
		reason   string
	}{
		{"empty output", "bunu açar mısın", "   ", rewriteSkipEmpty},
		{"overlong output", "bu ne?", strings.Repeat("çok uzun bir cevap ", 20), rewriteSkipOverlong},
		{"unchanged output", "bunu açıkla", "Bunu Açıkla", rewriteSkipUnchanged},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			provider := llm.NewMockProvider("gemini").Queue(tc.output)
			r := newTestRewriter(provider, nil, RewriteConfig{})

			out := r.Rewrite(context.Background(), tc.question, chatHistory())

			assert.False(t, out.Applied)
			assert.Equal(t, tc.question, out.Query)
			assert.Equal(t, tc.reason, out.SkipReason)
		})
	}
}

func TestRewriteStripsWrappingQuotes(t *testing.T) {
	provider := llm.NewMockProvider("gemini").Queue(`"Nutuk kitabında bağımsızlık kavramı"`)
	r := newTestRewriter(provider, nil, RewriteConfig{})

	out := r.Rewrite(context.Background(), "peki o kitapta ne var", chatHistory())

	assert.True(t, out.Applied)
	assert.Equal(t, "Nutuk kitabında bağımsızlık kavramı", out.Query)
}
