package rag

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tomehub/tomehub/internal/cache"
	"github.com/tomehub/tomehub/internal/llm"
	"github.com/tomehub/tomehub/internal/observability"
	"github.com/tomehub/tomehub/internal/textnorm"
)

// RewriteConfig tunes the follow-up query rewriter.
type RewriteConfig struct {
	// GuardEnabled skips the rewrite for lexically specific standalone
	// queries even when a trigger token fires.
	GuardEnabled bool
	// Timeout bounds the LLM call, default 4s.
	Timeout time.Duration
	// CacheTTL bounds cached rewrites, default 30 minutes.
	CacheTTL time.Duration
	// HistoryTurns is how many trailing turns feed the prompt and the
	// cache fingerprint, default 6.
	HistoryTurns int
}

func (c RewriteConfig) withDefaults() RewriteConfig {
	if c.Timeout <= 0 {
		c.Timeout = 4 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Minute
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = 6
	}
	return c
}

// RewriteOutcome reports what the rewriter did with one question.
type RewriteOutcome struct {
	// Query is the effective question: the rewrite when applied,
	// otherwise the original.
	Query   string
	Applied bool
	Cached  bool
	// Anaphoric marks questions that lean on the conversation (pronoun
	// triggers or lead-ins); the assembler treats them as follow-ups.
	Anaphoric bool
	// SkipReason explains why no rewrite happened.
	SkipReason string
}

// Rewrite skip reasons.
const (
	rewriteSkipNoHistory  = "no_history"
	rewriteSkipStandalone = "standalone_query"
	rewriteSkipGuard      = "rewrite_guard"
	rewriteSkipTimeout    = "rewrite_timeout"
	rewriteSkipError      = "rewrite_error"
	rewriteSkipEmpty      = "empty_output"
	rewriteSkipOverlong   = "overlong_output"
	rewriteSkipUnchanged  = "unchanged_output"
)

var (
	// Trigger tokens that mark a question as leaning on prior turns.
	rewriteTriggerRe = regexp.MustCompile(`(^|\s)(bu|bunu|bunun|bununla|o|onu|onun|su|sunu|peki|ayni|aynisi|fark|farki|oradaki|yukaridaki)(\s|$)`)
	// Strict pronoun set used by the rewrite guard: a query carrying
	// one of these is never standalone.
	rewritePronounRe = regexp.MustCompile(`(^|\s)(bu|bunu|bunun|bununla|o|onu|onun|su|sunu)(\s|$)`)
)

// Lead-ins that start a follow-up turn.
var rewriteLeadIns = []string{"peki", "yani", "o zaman", "ya ", "iyi de", "ama "}

const rewriteSystemPrompt = "Kullanıcının sohbet bağlamına dayanan kısa sorusunu, " +
	"bağlam olmadan da anlaşılır tek bir arama sorgusuna çevir. " +
	"Yalnızca yeniden yazılmış soruyu döndür, açıklama ekleme."

// Rewriter resolves anaphoric follow-up questions into standalone
// queries with a lite-tier LLM call. Failures always fall back to the
// original question.
type Rewriter struct {
	log    *observability.Logger
	router *llm.Router
	cache  cache.Client
	cfg    RewriteConfig
}

// NewRewriter wires the rewriter. The cache is optional.
func NewRewriter(log *observability.Logger, router *llm.Router, c cache.Client, cfg RewriteConfig) *Rewriter {
	if log == nil {
		log = observability.Nop()
	}
	return &Rewriter{
		log:    log.WithComponent("query_rewriter"),
		router: router,
		cache:  c,
		cfg:    cfg.withDefaults(),
	}
}

// Rewrite returns the effective query for a question given the chat
// history. Questions that stand on their own pass through untouched.
func (r *Rewriter) Rewrite(ctx context.Context, question string, history []ChatTurn) RewriteOutcome {
	out := RewriteOutcome{Query: question}
	if len(history) == 0 {
		out.SkipReason = rewriteSkipNoHistory
		return out
	}

	normalized := textnorm.Normalize(question)
	tokens := textnorm.Tokenize(normalized)
	out.Anaphoric = rewritePronounRe.MatchString(normalized) || hasLeadIn(normalized)

	if !needsRewrite(question, normalized, tokens) {
		out.SkipReason = rewriteSkipStandalone
		return out
	}
	if r.cfg.GuardEnabled && len(tokens) >= 5 && !out.Anaphoric {
		out.SkipReason = rewriteSkipGuard
		return out
	}
	if r.router == nil {
		out.SkipReason = rewriteSkipError
		return out
	}

	turns := lastTurns(history, r.cfg.HistoryTurns)
	key := r.cacheKey(normalized, turns)
	if r.cache != nil {
		if raw, err := r.cache.Get(ctx, key); err == nil && len(raw) > 0 {
			out.Query = string(raw)
			out.Applied = true
			out.Cached = true
			return out
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	res, err := r.router.Generate(callCtx, r.buildPrompt(question, turns), llm.GenerateOptions{
		System:          rewriteSystemPrompt,
		Model:           r.router.LiteModel(),
		Temperature:     0.1,
		MaxOutputTokens: 120,
		Timeout:         r.cfg.Timeout,
		RouteMode:       llm.RouteStandard,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			out.SkipReason = rewriteSkipTimeout
		} else {
			out.SkipReason = rewriteSkipError
		}
		r.log.Warn().Err(err).Str("question", question).Msg("query rewrite failed, using original")
		return out
	}

	rewritten := strings.Trim(strings.TrimSpace(res.Text), `"'`)
	switch {
	case rewritten == "":
		out.SkipReason = rewriteSkipEmpty
	case utf8.RuneCountInString(rewritten) > overlongLimit(question):
		out.SkipReason = rewriteSkipOverlong
	case textnorm.Normalize(rewritten) == normalized:
		out.SkipReason = rewriteSkipUnchanged
	default:
		out.Query = rewritten
		out.Applied = true
		if r.cache != nil {
			_ = r.cache.Set(ctx, key, []byte(rewritten), r.cfg.CacheTTL)
		}
	}
	return out
}

// needsRewrite reports whether the question looks short or anaphoric.
func needsRewrite(raw, normalized string, tokens []string) bool {
	if len(tokens) <= 4 {
		return true
	}
	if hasLeadIn(normalized) {
		return true
	}
	if rewriteTriggerRe.MatchString(normalized) {
		return true
	}
	return strings.HasSuffix(strings.TrimSpace(raw), "?") && len(tokens) <= 6
}

func hasLeadIn(normalized string) bool {
	for _, lead := range rewriteLeadIns {
		if strings.HasPrefix(normalized, lead) {
			return true
		}
	}
	return false
}

// overlongLimit is the rune bound above which a rewrite is rejected as
// runaway generation.
func overlongLimit(question string) int {
	n := 4 * utf8.RuneCountInString(question)
	if n < 200 {
		n = 200
	}
	return n
}

func lastTurns(history []ChatTurn, n int) []ChatTurn {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func (r *Rewriter) buildPrompt(question string, turns []ChatTurn) string {
	var b strings.Builder
	b.WriteString("Sohbet geçmişi:\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	b.WriteString("\nSoru: ")
	b.WriteString(question)
	return b.String()
}

func (r *Rewriter) cacheKey(normalized string, turns []ChatTurn) string {
	var b strings.Builder
	b.WriteString(normalized)
	for _, t := range turns {
		b.WriteByte('\x1e')
		b.WriteString(t.Role)
		b.WriteByte('\x1f')
		b.WriteString(t.Content)
	}
	return cache.HashedKey("rag:rewrite:", b.String())
}
