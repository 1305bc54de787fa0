package search

import (
	"regexp"
	"strings"

	"github.com/tomehub/tomehub/internal/textnorm"
)

// Router maps a query and its intent to a retrieval mode and bucket
// list using fixed rules. It holds only compiled patterns and is safe
// for concurrent use.
type Router struct {
	directLookup     []*regexp.Regexp
	conceptualTokens []string
	defaultMode      RouterMode
	ruleBased        bool
}

// NewRouter compiles the routing rules.
func NewRouter(cfg Config) *Router {
	cfg = cfg.withDefaults()
	return &Router{
		directLookup: []*regexp.Regexp{
			regexp.MustCompile(`hangi sayfa`),
			regexp.MustCompile(`sayfa \d+`),
			regexp.MustCompile(`kim dedi`),
			regexp.MustCompile(`kim soyledi`),
			regexp.MustCompile(`nerede geciyor`),
			regexp.MustCompile(`tam olarak ne diyor`),
		},
		conceptualTokens: []string{
			"nedir", "neden", "nasil", "anlam", "kavram", "etik",
			"ahlak", "felsefe", "dusunce", "teori", "iliski", "fark",
		},
		defaultMode: cfg.DefaultMode,
		ruleBased:   cfg.RuleRouterEnabled,
	}
}

// bucketsFor returns the bucket list of a retrieval mode.
func bucketsFor(mode RouterMode) []string {
	switch mode {
	case ModeFastExact:
		return []string{BucketExact, BucketLemma}
	case ModeSemanticFocus:
		return []string{BucketLemma, BucketSemantic, BucketExact}
	default:
		return []string{BucketExact, BucketLemma, BucketSemantic}
	}
}

// Decide applies the routing rules in priority order.
func (r *Router) Decide(query string, intent Intent) Route {
	if !r.ruleBased {
		return Route{Mode: r.defaultMode, Buckets: bucketsFor(r.defaultMode), Reason: "router_disabled"}
	}

	switch intent {
	case IntentDirect, IntentCitationSeeking, IntentFollowUp:
		return Route{Mode: ModeFastExact, Buckets: bucketsFor(ModeFastExact), Reason: "direct_intent"}
	}

	normalized := textnorm.Normalize(query)

	if _, ok := textnorm.ContainsQuoted(query); ok {
		return Route{Mode: ModeFastExact, Buckets: bucketsFor(ModeFastExact), Reason: "quoted_phrase"}
	}
	for _, p := range r.directLookup {
		if p.MatchString(normalized) {
			return Route{Mode: ModeFastExact, Buckets: bucketsFor(ModeFastExact), Reason: "direct_lookup_pattern"}
		}
	}

	tokens := textnorm.Tokenize(normalized)
	if len(tokens) >= 2 {
		for _, tok := range tokens {
			if r.isConceptual(tok) {
				return Route{Mode: ModeSemanticFocus, Buckets: bucketsFor(ModeSemanticFocus), Reason: "conceptual_keywords"}
			}
		}
	}

	if len(tokens) <= 2 {
		return Route{Mode: ModeBalanced, Buckets: bucketsFor(ModeBalanced), Reason: "short_query"}
	}
	return Route{Mode: ModeBalanced, Buckets: bucketsFor(ModeBalanced), Reason: "default"}
}

// isConceptual matches a token against the conceptual vocabulary.
// Short entries ("etik", "fark") require an exact match so that words
// like "etiket" do not trigger the semantic-focus mode.
func (r *Router) isConceptual(token string) bool {
	for _, c := range r.conceptualTokens {
		if token == c {
			return true
		}
		if len(c) >= 5 && strings.HasPrefix(token, c) {
			return true
		}
	}
	return false
}
