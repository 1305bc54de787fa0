package answer

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tomehub/tomehub/internal/observability"
	"github.com/tomehub/tomehub/internal/rag"
	"github.com/tomehub/tomehub/internal/search"
	"github.com/tomehub/tomehub/internal/storage"
	"github.com/tomehub/tomehub/internal/textnorm"
)

const (
	analyticChunkLimit = 500
	analyticTermMax    = 4
	analyticKWICWindow = 8
	analyticKWICMax    = 5
	analyticSourceMax  = 10
)

// analyticTriggerRe detects occurrence-count questions on normalized
// text: "kac kez", "kac kere", "kac defa", "kac yerde", "ne siklikla".
var analyticTriggerRe = regexp.MustCompile(`(^|[^a-z0-9])(kac (kez|kere|defa|yerde)|ne siklikla|ne siklikta)([^a-z0-9]|$)`)

// analyticCarriers are the tokens of the counting phrase itself: the
// question words, the occurrence verbs and the term carriers ("kelimesi",
// "sozcugu") that surround the actual search term.
var analyticCarriers = map[string]struct{}{
	"kac": {}, "kez": {}, "kere": {}, "defa": {}, "yerde": {}, "yer": {},
	"siklikla": {}, "siklikta": {}, "sikligi": {},
	"geciyor": {}, "gecer": {}, "gecmis": {}, "gecmekte": {}, "gecmektedir": {},
	"gecti": {}, "geciyordu": {},
	"kullaniliyor": {}, "kullanilir": {}, "kullanilmis": {}, "kullanilmistir": {},
	"tekrarlaniyor": {}, "tekrarlanir": {}, "tekrarlanmis": {}, "tekrar": {},
	"tekrarliyor": {}, "tekrarlandi": {}, "yineleniyor": {},
	"yaziyor": {}, "yazilmis": {}, "yazilmistir": {}, "yazili": {},
	"soyleniyor": {}, "soylenmis": {}, "aniliyor": {}, "anilir": {}, "anilmis": {},
	"bahsediliyor": {}, "bahsedilir": {}, "bahsedilmis": {}, "deginiliyor": {},
	"deginilmis": {}, "zikrediliyor": {}, "zikredilmis": {},
	"ele": {}, "aliniyor": {}, "alinir": {}, "alinmis": {},
	"kelime": {}, "kelimesi": {}, "sozcuk": {}, "sozcugu": {}, "soz": {}, "sozu": {},
	"ifade": {}, "ifadesi": {}, "terim": {}, "terimi": {}, "tabir": {}, "tabiri": {},
	"adi": {}, "ismi": {},
	"kitap": {}, "kitapta": {}, "kitabin": {}, "kitabinda": {}, "kitabimda": {},
	"kitabi": {}, "eser": {}, "eserde": {}, "eserinde": {},
	"metin": {}, "metinde": {}, "metninde": {}, "roman": {}, "romanda": {},
	"sayfa": {}, "sayfada": {}, "sayfalarinda": {},
	"boyunca": {}, "toplam": {}, "toplamda": {},
}

// analyticTerm extracts the counted term from an occurrence question.
// A double-quoted phrase wins; otherwise the tokens left after dropping
// stopwords, counting-phrase carriers and excluded (book title) tokens
// form the term in question order. Returns the normalized match term and
// the display form.
func analyticTerm(question string, exclude map[string]struct{}) (string, string, bool) {
	norm := textnorm.Normalize(question)
	if !analyticTriggerRe.MatchString(norm) {
		return "", "", false
	}

	if phrase, ok := textnorm.ContainsQuoted(question); ok {
		display := strings.TrimSpace(phrase)
		match := textnorm.Normalize(display)
		if match != "" {
			return match, display, true
		}
	}

	var terms []string
	for _, tok := range textnorm.Tokenize(question) {
		if len(tok) < 3 || textnorm.IsStopword(tok) {
			continue
		}
		if _, drop := analyticCarriers[tok]; drop {
			continue
		}
		if excludedToken(tok, exclude) {
			continue
		}
		terms = append(terms, tok)
	}
	if len(terms) == 0 || len(terms) > analyticTermMax {
		return "", "", false
	}
	match := strings.Join(terms, " ")
	return match, match, true
}

// excludedToken drops tokens that start with an excluded stem, so the
// suffixed book reference in "Nutuk'ta" or "nutukta" never becomes part
// of the term.
func excludedToken(tok string, exclude map[string]struct{}) bool {
	for stem := range exclude {
		if strings.HasPrefix(tok, stem) {
			return true
		}
	}
	return false
}

// termPatterns compiles the per-word matchers: every leading token must
// match on a full word boundary, the final token on a stem boundary so
// inflected forms still count.
func termPatterns(term string) ([]*regexp.Regexp, *regexp.Regexp, error) {
	toks := strings.Fields(term)
	if len(toks) == 0 {
		return nil, nil, textnorm.ErrEmptyTerm
	}
	inner := make([]*regexp.Regexp, 0, len(toks)-1)
	for _, t := range toks[:len(toks)-1] {
		re, err := textnorm.WordBoundaryPattern(t)
		if err != nil {
			return nil, nil, err
		}
		inner = append(inner, re)
	}
	last, err := textnorm.StemBoundaryPattern(toks[len(toks)-1])
	if err != nil {
		return nil, nil, err
	}
	return inner, last, nil
}

// kwicContext is one keyword-in-context window around an occurrence.
type kwicContext struct {
	text       string
	page       *int
	chunkIndex int
}

// analyticAnswerer resolves occurrence-count questions deterministically
// from the store, bypassing the LLM entirely.
type analyticAnswerer struct {
	store   storage.SearchStore
	catalog storage.CatalogStore
	log     *observability.Logger
}

func newAnalyticAnswerer(store storage.SearchStore, catalog storage.CatalogStore, log *observability.Logger) *analyticAnswerer {
	return &analyticAnswerer{
		store:   store,
		catalog: catalog,
		log:     log.WithComponent("analytic_answerer"),
	}
}

// try answers the question when it is an occurrence count against the
// context book. Any store failure falls back to the generative pipeline.
func (a *analyticAnswerer) try(ctx context.Context, req rag.Request) (*Answer, bool) {
	if req.ContextItemID == nil {
		return nil, false
	}
	if !analyticTriggerRe.MatchString(textnorm.Normalize(req.Question)) {
		return nil, false
	}

	title := a.bookTitle(ctx, req)
	match, display, ok := analyticTerm(req.Question, titleStems(title))
	if !ok {
		return nil, false
	}

	inner, last, err := termPatterns(match)
	if err != nil {
		return nil, false
	}

	filters := storage.Filters{ItemID: req.ContextItemID, Scope: req.Scope}
	chunks, err := a.store.SearchTokens(ctx, req.UserID, textnorm.Tokenize(match), filters, analyticChunkLimit)
	if err != nil {
		a.log.Warn().Err(err).Str("term", match).Msg("analytic count query failed, falling back to generation")
		return nil, false
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })

	total := 0
	var kwics []kwicContext
	var matched []storage.ChunkHit
	var matchedCounts []int
	for _, ch := range chunks {
		count, contexts := scanChunk(ch, inner, last, analyticKWICMax-len(kwics))
		if count == 0 {
			continue
		}
		total += count
		matched = append(matched, ch)
		matchedCounts = append(matchedCounts, count)
		kwics = append(kwics, contexts...)
	}

	sources := make([]Source, 0, len(matched))
	for i, ch := range matched {
		if i >= analyticSourceMax {
			break
		}
		sources = append(sources, Source{
			ID:         ch.ID,
			Title:      ch.Title,
			PageNumber: ch.PageNumber,
			Snippet:    truncateRunes(textnorm.CollapseWhitespace(ch.Text), sourceSnippetRunes),
			Score:      float64(matchedCounts[i]),
		})
	}

	a.log.Debug().
		Str("term", match).
		Int("occurrences", total).
		Int("chunks", len(matched)).
		Msg("analytic short-circuit answered")

	return &Answer{
		Text:    renderAnalytic(display, title, total, kwics),
		Sources: sources,
		Metadata: search.Metadata{
			"status":                    StatusAnalytic,
			"answer_mode":               string(rag.ModeAnalytic),
			"analytic_term":             match,
			"analytic_occurrence_count": total,
			"analytic_chunk_count":      len(matched),
		},
	}, true
}

func (a *analyticAnswerer) bookTitle(ctx context.Context, req rag.Request) string {
	if a.catalog == nil {
		return "kitabınız"
	}
	item, err := a.catalog.LibraryItem(ctx, req.UserID, *req.ContextItemID)
	if err != nil || item == nil {
		return "kitabınız"
	}
	return item.Title
}

// titleStems builds the exclusion set from the context book's title so
// the book name inside the question never pollutes the term.
func titleStems(title string) map[string]struct{} {
	stems := make(map[string]struct{})
	for _, tok := range textnorm.Tokenize(title) {
		if len(tok) >= 3 {
			stems[tok] = struct{}{}
		}
	}
	return stems
}

// scanChunk walks the chunk word by word, counting term occurrences and
// collecting at most room KWIC windows around them.
func scanChunk(ch storage.ChunkHit, inner []*regexp.Regexp, last *regexp.Regexp, room int) (int, []kwicContext) {
	words := strings.Fields(ch.Text)
	if len(words) == 0 {
		return 0, nil
	}
	norms := make([]string, len(words))
	for i, w := range words {
		norms[i] = textnorm.Normalize(w)
	}

	span := len(inner) + 1
	count := 0
	var contexts []kwicContext
	for i := 0; i+span <= len(norms); i++ {
		hit := true
		for j, re := range inner {
			if !re.MatchString(norms[i+j]) {
				hit = false
				break
			}
		}
		if hit && !last.MatchString(norms[i+len(inner)]) {
			hit = false
		}
		if !hit {
			continue
		}
		count++
		if len(contexts) >= room {
			continue
		}
		lo := i - analyticKWICWindow
		if lo < 0 {
			lo = 0
		}
		hi := i + span + analyticKWICWindow
		if hi > len(words) {
			hi = len(words)
		}
		window := strings.Join(words[lo:hi], " ")
		if lo > 0 {
			window = "…" + window
		}
		if hi < len(words) {
			window += "…"
		}
		contexts = append(contexts, kwicContext{text: window, page: ch.PageNumber, chunkIndex: ch.ChunkIndex})
	}
	return count, contexts
}

// renderAnalytic formats the deterministic count answer with its KWIC
// excerpts.
func renderAnalytic(term, bookTitle string, total int, kwics []kwicContext) string {
	var b strings.Builder
	if total == 0 {
		fmt.Fprintf(&b, "«%s», %s içinde hiç geçmiyor.", term, bookTitle)
		return b.String()
	}
	fmt.Fprintf(&b, "«%s», %s içinde %d kez geçiyor.", term, bookTitle, total)
	if len(kwics) > 0 {
		b.WriteString("\n\nGeçtiği yerler:\n")
		for i, k := range kwics {
			if k.page != nil {
				fmt.Fprintf(&b, "%d. \"%s\" (s. %d)\n", i+1, k.text, *k.page)
			} else {
				fmt.Fprintf(&b, "%d. \"%s\" (bölüm %d)\n", i+1, k.text, k.chunkIndex+1)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
