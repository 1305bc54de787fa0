package search

import (
	"math"
	"sort"
	"strings"

	"github.com/tomehub/tomehub/internal/storage"
	"github.com/tomehub/tomehub/internal/textnorm"
)

// Noise-guard thresholds, in runes of normalized text. Web-derived
// bodies need more substance than curated snippets before they may
// ride the semantic tail.
const (
	noiseMinTextLen       = 60
	noiseWebMinTextLen    = 140
	noiseTitleCheckLen    = 180
	semanticScoreFloor    = 2.0
	semanticFloorFraction = 0.35
)

// tailAllowedTypes is the source-type allowlist for the semantic tail.
var tailAllowedTypes = map[storage.ContentType]struct{}{
	storage.ContentTypeHighlight:   {},
	storage.ContentTypeInsight:     {},
	storage.ContentTypeNote:        {},
	storage.ContentTypeBookChunk:   {},
	storage.ContentTypeArticleBody: {},
	storage.ContentTypeWebsiteBody: {},
	storage.ContentTypeItemSummary: {},
}

// MixResult is the outcome of the lexical-then-semantic-tail policy
// plus the diagnostics the metadata envelope reports.
type MixResult struct {
	Hits              []Hit
	NoiseGuardApplied bool
	NoiseRejected     int
	TailCount         int
	CapUsed           int
}

// MixLexicalThenTail reorders a fused list so every lexical hit leads
// and a capped, noise-guarded slice of semantic hits trails.
func MixLexicalThenTail(fused []Hit, req Request, cfg Config) MixResult {
	var lexical, semantic []Hit
	for _, h := range fused {
		if h.Bucket == BucketSemantic {
			semantic = append(semantic, h)
		} else {
			lexical = append(lexical, h)
		}
	}

	res := MixResult{Hits: lexical}
	if len(semantic) == 0 {
		return res
	}

	candidates := semantic
	if cfg.NoiseGuardEnabled {
		res.NoiseGuardApplied = true
		kept := make([]Hit, 0, len(semantic))
		for _, h := range semantic {
			if tailNoise(h.Chunk) {
				res.NoiseRejected++
				continue
			}
			kept = append(kept, h)
		}
		candidates = kept
	}

	topScore := 0.0
	for _, h := range semantic {
		if h.Score > topScore {
			topScore = h.Score
		}
	}
	floor := math.Max(semanticScoreFloor, semanticFloorFraction*topScore)
	floored := make([]Hit, 0, len(candidates))
	for _, h := range candidates {
		if h.Score >= floor {
			floored = append(floored, h)
		}
	}
	candidates = floored

	budget := tailCap(req, cfg, len(lexical))
	res.CapUsed = budget

	// Keep the best semantics visible even when every candidate was
	// filtered out.
	if len(candidates) == 0 {
		candidates = make([]Hit, len(semantic))
		copy(candidates, semantic)
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].Score != candidates[j].Score {
				return candidates[i].Score > candidates[j].Score
			}
			return candidates[i].ID.String() < candidates[j].ID.String()
		})
		if len(candidates) > budget {
			candidates = candidates[:budget]
		}
	}

	tail := orderTail(candidates, lexical, budget)
	res.TailCount = len(tail)
	res.Hits = append(lexical, tail...)
	return res
}

// tailNoise reports whether a semantic candidate should be kept off
// the tail.
func tailNoise(c storage.Chunk) bool {
	if _, ok := tailAllowedTypes[c.ContentType]; !ok {
		return true
	}
	textLen := len([]rune(c.NormalizedText))
	minLen := noiseMinTextLen
	if c.ContentType == storage.ContentTypeWebsiteBody || c.ContentType == storage.ContentTypeArticleBody {
		minLen = noiseWebMinTextLen
	}
	if textLen < minLen {
		return true
	}
	if strings.Contains(c.NormalizedText, "website deneme") {
		return true
	}
	if textLen < noiseTitleCheckLen {
		title := textnorm.Normalize(c.Title)
		if strings.Contains(title, "deneme") || strings.Contains(title, "unknown") {
			return true
		}
	}
	return false
}

// tailCap picks the tail budget. Single-token queries shrink the cap
// as lexical volume grows; everything else uses the configured cap.
func tailCap(req Request, cfg Config, lexicalTotal int) int {
	tokens := textnorm.Tokenize(req.Query)
	if cfg.DynamicSingleTokenCap && len(tokens) == 1 {
		switch {
		case lexicalTotal < 10:
			return 5
		case lexicalTotal < 20:
			return 4
		case lexicalTotal < 30:
			return 3
		default:
			return 2
		}
	}
	if req.SemanticTailCap > 0 {
		return req.SemanticTailCap
	}
	return cfg.SemanticTailCap
}

// orderTail prefers candidates whose source type already appears in
// the lexical block, then backfills with the rest, both by score.
func orderTail(candidates, lexical []Hit, budget int) []Hit {
	lexTypes := make(map[storage.ContentType]struct{}, len(lexical))
	for _, h := range lexical {
		lexTypes[h.ContentType] = struct{}{}
	}

	byScore := make([]Hit, len(candidates))
	copy(byScore, candidates)
	sort.SliceStable(byScore, func(i, j int) bool {
		if byScore[i].Score != byScore[j].Score {
			return byScore[i].Score > byScore[j].Score
		}
		return byScore[i].ID.String() < byScore[j].ID.String()
	})

	tail := make([]Hit, 0, budget)
	for _, h := range byScore {
		if len(tail) >= budget {
			break
		}
		if _, ok := lexTypes[h.ContentType]; ok {
			tail = append(tail, h)
		}
	}
	for _, h := range byScore {
		if len(tail) >= budget {
			break
		}
		if _, ok := lexTypes[h.ContentType]; ok {
			continue
		}
		tail = append(tail, h)
	}
	return tail
}
