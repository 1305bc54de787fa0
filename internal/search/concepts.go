package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tomehub/tomehub/internal/llm"
	"github.com/tomehub/tomehub/internal/textnorm"
)

const extractorSystemPrompt = `Sen bir kavram çıkarıcısın. Verilen Türkçe sorunun arkasındaki soyut kavramları belirlersin. Sadece JSON döndür.`

// conceptExtractLimit caps how many names one extraction may yield.
const conceptExtractLimit = 3

// LLMConceptExtractor resolves free-form questions to concept names
// through the lite model tier. The graph strategy calls it only after
// direct name matching found no seeds.
type LLMConceptExtractor struct {
	router *llm.Router
}

// NewLLMConceptExtractor wraps the router as a ConceptExtractor.
func NewLLMConceptExtractor(router *llm.Router) *LLMConceptExtractor {
	return &LLMConceptExtractor{router: router}
}

// ExtractConcepts asks the lite model for up to three concept names
// behind the query.
func (e *LLMConceptExtractor) ExtractConcepts(ctx context.Context, query string) ([]string, error) {
	prompt := fmt.Sprintf(
		"Soru: %q\n\nBu sorunun arkasındaki en fazla %d soyut kavramı tek kelime ya da kısa ad olarak çıkar.\nYanıtı şu biçimde ver: {\"concepts\": [\"...\", \"...\"]}",
		query, conceptExtractLimit,
	)

	res, err := e.router.Generate(ctx, prompt, llm.GenerateOptions{
		System:           extractorSystemPrompt,
		Model:            e.router.LiteModel(),
		ProviderHint:     llm.ProviderGemini,
		RouteMode:        llm.RouteStandard,
		Temperature:      0.2,
		MaxOutputTokens:  100,
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, err
	}
	return cleanConcepts(parseConcepts(res.Text)), nil
}

// parseConcepts accepts either the documented envelope or a bare JSON
// array, which smaller models occasionally return.
func parseConcepts(raw string) []string {
	raw = strings.TrimSpace(raw)
	var envelope struct {
		Concepts []string `json:"concepts"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err == nil && len(envelope.Concepts) > 0 {
		return envelope.Concepts
	}
	var bare []string
	if err := json.Unmarshal([]byte(raw), &bare); err == nil {
		return bare
	}
	return nil
}

func cleanConcepts(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, conceptExtractLimit)
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		norm := textnorm.Normalize(name)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, name)
		if len(out) >= conceptExtractLimit {
			break
		}
	}
	return out
}
