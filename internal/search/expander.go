package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tomehub/tomehub/internal/llm"
	"github.com/tomehub/tomehub/internal/textnorm"
)

const expanderSystemPrompt = `Sen bir arama asistanısın. Verilen Türkçe arama sorgusunun anlamını koruyan alternatif ifadeler üretirsin. Sadece JSON döndür.`

// LLMExpander produces semantic query variations through the lite
// model tier. Expansion is advisory; any failure yields no variations.
type LLMExpander struct {
	router *llm.Router
}

// NewLLMExpander wraps the router as an Expander.
func NewLLMExpander(router *llm.Router) *LLMExpander {
	return &LLMExpander{router: router}
}

// Expand asks the lite model for up to max alternative phrasings of
// the query.
func (e *LLMExpander) Expand(ctx context.Context, query string, max int) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}
	prompt := fmt.Sprintf(
		"Sorgu: %q\n\nBu sorgunun anlamını koruyan en fazla %d farklı ifade üret. Eş anlamlı kelimeler veya farklı soru kalıpları kullan.\nYanıtı şu biçimde ver: {\"variations\": [\"...\", \"...\"]}",
		query, max,
	)

	res, err := e.router.Generate(ctx, prompt, llm.GenerateOptions{
		System:           expanderSystemPrompt,
		Model:            e.router.LiteModel(),
		ProviderHint:     llm.ProviderGemini,
		RouteMode:        llm.RouteStandard,
		Temperature:      0.4,
		MaxOutputTokens:  200,
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, err
	}
	return cleanVariations(parseVariations(res.Text), query, max), nil
}

// parseVariations accepts either the documented envelope or a bare
// JSON array, which smaller models occasionally return.
func parseVariations(raw string) []string {
	raw = strings.TrimSpace(raw)
	var envelope struct {
		Variations []string `json:"variations"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err == nil && len(envelope.Variations) > 0 {
		return envelope.Variations
	}
	var bare []string
	if err := json.Unmarshal([]byte(raw), &bare); err == nil {
		return bare
	}
	return nil
}

func cleanVariations(variations []string, original string, max int) []string {
	normalizedOriginal := textnorm.Normalize(original)
	seen := make(map[string]struct{}, len(variations))
	out := make([]string, 0, max)
	for _, v := range variations {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		nv := textnorm.Normalize(v)
		if nv == "" || nv == normalizedOriginal {
			continue
		}
		if _, ok := seen[nv]; ok {
			continue
		}
		seen[nv] = struct{}{}
		out = append(out, v)
		if len(out) >= max {
			break
		}
	}
	return out
}
