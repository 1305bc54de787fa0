package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehub/tomehub/internal/llm"
)

func extractorWith(provider *llm.MockProvider) *LLMConceptExtractor {
	return NewLLMConceptExtractor(llm.NewRouter(llm.RouterConfig{Gemini: provider}))
}

func TestConceptExtractorParsesEnvelope(t *testing.T) {
	gemini := llm.NewMockProvider("gemini").
		Queue(`{"concepts": ["vicdan", "ahlak"]}`)

	names, err := extractorWith(gemini).ExtractConcepts(context.Background(), "iç ses ve doğruluk üzerine ne diyor")
	require.NoError(t, err)
	assert.Equal(t, []string{"vicdan", "ahlak"}, names)

	calls := gemini.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, llm.DefaultLiteModel, calls[0].Model)
	assert.Equal(t, "application/json", calls[0].ResponseMIMEType)
}

func TestConceptExtractorAcceptsBareArray(t *testing.T) {
	gemini := llm.NewMockProvider("gemini").Queue(`["erdem"]`)

	names, err := extractorWith(gemini).ExtractConcepts(context.Background(), "iyi insan olmak")
	require.NoError(t, err)
	assert.Equal(t, []string{"erdem"}, names)
}

func TestConceptExtractorDedupsAndCaps(t *testing.T) {
	gemini := llm.NewMockProvider("gemini").
		Queue(`{"concepts": ["Vicdan", "vicdan", "ahlak", "erdem", "hürriyet", ""]}`)

	names, err := extractorWith(gemini).ExtractConcepts(context.Background(), "vicdan nedir")
	require.NoError(t, err)
	assert.Equal(t, []string{"Vicdan", "ahlak", "erdem"}, names)
}

func TestConceptExtractorPropagatesProviderError(t *testing.T) {
	gemini := llm.NewMockProvider("gemini").QueueErr(errors.New("quota blown"))

	names, err := extractorWith(gemini).ExtractConcepts(context.Background(), "vicdan nedir")
	require.Error(t, err)
	assert.Nil(t, names)
}

func TestConceptExtractorMalformedPayload(t *testing.T) {
	gemini := llm.NewMockProvider("gemini").Queue(`kavram listesi yok`)

	names, err := extractorWith(gemini).ExtractConcepts(context.Background(), "vicdan nedir")
	require.NoError(t, err)
	assert.Empty(t, names)
}
