package rag

import (
	"strings"

	"github.com/tomehub/tomehub/internal/search"
	"github.com/tomehub/tomehub/internal/textnorm"
)

// Classification is the assembler's read of one question: the intent
// vocabulary shared with the search router, a coarse complexity grade
// and the extracted core keywords.
type Classification struct {
	Intent     search.Intent
	Complexity Complexity
	Keywords   []string
}

// IntentClassifier buckets questions into direct, comparative and
// synthesis intents from fixed Turkish pattern lists. It holds only
// static pattern tables and is safe for concurrent use.
type IntentClassifier struct {
	comparative []string
	synthesis   []string
	highEffort  []string
}

// NewIntentClassifier builds the classifier with its pattern tables.
// Patterns are matched against the normalized (lowercased, deaccented)
// question.
func NewIntentClassifier() *IntentClassifier {
	return &IntentClassifier{
		comparative: []string{
			"karsilastir", "kiyasla", "mukayese",
			"arasindaki fark", "farki ne", "farklari", "ne farki",
			"benzerlik", "ortak yon", "ortak nokta",
			"hangisi daha", " vs ", "versus",
		},
		synthesis: []string{
			"ozetle", "ozetini", "genel olarak", "butunuyle",
			"ana fikir", "ana tema", "temalar", "sentez",
			"degerlendir", "yorumla", "iliskilendir", "baglanti kur",
			"ne anlatiyor", "ne anlatmak istiyor", "butun kitap",
			"tum kitap", "toparla", "birlestir",
		},
		highEffort: []string{
			"neden", "nicin", "nasil", "analiz", "acikla",
			"tartis", "degerlendir", "yorumla", "karsilastir",
			"iliskisi", "etkisi", "sonuclari", "elestir",
		},
	}
}

// Classify determines intent, complexity and keywords for a question.
// Unknown questions default to a low-complexity direct lookup.
func (c *IntentClassifier) Classify(question string) Classification {
	normalized := textnorm.Normalize(question)
	tokens := textnorm.Tokenize(normalized)

	cls := Classification{
		Intent:     search.IntentDirect,
		Complexity: ComplexityLow,
		Keywords:   textnorm.Keywords(question),
	}

	// Comparative outranks synthesis: "iki kitabı karşılaştır ve
	// değerlendir" is a compare question.
	switch {
	case matchesAny(normalized, c.comparative):
		cls.Intent = search.IntentComparative
	case matchesAny(normalized, c.synthesis):
		cls.Intent = search.IntentSynthesis
	}

	if len(tokens) >= 8 || matchesAny(normalized, c.highEffort) {
		cls.Complexity = ComplexityHigh
	}
	return cls
}

func matchesAny(normalized string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(normalized, p) {
			return true
		}
	}
	return false
}
