package rag

import "github.com/tomehub/tomehub/internal/search"

// highScoreFloor is the answerability score at which a chunk counts as
// high-confidence evidence on its own.
const highScoreFloor = 3.0

// DecideMode picks the answer mode from the intent, complexity and the
// classified evidence. The reason string feeds the metadata envelope.
func DecideMode(intent search.Intent, complexity Complexity, evidence []Evidence) (AnswerMode, string) {
	var definitional, theory, highScore, highConfidence, keywordMatches int
	for _, ev := range evidence {
		ann := ev.Annotation
		if ann.Has(FeatureDefinitional) || ann.PassageType == PassageDefinition {
			definitional++
		}
		if ann.Has(FeatureTheory) || ann.PassageType == PassageTheory {
			theory++
		}
		if ann.Score >= highScoreFloor {
			highScore++
		}
		if ann.Level == LevelA {
			highConfidence++
		}
		if ann.Has(FeatureKeywordMatch) {
			keywordMatches++
		}
	}

	direct := intent == search.IntentDirect
	if direct && complexity == ComplexityHigh && (definitional > 0 || theory > 0 || len(evidence) >= 2) {
		return ModeHybrid, "direct_high_complexity"
	}
	if direct && (definitional > 0 || theory > 0 || highScore > 0) {
		return ModeQuote, "direct_definitional_evidence"
	}
	if (direct || intent == search.IntentComparative) && highConfidence >= 1 {
		return ModeQuote, "high_confidence_evidence"
	}
	if keywordMatches >= 3 {
		return ModeQuote, "keyword_match_majority"
	}
	return ModeSynthesis, "default_synthesis"
}
