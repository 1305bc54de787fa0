package rag

import (
	"sort"
	"unicode/utf8"

	"github.com/tomehub/tomehub/internal/search"
	"github.com/tomehub/tomehub/internal/storage"
)

// Level weights applied to the retrieval score before the final sort.
const (
	weightLevelA = 1.2
	weightLevelB = 0.9
	weightLevelC = 0.6
	// weightLongLiterature demotes long book passages that did not
	// reach level A; they pad the context without answering.
	weightLongLiterature = 0.4
	// weightNarrativeLiterature promotes the same passages for
	// narrative and synthesis questions.
	weightNarrativeLiterature = 1.2

	// longLiteraryRunes is the length above which a book chunk counts
	// as a long literary passage.
	longLiteraryRunes = 600

	// confidenceDivisor maps the 0-100 weighted score band onto the
	// 0.5-5.0 confidence scale.
	confidenceDivisor = 20.0
	confidenceMin     = 0.5
	confidenceMax     = 5.0
	confidenceTopN    = 5
)

// defaultExternalKBWeight keeps external rows supplementary.
const defaultExternalKBWeight = 0.15

func isLongLiterature(ev Evidence) bool {
	return ev.ContentType == storage.ContentTypeBookChunk && utf8.RuneCountInString(ev.Text) >= longLiteraryRunes
}

// evidenceWeight resolves the multiplier for one chunk under the given
// intent. kbWeight is the configured external-KB dampener.
func evidenceWeight(intent search.Intent, ev Evidence, kbWeight float64) float64 {
	if ev.Bucket == search.BucketExternalKB {
		if kbWeight <= 0 {
			return defaultExternalKBWeight
		}
		return kbWeight
	}
	long := isLongLiterature(ev)
	if long && (intent == search.IntentNarrative || intent == search.IntentSynthesis) {
		return weightNarrativeLiterature
	}
	if long && ev.Annotation.Level != LevelA {
		return weightLongLiterature
	}
	switch ev.Annotation.Level {
	case LevelA:
		return weightLevelA
	case LevelB:
		return weightLevelB
	default:
		return weightLevelC
	}
}

// applyWeights fills Annotation.Weighted and sorts the evidence on it,
// strongest first. Compare secondaries always trail the rest of the
// list; remaining ties break on the raw score, then chunk id, so the
// order is stable across runs.
func applyWeights(intent search.Intent, evidence []Evidence, kbWeight float64) {
	for i := range evidence {
		evidence[i].Annotation.Weighted = evidence[i].Score * evidenceWeight(intent, evidence[i], kbWeight)
	}
	tier := func(ev Evidence) int {
		if ev.Annotation.CompareSecondary {
			return 1
		}
		return 0
	}
	sort.SliceStable(evidence, func(i, j int) bool {
		a, b := evidence[i], evidence[j]
		if ta, tb := tier(a), tier(b); ta != tb {
			return ta < tb
		}
		if a.Annotation.Weighted != b.Annotation.Weighted {
			return a.Annotation.Weighted > b.Annotation.Weighted
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ID.String() < b.ID.String()
	})
}

// contextConfidence averages the top weighted scores onto the 0.5-5.0
// band the templates key their style on.
func contextConfidence(evidence []Evidence) float64 {
	if len(evidence) == 0 {
		return confidenceMin
	}
	n := len(evidence)
	if n > confidenceTopN {
		n = confidenceTopN
	}
	sum := 0.0
	for _, ev := range evidence[:n] {
		sum += ev.Annotation.Weighted
	}
	conf := sum / float64(n) / confidenceDivisor
	if conf < confidenceMin {
		conf = confidenceMin
	}
	if conf > confidenceMax {
		conf = confidenceMax
	}
	return conf
}
