package rag

import (
	"context"
	"regexp"

	"github.com/tomehub/tomehub/internal/observability"
	"github.com/tomehub/tomehub/internal/search"
	"github.com/tomehub/tomehub/internal/textnorm"
)

// Feature scores. They sum into the answerability score, clamped at 7.
const (
	scoreKeywordMatch    = 1
	scoreDefinitional    = 3
	scoreTheory          = 1
	scoreModality        = 1
	scorePersonalComment = 1
	scoreEvaluative      = 1

	answerabilityMax = 7
)

// Feature patterns run over the normalized text after mojibake repair,
// so every alternative is lowercase ASCII.
var (
	definitionalRe = regexp.MustCompile(`\b(nedir|ne demek(tir)?|demektir|denir|tanim\w*|tarif ed\w*|olarak bilinir|anlamina gel\w*|kavram(i|idir|ini)?)\b`)
	theoryRe       = regexp.MustCompile(`\b(teori\w*|kuram\w*|ilke\w*|prensip\w*|hipotez\w*|ogreti\w*|yasa(si|lari)?|kanun\w*)\b`)
	modalityRe     = regexp.MustCompile(`\b(olabilir|gerekir|gerek(li|ir)\w*|sart(tir)?|zorunlu\w*|mumkun|belki|muhtemel\w*|kesinlikle|mutlaka)\b|\w{3,}(meli|mali)(dir)?\b`)
	personalRe     = regexp.MustCompile(`\b(bence|bana gore|kanimca|kanaatimce|fikrimce|saniyorum|sanirim|dusunuyorum|dusunceme|katiliyorum|katilmiyorum)\b`)
	evaluativeRe   = regexp.MustCompile(`\b(onemli\w*|degerli|kayda deger|elestir\w*|basarili|basarisiz|etkileyici|carpici|zayif|guclu|yetersiz|isabetli)\b`)
)

// PassageClassifier is the fast external classifier for passage type
// and quotability. Implementations must be cheap; the assembler calls
// it once per evidence chunk.
type PassageClassifier interface {
	ClassifyPassage(ctx context.Context, text string) (PassageType, Quotability, error)
}

// EpistemicClassifier derives the answerability score, feature set and
// confidence level for evidence chunks.
type EpistemicClassifier struct {
	log     *observability.Logger
	passage PassageClassifier
}

// NewEpistemicClassifier wires the classifier. The passage collaborator
// is optional; without it every chunk gets the SITUATIONAL / MEDIUM
// defaults.
func NewEpistemicClassifier(log *observability.Logger, passage PassageClassifier) *EpistemicClassifier {
	if log == nil {
		log = observability.Nop()
	}
	return &EpistemicClassifier{
		log:     log.WithComponent("epistemic_classifier"),
		passage: passage,
	}
}

// Annotate fills the epistemic fields of one evidence annotation.
// keywords are the question's core concepts.
func (c *EpistemicClassifier) Annotate(ctx context.Context, ev *Evidence, keywords []string) {
	text := textnorm.Normalize(textnorm.RepairMojibake(ev.Text))

	var features []Feature
	score := 0.0

	keywordHit := false
	for _, kw := range keywords {
		if textnorm.CountStemMatches(text, kw) > 0 {
			keywordHit = true
			break
		}
	}
	if keywordHit {
		features = append(features, FeatureKeywordMatch)
		score += scoreKeywordMatch
	}
	if definitionalRe.MatchString(text) {
		features = append(features, FeatureDefinitional)
		score += scoreDefinitional
	}
	if theoryRe.MatchString(text) {
		features = append(features, FeatureTheory)
		score += scoreTheory
	}
	if modalityRe.MatchString(text) {
		features = append(features, FeatureModality)
		score += scoreModality
	}
	if personalRe.MatchString(text) {
		features = append(features, FeaturePersonalComment)
		score += scorePersonalComment
	}
	if evaluativeRe.MatchString(text) {
		features = append(features, FeatureEvaluative)
		score += scoreEvaluative
	}
	if score > answerabilityMax {
		score = answerabilityMax
	}

	passageType, quotability := PassageSituational, QuotabilityMedium
	if c.passage != nil {
		pt, q, err := c.passage.ClassifyPassage(ctx, ev.Text)
		if err != nil {
			c.log.Debug().Err(err).Msg("passage classification failed, using defaults")
		} else {
			if pt != "" {
				passageType = pt
			}
			if q != "" {
				quotability = q
			}
		}
	}

	ann := &ev.Annotation
	ann.Features = features
	ann.Score = score
	ann.PassageType = passageType
	ann.Quotability = quotability
	ann.ExactMatch = keywordHit || ev.Bucket == search.BucketExact

	// Graph hits carry no question keywords by construction; their
	// relation strength stands in for the keyword evidence.
	if ev.Bucket == search.BucketGraph && score == 0 {
		boost := 1.5 + 4*(ev.GraphScore-0.5)
		if boost < 0 {
			boost = 0
		}
		ann.Score = boost
		ann.GraphBoosted = true
	}

	ann.Level = levelFor(ann)
}

// levelFor applies the confidence-tier rules to a filled annotation.
func levelFor(ann *Annotation) Level {
	switch {
	case ann.Score >= 3,
		ann.Has(FeatureDefinitional),
		ann.Has(FeatureTheory),
		ann.PassageType == PassageDefinition,
		ann.PassageType == PassageTheory,
		ann.Quotability == QuotabilityHigh:
		return LevelA
	case ann.Score >= 1:
		return LevelB
	default:
		return LevelC
	}
}
