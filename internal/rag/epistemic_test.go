package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tomehub/tomehub/internal/search"
	"github.com/tomehub/tomehub/internal/storage"
)

func annotate(t *testing.T, c *EpistemicClassifier, hit search.Hit, keywords ...string) Evidence {
	t.Helper()
	ev := Evidence{Hit: hit}
	c.Annotate(context.Background(), &ev, keywords)
	return ev
}

func TestAnnotateDefinitionalChunk(t *testing.T) {
	c := NewEpistemicClassifier(nil, nil)
	hit := libraryHit(search.BucketLemma, "Ahlak Üzerine", "Vicdan, insanın içindeki yargıcın sesi olarak tanımlanır.", 72)

	ev := annotate(t, c, hit, "vicdan")

	assert.True(t, ev.Annotation.Has(FeatureKeywordMatch))
	assert.True(t, ev.Annotation.Has(FeatureDefinitional))
	assert.InDelta(t, 4, ev.Annotation.Score, 1e-9)
	assert.Equal(t, LevelA, ev.Annotation.Level)
	assert.True(t, ev.Annotation.ExactMatch)
	assert.Equal(t, PassageSituational, ev.Annotation.PassageType)
	assert.Equal(t, QuotabilityMedium, ev.Annotation.Quotability)
}

func TestAnnotateTheoryChunk(t *testing.T) {
	c := NewEpistemicClassifier(nil, nil)
	hit := libraryHit(search.BucketSemantic, "Toplum Bilimi", "Bu kuram toplumun işleyişini tek bir ilkeye bağlar.", 60)

	ev := annotate(t, c, hit, "adalet")

	assert.True(t, ev.Annotation.Has(FeatureTheory))
	assert.False(t, ev.Annotation.Has(FeatureKeywordMatch))
	assert.Equal(t, LevelA, ev.Annotation.Level)
	assert.False(t, ev.Annotation.ExactMatch)
}

func TestAnnotateModalityAndEvaluative(t *testing.T) {
	c := NewEpistemicClassifier(nil, nil)
	hit := libraryHit(search.BucketLemma, "Denemeler", "İnsan bu sesi dinlemeli, yazarın vurgusu önemli bir noktada.", 55)

	ev := annotate(t, c, hit, "ahlak")

	assert.True(t, ev.Annotation.Has(FeatureModality))
	assert.True(t, ev.Annotation.Has(FeatureEvaluative))
	assert.InDelta(t, 2, ev.Annotation.Score, 1e-9)
	assert.Equal(t, LevelB, ev.Annotation.Level)
}

func TestAnnotatePersonalComment(t *testing.T) {
	c := NewEpistemicClassifier(nil, nil)
	hit := libraryHit(search.BucketLemma, "Notlarım", "Bence yazar burada haksız bir genelleme yapıyor.", 50)
	hit.ContentType = storage.ContentTypeNote

	ev := annotate(t, c, hit, "ahlak")

	assert.True(t, ev.Annotation.Has(FeaturePersonalComment))
	assert.InDelta(t, 1, ev.Annotation.Score, 1e-9)
	assert.Equal(t, LevelB, ev.Annotation.Level)
}

func TestAnnotateNeutralChunkLevelC(t *testing.T) {
	c := NewEpistemicClassifier(nil, nil)
	hit := libraryHit(search.BucketSemantic, "Roman", "Akşam yemeğinden sonra hep birlikte yürüyüşe çıktılar.", 45)

	ev := annotate(t, c, hit, "vicdan")

	assert.Empty(t, ev.Annotation.Features)
	assert.Zero(t, ev.Annotation.Score)
	assert.Equal(t, LevelC, ev.Annotation.Level)
	assert.False(t, ev.Annotation.ExactMatch)
}

func TestAnnotateScoreClamp(t *testing.T) {
	c := NewEpistemicClassifier(nil, nil)
	text := "Vicdan nedir sorusu şu kuramla açıklanır: insan içindeki sesi dinlemeli, bence bu önemli bir tanımdır."
	hit := libraryHit(search.BucketLemma, "Ahlak Üzerine", text, 70)

	ev := annotate(t, c, hit, "vicdan")

	assert.Len(t, ev.Annotation.Features, 6)
	assert.InDelta(t, float64(answerabilityMax), ev.Annotation.Score, 1e-9)
}

func TestAnnotateExactBucketWithoutKeyword(t *testing.T) {
	c := NewEpistemicClassifier(nil, nil)
	hit := libraryHit(search.BucketExact, "Roman", "Şehrin sokakları sessizdi.", 100)

	ev := annotate(t, c, hit, "vicdan")

	assert.True(t, ev.Annotation.ExactMatch)
	assert.False(t, ev.Annotation.Has(FeatureKeywordMatch))
}

func TestAnnotateGraphBoost(t *testing.T) {
	c := NewEpistemicClassifier(nil, nil)

	ev := annotate(t, c, graphHit("Ahlak Üzerine", "Erdem üzerine ilgili bir bölüm.", 0.72), "vicdan")
	assert.True(t, ev.Annotation.GraphBoosted)
	assert.InDelta(t, 2.38, ev.Annotation.Score, 1e-6)
	assert.Equal(t, LevelB, ev.Annotation.Level)

	// A strong relation promotes the chunk to level A on its own.
	ev = annotate(t, c, graphHit("Ahlak Üzerine", "Erdem üzerine ilgili bir bölüm.", 0.9), "vicdan")
	assert.InDelta(t, 3.1, ev.Annotation.Score, 1e-6)
	assert.Equal(t, LevelA, ev.Annotation.Level)

	// Weak relations bottom out at zero instead of going negative.
	ev = annotate(t, c, graphHit("Ahlak Üzerine", "Erdem üzerine ilgili bir bölüm.", 0.1), "vicdan")
	assert.Zero(t, ev.Annotation.Score)
	assert.Equal(t, LevelC, ev.Annotation.Level)
}

func TestAnnotateGraphBoostSkippedOnFeatureHit(t *testing.T) {
	c := NewEpistemicClassifier(nil, nil)
	hit := graphHit("Ahlak Üzerine", "Vicdan üzerine ilgili bir bölüm.", 0.8)

	ev := annotate(t, c, hit, "vicdan")

	assert.False(t, ev.Annotation.GraphBoosted)
	assert.InDelta(t, 1, ev.Annotation.Score, 1e-9)
}

func TestAnnotatePassageClassifier(t *testing.T) {
	c := NewEpistemicClassifier(nil, stubPassage{passageType: PassageDefinition, quotability: QuotabilityHigh})
	hit := libraryHit(search.BucketSemantic, "Roman", "Şehrin sokakları sessizdi.", 40)

	ev := annotate(t, c, hit, "vicdan")

	assert.Equal(t, PassageDefinition, ev.Annotation.PassageType)
	assert.Equal(t, QuotabilityHigh, ev.Annotation.Quotability)
	assert.Equal(t, LevelA, ev.Annotation.Level)
}

func TestAnnotatePassageClassifierFailureFallsBack(t *testing.T) {
	c := NewEpistemicClassifier(nil, stubPassage{err: errors.New("classifier down")})
	hit := libraryHit(search.BucketSemantic, "Roman", "Şehrin sokakları sessizdi.", 40)

	ev := annotate(t, c, hit, "vicdan")

	assert.Equal(t, PassageSituational, ev.Annotation.PassageType)
	assert.Equal(t, QuotabilityMedium, ev.Annotation.Quotability)
}

func TestAnnotateRepairsCorruptedText(t *testing.T) {
	c := NewEpistemicClassifier(nil, nil)
	hit := libraryHit(search.BucketSemantic, "Ahlak Üzerine", "Vicdanın tan1m1 şudur: insanı iyiye çağıran iç sestir.", 65)

	ev := annotate(t, c, hit, "vicdan")

	assert.True(t, ev.Annotation.Has(FeatureDefinitional))
	assert.True(t, ev.Annotation.Has(FeatureKeywordMatch))
	assert.Equal(t, LevelA, ev.Annotation.Level)
}
