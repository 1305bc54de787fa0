package textnorm

// stopLemmas are function words that never serve as lemma search terms.
// Keys are in normalized (de-accented) form.
var stopLemmas = map[string]struct{}{
	"ve": {}, "veya": {}, "ile": {}, "ama": {}, "fakat": {},
	"de": {}, "da": {}, "ki": {}, "icin": {}, "gibi": {},
	"kadar": {}, "daha": {}, "cok": {}, "en": {}, "mi": {},
	"mu": {}, "ise": {}, "ya": {},
}

// stopwords is the broader set used for keyword extraction. It extends the
// stop lemmas with pronouns, question words, and common fillers so that
// "vicdan nedir" reduces to the concept token alone.
var stopwords = buildStopwords()

func buildStopwords() map[string]struct{} {
	words := []string{
		"acaba", "ama", "ancak", "aslinda", "az", "bana", "bazi", "belki",
		"ben", "benim", "beri", "bir", "birkac", "birsey", "biz", "bize",
		"bu", "buna", "bunu", "bunun", "burada", "cok", "cunku", "da",
		"daha", "de", "defa", "degil", "diger", "diye", "eger", "en",
		"fakat", "gibi", "hakkinda", "hangi", "hem", "hep", "hepsi", "her",
		"hic", "icin", "ile", "ise", "kadar", "kez", "ki", "kim", "kimin",
		"mi", "mu", "nasil", "ne", "neden", "nedir", "nerede", "nereye",
		"niye", "once", "onlar", "onu", "onun", "orada", "oyle", "peki",
		"sana", "sen", "senin", "siz", "size", "sonra", "soyle", "su",
		"sey", "tum", "uzere", "ve", "veya", "ya", "yani", "yine",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// IsStopLemma reports whether the lemma is a function word excluded from
// lemma search. The check normalizes its input.
func IsStopLemma(lemma string) bool {
	_, ok := stopLemmas[Normalize(lemma)]
	return ok
}

// IsStopword reports whether the token belongs to the keyword-extraction
// stopword set. The check normalizes its input.
func IsStopword(token string) bool {
	_, ok := stopwords[Normalize(token)]
	return ok
}

// Keywords extracts core concept tokens from a query: tokenize, drop
// stopwords, keep tokens of at least three characters. When everything is
// filtered away, the longest token is returned so downstream passes always
// have a seed.
func Keywords(query string) []string {
	tokens := Tokenize(query)
	var out []string
	var longest string
	for _, tok := range tokens {
		if len(tok) > len(longest) {
			longest = tok
		}
		if len(tok) < 3 || IsStopword(tok) {
			continue
		}
		out = append(out, tok)
	}
	if len(out) == 0 && longest != "" {
		out = append(out, longest)
	}
	return out
}
