package textnorm

import (
	"regexp"
	"strings"
)

// mojibakePairs maps frequent OCR and encoding corruptions seen in scanned
// Turkish books onto their intended characters. Windows-1254 text decoded as
// Latin-1 swaps the Turkish letters for ýþð, and UTF-8 decoded as Latin-1
// produces the Ã/Å sequences.
var mojibakePairs = []struct {
	broken string
	fixed  string
}{
	{"Ã¶", "ö"}, {"Ã–", "Ö"},
	{"Ã¼", "ü"}, {"Ãœ", "Ü"},
	{"Ã§", "ç"}, {"Ã‡", "Ç"},
	{"ÅŸ", "ş"}, {"Åž", "Ş"},
	{"ÄŸ", "ğ"}, {"Äž", "Ğ"},
	{"Ä±", "ı"}, {"Ä°", "İ"},
	{"Ã¢", "â"}, {"Ã®", "î"}, {"Ã»", "û"},
	{"ý", "ı"}, {"Ý", "İ"},
	{"þ", "ş"}, {"Þ", "Ş"},
	{"ð", "ğ"}, {"Ð", "Ğ"},
}

// ocrDigitOne matches a "1" wedged between letters, a common OCR stand-in
// for "ı" in words like "dagas1" (doğası).
var ocrDigitOne = regexp.MustCompile(`(\p{L})1(\p{L})`)

// ocrTrailingOne matches a word-final "1" after a letter.
var ocrTrailingOne = regexp.MustCompile(`(\p{L})1($|[^\p{L}\p{N}])`)

// RepairMojibake fixes common OCR and encoding corruptions before
// normalization. It is applied to chunk text ahead of epistemic feature
// detection so regex features fire on repaired words.
func RepairMojibake(s string) string {
	if s == "" {
		return s
	}
	for _, p := range mojibakePairs {
		if strings.Contains(s, p.broken) {
			s = strings.ReplaceAll(s, p.broken, p.fixed)
		}
	}
	s = ocrDigitOne.ReplaceAllString(s, "${1}ı${2}")
	s = ocrTrailingOne.ReplaceAllString(s, "${1}ı${2}")
	return s
}
