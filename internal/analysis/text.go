package analysis

import (
	"strings"
	"unicode"
)

// stopwords are dropped before comparing complaint texts. Complaints arrive
// mostly in Indonesian with some English.
var stopwords = map[string]struct{}{
	"yang": {}, "dan": {}, "di": {}, "ke": {}, "dari": {}, "ini": {}, "itu": {},
	"dengan": {}, "untuk": {}, "pada": {}, "ada": {}, "tidak": {}, "sudah": {},
	"belum": {}, "akan": {}, "juga": {}, "karena": {}, "sangat": {}, "kami": {},
	"saya": {}, "kita": {}, "mereka": {}, "atau": {}, "oleh": {}, "dalam": {},
	"sejak": {}, "masih": {}, "bisa": {}, "agar": {}, "mohon": {}, "tolong": {},
	"the": {}, "and": {}, "is": {}, "in": {}, "of": {}, "to": {}, "a": {},
	"an": {}, "on": {}, "for": {}, "it": {}, "this": {}, "that": {}, "are": {},
	"was": {}, "with": {}, "not": {}, "please": {},
}

// tokenize lowercases text, splits on anything that is not a letter or digit
// and drops stopwords and one-letter tokens.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		tokens[f] = struct{}{}
	}
	return tokens
}

// Overlap is the Jaccard index of two token sets, 0 when either is empty.
func Overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// TextOverlap tokenizes both texts and returns their Jaccard index.
func TextOverlap(a, b string) float64 {
	return Overlap(tokenize(a), tokenize(b))
}
