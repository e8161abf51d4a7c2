package dedup

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kljensen/snowball"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	punctuationRe = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	spacesRe      = regexp.MustCompile(`\s+`)
)

// stopWords carry no identity in product titles.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "of": {}, "for": {}, "with": {},
	"in": {}, "on": {}, "by": {}, "to": {}, "or": {}, "at": {}, "from": {},
}

// minFuzzyTokenLen is the shortest token eligible for single-edit matching.
const minFuzzyTokenLen = 5

// Matcher builds title keys and token sets and scores their overlap. The
// stem cache is the only state and is safe for concurrent use.
type Matcher struct {
	stems *lru.Cache[string, string]
}

// NewMatcher creates a matcher with a stem cache of the given size.
func NewMatcher(cacheSize int) (*Matcher, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultStemCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Matcher{stems: cache}, nil
}

// TitleKey folds a title for comparison: diacritics removed, lower case,
// punctuation replaced by spaces, whitespace collapsed.
func TitleKey(title string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}
	folded = strings.ToLower(folded)
	folded = punctuationRe.ReplaceAllString(folded, " ")
	return strings.TrimSpace(spacesRe.ReplaceAllString(folded, " "))
}

// Tokens returns the sorted, de-duplicated stems of a title key.
func (m *Matcher) Tokens(title string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, word := range strings.Fields(TitleKey(title)) {
		if _, stop := stopWords[word]; stop {
			continue
		}
		stem := m.stem(word)
		if _, dup := seen[stem]; dup {
			continue
		}
		seen[stem] = struct{}{}
		out = append(out, stem)
	}
	sort.Strings(out)
	return out
}

func (m *Matcher) stem(word string) string {
	if !isAlpha(word) {
		return word
	}
	if cached, ok := m.stems.Get(word); ok {
		return cached
	}
	stemmed, err := snowball.Stem(word, "english", true)
	if err != nil || stemmed == "" {
		stemmed = word
	}
	m.stems.Add(word, stemmed)
	return stemmed
}

// Similarity is the Jaccard overlap of two sorted token sets. Tokens that are
// not identical still pair up when both are alphabetic, at least five runes
// long and one edit apart, so small spelling differences do not split a
// product. Tokens containing digits must match exactly since they usually
// carry model numbers.
func Similarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	used := make([]bool, len(b))
	index := make(map[string]int, len(b))
	for i, tok := range b {
		index[tok] = i
	}

	matched := 0
	var pending []string
	for _, tok := range a {
		if i, ok := index[tok]; ok && !used[i] {
			used[i] = true
			matched++
			continue
		}
		pending = append(pending, tok)
	}
	for _, tok := range pending {
		if !fuzzyEligible(tok) {
			continue
		}
		for i, other := range b {
			if used[i] || !fuzzyEligible(other) {
				continue
			}
			if levenshtein(tok, other) <= 1 {
				used[i] = true
				matched++
				break
			}
		}
	}

	union := len(a) + len(b) - matched
	return float64(matched) / float64(union)
}

func fuzzyEligible(tok string) bool {
	return len([]rune(tok)) >= minFuzzyTokenLen && isAlpha(tok)
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}

// levenshtein computes edit distance with two rolling rows.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// PriceWithin reports whether two prices differ by at most tolerance relative
// to the larger one.
func PriceWithin(a, b *float64, tolerance float64) bool {
	if a == nil || b == nil {
		return false
	}
	hi := max(*a, *b)
	if hi == 0 {
		return true
	}
	diff := *a - *b
	if diff < 0 {
		diff = -diff
	}
	return diff/hi <= tolerance
}
