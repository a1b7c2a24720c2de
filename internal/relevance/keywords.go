// Package relevance scores documents and links semantically convergent ones.
package relevance

import (
	"maps"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"
)

// DefaultKeywords weights the words that mark a document as worth keeping.
// Keys are lower case. Portuguese and English forms are both listed.
var DefaultKeywords = map[string]int{
	"decisão":      5,
	"decisões":     5,
	"decidimos":    5,
	"decision":     5,
	"decided":      5,
	"breakthrough": 5,
	"descoberta":   4,
	"insight":      4,
	"estratégia":   4,
	"estratégico":  4,
	"strategy":     4,
	"strategic":    4,
	"solução":      3,
	"solution":     3,
	"aprendizado":  3,
	"aprendi":      3,
	"learning":     3,
	"lesson":       3,
	"lição":        3,
	"arquitetura":  3,
	"architecture": 3,
	"conceito":     2,
	"concept":      2,
	"projeto":      2,
	"project":      2,
	"ideia":        2,
	"idea":         2,
	"objetivo":     2,
	"goal":         2,
	"problema":     1,
	"problem":      1,
	"reunião":      1,
	"meeting":      1,
}

// Matcher finds weighted keywords in text with a single Aho-Corasick pass.
type Matcher struct {
	ac       ahocorasick.AhoCorasick
	patterns []string
	weights  []int
}

// NewMatcher compiles a keyword table. Keys are lower-cased.
func NewMatcher(keywords map[string]int) *Matcher {
	norm := make(map[string]int, len(keywords))
	for k, w := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" && w > norm[k] {
			norm[k] = w
		}
	}
	patterns := slices.Sorted(maps.Keys(norm))
	weights := make([]int, len(patterns))
	for i, p := range patterns {
		weights[i] = norm[p]
	}

	builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  false,
		MatchKind:            ahocorasick.LeftMostLongestMatch,
	})
	return &Matcher{ac: builder.Build(patterns), patterns: patterns, weights: weights}
}

var defaultMatcher = NewMatcher(DefaultKeywords)

// KeywordStats is the result of scanning a text.
type KeywordStats struct {
	// Hits counts occurrences per keyword.
	Hits map[string]int `json:"hits"`
	// Weighted is the sum of weight × occurrences.
	Weighted int `json:"weighted"`
	Words    int `json:"words"`
}

// Density is weighted matches per word.
func (s KeywordStats) Density() float64 {
	if s.Words == 0 {
		return 0
	}
	return float64(s.Weighted) / float64(s.Words)
}

// Top returns the most frequent keyword, ties broken alphabetically.
func (s KeywordStats) Top() string {
	best, bestN := "", 0
	for k, n := range s.Hits {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best
}

// Scan counts keyword occurrences that start at a word boundary. A keyword
// may be followed by more letters, so "projeto" also counts "projetos".
func (m *Matcher) Scan(text string) KeywordStats {
	lower := strings.ToLower(text)
	stats := KeywordStats{Hits: make(map[string]int), Words: countWords(text)}
	for _, match := range m.ac.FindAll(lower) {
		if !leftBoundary(lower, match.Start()) {
			continue
		}
		kw := m.patterns[match.Pattern()]
		stats.Hits[kw]++
		stats.Weighted += m.weights[match.Pattern()]
	}
	return stats
}

// Score is the weighted keyword total of a paragraph. It satisfies
// extract.ScoreFunc.
func (m *Matcher) Score(paragraph string) float64 {
	return float64(m.Scan(paragraph).Weighted)
}

// ScanKeywords scans text with DefaultKeywords.
func ScanKeywords(text string) KeywordStats { return defaultMatcher.Scan(text) }

// KeywordScore rates a paragraph with DefaultKeywords.
func KeywordScore(paragraph string) float64 { return defaultMatcher.Score(paragraph) }

func leftBoundary(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func countWords(s string) int {
	return len(strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
}
