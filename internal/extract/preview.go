package extract

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// PreviewLimit is the maximum length of a preview in runes.
const PreviewLimit = 500

// ScoreFunc rates how interesting a paragraph is. Higher is better.
type ScoreFunc func(paragraph string) float64

// Preview builds a short excerpt of text: the first paragraph followed by up
// to three of the highest scoring later paragraphs, in document order. With a
// nil score the leading paragraphs are used. The result never exceeds
// PreviewLimit runes.
func Preview(text string, score ScoreFunc) string {
	paras := paragraphs(text)
	if len(paras) == 0 {
		return ""
	}

	picked := []int{0}
	if len(paras) > 1 {
		type ranked struct {
			idx   int
			score float64
		}
		rest := make([]ranked, 0, len(paras)-1)
		for i := 1; i < len(paras); i++ {
			s := 0.0
			if score != nil {
				s = score(paras[i])
			}
			rest = append(rest, ranked{i, s})
		}
		sort.SliceStable(rest, func(a, b int) bool { return rest[a].score > rest[b].score })
		for i := 0; i < len(rest) && i < 3; i++ {
			if score != nil && rest[i].score <= 0 {
				break
			}
			picked = append(picked, rest[i].idx)
		}
		sort.Ints(picked)
	}

	parts := make([]string, len(picked))
	for i, idx := range picked {
		parts[i] = paras[idx]
	}
	return truncateRunes(strings.Join(parts, "\n\n"), PreviewLimit)
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		p = strings.Join(strings.Fields(p), " ")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	cut := string(r[:n-1])
	if i := strings.LastIndexByte(cut, ' '); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:") + "…"
}
