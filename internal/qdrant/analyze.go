package qdrant

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// Report summarises the payloads of a set of points.
type Report struct {
	Points            int            `json:"points"`
	UniqueFiles       []string       `json:"uniqueFiles"`
	PayloadFields     []string       `json:"payloadFields"`
	Categories        []Count        `json:"categories"`
	IntelligenceTypes []Count        `json:"intelligenceTypes"`
	EnrichmentLevels  []Count        `json:"enrichmentLevels"`
	ChainSizes        Summary        `json:"chainSizes"`
	ChainSizeCounts   map[string]int `json:"chainSizeCounts"`
	ConvergenceScores Summary        `json:"convergenceScores"`
	ScoreRanges       []Count        `json:"scoreRanges"`
	Quality           Quality        `json:"quality"`
}

// Count is a labelled tally with its share of all points.
type Count struct {
	Label   string  `json:"label"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Summary describes a numeric sample. StdDev is the sample standard deviation.
type Summary struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"stdDev"`
}

// Quality counts points carrying each kind of metadata.
type Quality struct {
	WithFile         int `json:"withFile"`
	WithCategories   int `json:"withCategories"`
	WithIntelligence int `json:"withIntelligence"`
	WithChains       int `json:"withChains"`
}

// scoreRanges bucket convergence scores, which are on a 0–100 scale.
var scoreRanges = []struct {
	label  string
	lo, hi float64
}{
	{"0-50", 0, 50},
	{"50-70", 50, 70},
	{"70-80", 70, 80},
	{"80-90", 80, 90},
	{"90+", 90, math.Inf(1)},
}

// Analyze builds a Report. Both the current field names and the camelCase
// variants written by older exports are recognised.
func Analyze(points []Point) Report {
	files := make(map[string]bool)
	fields := make(map[string]bool)
	cats := make(map[string]int)
	intel := make(map[string]int)
	enrich := make(map[string]int)
	var sizes, scores []float64
	var q Quality

	for _, p := range points {
		pl := p.Payload
		for k := range pl {
			fields[k] = true
		}
		if f, ok := firstString(pl, "sourceFile", "file"); ok {
			files[f] = true
			q.WithFile++
		}
		if v, ok := pl["categories"]; ok {
			q.WithCategories++
			switch c := v.(type) {
			case []any:
				for _, item := range c {
					cats[fmt.Sprint(item)]++
				}
			case string:
				cats[c]++
			}
		}
		if t, ok := firstString(pl, "intelligence_type", "intelligenceType"); ok {
			intel[t]++
			q.WithIntelligence++
		}
		if l, ok := firstString(pl, "enrichment_level", "enrichmentLevel"); ok {
			enrich[l]++
		}
		if chains, ok := pl["convergenceChains"].([]any); ok {
			q.WithChains++
			for _, ch := range chains {
				m, ok := ch.(map[string]any)
				if !ok {
					continue
				}
				if parts, ok := m["participants"].([]any); ok {
					sizes = append(sizes, float64(len(parts)))
				}
				if s, ok := m["convergenceScore"].(float64); ok {
					scores = append(scores, s)
				}
			}
		}
	}

	r := Report{
		Points:            len(points),
		UniqueFiles:       sortedKeys(files),
		PayloadFields:     sortedKeys(fields),
		Categories:        counts(cats, len(points)),
		IntelligenceTypes: counts(intel, len(points)),
		EnrichmentLevels:  counts(enrich, len(points)),
		ChainSizes:        summarize(sizes),
		ChainSizeCounts:   make(map[string]int),
		ConvergenceScores: summarize(scores),
		ScoreRanges:       []Count{},
		Quality:           q,
	}
	for _, s := range sizes {
		r.ChainSizeCounts[fmt.Sprintf("%d", int(s))]++
	}
	for _, sr := range scoreRanges {
		n := 0
		for _, s := range scores {
			if s >= sr.lo && s < sr.hi {
				n++
			}
		}
		if n > 0 {
			r.ScoreRanges = append(r.ScoreRanges, Count{Label: sr.label, Count: n, Percent: pct(n, len(scores))})
		}
	}
	return r
}

func firstString(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s, ok := v.(string); ok {
				return s, true
			}
			return fmt.Sprint(v), true
		}
	}
	return "", false
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// counts orders tallies by count descending, then label.
func counts(m map[string]int, total int) []Count {
	out := make([]Count, 0, len(m))
	for k, n := range m {
		out = append(out, Count{Label: k, Count: n, Percent: pct(n, total)})
	}
	slices.SortFunc(out, func(a, b Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Label, b.Label)
	})
	return out
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}

func summarize(xs []float64) Summary {
	if len(xs) == 0 {
		return Summary{}
	}
	s := slices.Clone(xs)
	slices.Sort(s)
	var sum float64
	for _, x := range s {
		sum += x
	}
	mean := sum / float64(len(s))
	median := s[len(s)/2]
	if len(s)%2 == 0 {
		median = (s[len(s)/2-1] + s[len(s)/2]) / 2
	}
	var sd float64
	if len(s) > 1 {
		var ss float64
		for _, x := range s {
			ss += (x - mean) * (x - mean)
		}
		sd = math.Sqrt(ss / float64(len(s)-1))
	}
	return Summary{N: len(s), Mean: mean, Median: median, Min: s[0], Max: s[len(s)-1], StdDev: sd}
}
