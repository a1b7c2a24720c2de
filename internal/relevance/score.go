package relevance

import (
	"fmt"
	"math"
	"regexp"
	"time"
)

// Modifier shapes how the raw keyword total maps onto 0–100.
type Modifier string

const (
	Linear      Modifier = "linear"
	Exponential Modifier = "exponential"
	Logarithmic Modifier = "logarithmic"
)

// ParseModifier accepts the modifier names and the short forms lin, exp and log.
func ParseModifier(s string) (Modifier, error) {
	switch s {
	case "", "exp", string(Exponential):
		return Exponential, nil
	case "lin", string(Linear):
		return Linear, nil
	case "log", string(Logarithmic):
		return Logarithmic, nil
	}
	return "", fmt.Errorf("unknown modifier %q (want linear, exponential or logarithmic)", s)
}

// Pattern boosts or dampens the keyword dimension when its expression matches.
type Pattern struct {
	Name       string
	Re         *regexp.Regexp
	Multiplier float64
}

// DefaultPatterns are applied once each when they match anywhere in the text.
var DefaultPatterns = []Pattern{
	{"decision", regexp.MustCompile(`(?i)\b(decid|decisão|decisões|decision|optamos|escolhemos|we chose|ficou definido)`), 1.5},
	{"realization", regexp.MustCompile(`(?i)\b(percebi|percebemos|descobri|entendi|realized|realised|turns out|caiu a ficha)`), 1.3},
	{"question", regexp.MustCompile(`(?m)\?\s*$`), 0.8},
	{"action", regexp.MustCompile(`(?im)^\s*(- \[[ xX]\]|todo:|action:|próximos passos|next steps)`), 1.2},
	{"date", regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4})\b`), 1.1},
}

// TypeScores rates analysis types for the analysisType dimension.
var TypeScores = map[string]float64{
	"Breakthrough Técnico": 100,
	"Momento Decisivo":     90,
	"Insight Estratégico":  85,
	"Evolução Conceitual":  75,
	"Aprendizado Geral":    50,
}

// Dimension weights before normalization over present dimensions.
const (
	WeightKeywords     = 0.35
	WeightCategories   = 0.20
	WeightAnalysisType = 0.20
	WeightTemporal     = 0.15
	WeightSemantic     = 0.10
)

const (
	// DensityThreshold is weighted keyword hits per word above which the
	// density bonus applies.
	DensityThreshold = 0.02
	densityBonus     = 1.25
	// HalfLife is the age at which the temporal dimension halves.
	HalfLife = 180 * 24 * time.Hour

	categoryPoints = 35.0
)

// Input is everything ScoreFile looks at.
type Input struct {
	Text         string
	Categories   []string
	AnalysisType string
	ModifiedAt   time.Time
	// Semantic is an optional 0–1 similarity to the rest of the corpus.
	Semantic *float64
}

// Params tune ScoreFile. The zero value is not usable; start from DefaultParams.
type Params struct {
	Matcher  *Matcher
	Patterns []Pattern
	Modifier Modifier
	// Now anchors the temporal decay so scores are reproducible.
	Now time.Time
}

// DefaultParams uses the built-in keyword table and patterns with the
// exponential modifier.
func DefaultParams(now time.Time) Params {
	return Params{Matcher: defaultMatcher, Patterns: DefaultPatterns, Modifier: Exponential, Now: now}
}

// Breakdown explains a score. Dimensions that were not present are nil.
type Breakdown struct {
	Score        float64            `json:"score"`
	Keywords     float64            `json:"keywords"`
	Categories   *float64           `json:"categories,omitempty"`
	AnalysisType *float64           `json:"analysisType,omitempty"`
	Temporal     *float64           `json:"temporal,omitempty"`
	Semantic     *float64           `json:"semantic,omitempty"`
	Density      float64            `json:"density"`
	Multiplier   float64            `json:"multiplier"`
	Patterns     []string           `json:"patterns,omitempty"`
	Hits         map[string]int     `json:"hits,omitempty"`
	Weights      map[string]float64 `json:"weights"`
}

// ScoreFile computes a 0–100 relevance score. It is deterministic for equal
// inputs and params.
func ScoreFile(in Input, p Params) Breakdown {
	kw := p.Matcher.Scan(in.Text)
	b := Breakdown{Density: kw.Density(), Multiplier: 1, Hits: kw.Hits}

	for _, pat := range p.Patterns {
		if pat.Re.MatchString(in.Text) {
			b.Multiplier *= pat.Multiplier
			b.Patterns = append(b.Patterns, pat.Name)
		}
	}
	raw := float64(kw.Weighted) * b.Multiplier
	if b.Density > DensityThreshold {
		raw *= densityBonus
	}
	b.Keywords = applyModifier(raw, p.Modifier)

	type dim struct {
		name   string
		weight float64
		value  float64
	}
	dims := []dim{{"keywords", WeightKeywords, b.Keywords}}

	if len(in.Categories) > 0 {
		v := math.Min(100, categoryPoints*float64(len(in.Categories)))
		b.Categories = &v
		dims = append(dims, dim{"categories", WeightCategories, v})
	}
	if in.AnalysisType != "" {
		v, ok := TypeScores[in.AnalysisType]
		if !ok {
			v = TypeScores["Aprendizado Geral"]
		}
		b.AnalysisType = &v
		dims = append(dims, dim{"analysisType", WeightAnalysisType, v})
	}
	if !in.ModifiedAt.IsZero() {
		v := Decay(in.ModifiedAt, p.Now)
		b.Temporal = &v
		dims = append(dims, dim{"temporal", WeightTemporal, v})
	}
	if in.Semantic != nil {
		v := clamp(*in.Semantic*100, 0, 100)
		b.Semantic = &v
		dims = append(dims, dim{"semantic", WeightSemantic, v})
	}

	var total, sum float64
	for _, d := range dims {
		total += d.weight
	}
	b.Weights = make(map[string]float64, len(dims))
	for _, d := range dims {
		w := d.weight / total
		b.Weights[d.name] = w
		sum += w * d.value
	}
	b.Score = round1(clamp(sum, 0, 100))
	return b
}

// Decay is 100 for a document modified at now, halving every HalfLife.
// Future timestamps score 100.
func Decay(modified, now time.Time) float64 {
	age := now.Sub(modified)
	if age <= 0 {
		return 100
	}
	return 100 * math.Pow(0.5, float64(age)/float64(HalfLife))
}

func applyModifier(raw float64, m Modifier) float64 {
	if raw <= 0 {
		return 0
	}
	var v float64
	switch m {
	case Linear:
		v = raw * 4
	case Logarithmic:
		v = 100 * math.Log1p(raw) / math.Log1p(50)
	default:
		v = 100 * (1 - math.Exp(-raw/15))
	}
	return clamp(v, 0, 100)
}

// Blend combines the heuristic score with a provider-reported relevance.
// A zero provider score means the provider gave none.
func Blend(heuristic, provider float64) float64 {
	if provider <= 0 {
		return round1(clamp(heuristic, 0, 100))
	}
	return round1(clamp(0.6*heuristic+0.4*provider, 0, 100))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
