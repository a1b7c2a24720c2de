package analysis

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kcons/kc/internal/storage"
)

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")

// Alternative field names providers use, in priority order.
var (
	typeFields      = []string{"analysisType", "analysis_type", "tipo", "type", "tipoAnalise"}
	summaryFields   = []string{"summary", "resumo", "sumario", "descricao"}
	momentFields    = []string{"moments", "momentos", "momentosDecisivos", "decisiveMoments", "key_moments"}
	insightFields   = []string{"insights", "insightsTecnicos", "technicalInsights"}
	categoryFields  = []string{"categories", "categorias", "tags", "suggestedCategories"}
	relevanceFields = []string{"relevanceScore", "relevance", "relevancia", "score", "relevance_score"}
)

// Normalize converts raw provider output into an Analysis. It never fails:
// when no JSON object can be found the text itself is summarised.
func Normalize(provider, raw string) storage.Analysis {
	a := storage.Analysis{Provider: provider, AnalyzedAt: time.Now()}

	obj, ok := parseObject(raw)
	if !ok {
		a.Summary = firstSentence(raw)
		a.AnalysisType = DetectType(raw)
		a.Moments = []string{}
		a.Categories = []string{}
		return a
	}

	a.Structured = true
	a.AnalysisType = CanonicalType(stringField(obj, typeFields))
	a.Summary = strings.TrimSpace(stringField(obj, summaryFields))
	a.Moments = listField(obj, momentFields)
	a.Insights = listField(obj, insightFields)
	a.Categories = listField(obj, categoryFields)
	if v, ok := numberField(obj, relevanceFields); ok {
		a.RelevanceScore = scaleRelevance(v)
	}

	if a.AnalysisType == "" {
		a.AnalysisType = DetectType(a.Summary + "\n" + strings.Join(a.Moments, "\n"))
	}
	if a.Summary == "" && len(a.Moments) > 0 {
		a.Summary = a.Moments[0]
	}
	return a
}

// scaleRelevance treats values up to 1 as fractions and returns 0–100.
func scaleRelevance(v float64) float64 {
	if v > 0 && v <= 1 {
		v *= 100
	}
	return math.Round(math.Max(0, math.Min(100, v))*10) / 10
}

// parseObject strips code fences and decodes the outermost {...} in s.
func parseObject(s string) (map[string]any, bool) {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func lookup(obj map[string]any, names []string) (any, bool) {
	for _, n := range names {
		if v, ok := obj[n]; ok && v != nil {
			return v, true
		}
	}
	// Case-insensitive second pass.
	for _, n := range names {
		for k, v := range obj {
			if v != nil && strings.EqualFold(k, n) {
				return v, true
			}
		}
	}
	return nil, false
}

func stringField(obj map[string]any, names []string) string {
	v, ok := lookup(obj, names)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []any:
		return strings.Join(toStrings(t), " ")
	}
	return ""
}

func listField(obj map[string]any, names []string) []string {
	out := []string{}
	v, ok := lookup(obj, names)
	if !ok {
		return out
	}
	switch t := v.(type) {
	case []any:
		out = toStrings(t)
	case string:
		for _, part := range strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == ';' || r == '\n' }) {
			if p := strings.TrimSpace(strings.TrimLeft(part, "-* ")); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// toStrings flattens list items. Objects contribute their first text-like
// field so [{"moment":"x"}] and [{"descricao":"x"}] both yield "x".
func toStrings(items []any) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		var s string
		switch t := it.(type) {
		case string:
			s = t
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case map[string]any:
			for _, k := range []string{"name", "nome", "text", "texto", "moment", "momento", "description", "descricao", "title", "titulo"} {
				if v, ok := t[k].(string); ok {
					s = v
					break
				}
			}
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func numberField(obj map[string]any, names []string) (float64, bool) {
	v, ok := lookup(obj, names)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		return f, err == nil
	}
	return 0, false
}

// firstSentence returns the first sentence of s, at most 300 runes.
func firstSentence(s string) string {
	s = strings.TrimSpace(fenceRe.ReplaceAllString(s, "$1"))
	s = strings.Join(strings.Fields(s), " ")
	if i := strings.IndexAny(s, ".!?"); i >= 0 {
		s = s[:i+1]
	}
	if r := []rune(s); len(r) > 300 {
		s = string(r[:300])
	}
	return s
}
