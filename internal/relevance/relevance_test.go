package relevance

import (
	"math"
	"testing"
	"time"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestMatcher_Scan(t *testing.T) {
	m := NewMatcher(map[string]int{"decisão": 5, "Projeto": 2, "idea": 2})
	stats := m.Scan("A DECISÃO foi tomada. Dois projetos e uma decisão. Reidea não conta.")

	if stats.Hits["decisão"] != 2 {
		t.Errorf("decisão hits = %d, want 2", stats.Hits["decisão"])
	}
	if stats.Hits["projeto"] != 1 {
		t.Errorf("projeto should match the plural, hits = %d", stats.Hits["projeto"])
	}
	if stats.Hits["idea"] != 0 {
		t.Errorf("idea inside a word should not count")
	}
	if stats.Weighted != 12 {
		t.Errorf("Weighted = %d, want 12", stats.Weighted)
	}
	if stats.Words != 12 {
		t.Errorf("Words = %d, want 12", stats.Words)
	}
	if stats.Top() != "decisão" {
		t.Errorf("Top = %q", stats.Top())
	}
}

func TestKeywordScore_Empty(t *testing.T) {
	if KeywordScore("") != 0 || ScanKeywords("").Density() != 0 {
		t.Error("empty text should score zero")
	}
}

func TestScoreFile_Deterministic(t *testing.T) {
	in := Input{
		Text:         "Decidimos mudar a arquitetura. O insight principal foi simples.",
		Categories:   []string{"Técnico"},
		AnalysisType: "Momento Decisivo",
		ModifiedAt:   now.Add(-30 * 24 * time.Hour),
	}
	a := ScoreFile(in, DefaultParams(now))
	b := ScoreFile(in, DefaultParams(now))
	if a.Score != b.Score {
		t.Fatalf("scores differ: %v vs %v", a.Score, b.Score)
	}
	if a.Score <= 0 || a.Score > 100 {
		t.Errorf("score out of range: %v", a.Score)
	}
	if len(a.Patterns) == 0 || a.Patterns[0] != "decision" {
		t.Errorf("expected decision pattern, got %v", a.Patterns)
	}
}

func TestScoreFile_WeightsNormalizedOverPresentDimensions(t *testing.T) {
	b := ScoreFile(Input{Text: "nothing relevant here"}, DefaultParams(now))
	if len(b.Weights) != 1 || b.Weights["keywords"] != 1 {
		t.Errorf("only keywords should be present, weights = %v", b.Weights)
	}
	if b.Score != 0 {
		t.Errorf("score = %v, want 0", b.Score)
	}

	sem := 0.5
	full := ScoreFile(Input{
		Text:         "insight",
		Categories:   []string{"a"},
		AnalysisType: "Aprendizado Geral",
		ModifiedAt:   now,
		Semantic:     &sem,
	}, DefaultParams(now))
	var sum float64
	for _, w := range full.Weights {
		sum += w
	}
	if math.Abs(sum-1) > 1e-9 || len(full.Weights) != 5 {
		t.Errorf("weights = %v", full.Weights)
	}
	if *full.Semantic != 50 || *full.Temporal != 100 {
		t.Errorf("semantic = %v temporal = %v", *full.Semantic, *full.Temporal)
	}
}

func TestScoreFile_PatternsAdjustKeywords(t *testing.T) {
	p := DefaultParams(now)
	p.Modifier = Linear
	plain := ScoreFile(Input{Text: "uma ideia sobre o projeto e mais palavras para diluir a densidade do texto aqui"}, p)
	question := ScoreFile(Input{Text: "uma ideia sobre o projeto e mais palavras para diluir a densidade do texto aqui?"}, p)
	if question.Keywords >= plain.Keywords {
		t.Errorf("question should dampen keywords: %v >= %v", question.Keywords, plain.Keywords)
	}
	if question.Multiplier != 0.8 {
		t.Errorf("multiplier = %v", question.Multiplier)
	}
}

func TestModifiers(t *testing.T) {
	for _, m := range []Modifier{Linear, Exponential, Logarithmic} {
		if applyModifier(0, m) != 0 {
			t.Errorf("%s(0) should be 0", m)
		}
		lo, hi := applyModifier(2, m), applyModifier(20, m)
		if lo >= hi {
			t.Errorf("%s should be increasing: %v >= %v", m, lo, hi)
		}
		if applyModifier(1e6, m) != 100 {
			t.Errorf("%s should saturate at 100", m)
		}
	}
	if _, err := ParseModifier("cubic"); err == nil {
		t.Error("expected error for unknown modifier")
	}
	if m, _ := ParseModifier("log"); m != Logarithmic {
		t.Errorf("ParseModifier(log) = %s", m)
	}
}

func TestDecay(t *testing.T) {
	if got := Decay(now.Add(-HalfLife), now); math.Abs(got-50) > 1e-9 {
		t.Errorf("one half-life = %v, want 50", got)
	}
	if got := Decay(now.Add(-2*HalfLife), now); math.Abs(got-25) > 1e-9 {
		t.Errorf("two half-lives = %v, want 25", got)
	}
	if Decay(now.Add(time.Hour), now) != 100 {
		t.Error("future timestamps should score 100")
	}
}

func TestBlend(t *testing.T) {
	if Blend(40, 0) != 40 {
		t.Error("missing provider score should keep heuristic")
	}
	if got := Blend(50, 100); got != 70 {
		t.Errorf("Blend(50,100) = %v, want 70", got)
	}
	if Blend(150, 0) != 100 {
		t.Error("should clamp")
	}
}

func TestChains(t *testing.T) {
	docs := []Doc{
		{ID: "c", Vector: []float32{0.9, 0.1, 0}, Categories: []string{"Técnico"}, Text: "arquitetura"},
		{ID: "a", Vector: []float32{1, 0, 0}, Categories: []string{"Técnico", "Insight"}, Text: "decisão de arquitetura"},
		{ID: "b", Vector: []float32{0.95, 0.05, 0}, Categories: []string{"Insight", "Técnico"}, Text: "arquitetura nova"},
		{ID: "d", Vector: []float32{0, 0, 1}},
		{ID: "e", Vector: []float32{0, 0.1, 1}},
		{ID: "lonely", Vector: []float32{0, 1, 0}},
		{ID: "novec"},
	}

	chains := Chains(docs, 0.9)
	if len(chains) != 2 {
		t.Fatalf("expected 2 chains, got %+v", chains)
	}
	first := chains[0]
	if first.ConvergenceScore < chains[1].ConvergenceScore {
		t.Error("chains should be ordered by score")
	}

	var abc Chain
	for _, c := range chains {
		if len(c.Participants) == 3 {
			abc = c
		}
	}
	if abc.ID == "" {
		t.Fatalf("missing 3-member chain in %+v", chains)
	}
	if abc.Participants[0] != "a" || abc.Participants[2] != "c" {
		t.Errorf("participants should be sorted: %v", abc.Participants)
	}
	if len(abc.SharedCategories) != 1 || abc.SharedCategories[0] != "Técnico" {
		t.Errorf("shared = %v", abc.SharedCategories)
	}
	if abc.DominantTheme != "arquitetura" {
		t.Errorf("theme = %q", abc.DominantTheme)
	}

	again := Chains(docs, 0.9)
	if again[0].ID != chains[0].ID {
		t.Error("chain ids should be stable")
	}
}

func TestSummarizeAndCorpusSimilarity(t *testing.T) {
	docs := []Doc{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{1, 0}},
		{ID: "c", Vector: []float32{0, 1}},
	}
	s := Summarize(docs, 0.8)
	if len(s.Chains) != 1 || s.Participants != 2 || s.AverageScore != 100 {
		t.Errorf("summary = %+v", s)
	}
	if empty := Summarize(nil, 0.8); empty.Chains == nil {
		t.Error("chains should be an empty slice")
	}

	sim := CorpusSimilarity(docs)
	if math.Abs(sim["a"]-1) > 1e-6 || sim["c"] != 0 {
		t.Errorf("similarity = %v", sim)
	}
}
