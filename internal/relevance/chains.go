package relevance

import (
	"cmp"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/kcons/kc/internal/retrieval"
)

// DefaultThreshold is the minimum cosine similarity that links two documents.
const DefaultThreshold = 0.75

var chainNamespace = uuid.MustParse("0b7d7f64-2f55-4d0c-8d8e-5a3c71a1c9f2")

// Doc is a document taking part in convergence analysis.
type Doc struct {
	ID         string
	Vector     []float32
	Categories []string
	// Text feeds the dominant theme. Optional.
	Text string
}

// Chain is a group of documents whose embeddings are transitively similar.
type Chain struct {
	ID               string   `json:"id"`
	Participants     []string `json:"participants"`
	SharedCategories []string `json:"sharedCategories"`
	// ConvergenceScore is the mean pairwise similarity of all participants × 100.
	ConvergenceScore float64 `json:"convergenceScore"`
	DominantTheme    string  `json:"dominantTheme"`
}

// Chains links documents whose cosine similarity is at least threshold and
// returns every connected component with two or more members, strongest
// first. Documents without a vector are ignored. The result is
// deterministic for equal inputs.
func Chains(docs []Doc, threshold float64) []Chain {
	docs = slices.DeleteFunc(slices.Clone(docs), func(d Doc) bool { return len(d.Vector) == 0 })
	slices.SortFunc(docs, func(a, b Doc) int { return strings.Compare(a.ID, b.ID) })

	n := len(docs)
	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
	}
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := float64(retrieval.Cosine(docs[i].Vector, docs[j].Vector))
			sim[i][j], sim[j][i] = s, s
			if s >= threshold {
				if ri, rj := find(i), find(j); ri != rj {
					parent[rj] = ri
				}
			}
		}
	}

	groups := make(map[int][]int)
	for i := range docs {
		r := find(i)
		groups[r] = append(groups[r], i)
	}

	var chains []Chain
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		chains = append(chains, buildChain(docs, members, sim))
	}
	slices.SortFunc(chains, func(a, b Chain) int {
		if c := cmp.Compare(b.ConvergenceScore, a.ConvergenceScore); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return chains
}

func buildChain(docs []Doc, members []int, sim [][]float64) Chain {
	ids := make([]string, len(members))
	var text strings.Builder
	for k, i := range members {
		ids[k] = docs[i].ID
		text.WriteString(docs[i].Text)
		text.WriteByte('\n')
	}

	var total float64
	pairs := 0
	for a := 0; a < len(members); a++ {
		for b := a + 1; b < len(members); b++ {
			total += sim[members[a]][members[b]]
			pairs++
		}
	}

	return Chain{
		ID:               uuid.NewSHA1(chainNamespace, []byte(strings.Join(ids, ","))).String(),
		Participants:     ids,
		SharedCategories: sharedCategories(docs, members),
		ConvergenceScore: round1(clamp(total/float64(pairs)*100, 0, 100)),
		DominantTheme:    ScanKeywords(text.String()).Top(),
	}
}

func sharedCategories(docs []Doc, members []int) []string {
	count := make(map[string]int)
	for _, i := range members {
		seen := make(map[string]bool)
		for _, c := range docs[i].Categories {
			if !seen[c] {
				seen[c] = true
				count[c]++
			}
		}
	}
	shared := []string{}
	for c, n := range count {
		if n == len(members) {
			shared = append(shared, c)
		}
	}
	slices.Sort(shared)
	return shared
}

// Summary aggregates a set of chains for CONVERGENCE_COMPUTED.
type Summary struct {
	Chains       []Chain `json:"chains"`
	Documents    int     `json:"documents"`
	Participants int     `json:"participants"`
	Threshold    float64 `json:"threshold"`
	AverageScore float64 `json:"averageScore"`
}

// Summarize computes chains and their aggregate figures.
func Summarize(docs []Doc, threshold float64) Summary {
	chains := Chains(docs, threshold)
	if chains == nil {
		chains = []Chain{}
	}
	s := Summary{Chains: chains, Documents: len(docs), Threshold: threshold}
	var total float64
	for _, c := range chains {
		s.Participants += len(c.Participants)
		total += c.ConvergenceScore
	}
	if len(chains) > 0 {
		s.AverageScore = round1(total / float64(len(chains)))
	}
	return s
}

// CorpusSimilarity returns, per document, its best cosine similarity to any
// other document. It feeds the optional semantic dimension of ScoreFile.
func CorpusSimilarity(docs []Doc) map[string]float64 {
	out := make(map[string]float64, len(docs))
	for i, a := range docs {
		if len(a.Vector) == 0 {
			continue
		}
		best := 0.0
		for j, b := range docs {
			if i == j || len(b.Vector) == 0 {
				continue
			}
			best = max(best, float64(retrieval.Cosine(a.Vector, b.Vector)))
		}
		out[a.ID] = best
	}
	return out
}
