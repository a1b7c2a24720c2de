package reranking

import (
	"context"

	"github.com/kcons/kc/internal/retrieval"
)

// maxCandidates caps how many hits are fetched for reranking.
const maxCandidates = 50

// Searcher is implemented by retrieval.Retriever.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]retrieval.Hit, error)
}

// RerankingSearcher over-fetches candidates from a Searcher, reranks them
// and returns the best topK.
type RerankingSearcher struct {
	inner    Searcher
	reranker Reranker
	factor   int
}

// Wrap decorates s with r. factor is the over-fetch multiplier; values
// below 1 mean 3.
func Wrap(s Searcher, r Reranker, factor int) *RerankingSearcher {
	if factor < 1 {
		factor = 3
	}
	return &RerankingSearcher{inner: s, reranker: r, factor: factor}
}

func (s *RerankingSearcher) Search(ctx context.Context, query string, topK int) ([]retrieval.Hit, error) {
	n := min(topK*s.factor, maxCandidates)
	if n < topK {
		n = topK
	}
	hits, err := s.inner.Search(ctx, query, n)
	if err != nil {
		return nil, err
	}
	ranked, err := s.reranker.Rerank(ctx, query, hits)
	if err != nil {
		return nil, err
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}
