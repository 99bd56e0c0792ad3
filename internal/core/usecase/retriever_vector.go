package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/reglens/reglens/internal/core/domain"
	"github.com/reglens/reglens/internal/core/ports"
)

// VectorRetriever runs dense cosine similarity search against the embedding
// index, using the same model that embedded the chunks.
type VectorRetriever struct {
	index ports.EmbeddingIndex
	store ports.ChunkStore
	model string
}

func NewVectorRetriever(index ports.EmbeddingIndex, store ports.ChunkStore, model string) *VectorRetriever {
	return &VectorRetriever{index: index, store: store, model: model}
}

func (r *VectorRetriever) Strategy() domain.RetrievalStrategy {
	return domain.StrategyVector
}

func (r *VectorRetriever) Retrieve(ctx context.Context, input RetrievalInput, limit int) ([]domain.SearchResult, error) {
	if input.QueryVector == nil {
		// Embedding was unavailable for this request; dense search cannot
		// run. The fan-out treats an empty list as a soft miss.
		return nil, nil
	}

	hits, err := r.index.SimilaritySearch(ctx, input.QueryVector, r.model, limit, input.Context.Filters)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, domain.SearchResult{
			ChunkID:       hit.ChunkID,
			DocumentID:    hit.DocumentID,
			Authority:     hit.Authority,
			DocumentType:  hit.DocumentType,
			EffectiveDate: hit.EffectiveDate,
			Strategies:    []domain.RetrievalStrategy{domain.StrategyVector},
			Breakdown:     domain.ScoreBreakdown{Vector: hit.Score},
			Score:         hit.Score,
		})
	}

	r.breakTies(ctx, results)
	return trimResults(results, limit), nil
}

// breakTies resolves equal-similarity runs by effective date (newer first)
// and then by chunk type, ranking requirements and definitions above
// incidental prose. Hydration is only attempted when a tie actually exists.
func (r *VectorRetriever) breakTies(ctx context.Context, results []domain.SearchResult) {
	if !hasScoreTies(results) {
		orderResults(results)
		return
	}

	ids := make([]string, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.ChunkID)
	}
	chunks, err := r.store.GetChunksByIDs(ctx, ids)
	if err != nil {
		// Ties stay id-ordered when hydration is unavailable.
		orderResults(results)
		return
	}
	byID := make(map[string]domain.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		ci, iOK := byID[results[i].ChunkID]
		cj, jOK := byID[results[j].ChunkID]
		if iOK && jOK {
			if !ci.EffectiveDate.Equal(cj.EffectiveDate) {
				return ci.EffectiveDate.After(cj.EffectiveDate)
			}
			if ci.IsDefinitional() != cj.IsDefinitional() {
				return ci.IsDefinitional()
			}
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}

func hasScoreTies(results []domain.SearchResult) bool {
	seen := make(map[float64]struct{}, len(results))
	for _, res := range results {
		if _, dup := seen[res.Score]; dup {
			return true
		}
		seen[res.Score] = struct{}{}
	}
	return false
}
