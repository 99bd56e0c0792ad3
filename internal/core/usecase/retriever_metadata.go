package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/reglens/reglens/internal/core/domain"
	"github.com/reglens/reglens/internal/core/ports"
)

// MetadataRetriever matches on structured attributes only: authority,
// document type, jurisdiction and date range. It contributes candidates the
// text-driven strategies can miss, ranked by recency and document
// completeness.
type MetadataRetriever struct {
	store ports.ChunkStore
	now   func() time.Time
}

func NewMetadataRetriever(store ports.ChunkStore) *MetadataRetriever {
	return &MetadataRetriever{store: store, now: time.Now}
}

func (r *MetadataRetriever) Strategy() domain.RetrievalStrategy {
	return domain.StrategyMetadata
}

func (r *MetadataRetriever) Retrieve(ctx context.Context, input RetrievalInput, limit int) ([]domain.SearchResult, error) {
	filters := effectiveMetadataFilters(input.Context)
	if filtersAreEmpty(filters) {
		// Nothing structured to match on; let the text strategies carry
		// the request instead of dumping the whole corpus into the pool.
		return nil, nil
	}

	chunks, err := r.store.QueryByFilter(ctx, filters, limit)
	if err != nil {
		return nil, fmt.Errorf("query by filter: %w", err)
	}

	now := r.now()
	results := make([]domain.SearchResult, 0, len(chunks))
	for _, chunk := range chunks {
		score := metadataScore(chunk, now)
		results = append(results, domain.SearchResult{
			ChunkID:       chunk.ID,
			DocumentID:    chunk.DocumentID,
			Authority:     chunk.Authority,
			DocumentType:  chunk.DocumentType,
			EffectiveDate: chunk.EffectiveDate,
			Strategies:    []domain.RetrievalStrategy{domain.StrategyMetadata},
			Breakdown:     domain.ScoreBreakdown{Metadata: score},
			Score:         score,
		})
	}
	orderResults(results)
	return trimResults(results, limit), nil
}

// effectiveMetadataFilters folds detected query signal into the explicit
// filter set: a query that names EBA should metadata-match EBA content even
// without a caller-supplied authority filter.
func effectiveMetadataFilters(qc domain.QueryContext) domain.Filters {
	filters := qc.Filters
	if len(filters.Authorities) == 0 && len(qc.Authorities) > 0 {
		filters.Authorities = qc.Authorities
	}
	if filters.Jurisdiction == "" && qc.Jurisdiction != "" {
		filters.Jurisdiction = qc.Jurisdiction
	}
	return filters
}

func filtersAreEmpty(f domain.Filters) bool {
	return f.Jurisdiction == "" && len(f.Authorities) == 0 && len(f.DocumentTypes) == 0 && f.Dates.IsZero()
}

// metadataScore combines recency decay with completeness credit: a chunk
// whose document carries definitions, cross-references and an effective date
// is a better grounding candidate than a bare fragment.
func metadataScore(chunk domain.Chunk, now time.Time) float64 {
	score := 0.4

	if !chunk.EffectiveDate.IsZero() {
		score += 0.1
		ageYears := now.Sub(chunk.EffectiveDate).Hours() / (24 * 365)
		if ageYears < 0 {
			ageYears = 0
		}
		recency := 0.3 / (1.0 + ageYears)
		score += recency
	}
	if len(chunk.CrossRefs) > 0 {
		score += 0.1
	}
	if len(chunk.Concepts) > 0 {
		score += 0.05
	}
	if chunk.IsDefinitional() {
		score += 0.05
	}
	return score
}
