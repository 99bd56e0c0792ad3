package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/reglens/reglens/internal/core/domain"
	"github.com/reglens/reglens/internal/core/ports"
)

// KeywordRetriever runs BM25-weighted sparse search. Term saturation and
// the long-prose length normalization live in the sparse index adapter; this
// side shapes the query so regulatory signal carries extra weight: expanded
// synonyms, detected authority codes and parsed legal references are all
// appended as match terms.
type KeywordRetriever struct {
	index ports.EmbeddingIndex
}

func NewKeywordRetriever(index ports.EmbeddingIndex) *KeywordRetriever {
	return &KeywordRetriever{index: index}
}

func (r *KeywordRetriever) Strategy() domain.RetrievalStrategy {
	return domain.StrategyKeyword
}

func (r *KeywordRetriever) Retrieve(ctx context.Context, input RetrievalInput, limit int) ([]domain.SearchResult, error) {
	queryText := buildLexicalQuery(input.Context)

	hits, err := r.index.SparseSearch(ctx, queryText, limit, input.Context.Filters)
	if err != nil {
		return nil, fmt.Errorf("sparse search: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, domain.SearchResult{
			ChunkID:       hit.ChunkID,
			DocumentID:    hit.DocumentID,
			Authority:     hit.Authority,
			DocumentType:  hit.DocumentType,
			EffectiveDate: hit.EffectiveDate,
			Strategies:    []domain.RetrievalStrategy{domain.StrategyKeyword},
			Breakdown:     domain.ScoreBreakdown{Keyword: hit.Score},
			Score:         hit.Score,
		})
	}
	orderResults(results)
	return trimResults(results, limit), nil
}

// buildLexicalQuery flattens the query context into match text. Legal
// references contribute both their exact raw form and a normalized
// "article 15" form so chunk citations match either way; repeating a term
// raises its BM25 term frequency, which is the boost mechanism.
func buildLexicalQuery(qc domain.QueryContext) string {
	var b strings.Builder
	b.WriteString(qc.ExpandedText())
	for _, code := range qc.Authorities {
		b.WriteString(" ")
		b.WriteString(code)
	}
	for _, ref := range qc.References {
		b.WriteString(" ")
		b.WriteString(ref.Raw)
		b.WriteString(" ")
		b.WriteString(ref.Kind)
		b.WriteString(" ")
		b.WriteString(ref.Number)
	}
	return b.String()
}
