package ports

import (
	"context"

	"github.com/reglens/reglens/internal/core/domain"
)

// Searcher is the inbound contract for compliance question retrieval.
type Searcher interface {
	Search(ctx context.Context, query string, filters domain.Filters, topK int) (*domain.SearchResponse, error)
}
