package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reglens/reglens/internal/core/domain"
)

// RetrievalInput is the per-request view handed to every retriever. The
// query vector is nil when embedding was skipped or failed; vector-dependent
// retrievers then bow out instead of failing the request.
type RetrievalInput struct {
	Context     domain.QueryContext
	QueryVector []float32
}

// Retriever is the shared candidate-retriever contract. Implementations must
// be safe for concurrent use across requests.
type Retriever interface {
	Strategy() domain.RetrievalStrategy
	Retrieve(ctx context.Context, input RetrievalInput, limit int) ([]domain.SearchResult, error)
}

// retrievalOutcome records one retriever's fate for diagnostics.
type retrievalOutcome struct {
	Strategy domain.RetrievalStrategy
	Results  []domain.SearchResult
	Err      error
	Elapsed  time.Duration
}

// fanOutRetrieve runs all retrievers concurrently, each under its own soft
// deadline, and joins before returning. A retriever that errors or times out
// contributes an empty list; no failure escapes the join.
func fanOutRetrieve(
	ctx context.Context,
	retrievers []Retriever,
	input RetrievalInput,
	limit int,
	budget time.Duration,
) []retrievalOutcome {
	outcomes := make([]retrievalOutcome, len(retrievers))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, r := range retrievers {
		i, r := i, r
		group.Go(func() error {
			retrieveCtx, cancel := context.WithTimeout(groupCtx, budget)
			defer cancel()

			start := time.Now()
			results, err := r.Retrieve(retrieveCtx, input, limit)
			elapsed := time.Since(start)

			if err != nil {
				kind := domain.ErrRetrieverUnavailable
				if errors.Is(err, context.DeadlineExceeded) {
					kind = domain.ErrRetrieverTimeout
				}
				slog.Warn("retriever_failed",
					"strategy", string(r.Strategy()),
					"kind", kind.Error(),
					"elapsed_ms", float64(elapsed.Microseconds())/1000.0,
					"error", err,
				)
				outcomes[i] = retrievalOutcome{
					Strategy: r.Strategy(),
					Err:      domain.WrapError(kind, "retrieve "+string(r.Strategy()), err),
					Elapsed:  elapsed,
				}
				return nil
			}

			outcomes[i] = retrievalOutcome{
				Strategy: r.Strategy(),
				Results:  results,
				Elapsed:  elapsed,
			}
			return nil
		})
	}
	_ = group.Wait()

	return outcomes
}

// orderResults applies the deterministic ordering every retriever promises:
// score descending, then chunk id ascending.
func orderResults(results []domain.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}

func trimResults(results []domain.SearchResult, limit int) []domain.SearchResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}
