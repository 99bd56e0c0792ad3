package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/reglens/reglens/internal/core/domain"
)

// rerankStage is the shared contract of the three cascade stages. Each stage
// consumes the previous stage's survivors and produces a new, strictly
// smaller (≤ keepTopN) generation.
type rerankStage interface {
	Name() string
	Rerank(ctx context.Context, qc domain.QueryContext, candidates []domain.SearchResult, keepTopN int) ([]domain.SearchResult, error)
}

type cascadeStep struct {
	Stage    rerankStage
	KeepTopN int
}

type cascadeOutcome struct {
	Results        []domain.SearchResult
	DegradedStages []string
	LatenciesMs    map[string]float64

	// Err is non-nil only when the request deadline cut the cascade short.
	// It carries domain.ErrDeadlineExceeded; Results then hold the last
	// fully completed stage's ranking.
	Err error
}

// runCascade drives the narrowing state machine: Fusion output → Stage 1 →
// Stage 2 → Stage 3 → Done. A stage whose model is unavailable is skipped
// with a pass-through truncation; an expired request deadline stops the
// cascade and keeps the last fully completed stage's ranking.
func runCascade(
	ctx context.Context,
	qc domain.QueryContext,
	candidates []domain.SearchResult,
	steps []cascadeStep,
) cascadeOutcome {
	outcome := cascadeOutcome{
		Results:     candidates,
		LatenciesMs: make(map[string]float64, len(steps)),
	}

	for _, step := range steps {
		if len(outcome.Results) == 0 {
			return outcome
		}
		if err := ctx.Err(); err != nil {
			outcome.Err = domain.WrapError(domain.ErrDeadlineExceeded, "cascade", err)
			return outcome
		}

		start := time.Now()
		next, err := step.Stage.Rerank(ctx, qc, outcome.Results, step.KeepTopN)
		outcome.LatenciesMs[step.Stage.Name()] = float64(time.Since(start).Microseconds()) / 1000.0

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				slog.Warn("cascade_deadline", "stage", step.Stage.Name())
				outcome.Err = domain.WrapError(domain.ErrDeadlineExceeded, "cascade "+step.Stage.Name(), err)
				return outcome
			}
			// Reduced precision beats zero results: pass the input through,
			// truncated to what this stage would have kept.
			slog.Warn("stage_skipped", "stage", step.Stage.Name(), "error", err)
			outcome.DegradedStages = append(outcome.DegradedStages, step.Stage.Name())
			outcome.Results = trimResults(outcome.Results, step.KeepTopN)
			continue
		}

		outcome.Results = trimResults(next, step.KeepTopN)
	}

	return outcome
}
