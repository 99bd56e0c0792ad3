package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/reglens/reglens/internal/core/domain"
)

func candidatePool(n int) []domain.SearchResult {
	out := make([]domain.SearchResult, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.SearchResult{
			ChunkID: string(rune('a' + i%26)),
			Score:   float64(n - i),
		})
	}
	return out
}

func TestRunCascadeNarrowsMonotonically(t *testing.T) {
	steps := []cascadeStep{
		{Stage: &fakeStage{name: domain.StageRerankFast}, KeepTopN: 8},
		{Stage: &fakeStage{name: domain.StageRerankDeep}, KeepTopN: 4},
		{Stage: &fakeStage{name: domain.StageCompliance}, KeepTopN: 2},
	}

	outcome := runCascade(context.Background(), domain.QueryContext{}, candidatePool(20), steps)

	if len(outcome.Results) != 2 {
		t.Fatalf("final size = %d, want 2", len(outcome.Results))
	}
	if outcome.Err != nil || len(outcome.DegradedStages) != 0 {
		t.Fatalf("clean run reported degradation: %+v", outcome)
	}
	for _, stage := range []string{domain.StageRerankFast, domain.StageRerankDeep, domain.StageCompliance} {
		if _, ok := outcome.LatenciesMs[stage]; !ok {
			t.Errorf("missing latency for %s", stage)
		}
	}
}

func TestRunCascadeSkipsUnavailableStage(t *testing.T) {
	failing := &fakeStage{
		name: domain.StageRerankDeep,
		fn: func(domain.QueryContext, []domain.SearchResult, int) ([]domain.SearchResult, error) {
			return nil, domain.ErrRerankerUnavailable
		},
	}
	var complianceSaw int
	steps := []cascadeStep{
		{Stage: &fakeStage{name: domain.StageRerankFast}, KeepTopN: 8},
		{Stage: failing, KeepTopN: 4},
		{Stage: &fakeStage{
			name: domain.StageCompliance,
			fn: func(_ domain.QueryContext, candidates []domain.SearchResult, keepTopN int) ([]domain.SearchResult, error) {
				complianceSaw = len(candidates)
				return trimResults(candidates, keepTopN), nil
			},
		}, KeepTopN: 2},
	}

	outcome := runCascade(context.Background(), domain.QueryContext{}, candidatePool(20), steps)

	if len(outcome.DegradedStages) != 1 || outcome.DegradedStages[0] != domain.StageRerankDeep {
		t.Fatalf("degraded = %v, want [%s]", outcome.DegradedStages, domain.StageRerankDeep)
	}
	// The skipped stage still narrows by pass-through truncation, so the next
	// stage sees at most its keep budget.
	if complianceSaw != 4 {
		t.Errorf("compliance stage saw %d candidates, want 4", complianceSaw)
	}
	if len(outcome.Results) != 2 {
		t.Errorf("final size = %d, want 2", len(outcome.Results))
	}
	if outcome.Err != nil {
		t.Error("a skipped stage is degradation, not a partial result")
	}
}

func TestRunCascadeStopsOnDeadline(t *testing.T) {
	steps := []cascadeStep{
		{Stage: &fakeStage{name: domain.StageRerankFast}, KeepTopN: 8},
		{Stage: &fakeStage{
			name: domain.StageRerankDeep,
			fn: func(domain.QueryContext, []domain.SearchResult, int) ([]domain.SearchResult, error) {
				return nil, context.DeadlineExceeded
			},
		}, KeepTopN: 4},
		{Stage: &fakeStage{name: domain.StageCompliance}, KeepTopN: 2},
	}

	outcome := runCascade(context.Background(), domain.QueryContext{}, candidatePool(20), steps)

	if !domain.IsKind(outcome.Err, domain.ErrDeadlineExceeded) {
		t.Fatalf("outcome err = %v, want the deadline kind", outcome.Err)
	}
	// The last fully completed stage's ranking survives.
	if len(outcome.Results) != 8 {
		t.Errorf("results = %d, want the fast stage's 8 survivors", len(outcome.Results))
	}
	if _, ok := outcome.LatenciesMs[domain.StageCompliance]; ok {
		t.Error("compliance stage must not run after the deadline")
	}
}

func TestRunCascadeExpiredContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	outcome := runCascade(ctx, domain.QueryContext{}, candidatePool(5), []cascadeStep{
		{Stage: &fakeStage{name: domain.StageRerankFast}, KeepTopN: 3},
	})

	if !domain.IsKind(outcome.Err, domain.ErrDeadlineExceeded) {
		t.Fatalf("outcome err = %v, want the deadline kind", outcome.Err)
	}
	if len(outcome.Results) != 5 {
		t.Errorf("results = %d, want untouched 5", len(outcome.Results))
	}
}

func TestRunCascadeEmptyInput(t *testing.T) {
	ran := false
	outcome := runCascade(context.Background(), domain.QueryContext{}, nil, []cascadeStep{
		{Stage: &fakeStage{
			name: domain.StageRerankFast,
			fn: func(_ domain.QueryContext, candidates []domain.SearchResult, _ int) ([]domain.SearchResult, error) {
				ran = true
				return candidates, nil
			},
		}, KeepTopN: 3},
	})

	if ran {
		t.Error("no stage should run without candidates")
	}
	if len(outcome.Results) != 0 || outcome.Err != nil {
		t.Errorf("outcome = %+v, want empty and not partial", outcome)
	}
}
