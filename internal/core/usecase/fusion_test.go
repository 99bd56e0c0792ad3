package usecase

import (
	"testing"
	"time"

	"github.com/reglens/reglens/internal/core/domain"
)

func barePolicy() RankingPolicy {
	return RankingPolicy{
		BaseWeights: map[domain.RetrievalStrategy]float64{
			domain.StrategyVector:  0.5,
			domain.StrategyKeyword: 0.5,
		},
		DiversityBonusCap: 0.30,
	}
}

func TestFuseWeightedNormalizesPerStrategy(t *testing.T) {
	engine := NewFusionEngine(barePolicy(), FusionWeighted, 60, 150)
	qc := domain.QueryContext{Raw: "capital", Intent: domain.IntentGeneral}

	outcomes := []retrievalOutcome{
		{Strategy: domain.StrategyVector, Results: []domain.SearchResult{
			scored("c1", domain.StrategyVector, 0.9),
			scored("c2", domain.StrategyVector, 0.5),
		}},
		{Strategy: domain.StrategyKeyword, Results: []domain.SearchResult{
			scored("c2", domain.StrategyKeyword, 10.0),
			scored("c3", domain.StrategyKeyword, 2.0),
		}},
	}

	fused := engine.Fuse(qc, outcomes)
	if len(fused) != 3 {
		t.Fatalf("fused pool size = %d, want 3", len(fused))
	}

	// c2 converges from both strategies: 0.5*0 + 0.5*1, then the 15%
	// diversity bonus. c1 holds 0.5 from the vector list alone.
	if fused[0].ChunkID != "c2" || fused[1].ChunkID != "c1" || fused[2].ChunkID != "c3" {
		t.Fatalf("order = [%s %s %s], want [c2 c1 c3]", fused[0].ChunkID, fused[1].ChunkID, fused[2].ChunkID)
	}
	if !almostEqual(fused[0].Score, 0.575) {
		t.Errorf("c2 score = %f, want 0.575", fused[0].Score)
	}
	if !almostEqual(fused[0].Breakdown.DiversityBonus, 0.15) {
		t.Errorf("c2 diversity bonus = %f, want 0.15", fused[0].Breakdown.DiversityBonus)
	}
	if len(fused[0].Strategies) != 2 {
		t.Errorf("c2 strategies = %v, want both contributors", fused[0].Strategies)
	}
	if !almostEqual(fused[0].Breakdown.Fused, fused[0].Score) {
		t.Errorf("fused breakdown %f must equal final score %f", fused[0].Breakdown.Fused, fused[0].Score)
	}
}

func TestFuseDiversityBonusIsCapped(t *testing.T) {
	policy := testPolicy()
	policy.AuthorityReputation = nil
	policy.DocumentTypeBoost = nil
	policy.RecencyBoostMax = 0
	engine := NewFusionEngine(policy, FusionWeighted, 60, 150)

	strategies := []domain.RetrievalStrategy{
		domain.StrategyVector, domain.StrategyKeyword,
		domain.StrategyCluster, domain.StrategyMetadata,
	}
	outcomes := make([]retrievalOutcome, 0, len(strategies))
	for _, strategy := range strategies {
		outcomes = append(outcomes, retrievalOutcome{
			Strategy: strategy,
			Results:  []domain.SearchResult{scored("c1", strategy, 1.0)},
		})
	}

	fused := engine.Fuse(domain.QueryContext{Raw: "x"}, outcomes)
	if len(fused) != 1 {
		t.Fatalf("fused pool size = %d, want 1", len(fused))
	}
	// Three extra strategies would earn 0.45; the cap holds it at 0.30.
	if !almostEqual(fused[0].Breakdown.DiversityBonus, 0.30) {
		t.Errorf("diversity bonus = %f, want capped 0.30", fused[0].Breakdown.DiversityBonus)
	}
	if !almostEqual(fused[0].Score, 1.3) {
		t.Errorf("score = %f, want 1.3", fused[0].Score)
	}
}

func TestAdjustedWeightsIntentAndAuthority(t *testing.T) {
	policy := testPolicy()
	policy.IntentAdjustments = map[domain.QueryIntent]map[domain.RetrievalStrategy]float64{
		domain.IntentDefinition: {
			domain.StrategyVector:  -0.1,
			domain.StrategyKeyword: 0.1,
		},
	}
	engine := NewFusionEngine(policy, FusionWeighted, 60, 150)

	weights := engine.adjustedWeights(domain.QueryContext{Intent: domain.IntentDefinition})
	if !almostEqual(weights[domain.StrategyVector], 0.3) || !almostEqual(weights[domain.StrategyKeyword], 0.4) {
		t.Errorf("definition weights = %v", weights)
	}

	var sum float64
	for _, w := range weights {
		sum += w
	}
	if !almostEqual(sum, 1.0) {
		t.Errorf("weights sum = %f, want 1", sum)
	}

	// Naming an authority bumps the strategies that key on authority
	// attributes, then everything renormalizes.
	weights = engine.adjustedWeights(domain.QueryContext{
		Intent:      domain.IntentGeneral,
		Authorities: []string{"EBA"},
	})
	if !almostEqual(weights[domain.StrategyKeyword], 0.35/1.1) {
		t.Errorf("keyword weight = %f, want %f", weights[domain.StrategyKeyword], 0.35/1.1)
	}
	if !almostEqual(weights[domain.StrategyMetadata], 0.15/1.1) {
		t.Errorf("metadata weight = %f, want %f", weights[domain.StrategyMetadata], 0.15/1.1)
	}
}

func TestFuseRRFUsesRankNotScore(t *testing.T) {
	policy := testPolicy()
	policy.AuthorityReputation = nil
	policy.DocumentTypeBoost = nil
	policy.RecencyBoostMax = 0
	engine := NewFusionEngine(policy, FusionRRF, 60, 150)

	outcomes := []retrievalOutcome{
		{Strategy: domain.StrategyKeyword, Results: []domain.SearchResult{
			scored("c1", domain.StrategyKeyword, 900.0),
			scored("c2", domain.StrategyKeyword, 1.0),
		}},
	}

	fused := engine.Fuse(domain.QueryContext{Raw: "x"}, outcomes)
	if len(fused) != 2 {
		t.Fatalf("fused pool size = %d, want 2", len(fused))
	}
	if !almostEqual(fused[0].Score, 0.3/61.0) {
		t.Errorf("rank-0 score = %f, want %f", fused[0].Score, 0.3/61.0)
	}
	if !almostEqual(fused[1].Score, 0.3/62.0) {
		t.Errorf("rank-1 score = %f, want %f", fused[1].Score, 0.3/62.0)
	}
}

func TestFuseAppliesRegulatoryBoosts(t *testing.T) {
	engine := NewFusionEngine(testPolicy(), FusionWeighted, 60, 150)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	boosted := scored("c1", domain.StrategyKeyword, 1.0)
	boosted.Authority = "EBA"
	boosted.DocumentType = domain.DocRegulation
	boosted.EffectiveDate = now.Add(-365 * 24 * time.Hour)

	plain := scored("c2", domain.StrategyKeyword, 1.0)

	fused := engine.Fuse(domain.QueryContext{Raw: "x"}, []retrievalOutcome{
		{Strategy: domain.StrategyKeyword, Results: []domain.SearchResult{boosted, plain}},
	})

	if fused[0].ChunkID != "c1" {
		t.Fatalf("boosted chunk should rank first, got %s", fused[0].ChunkID)
	}
	// reputation 1.15 * regulation 1.20 * recency (1 + 0.15/2) at age one year
	want := 1.15 * 1.20 * 1.075
	if !almostEqual(fused[0].Breakdown.RegulatoryBoost, want) {
		t.Errorf("regulatory boost = %f, want %f", fused[0].Breakdown.RegulatoryBoost, want)
	}
}

func TestFuseSkipsRecencyForTemporalQueries(t *testing.T) {
	engine := NewFusionEngine(testPolicy(), FusionWeighted, 60, 150)

	res := scored("c1", domain.StrategyKeyword, 1.0)
	res.Authority = "EBA"
	res.DocumentType = domain.DocRegulation
	res.EffectiveDate = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

	qc := domain.QueryContext{Raw: "rules as of 2019", Intent: domain.IntentTemporal}
	fused := engine.Fuse(qc, []retrievalOutcome{
		{Strategy: domain.StrategyKeyword, Results: []domain.SearchResult{res}},
	})

	// A point-in-time question must not bury old but exact text, so only
	// reputation and document type apply.
	if !almostEqual(fused[0].Breakdown.RegulatoryBoost, 1.15*1.20) {
		t.Errorf("regulatory boost = %f, want %f", fused[0].Breakdown.RegulatoryBoost, 1.15*1.20)
	}
}

func TestFusePoolSizeBound(t *testing.T) {
	engine := NewFusionEngine(barePolicy(), FusionWeighted, 60, 5)

	results := make([]domain.SearchResult, 0, 20)
	for i := 0; i < 20; i++ {
		results = append(results, scored(string(rune('a'+i)), domain.StrategyVector, float64(20-i)))
	}

	fused := engine.Fuse(domain.QueryContext{Raw: "x"}, []retrievalOutcome{
		{Strategy: domain.StrategyVector, Results: results},
	})
	if len(fused) != 5 {
		t.Fatalf("pool size = %d, want 5", len(fused))
	}
}

func TestFuseIsDeterministic(t *testing.T) {
	engine := NewFusionEngine(testPolicy(), FusionWeighted, 60, 150)
	qc := domain.QueryContext{Raw: "capital requirement", Intent: domain.IntentRequirement}

	outcomes := []retrievalOutcome{
		{Strategy: domain.StrategyVector, Results: []domain.SearchResult{
			scored("c1", domain.StrategyVector, 0.9),
			scored("c2", domain.StrategyVector, 0.9),
			scored("c3", domain.StrategyVector, 0.9),
		}},
		{Strategy: domain.StrategyKeyword, Results: []domain.SearchResult{
			scored("c3", domain.StrategyKeyword, 4.0),
			scored("c4", domain.StrategyKeyword, 4.0),
		}},
	}

	first := engine.Fuse(qc, outcomes)
	for run := 0; run < 10; run++ {
		again := engine.Fuse(qc, outcomes)
		if len(again) != len(first) {
			t.Fatalf("run %d: pool size changed", run)
		}
		for i := range first {
			if again[i].ChunkID != first[i].ChunkID || !almostEqual(again[i].Score, first[i].Score) {
				t.Fatalf("run %d: position %d differs: %s vs %s", run, i, again[i].ChunkID, first[i].ChunkID)
			}
		}
	}
}
