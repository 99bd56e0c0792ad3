package usecase

import (
	"sort"
	"time"

	"github.com/reglens/reglens/internal/core/domain"
)

// RankingPolicy carries the tuned scoring tables. Bootstrap maps it from the
// operator-facing config so the core never depends on the config package.
type RankingPolicy struct {
	BaseWeights         map[domain.RetrievalStrategy]float64
	IntentAdjustments   map[domain.QueryIntent]map[domain.RetrievalStrategy]float64
	AuthorityReputation map[string]float64
	AuthorityPriority   map[string]map[string]float64
	DocumentTypeBoost   map[domain.DocumentType]float64
	ScopeAuthorities    map[string][]string
	DiversityBonusCap   float64
	RecencyBoostMax     float64
}

// authorityAlignmentBump is added to the keyword and metadata weights when
// the query names authorities, since those strategies key directly on
// authority attributes.
const authorityAlignmentBump = 0.05

const perStrategyDiversityBonus = 0.15

type FusionStrategy string

const (
	FusionWeighted FusionStrategy = "weighted"
	FusionRRF      FusionStrategy = "rrf"
)

// FusionEngine merges up to four per-strategy candidate lists into one
// deduplicated ranked pool of bounded size.
type FusionEngine struct {
	policy   RankingPolicy
	strategy FusionStrategy
	rrfK     int
	poolSize int
	now      func() time.Time
}

func NewFusionEngine(policy RankingPolicy, strategy FusionStrategy, rrfK, poolSize int) *FusionEngine {
	if rrfK <= 0 {
		rrfK = 60
	}
	if poolSize <= 0 {
		poolSize = 150
	}
	return &FusionEngine{
		policy:   policy,
		strategy: strategy,
		rrfK:     rrfK,
		poolSize: poolSize,
		now:      time.Now,
	}
}

// Fuse combines the retriever outcomes under the intent-adjusted weights,
// rewards convergent evidence with a capped diversity bonus, applies the
// multiplicative regulatory boosts and returns the pool sorted by final
// fused score. Ordering is fully deterministic: score, then authority boost
// magnitude, then chunk id.
func (f *FusionEngine) Fuse(qc domain.QueryContext, outcomes []retrievalOutcome) []domain.SearchResult {
	weights := f.adjustedWeights(qc)

	merged := make(map[string]*domain.SearchResult)
	switch f.strategy {
	case FusionRRF:
		f.mergeRRF(weights, outcomes, merged)
	default:
		f.mergeWeighted(weights, outcomes, merged)
	}

	results := make([]domain.SearchResult, 0, len(merged))
	for _, res := range merged {
		f.applyDiversityBonus(res)
		f.applyRegulatoryBoosts(qc, res)
		res.Breakdown.Fused = res.Score
		results = append(results, *res)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Breakdown.RegulatoryBoost != results[j].Breakdown.RegulatoryBoost {
			return results[i].Breakdown.RegulatoryBoost > results[j].Breakdown.RegulatoryBoost
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	return trimResults(results, f.poolSize)
}

func (f *FusionEngine) adjustedWeights(qc domain.QueryContext) map[domain.RetrievalStrategy]float64 {
	weights := make(map[domain.RetrievalStrategy]float64, len(f.policy.BaseWeights))
	for strategy, w := range f.policy.BaseWeights {
		weights[strategy] = w
	}
	for strategy, delta := range f.policy.IntentAdjustments[qc.Intent] {
		weights[strategy] += delta
	}
	if len(qc.Authorities) > 0 {
		weights[domain.StrategyKeyword] += authorityAlignmentBump
		weights[domain.StrategyMetadata] += authorityAlignmentBump
	}

	var sum float64
	for strategy, w := range weights {
		if w < 0 {
			weights[strategy] = 0
			continue
		}
		sum += w
	}
	if sum <= 0 {
		return f.policy.BaseWeights
	}
	for strategy, w := range weights {
		weights[strategy] = w / sum
	}
	return weights
}

// mergeWeighted min-max normalizes each strategy's scores before weighting,
// so a hot BM25 scale cannot drown cosine similarities.
func (f *FusionEngine) mergeWeighted(
	weights map[domain.RetrievalStrategy]float64,
	outcomes []retrievalOutcome,
	merged map[string]*domain.SearchResult,
) {
	for _, outcome := range outcomes {
		if len(outcome.Results) == 0 {
			continue
		}
		weight := weights[outcome.Strategy]
		normalize := minMaxNormalizer(outcome.Results)
		for _, res := range outcome.Results {
			contribution := weight * normalize(res.Score)
			accumulate(merged, res, contribution)
		}
	}
}

func (f *FusionEngine) mergeRRF(
	weights map[domain.RetrievalStrategy]float64,
	outcomes []retrievalOutcome,
	merged map[string]*domain.SearchResult,
) {
	for _, outcome := range outcomes {
		weight := weights[outcome.Strategy]
		for rank, res := range outcome.Results {
			contribution := weight / float64(f.rrfK+rank+1)
			accumulate(merged, res, contribution)
		}
	}
}

// accumulate folds one per-strategy result into the merged pool, keeping
// the union of provenance tags and the richer denormalized fields.
func accumulate(merged map[string]*domain.SearchResult, res domain.SearchResult, contribution float64) {
	have, ok := merged[res.ChunkID]
	if !ok {
		next := res
		next.Score = contribution
		merged[res.ChunkID] = &next
		return
	}

	have.Score += contribution
	have.Strategies = append(have.Strategies, res.Strategies...)
	mergeBreakdown(&have.Breakdown, res.Breakdown)
	if have.Authority == "" {
		have.Authority = res.Authority
	}
	if have.DocumentType == "" {
		have.DocumentType = res.DocumentType
	}
	if have.EffectiveDate.IsZero() {
		have.EffectiveDate = res.EffectiveDate
	}
}

func mergeBreakdown(dst *domain.ScoreBreakdown, src domain.ScoreBreakdown) {
	if src.Vector != 0 {
		dst.Vector = src.Vector
	}
	if src.Keyword != 0 {
		dst.Keyword = src.Keyword
	}
	if src.Cluster != 0 {
		dst.Cluster = src.Cluster
	}
	if src.Metadata != 0 {
		dst.Metadata = src.Metadata
	}
}

// applyDiversityBonus rewards convergent evidence: each extra strategy that
// found the chunk adds 15%, capped so multi-strategy hits cannot dominate
// outright.
func (f *FusionEngine) applyDiversityBonus(res *domain.SearchResult) {
	extra := len(res.Strategies) - 1
	if extra <= 0 {
		return
	}
	bonus := perStrategyDiversityBonus * float64(extra)
	if limit := f.policy.DiversityBonusCap; limit > 0 && bonus > limit {
		bonus = limit
	}
	res.Breakdown.DiversityBonus = bonus
	res.Score *= 1 + bonus
}

func (f *FusionEngine) applyRegulatoryBoosts(qc domain.QueryContext, res *domain.SearchResult) {
	boost := 1.0

	if rep, ok := f.policy.AuthorityReputation[res.Authority]; ok {
		boost *= rep
	}
	if typeBoost, ok := f.policy.DocumentTypeBoost[res.DocumentType]; ok {
		boost *= typeBoost
	}

	// Recency only matters when the user is not explicitly asking about a
	// point in time; historical queries must not bury old but exact text.
	if qc.Intent != domain.IntentTemporal && len(qc.TemporalHints) == 0 && !res.EffectiveDate.IsZero() {
		ageYears := f.now().Sub(res.EffectiveDate).Hours() / (24 * 365)
		if ageYears < 0 {
			ageYears = 0
		}
		recency := f.policy.RecencyBoostMax / (1.0 + ageYears)
		boost *= 1 + recency
	}

	res.Breakdown.RegulatoryBoost = boost
	res.Score *= boost
}

func minMaxNormalizer(results []domain.SearchResult) func(float64) float64 {
	minScore, maxScore := results[0].Score, results[0].Score
	for _, res := range results[1:] {
		if res.Score < minScore {
			minScore = res.Score
		}
		if res.Score > maxScore {
			maxScore = res.Score
		}
	}
	scoreRange := maxScore - minScore
	return func(v float64) float64 {
		if scoreRange <= 0 {
			if v > 0 {
				return 1
			}
			return 0
		}
		return (v - minScore) / scoreRange
	}
}
