package domain

import "time"

type RetrievalStrategy string

const (
	StrategyVector   RetrievalStrategy = "vector"
	StrategyKeyword  RetrievalStrategy = "keyword"
	StrategyCluster  RetrievalStrategy = "cluster"
	StrategyMetadata RetrievalStrategy = "metadata"
)

// Stage names for cache keys, diagnostics and metrics labels.
const (
	StageRetrieval  = "retrieval"
	StageFusion     = "fusion"
	StageRerankFast = "rerank_fast"
	StageRerankDeep = "rerank_deep"
	StageCompliance = "rerank_compliance"
)

// ScoreBreakdown carries every named component that contributed to a
// result's running score. Zero values mean the component never applied.
type ScoreBreakdown struct {
	Vector          float64 `json:"vector,omitempty"`
	Keyword         float64 `json:"keyword,omitempty"`
	Cluster         float64 `json:"cluster,omitempty"`
	Metadata        float64 `json:"metadata,omitempty"`
	DiversityBonus  float64 `json:"diversity_bonus,omitempty"`
	RegulatoryBoost float64 `json:"regulatory_boost,omitempty"`
	Fused           float64 `json:"fused,omitempty"`
	CrossEncoder    float64 `json:"cross_encoder,omitempty"`
	Ensemble        float64 `json:"ensemble,omitempty"`
	Compliance      float64 `json:"compliance,omitempty"`
	AuthorityWeight float64 `json:"authority_weight,omitempty"`
}

// SearchResult is request-scoped. Each pipeline stage produces a fresh
// generation from the previous stage's survivors; a scored result is never
// mutated by a later stage.
type SearchResult struct {
	ChunkID    string              `json:"chunk_id"`
	DocumentID string              `json:"document_id"`
	Authority  string              `json:"authority,omitempty"`
	Strategies []RetrievalStrategy `json:"strategies"`
	Breakdown  ScoreBreakdown      `json:"breakdown"`
	Score      float64             `json:"score"`

	// Denormalized document attributes carried from the index payloads so
	// fusion can apply regulatory boosts before hydration.
	DocumentType  DocumentType `json:"document_type,omitempty"`
	EffectiveDate time.Time    `json:"effective_date,omitzero"`

	// Chunk is the hydrated read-only reference, nil until hydration.
	Chunk *Chunk `json:"-"`
}

// FoundBy reports whether the given strategy produced this result.
func (r SearchResult) FoundBy(s RetrievalStrategy) bool {
	for _, have := range r.Strategies {
		if have == s {
			return true
		}
	}
	return false
}

// RankedResult is the caller-facing view of one final result.
type RankedResult struct {
	ChunkID         string         `json:"chunk_id"`
	DocumentID      string         `json:"document_id"`
	Authority       string         `json:"authority"`
	Score           float64        `json:"score"`
	ScoreBreakdown  ScoreBreakdown `json:"score_breakdown"`
	ExcerptText     string         `json:"excerpt_text"`
	CrossReferences []string       `json:"cross_references,omitempty"`
}

// Diagnostics is returned with every response, including degraded ones. The
// caller never sees an opaque failure for transient backend trouble.
type Diagnostics struct {
	StageLatenciesMs map[string]float64 `json:"stage_latencies_ms"`
	StrategiesUsed   []string           `json:"strategies_used"`
	CacheHits        []string           `json:"cache_hits,omitempty"`
	DegradedStages   []string           `json:"degraded_stages,omitempty"`
	Warnings         []string           `json:"warnings,omitempty"`
	Partial          bool               `json:"partial,omitempty"`
}

type SearchResponse struct {
	Results     []RankedResult `json:"results"`
	Diagnostics Diagnostics    `json:"diagnostics"`
}
