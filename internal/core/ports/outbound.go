package ports

import (
	"context"
	"time"

	"github.com/reglens/reglens/internal/core/domain"
)

// ChunkStore reads chunk and document data. The engine never writes here.
type ChunkStore interface {
	GetChunksByIDs(ctx context.Context, ids []string) ([]domain.Chunk, error)
	QueryByFilter(ctx context.Context, filters domain.Filters, limit int) ([]domain.Chunk, error)
}

// EmbeddingIndex performs dense and sparse similarity search over chunk
// embeddings.
type EmbeddingIndex interface {
	SimilaritySearch(ctx context.Context, queryVector []float32, model string, topK int, filters domain.Filters) ([]ScoredChunkRef, error)
	SparseSearch(ctx context.Context, queryText string, topK int, filters domain.Filters) ([]ScoredChunkRef, error)
}

// ScoredChunkRef is a store-level hit: an id plus raw similarity, hydrated
// later from the chunk store.
type ScoredChunkRef struct {
	ChunkID       string
	DocumentID    string
	Authority     string
	DocumentType  domain.DocumentType
	EffectiveDate time.Time
	Score         float64
}

// ClusterIndex exposes a versioned snapshot of precomputed topic, authority
// and temporal clusters. Updates publish a new snapshot; in-flight requests
// keep the view they started with.
type ClusterIndex interface {
	Snapshot() string
	NearestClusters(ctx context.Context, queryVector []float32, k int) ([]ClusterMatch, error)
	ClusterMembers(ctx context.Context, clusterID string) ([]ScoredChunkRef, error)
}

type ClusterMatch struct {
	ClusterID  string
	Kind       string // topic, authority, temporal
	Confidence float64
}

// CrossRefGraph resolves the structural neighborhood of a chunk: its parent
// section, sibling definitions and the chunks its citations point at. Used
// by the deep reranking stage for excerpt enrichment.
type CrossRefGraph interface {
	ParentSection(ctx context.Context, chunkID string) (*domain.Chunk, error)
	SiblingDefinitions(ctx context.Context, chunkID string, limit int) ([]domain.Chunk, error)
	ReferencedChunks(ctx context.Context, chunkID string, limit int) ([]domain.Chunk, error)
}

// Embedder builds a dense vector for query text using a named model.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// ScoringModel scores (query, excerpt) pairs jointly. Batchable; order of
// returned scores matches the order of excerpts.
type ScoringModel interface {
	Name() string
	ScoreBatch(ctx context.Context, query string, excerpts []string) ([]float64, error)
}

// ResultCache memoizes ranked id lists per pipeline stage. Entries hold ids
// and scores only; chunk text is always re-fetched from the store.
type ResultCache interface {
	Get(stage, key string) ([]domain.SearchResult, bool)
	Set(stage, key string, results []domain.SearchResult, ttl time.Duration)
	InvalidateDocument(documentID string) int
}

// DocumentEvents delivers document-update notifications that drive explicit
// cache invalidation.
type DocumentEvents interface {
	SubscribeDocumentUpdated(ctx context.Context, handler func(ctx context.Context, documentID string) error) error
	Close()
}
