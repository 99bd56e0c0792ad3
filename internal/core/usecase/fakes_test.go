package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reglens/reglens/internal/core/domain"
)

type fakeRetriever struct {
	strategy domain.RetrievalStrategy
	fn       func(ctx context.Context, input RetrievalInput, limit int) ([]domain.SearchResult, error)
	calls    atomic.Int32
}

func (r *fakeRetriever) Strategy() domain.RetrievalStrategy { return r.strategy }

func (r *fakeRetriever) Retrieve(ctx context.Context, input RetrievalInput, limit int) ([]domain.SearchResult, error) {
	r.calls.Add(1)
	if r.fn == nil {
		return nil, nil
	}
	return r.fn(ctx, input, limit)
}

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  atomic.Int32
}

func (e *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return e.vector, nil
}

func (e *fakeEmbedder) Model() string { return "fake-embedder" }

type fakeChunkStore struct {
	mu        sync.Mutex
	chunks    map[string]domain.Chunk
	getErr    error
	getCalls  int
	filterOut []domain.Chunk
	filterErr error
}

func (s *fakeChunkStore) GetChunksByIDs(_ context.Context, ids []string) ([]domain.Chunk, error) {
	s.mu.Lock()
	s.getCalls++
	s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	out := make([]domain.Chunk, 0, len(ids))
	for _, id := range ids {
		if chunk, ok := s.chunks[id]; ok {
			out = append(out, chunk)
		}
	}
	return out, nil
}

func (s *fakeChunkStore) QueryByFilter(_ context.Context, _ domain.Filters, limit int) ([]domain.Chunk, error) {
	if s.filterErr != nil {
		return nil, s.filterErr
	}
	if limit > 0 && len(s.filterOut) > limit {
		return s.filterOut[:limit], nil
	}
	return s.filterOut, nil
}

type fakeScoringModel struct {
	name  string
	err   error
	score func(excerpt string) float64

	mu   sync.Mutex
	seen [][]string
}

func (m *fakeScoringModel) Name() string { return m.name }

func (m *fakeScoringModel) ScoreBatch(_ context.Context, _ string, excerpts []string) ([]float64, error) {
	m.mu.Lock()
	m.seen = append(m.seen, append([]string(nil), excerpts...))
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]float64, len(excerpts))
	for i, excerpt := range excerpts {
		if m.score != nil {
			out[i] = m.score(excerpt)
		}
	}
	return out, nil
}

func (m *fakeScoringModel) excerpts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var flat []string
	for _, batch := range m.seen {
		flat = append(flat, batch...)
	}
	return flat
}

type fakeGraph struct {
	parent   *domain.Chunk
	siblings []domain.Chunk
	refs     []domain.Chunk
	err      error
}

func (g *fakeGraph) ParentSection(context.Context, string) (*domain.Chunk, error) {
	return g.parent, g.err
}

func (g *fakeGraph) SiblingDefinitions(context.Context, string, int) ([]domain.Chunk, error) {
	return g.siblings, g.err
}

func (g *fakeGraph) ReferencedChunks(context.Context, string, int) ([]domain.Chunk, error) {
	return g.refs, g.err
}

type fakeStage struct {
	name string
	fn   func(qc domain.QueryContext, candidates []domain.SearchResult, keepTopN int) ([]domain.SearchResult, error)
}

func (s *fakeStage) Name() string { return s.name }

func (s *fakeStage) Rerank(_ context.Context, qc domain.QueryContext, candidates []domain.SearchResult, keepTopN int) ([]domain.SearchResult, error) {
	if s.fn == nil {
		return trimResults(candidates, keepTopN), nil
	}
	return s.fn(qc, candidates, keepTopN)
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]domain.SearchResult
	sets    map[string]int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries: make(map[string][]domain.SearchResult),
		sets:    make(map[string]int),
	}
}

func (c *fakeCache) Get(stage, key string) ([]domain.SearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	results, ok := c.entries[stage+"/"+key]
	return results, ok
}

func (c *fakeCache) Set(stage, key string, results []domain.SearchResult, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[stage+"/"+key] = results
	c.sets[stage]++
}

func (c *fakeCache) InvalidateDocument(string) int { return 0 }

func (c *fakeCache) setsFor(stage string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets[stage]
}

func testPolicy() RankingPolicy {
	return RankingPolicy{
		BaseWeights: map[domain.RetrievalStrategy]float64{
			domain.StrategyVector:   0.4,
			domain.StrategyKeyword:  0.3,
			domain.StrategyCluster:  0.2,
			domain.StrategyMetadata: 0.1,
		},
		IntentAdjustments:   map[domain.QueryIntent]map[domain.RetrievalStrategy]float64{},
		AuthorityReputation: map[string]float64{"EBA": 1.15, "ECB": 1.20},
		AuthorityPriority: map[string]map[string]float64{
			"EU": {"EBA": 1.0, "ECB": 0.9},
		},
		DocumentTypeBoost: map[domain.DocumentType]float64{
			domain.DocRegulation: 1.20,
			domain.DocGuideline:  1.05,
		},
		ScopeAuthorities: map[string][]string{
			"banking":    {"EBA", "ECB", "BAFIN"},
			"securities": {"ESMA", "FCA"},
		},
		DiversityBonusCap: 0.30,
		RecencyBoostMax:   0.15,
	}
}

func scored(chunkID string, strategy domain.RetrievalStrategy, score float64) domain.SearchResult {
	return domain.SearchResult{
		ChunkID:    chunkID,
		DocumentID: "doc-" + chunkID,
		Strategies: []domain.RetrievalStrategy{strategy},
		Score:      score,
	}
}

func mustDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func almostEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}
