package usecase

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/reglens/reglens/internal/core/domain"
	"github.com/reglens/reglens/internal/core/ports"
)

// warnAuthorityRelaxed marks a response produced after dropping the
// caller's authority allow-list because it starved retrieval.
const warnAuthorityRelaxed = "authority_filter_relaxed"

func hasWarning(diag domain.Diagnostics, warning string) bool {
	for _, w := range diag.Warnings {
		if w == warning {
			return true
		}
	}
	return false
}

// SearchConfig bundles the pipeline shape settings resolved at bootstrap.
type SearchConfig struct {
	RetrieverTopK   int
	RetrieverBudget time.Duration
	RequestBudget   time.Duration

	Stage1KeepTopN int
	Stage2KeepTopN int
	Stage3KeepTopN int

	RetrievalTTL time.Duration
	FusionTTL    time.Duration
	FinalTTL     time.Duration
}

func (c SearchConfig) normalize() SearchConfig {
	out := c
	if out.RetrieverTopK <= 0 {
		out.RetrieverTopK = 100
	}
	if out.RetrieverBudget <= 0 {
		out.RetrieverBudget = 1500 * time.Millisecond
	}
	if out.RequestBudget <= 0 {
		out.RequestBudget = 3 * time.Second
	}
	if out.Stage1KeepTopN <= 0 {
		out.Stage1KeepTopN = 50
	}
	if out.Stage2KeepTopN <= 0 {
		out.Stage2KeepTopN = 20
	}
	if out.Stage3KeepTopN <= 0 {
		out.Stage3KeepTopN = 10
	}
	if out.RetrievalTTL <= 0 {
		out.RetrievalTTL = 45 * time.Minute
	}
	if out.FusionTTL <= 0 {
		out.FusionTTL = 15 * time.Minute
	}
	if out.FinalTTL <= 0 {
		out.FinalTTL = 15 * time.Minute
	}
	return out
}

// SearchUseCase is the engine's entry point: query processing, concurrent
// candidate retrieval, fusion, the three-stage reranking cascade, and the
// tiered result cache around all of it.
type SearchUseCase struct {
	embedder   ports.Embedder
	store      ports.ChunkStore
	cache      ports.ResultCache
	retrievers []Retriever
	fusion     *FusionEngine
	steps      []cascadeStep
	cfg        SearchConfig
}

func NewSearchUseCase(
	embedder ports.Embedder,
	store ports.ChunkStore,
	cache ports.ResultCache,
	retrievers []Retriever,
	fusion *FusionEngine,
	stage1 *FastReranker,
	stage2 *DeepReranker,
	stage3 *ComplianceReranker,
	cfg SearchConfig,
) *SearchUseCase {
	cfg = cfg.normalize()
	return &SearchUseCase{
		embedder:   embedder,
		store:      store,
		cache:      cache,
		retrievers: retrievers,
		fusion:     fusion,
		steps: []cascadeStep{
			{Stage: stage1, KeepTopN: cfg.Stage1KeepTopN},
			{Stage: stage2, KeepTopN: cfg.Stage2KeepTopN},
			{Stage: stage3, KeepTopN: cfg.Stage3KeepTopN},
		},
		cfg: cfg,
	}
}

// newSearchUseCaseWithSteps lets tests assemble their own cascade.
func newSearchUseCaseWithSteps(
	embedder ports.Embedder,
	store ports.ChunkStore,
	cache ports.ResultCache,
	retrievers []Retriever,
	fusion *FusionEngine,
	steps []cascadeStep,
	cfg SearchConfig,
) *SearchUseCase {
	return &SearchUseCase{
		embedder:   embedder,
		store:      store,
		cache:      cache,
		retrievers: retrievers,
		fusion:     fusion,
		steps:      steps,
		cfg:        cfg.normalize(),
	}
}

// Search resolves a compliance question to a ranked, provenance-tagged set
// of regulatory passages. Only an invalid query is a hard failure; every
// backend hiccup degrades to a smaller or lower-confidence result set
// described in diagnostics.
func (uc *SearchUseCase) Search(
	ctx context.Context,
	query string,
	filters domain.Filters,
	topK int,
) (*domain.SearchResponse, error) {
	qc, err := BuildQueryContext(query, filters)
	if err != nil {
		return nil, err
	}
	if topK <= 0 || topK > uc.cfg.Stage3KeepTopN {
		topK = uc.cfg.Stage3KeepTopN
	}

	ctx, cancel := context.WithTimeout(ctx, uc.cfg.RequestBudget)
	defer cancel()

	diag := domain.Diagnostics{StageLatenciesMs: make(map[string]float64, 5)}
	key := cacheKey(qc.Raw, qc.Filters)

	// Final tier first: a hot query skips the whole pipeline.
	if cached, ok := uc.cacheGet(domain.StageCompliance, key); ok {
		diag.CacheHits = append(diag.CacheHits, domain.StageCompliance)
		diag.StageLatenciesMs[domain.StageRetrieval] = 0
		uc.noteStrategies(&diag, cached)
		final := uc.hydrate(ctx, cached, &diag)
		return uc.respond(ctx, qc, final, topK, diag), nil
	}

	fused, err := uc.fusedPool(ctx, qc, key, &diag)
	if domain.IsKind(err, domain.ErrNoCandidates) {
		// Every retriever came back empty, even after relaxation. Not a
		// request failure; the caller gets an empty set with the reason.
		diag.Warnings = append(diag.Warnings, "no_candidates")
		return &domain.SearchResponse{Results: []domain.RankedResult{}, Diagnostics: diag}, nil
	}

	hydrated := uc.hydrate(ctx, fused, &diag)

	outcome := runCascade(ctx, qc, hydrated, uc.steps)
	for stage, latency := range outcome.LatenciesMs {
		diag.StageLatenciesMs[stage] = latency
	}
	diag.DegradedStages = append(diag.DegradedStages, outcome.DegradedStages...)
	diag.Partial = diag.Partial || domain.IsKind(outcome.Err, domain.ErrDeadlineExceeded)

	if outcome.Err == nil && len(outcome.DegradedStages) == 0 && !hasWarning(diag, warnAuthorityRelaxed) {
		uc.cacheSet(domain.StageCompliance, key, outcome.Results, uc.cfg.FinalTTL)
	}

	return uc.respond(ctx, qc, outcome.Results, topK, diag), nil
}

// fusedPool produces the bounded fusion pool, consulting the fusion and
// retrieval cache tiers before doing any real work. Returns
// domain.ErrNoCandidates when nothing matched at all.
func (uc *SearchUseCase) fusedPool(
	ctx context.Context,
	qc domain.QueryContext,
	key string,
	diag *domain.Diagnostics,
) ([]domain.SearchResult, error) {
	if cached, ok := uc.cacheGet(domain.StageFusion, key); ok {
		diag.CacheHits = append(diag.CacheHits, domain.StageFusion)
		diag.StageLatenciesMs[domain.StageRetrieval] = 0
		diag.StageLatenciesMs[domain.StageFusion] = 0
		uc.noteStrategies(diag, cached)
		if len(cached) == 0 {
			return nil, domain.ErrNoCandidates
		}
		return cached, nil
	}

	outcomes, fromCache := uc.retrieveAll(ctx, qc, key, diag)

	start := time.Now()
	fused := uc.fusion.Fuse(qc, outcomes)
	diag.StageLatenciesMs[domain.StageFusion] = float64(time.Since(start).Microseconds()) / 1000.0

	relaxedFilter := false
	if len(fused) == 0 && len(qc.Filters.Authorities) > 0 {
		// Soft authority filter: an allow-list that starves retrieval is
		// relaxed rather than honored into an empty answer.
		relaxed := qc
		relaxed.Filters.Authorities = nil
		diag.Warnings = append(diag.Warnings, warnAuthorityRelaxed)
		outcomes = uc.fanOut(ctx, relaxed, diag)
		fused = uc.fusion.Fuse(relaxed, outcomes)
		relaxedFilter = true
	}

	if len(fused) == 0 {
		return nil, domain.ErrNoCandidates
	}
	// A relaxed pool never enters the cache: its key still names the
	// original filters, and a later hit would answer without re-reporting
	// the relaxation.
	if !fromCache && !relaxedFilter {
		uc.cacheSet(domain.StageFusion, key, fused, uc.cfg.FusionTTL)
	}
	return fused, nil
}

// retrieveAll returns per-strategy outcomes, serving them from the
// retrieval cache tier when possible.
func (uc *SearchUseCase) retrieveAll(
	ctx context.Context,
	qc domain.QueryContext,
	key string,
	diag *domain.Diagnostics,
) ([]retrievalOutcome, bool) {
	if cached, ok := uc.cacheGet(domain.StageRetrieval, key); ok {
		diag.CacheHits = append(diag.CacheHits, domain.StageRetrieval)
		diag.StageLatenciesMs[domain.StageRetrieval] = 0
		outcomes := groupByStrategy(cached)
		uc.noteStrategies(diag, cached)
		return outcomes, true
	}

	outcomes := uc.fanOut(ctx, qc, diag)

	var flat []domain.SearchResult
	for _, outcome := range outcomes {
		flat = append(flat, outcome.Results...)
	}
	if len(flat) > 0 {
		uc.cacheSet(domain.StageRetrieval, key, flat, uc.cfg.RetrievalTTL)
	}
	return outcomes, false
}

func (uc *SearchUseCase) fanOut(ctx context.Context, qc domain.QueryContext, diag *domain.Diagnostics) []retrievalOutcome {
	input := RetrievalInput{Context: qc}

	vector, err := uc.embedder.EmbedQuery(ctx, qc.ExpandedText())
	if err != nil {
		// Dense and cluster strategies sit this request out; keyword and
		// metadata still serve it.
		slog.Warn("query_embedding_failed", "error", err)
		diag.Warnings = append(diag.Warnings, "embedding_unavailable")
	} else {
		input.QueryVector = vector
	}

	start := time.Now()
	outcomes := fanOutRetrieve(ctx, uc.retrievers, input, uc.cfg.RetrieverTopK, uc.cfg.RetrieverBudget)
	diag.StageLatenciesMs[domain.StageRetrieval] = float64(time.Since(start).Microseconds()) / 1000.0

	used := make([]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			diag.Warnings = append(diag.Warnings, "retriever_failed:"+string(outcome.Strategy))
			continue
		}
		used = append(used, string(outcome.Strategy))
	}
	sort.Strings(used)
	diag.StrategiesUsed = mergeStrings(diag.StrategiesUsed, used)

	return outcomes
}

// hydrate attaches read-only chunk references to results. Cache entries
// never hold chunk text, so this runs on every response path. A store
// failure leaves results unhydrated; later stages degrade accordingly.
func (uc *SearchUseCase) hydrate(ctx context.Context, results []domain.SearchResult, diag *domain.Diagnostics) []domain.SearchResult {
	if len(results) == 0 {
		return results
	}
	ids := make([]string, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.ChunkID)
	}

	chunks, err := uc.store.GetChunksByIDs(ctx, ids)
	if err != nil {
		slog.Warn("hydration_failed", "error", err)
		diag.Warnings = append(diag.Warnings, "hydration_unavailable")
		return results
	}

	byID := make(map[string]*domain.Chunk, len(chunks))
	for i := range chunks {
		byID[chunks[i].ID] = &chunks[i]
	}

	out := make([]domain.SearchResult, 0, len(results))
	for _, res := range results {
		chunk, ok := byID[res.ChunkID]
		if !ok {
			// The chunk vanished between indexing and now; drop it rather
			// than ground an answer on missing text.
			continue
		}
		res.Chunk = chunk
		if res.Authority == "" {
			res.Authority = chunk.Authority
		}
		if res.DocumentType == "" {
			res.DocumentType = chunk.DocumentType
		}
		if res.EffectiveDate.IsZero() {
			res.EffectiveDate = chunk.EffectiveDate
		}
		out = append(out, res)
	}
	return out
}

func (uc *SearchUseCase) respond(
	ctx context.Context,
	qc domain.QueryContext,
	results []domain.SearchResult,
	topK int,
	diag domain.Diagnostics,
) *domain.SearchResponse {
	results = trimResults(results, topK)

	// Results straight from the final cache tier still need text.
	needHydration := false
	for _, res := range results {
		if res.Chunk == nil {
			needHydration = true
			break
		}
	}
	if needHydration {
		results = uc.hydrate(ctx, results, &diag)
	}

	ranked := make([]domain.RankedResult, 0, len(results))
	for _, res := range results {
		item := domain.RankedResult{
			ChunkID:        res.ChunkID,
			DocumentID:     res.DocumentID,
			Authority:      res.Authority,
			Score:          res.Score,
			ScoreBreakdown: res.Breakdown,
		}
		if res.Chunk != nil {
			item.ExcerptText = excerptForIntent(qc.Intent, res.Chunk)
			item.CrossReferences = res.Chunk.CrossRefs
		}
		ranked = append(ranked, item)
	}

	return &domain.SearchResponse{Results: ranked, Diagnostics: diag}
}

func (uc *SearchUseCase) cacheGet(stage, key string) ([]domain.SearchResult, bool) {
	if uc.cache == nil {
		return nil, false
	}
	return uc.cache.Get(stage, key)
}

func (uc *SearchUseCase) cacheSet(stage, key string, results []domain.SearchResult, ttl time.Duration) {
	if uc.cache == nil || len(results) == 0 {
		return
	}
	// Strip hydrated references: cache entries carry ids and scores only.
	stripped := make([]domain.SearchResult, len(results))
	copy(stripped, results)
	for i := range stripped {
		stripped[i].Chunk = nil
	}
	uc.cache.Set(stage, key, stripped, ttl)
}

func (uc *SearchUseCase) noteStrategies(diag *domain.Diagnostics, results []domain.SearchResult) {
	seen := make(map[string]struct{}, 4)
	for _, res := range results {
		for _, strategy := range res.Strategies {
			seen[string(strategy)] = struct{}{}
		}
	}
	used := make([]string, 0, len(seen))
	for strategy := range seen {
		used = append(used, strategy)
	}
	sort.Strings(used)
	diag.StrategiesUsed = mergeStrings(diag.StrategiesUsed, used)
}

// groupByStrategy reconstructs per-retriever outcome lists from a flat
// cached retrieval tier entry, preserving stored order.
func groupByStrategy(results []domain.SearchResult) []retrievalOutcome {
	order := make([]domain.RetrievalStrategy, 0, 4)
	grouped := make(map[domain.RetrievalStrategy][]domain.SearchResult, 4)
	for _, res := range results {
		if len(res.Strategies) == 0 {
			continue
		}
		strategy := res.Strategies[0]
		if _, ok := grouped[strategy]; !ok {
			order = append(order, strategy)
		}
		grouped[strategy] = append(grouped[strategy], res)
	}

	outcomes := make([]retrievalOutcome, 0, len(order))
	for _, strategy := range order {
		outcomes = append(outcomes, retrievalOutcome{Strategy: strategy, Results: grouped[strategy]})
	}
	return outcomes
}

func mergeStrings(have, add []string) []string {
	seen := make(map[string]struct{}, len(have)+len(add))
	out := make([]string, 0, len(have)+len(add))
	for _, s := range append(have, add...) {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
