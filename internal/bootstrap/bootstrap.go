package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/reglens/reglens/internal/config"
	"github.com/reglens/reglens/internal/core/domain"
	"github.com/reglens/reglens/internal/core/ports"
	"github.com/reglens/reglens/internal/core/usecase"
	"github.com/reglens/reglens/internal/infrastructure/cache"
	ollamaembed "github.com/reglens/reglens/internal/infrastructure/embedding/ollama"
	neo4jgraph "github.com/reglens/reglens/internal/infrastructure/graph/neo4j"
	"github.com/reglens/reglens/internal/infrastructure/queue/nats"
	"github.com/reglens/reglens/internal/infrastructure/repository/postgres"
	"github.com/reglens/reglens/internal/infrastructure/resilience"
	"github.com/reglens/reglens/internal/infrastructure/scoring/crossencoder"
	"github.com/reglens/reglens/internal/infrastructure/vector/qdrant"
	"github.com/reglens/reglens/internal/observability/metrics"
)

const serviceName = "reglens"

type App struct {
	Config  config.Config
	Metrics *metrics.EngineMetrics

	Searcher ports.Searcher
	Cache    ports.ResultCache
	Events   ports.DocumentEvents

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	chunks := postgres.NewChunkRepository(db)
	if err := chunks.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	graph, err := neo4jgraph.New(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		return nil, fmt.Errorf("init citation graph: %w", err)
	}

	// One executor per backend class: a tripped scoring breaker must not
	// shadow retrieval, and event publishing keeps its relaxed budget.
	retrievalExec := resilience.NewExecutor(resilience.RetrievalConfig())
	scoringExec := resilience.NewExecutor(resilience.ScoringConfig())
	controlExec := resilience.NewExecutor(resilience.DefaultConfig())

	events, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: controlExec,
	})
	if err != nil {
		return nil, fmt.Errorf("init document events: %w", err)
	}

	table, err := config.LoadRankingTable(cfg.RankingTablePath)
	if err != nil {
		// The compiled-in defaults are always usable; a broken override
		// file should not keep the engine down.
		slog.Warn("ranking_table_load_failed", "path", cfg.RankingTablePath, "error", err)
	}
	policy := rankingPolicyFromTable(table)

	embedder := ollamaembed.New(cfg.EmbedURL, cfg.EmbedModel, retrievalExec)
	embedIndex := qdrant.NewIndex(cfg.QdrantURL, cfg.QdrantChunkCollection)
	clusterIndex := qdrant.NewClusterIndex(cfg.QdrantURL, cfg.QdrantClusterCollection, cfg.ClusterSnapshot)

	retrievers := []usecase.Retriever{
		usecase.NewVectorRetriever(embedIndex, chunks, cfg.EmbedModel),
		usecase.NewKeywordRetriever(embedIndex),
		usecase.NewClusterRetriever(clusterIndex),
		usecase.NewMetadataRetriever(chunks),
	}

	fusion := usecase.NewFusionEngine(policy, usecase.FusionStrategy(cfg.FusionStrategy), cfg.FusionRRFK, cfg.FusionPoolSize)

	fastModel := crossencoder.New(cfg.CrossEncoderURL, cfg.CrossEncoderModel, scoringExec)
	fast := usecase.NewFastReranker(fastModel, policy, cfg.ScoringBatch)
	deep := usecase.NewDeepReranker(parseEnsemble(cfg, scoringExec), graph, cfg.ScoringBatch)
	compliance := usecase.NewComplianceReranker(policy, cfg.DiversityCap)

	resultCache := cache.New(cfg.CacheMaxEntries)

	searcher := usecase.NewSearchUseCase(
		embedder,
		chunks,
		resultCache,
		retrievers,
		fusion,
		fast,
		deep,
		compliance,
		usecase.SearchConfig{
			RetrieverTopK:   cfg.RetrieverTopK,
			RetrieverBudget: cfg.RetrieverBudget,
			RequestBudget:   cfg.RequestBudget,
			Stage1KeepTopN:  cfg.Stage1KeepTopN,
			Stage2KeepTopN:  cfg.Stage2KeepTopN,
			Stage3KeepTopN:  cfg.Stage3KeepTopN,
			RetrievalTTL:    cfg.CacheRetrievalTTL,
			FusionTTL:       cfg.CacheFusionTTL,
			FinalTTL:        cfg.CacheFinalTTL,
		},
	)

	return &App{
		Config:   cfg,
		Metrics:  metrics.NewEngineMetrics(serviceName),
		Searcher: searcher,
		Cache:    resultCache,
		Events:   events,

		closeFn: func() {
			events.Close()
			_ = graph.Close(context.Background())
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// RunInvalidation consumes document-update events and drops the affected
// cache entries. Blocks until ctx is done.
func (a *App) RunInvalidation(ctx context.Context) error {
	return a.Events.SubscribeDocumentUpdated(ctx, func(_ context.Context, documentID string) error {
		removed := a.Cache.InvalidateDocument(documentID)
		a.Metrics.RecordInvalidation(serviceName, removed)
		slog.Info("cache_invalidated", "document_id", documentID, "entries_removed", removed)
		return nil
	})
}

// parseEnsemble resolves the deep stage's model set from "name=weight"
// pairs. Unparseable pairs are dropped with a warning; an empty result falls
// back to the fast cross-encoder at full weight so the stage stays alive.
func parseEnsemble(cfg config.Config, executor *resilience.Executor) []usecase.EnsembleMember {
	var members []usecase.EnsembleMember
	for _, pair := range strings.Split(cfg.EnsembleConfig, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, rawWeight, ok := strings.Cut(pair, "=")
		if !ok {
			slog.Warn("ensemble_pair_invalid", "pair", pair)
			continue
		}
		weight, err := strconv.ParseFloat(strings.TrimSpace(rawWeight), 64)
		if err != nil || weight <= 0 {
			slog.Warn("ensemble_weight_invalid", "pair", pair, "error", err)
			continue
		}
		members = append(members, usecase.EnsembleMember{
			Model:  crossencoder.New(cfg.CrossEncoderURL, strings.TrimSpace(name), executor),
			Weight: weight,
		})
	}
	if len(members) == 0 {
		members = append(members, usecase.EnsembleMember{
			Model:  crossencoder.New(cfg.CrossEncoderURL, cfg.CrossEncoderModel, executor),
			Weight: 1,
		})
	}
	return members
}

func rankingPolicyFromTable(table config.RankingTable) usecase.RankingPolicy {
	policy := usecase.RankingPolicy{
		BaseWeights:         make(map[domain.RetrievalStrategy]float64, len(table.BaseWeights)),
		IntentAdjustments:   make(map[domain.QueryIntent]map[domain.RetrievalStrategy]float64, len(table.IntentAdjustments)),
		AuthorityReputation: table.AuthorityReputation,
		AuthorityPriority:   table.AuthorityPriority,
		DocumentTypeBoost:   make(map[domain.DocumentType]float64, len(table.DocumentTypeBoost)),
		ScopeAuthorities:    table.ScopeAuthorities,
		DiversityBonusCap:   table.DiversityBonusCap,
		RecencyBoostMax:     table.RecencyBoostMax,
	}
	for strategy, weight := range table.BaseWeights {
		policy.BaseWeights[domain.RetrievalStrategy(strategy)] = weight
	}
	for intent, adjustments := range table.IntentAdjustments {
		mapped := make(map[domain.RetrievalStrategy]float64, len(adjustments))
		for strategy, delta := range adjustments {
			mapped[domain.RetrievalStrategy(strategy)] = delta
		}
		policy.IntentAdjustments[domain.QueryIntent(intent)] = mapped
	}
	for docType, boost := range table.DocumentTypeBoost {
		policy.DocumentTypeBoost[domain.DocumentType(docType)] = boost
	}
	return policy
}
