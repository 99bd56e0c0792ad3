package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadPipelineDefaults(t *testing.T) {
	t.Setenv("FUSION_STRATEGY", "")
	t.Setenv("FUSION_POOL_SIZE", "")
	t.Setenv("STAGE1_KEEP_TOP_N", "")
	t.Setenv("RETRIEVER_BUDGET", "")
	t.Setenv("REQUEST_BUDGET", "")

	cfg := Load()
	if cfg.FusionStrategy != "weighted" {
		t.Fatalf("expected default fusion strategy weighted, got %q", cfg.FusionStrategy)
	}
	if cfg.FusionPoolSize != 150 {
		t.Fatalf("expected default fusion pool 150, got %d", cfg.FusionPoolSize)
	}
	if cfg.Stage1KeepTopN != 50 || cfg.Stage2KeepTopN != 20 || cfg.Stage3KeepTopN != 10 {
		t.Fatalf("unexpected cascade keepTopN defaults: %d/%d/%d", cfg.Stage1KeepTopN, cfg.Stage2KeepTopN, cfg.Stage3KeepTopN)
	}
	if cfg.RetrieverBudget != 1500*time.Millisecond {
		t.Fatalf("expected retriever budget 1.5s, got %s", cfg.RetrieverBudget)
	}
	if cfg.RequestBudget != 3*time.Second {
		t.Fatalf("expected request budget 3s, got %s", cfg.RequestBudget)
	}
	if cfg.DiversityCap != 4 {
		t.Fatalf("expected diversity cap 4, got %d", cfg.DiversityCap)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("FUSION_STRATEGY", "rrf")
	t.Setenv("FUSION_RRF_K", "75")
	t.Setenv("STAGE3_KEEP_TOP_N", "12")
	t.Setenv("CACHE_RETRIEVAL_TTL", "30m")
	t.Setenv("REQUEST_BUDGET", "junk")

	cfg := Load()
	if cfg.FusionStrategy != "rrf" {
		t.Fatalf("expected fusion strategy override, got %q", cfg.FusionStrategy)
	}
	if cfg.FusionRRFK != 75 {
		t.Fatalf("expected rrf k 75, got %d", cfg.FusionRRFK)
	}
	if cfg.Stage3KeepTopN != 12 {
		t.Fatalf("expected stage3 keep 12, got %d", cfg.Stage3KeepTopN)
	}
	if cfg.CacheRetrievalTTL != 30*time.Minute {
		t.Fatalf("expected retrieval ttl 30m, got %s", cfg.CacheRetrievalTTL)
	}
	if cfg.RequestBudget != 3*time.Second {
		t.Fatalf("expected unparseable budget to fall back to 3s, got %s", cfg.RequestBudget)
	}
}

func TestDefaultRankingTableWeightsSumToOne(t *testing.T) {
	table := DefaultRankingTable()
	var sum float64
	for _, w := range table.BaseWeights {
		sum += w
	}
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("base weights should sum to 1, got %f", sum)
	}
	if table.DocumentTypeBoost["regulation"] <= table.DocumentTypeBoost["directive"] {
		t.Fatalf("regulation must outrank directive")
	}
	if table.DocumentTypeBoost["directive"] <= table.DocumentTypeBoost["guideline"] {
		t.Fatalf("directive must outrank guideline")
	}
	if table.DocumentTypeBoost["guideline"] <= table.DocumentTypeBoost["opinion"] {
		t.Fatalf("guideline must outrank opinion")
	}
}

func TestLoadRankingTableOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ranking.yaml")
	content := []byte("base_weights:\n  vector: 0.5\n  keyword: 0.5\ndiversity_bonus_cap: 0.2\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	table, err := LoadRankingTable(path)
	if err != nil {
		t.Fatalf("LoadRankingTable() error = %v", err)
	}
	if table.BaseWeights["vector"] != 0.5 {
		t.Fatalf("expected overridden vector weight, got %f", table.BaseWeights["vector"])
	}
	if table.DiversityBonusCap != 0.2 {
		t.Fatalf("expected overridden diversity cap, got %f", table.DiversityBonusCap)
	}
	// Untouched sections keep defaults.
	if table.AuthorityReputation["ECB"] != 1.20 {
		t.Fatalf("expected default ECB reputation, got %f", table.AuthorityReputation["ECB"])
	}
}

func TestLoadRankingTableMissingFileFails(t *testing.T) {
	if _, err := LoadRankingTable("/nonexistent/ranking.yaml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
