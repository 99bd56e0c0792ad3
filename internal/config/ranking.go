package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RankingTable holds the structured scoring knobs that operators tune per
// deployment: fusion weights and their per-intent adjustments, authority
// reputation and jurisdiction priorities, and document-type boosts. Scalar
// pipeline settings stay in env; these tables are shaped data, so they load
// from YAML.
type RankingTable struct {
	// BaseWeights maps strategy name to its fusion weight.
	BaseWeights map[string]float64 `yaml:"base_weights"`

	// IntentAdjustments maps intent -> strategy -> additive delta applied to
	// the base weight before normalization.
	IntentAdjustments map[string]map[string]float64 `yaml:"intent_adjustments"`

	// AuthorityReputation is a multiplicative boost per issuing authority.
	AuthorityReputation map[string]float64 `yaml:"authority_reputation"`

	// AuthorityPriority maps jurisdiction -> authority -> priority used by
	// the compliance stage's jurisdiction-hierarchy pass.
	AuthorityPriority map[string]map[string]float64 `yaml:"authority_priority"`

	// DocumentTypeBoost ranks binding force: regulation over directive over
	// guideline over opinion.
	DocumentTypeBoost map[string]float64 `yaml:"document_type_boost"`

	// ScopeAuthorities groups authorities by supervisory scope (banking,
	// securities, insurance, monetary_policy).
	ScopeAuthorities map[string][]string `yaml:"scope_authorities"`

	DiversityBonusCap float64 `yaml:"diversity_bonus_cap"`
	RecencyBoostMax   float64 `yaml:"recency_boost_max"`
}

func DefaultRankingTable() RankingTable {
	return RankingTable{
		BaseWeights: map[string]float64{
			"vector":   0.4,
			"keyword":  0.3,
			"cluster":  0.2,
			"metadata": 0.1,
		},
		IntentAdjustments: map[string]map[string]float64{
			"definition":       {"keyword": 0.10, "vector": -0.10},
			"requirement":      {"keyword": 0.05, "metadata": 0.05},
			"calculation":      {"keyword": 0.20, "cluster": -0.10, "vector": -0.10},
			"cross_reference":  {"keyword": 0.15, "metadata": 0.05, "cluster": -0.10},
			"compliance_check": {"vector": 0.05, "metadata": 0.05},
			"temporal":         {"metadata": 0.15, "cluster": -0.05},
		},
		AuthorityReputation: map[string]float64{
			"EBA": 1.15, "ESMA": 1.15, "EIOPA": 1.10, "ECB": 1.20,
			"BAFIN": 1.05, "FCA": 1.05, "FINMA": 1.05, "ACPR": 1.05,
		},
		AuthorityPriority: map[string]map[string]float64{
			"EU": {"EBA": 1.0, "ESMA": 1.0, "EIOPA": 0.95, "ECB": 1.0, "BAFIN": 0.8, "FCA": 0.6, "FINMA": 0.6, "ACPR": 0.8},
			"DE": {"BAFIN": 1.0, "EBA": 0.9, "ECB": 0.9, "ESMA": 0.85, "EIOPA": 0.8},
			"UK": {"FCA": 1.0, "EBA": 0.7, "ESMA": 0.7},
			"CH": {"FINMA": 1.0, "EBA": 0.6, "ESMA": 0.6},
			"FR": {"ACPR": 1.0, "EBA": 0.9, "ECB": 0.9},
		},
		DocumentTypeBoost: map[string]float64{
			"regulation":   1.20,
			"directive":    1.12,
			"standard":     1.08,
			"guideline":    1.05,
			"opinion":      1.00,
			"consultation": 0.95,
		},
		ScopeAuthorities: map[string][]string{
			"banking":         {"EBA", "ECB", "BAFIN", "ACPR", "FINMA"},
			"securities":      {"ESMA", "FCA", "BAFIN"},
			"insurance":       {"EIOPA", "BAFIN", "ACPR"},
			"monetary_policy": {"ECB"},
		},
		DiversityBonusCap: 0.30,
		RecencyBoostMax:   0.15,
	}
}

// LoadRankingTable reads the YAML override file on top of the compiled-in
// defaults. An empty path returns the defaults unchanged.
func LoadRankingTable(path string) (RankingTable, error) {
	table := DefaultRankingTable()
	if path == "" {
		return table, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return table, fmt.Errorf("read ranking table: %w", err)
	}

	var override RankingTable
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return table, fmt.Errorf("parse ranking table: %w", err)
	}

	table.merge(override)
	return table, nil
}

func (t *RankingTable) merge(o RankingTable) {
	if len(o.BaseWeights) > 0 {
		t.BaseWeights = o.BaseWeights
	}
	if len(o.IntentAdjustments) > 0 {
		t.IntentAdjustments = o.IntentAdjustments
	}
	if len(o.AuthorityReputation) > 0 {
		t.AuthorityReputation = o.AuthorityReputation
	}
	if len(o.AuthorityPriority) > 0 {
		t.AuthorityPriority = o.AuthorityPriority
	}
	if len(o.DocumentTypeBoost) > 0 {
		t.DocumentTypeBoost = o.DocumentTypeBoost
	}
	if len(o.ScopeAuthorities) > 0 {
		t.ScopeAuthorities = o.ScopeAuthorities
	}
	if o.DiversityBonusCap > 0 {
		t.DiversityBonusCap = o.DiversityBonusCap
	}
	if o.RecencyBoostMax > 0 {
		t.RecencyBoostMax = o.RecencyBoostMax
	}
}
