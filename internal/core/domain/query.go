package domain

import "time"

type QueryIntent string

const (
	IntentDefinition      QueryIntent = "definition"
	IntentRequirement     QueryIntent = "requirement"
	IntentCalculation     QueryIntent = "calculation"
	IntentCrossReference  QueryIntent = "cross_reference"
	IntentComplianceCheck QueryIntent = "compliance_check"
	IntentTemporal        QueryIntent = "temporal"
	IntentGeneral         QueryIntent = "general"
)

// DateRange filters by effective date. Zero bounds are open.
type DateRange struct {
	From time.Time `json:"from,omitzero"`
	To   time.Time `json:"to,omitzero"`
}

func (r DateRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Filters is the caller-supplied narrowing of the search space. Authorities
// is advisory: when it starves retrieval the engine relaxes it and says so
// in diagnostics rather than returning nothing.
type Filters struct {
	Jurisdiction  string         `json:"jurisdiction,omitempty"`
	Authorities   []string       `json:"authorities,omitempty"`
	DocumentTypes []DocumentType `json:"document_types,omitempty"`
	Dates         DateRange      `json:"dates,omitzero"`
}

// LegalReference is a parsed citation such as "Article 15(3)(a)".
type LegalReference struct {
	Kind      string `json:"kind"` // article, section, paragraph, annex
	Number    string `json:"number"`
	Subdivide string `json:"subdivide,omitempty"` // "(3)(a)" suffix, verbatim
	Raw       string `json:"raw"`
}

// QueryContext is derived once per request by the query processor and is
// read-only afterwards.
type QueryContext struct {
	Raw           string           `json:"raw"`
	Expanded      []string         `json:"expanded"`
	Intent        QueryIntent      `json:"intent"`
	Authorities   []string         `json:"authorities,omitempty"`
	Jurisdiction  string           `json:"jurisdiction,omitempty"`
	References    []LegalReference `json:"references,omitempty"`
	TemporalHints []string         `json:"temporal_hints,omitempty"`
	Filters       Filters          `json:"filters,omitzero"`
}

// ExpandedText joins the original query with its expansions for embedding
// and lexical matching. The raw terms always come first.
func (qc QueryContext) ExpandedText() string {
	if len(qc.Expanded) == 0 {
		return qc.Raw
	}
	out := qc.Raw
	for _, term := range qc.Expanded {
		out += " " + term
	}
	return out
}
