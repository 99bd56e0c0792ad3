package usecase

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/reglens/reglens/internal/core/domain"
)

type regulatoryImportance int

const (
	importanceBackground regulatoryImportance = iota
	importanceExample
	importanceGuidance
	importanceRecommended
	importanceMandatory
)

type urgencyBucket int

const (
	urgencyNone urgencyBucket = iota
	urgencyLow
	urgencyMedium
	urgencyHigh
)

var (
	mandatoryPattern   = regexp.MustCompile(`\b(?:shall|must|is required to|are required to|shall not|may not)\b`)
	recommendedPattern = regexp.MustCompile(`\b(?:should|is expected to|are expected to|recommended)\b`)
	guidancePattern    = regexp.MustCompile(`\b(?:guidance|guidelines|may consider|good practice)\b`)
	examplePattern     = regexp.MustCompile(`\b(?:for example|for instance|e\.g\.|illustration)\b`)
	conditionalPattern = regexp.MustCompile(`\b(?:provided that|unless|subject to|except where|insofar as|where applicable)\b`)
)

// ComplianceReranker is the final cascade stage. It reclassifies each
// survivor's regulatory importance and urgency, prices in penalty risk and
// drafting complexity, reweights by the jurisdiction hierarchy for the
// query's supervisory scope, and finally applies the per-authority
// diversity cap — demoting, never discarding, the excess.
type ComplianceReranker struct {
	policy       RankingPolicy
	diversityCap int
	now          func() time.Time
}

func NewComplianceReranker(policy RankingPolicy, diversityCap int) *ComplianceReranker {
	if diversityCap <= 0 {
		diversityCap = 4
	}
	return &ComplianceReranker{policy: policy, diversityCap: diversityCap, now: time.Now}
}

func (s *ComplianceReranker) Name() string { return domain.StageCompliance }

func (s *ComplianceReranker) Rerank(
	_ context.Context,
	qc domain.QueryContext,
	candidates []domain.SearchResult,
	keepTopN int,
) ([]domain.SearchResult, error) {
	scope := queryScope(qc, s.policy.ScopeAuthorities)
	now := s.now()

	next := make([]domain.SearchResult, len(candidates))
	for i, cand := range candidates {
		res := cand
		multiplier := 1.0

		if cand.Chunk != nil {
			text := cand.Chunk.Text
			multiplier *= importanceMultiplier(classifyImportance(*cand.Chunk))
			multiplier *= urgencyMultiplier(classifyUrgency(text, cand.Chunk.EffectiveDate, now))
			multiplier += penaltyRisk(text)
			multiplier -= complexityPenalty(*cand.Chunk)
		}
		multiplier *= s.jurisdictionWeight(qc, scope, cand.Authority)

		if multiplier < 0.1 {
			multiplier = 0.1
		}
		res.Breakdown.Compliance = multiplier
		res.Score = cand.Score * multiplier
		next[i] = res
	}

	sortByScoreThenID(next)
	next = s.applyDiversityCap(next)

	return trimResults(next, keepTopN), nil
}

func classifyImportance(chunk domain.Chunk) regulatoryImportance {
	text := strings.ToLower(chunk.Text)
	switch {
	case chunk.Type == domain.ChunkRequirement || mandatoryPattern.MatchString(text):
		return importanceMandatory
	case recommendedPattern.MatchString(text):
		return importanceRecommended
	case guidancePattern.MatchString(text):
		return importanceGuidance
	case examplePattern.MatchString(text):
		return importanceExample
	default:
		return importanceBackground
	}
}

func importanceMultiplier(importance regulatoryImportance) float64 {
	switch importance {
	case importanceMandatory:
		return 1.25
	case importanceRecommended:
		return 1.12
	case importanceGuidance:
		return 1.05
	case importanceExample:
		return 0.95
	default:
		return 0.90
	}
}

// classifyUrgency maps deadline proximity in the text to an ordinal bucket.
// Explicit deadline language with a near effective date is the hottest case.
func classifyUrgency(text string, effective time.Time, now time.Time) urgencyBucket {
	lower := strings.ToLower(text)
	hasDeadline := deadlinePattern.MatchString(lower)
	if !hasDeadline {
		return urgencyNone
	}
	if effective.IsZero() {
		return urgencyLow
	}

	until := effective.Sub(now)
	switch {
	case until > 0 && until < 90*24*time.Hour:
		return urgencyHigh
	case until > 0 && until < 365*24*time.Hour:
		return urgencyMedium
	default:
		return urgencyLow
	}
}

func urgencyMultiplier(urgency urgencyBucket) float64 {
	switch urgency {
	case urgencyHigh:
		return 1.15
	case urgencyMedium:
		return 1.08
	case urgencyLow:
		return 1.03
	default:
		return 1.0
	}
}

// penaltyRisk adds weight when sanction or breach language is present: text
// that prices non-compliance matters to a compliance answer.
func penaltyRisk(text string) float64 {
	hits := countMatches(sanctionPattern, strings.ToLower(text))
	if hits == 0 {
		return 0
	}
	if hits > 3 {
		hits = 3
	}
	return 0.03 * float64(hits)
}

// complexityPenalty subtracts for heavy conditional drafting, dense
// cross-referencing and sheer length, all of which make a chunk a worse
// grounding excerpt.
func complexityPenalty(chunk domain.Chunk) float64 {
	penalty := 0.0

	conditionals := countMatches(conditionalPattern, strings.ToLower(chunk.Text))
	if conditionals > 2 {
		penalty += 0.02 * float64(conditionals-2)
	}
	if len(chunk.CrossRefs) > 5 {
		penalty += 0.02 * float64(len(chunk.CrossRefs)-5)
	}
	if len(chunk.Text) > 4000 {
		penalty += 0.03
	}

	if penalty > 0.15 {
		penalty = 0.15
	}
	return penalty
}

func (s *ComplianceReranker) jurisdictionWeight(qc domain.QueryContext, scope, authority string) float64 {
	if authority == "" {
		return 1.0
	}
	weight := 1.0

	if qc.Jurisdiction != "" {
		if priorities, ok := s.policy.AuthorityPriority[qc.Jurisdiction]; ok {
			if priority, ok := priorities[authority]; ok {
				weight *= 0.8 + 0.4*priority
			} else {
				weight *= 0.85
			}
		}
	}

	if scope != "" {
		if authorityInScope(s.policy.ScopeAuthorities[scope], authority) {
			weight *= 1.10
		}
	}
	return weight
}

// queryScope resolves the supervisory scope (banking, securities,
// insurance, monetary_policy) from detected authorities first, query
// wording second.
func queryScope(qc domain.QueryContext, scopeAuthorities map[string][]string) string {
	scopes := make([]string, 0, len(scopeAuthorities))
	for scope := range scopeAuthorities {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)

	for _, scope := range scopes {
		for _, code := range qc.Authorities {
			if authorityInScope(scopeAuthorities[scope], code) {
				return scope
			}
		}
	}

	lower := strings.ToLower(qc.Raw)
	switch {
	case strings.Contains(lower, "insurance") || strings.Contains(lower, "solvency"):
		return "insurance"
	case strings.Contains(lower, "securities") || strings.Contains(lower, "markets") || strings.Contains(lower, "mifid"):
		return "securities"
	case strings.Contains(lower, "monetary"):
		return "monetary_policy"
	case strings.Contains(lower, "bank") || strings.Contains(lower, "capital") || strings.Contains(lower, "credit institution"):
		return "banking"
	default:
		return ""
	}
}

func authorityInScope(scoped []string, authority string) bool {
	for _, code := range scoped {
		if code == authority {
			return true
		}
	}
	return false
}

// applyDiversityCap reorders a score-sorted list so no authority holds more
// than the cap ahead of lower-scored candidates from elsewhere. Results past
// an authority's cap are demoted and moved behind every cap-respecting
// candidate; they only re-enter the head of the list when too few
// cap-respecting candidates exist to fill it. Nothing is discarded here.
func (s *ComplianceReranker) applyDiversityCap(results []domain.SearchResult) []domain.SearchResult {
	const demotionFactor = 0.85

	counts := make(map[string]int, len(results))
	kept := make([]domain.SearchResult, 0, len(results))
	var demoted []domain.SearchResult
	for _, res := range results {
		authority := res.Authority
		if authority == "" || counts[authority] < s.diversityCap {
			if authority != "" {
				counts[authority]++
			}
			kept = append(kept, res)
			continue
		}
		res.Score *= demotionFactor
		demoted = append(demoted, res)
	}
	sortByScoreThenID(demoted)
	return append(kept, demoted...)
}

func sortByScoreThenID(results []domain.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}
