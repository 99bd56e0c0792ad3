package usecase

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/reglens/reglens/internal/core/domain"
)

// authorityCodes is the fixed list of recognized issuing authorities and the
// aliases queries use for them.
var authorityCodes = map[string][]string{
	"EBA":   {"eba", "european banking authority"},
	"ESMA":  {"esma", "european securities and markets authority"},
	"EIOPA": {"eiopa", "european insurance and occupational pensions authority"},
	"ECB":   {"ecb", "european central bank"},
	"BAFIN": {"bafin", "federal financial supervisory authority"},
	"FCA":   {"fca", "financial conduct authority"},
	"FINMA": {"finma", "swiss financial market supervisory authority"},
	"ACPR":  {"acpr"},
}

var authorityHomeJurisdiction = map[string]string{
	"EBA": "EU", "ESMA": "EU", "EIOPA": "EU", "ECB": "EU",
	"BAFIN": "DE", "FCA": "UK", "FINMA": "CH", "ACPR": "FR",
}

// domainSynonyms expands compliance vocabulary. Original terms are never
// dropped; expansions are appended.
var domainSynonyms = map[string][]string{
	"capital requirement": {"capital adequacy", "capital buffer", "own funds requirement"},
	"own funds":           {"capital resources", "regulatory capital"},
	"liquidity":           {"liquidity coverage ratio", "lcr", "net stable funding ratio"},
	"leverage":            {"leverage ratio", "exposure measure"},
	"reporting":           {"supervisory reporting", "disclosure"},
	"outsourcing":         {"third-party arrangements", "service provider"},
	"remuneration":        {"compensation", "variable pay"},
	"governance":          {"internal governance", "management body"},
	"threshold":           {"limit", "minimum level"},
	"large exposure":      {"concentration risk", "exposure limit"},
}

var intentCues = []struct {
	intent domain.QueryIntent
	cues   []string
}{
	{domain.IntentCalculation, []string{"formula", "compute", "calculate", "calculation", "how much", "ratio of"}},
	{domain.IntentDefinition, []string{"define", "definition", "what is", "what are", "meaning of", "means"}},
	{domain.IntentComplianceCheck, []string{"compliant", "compliance with", "in breach", "violate", "permitted", "allowed to"}},
	{domain.IntentTemporal, []string{"when", "deadline", "effective date", "entry into force", "by when", "transition period"}},
	{domain.IntentRequirement, []string{"shall", "must", "required", "requirement", "obligation", "obliged"}},
}

var (
	legalRefPattern = regexp.MustCompile(`(?i)\b(article|section|paragraph|annex|chapter)\s+(\d+[a-z]?)((?:\(\d+\)|\([a-z]\))*)`)
	temporalPattern = regexp.MustCompile(`(?i)\b(20\d{2}|19\d{2})\b|\b(?:q[1-4]\s*20\d{2})\b`)
)

// BuildQueryContext classifies and enriches a raw compliance query. It is
// pure string work: no store or network access happens here, so empty-query
// rejection is guaranteed to precede any I/O.
func BuildQueryContext(raw string, filters domain.Filters) (domain.QueryContext, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return domain.QueryContext{}, fmt.Errorf("build query context: %w: empty query", domain.ErrInvalidQuery)
	}

	lower := strings.ToLower(trimmed)

	qc := domain.QueryContext{
		Raw:     trimmed,
		Filters: filters,
		Intent:  classifyIntent(lower),
	}
	qc.Authorities = detectAuthorities(lower)
	qc.Jurisdiction = resolveJurisdiction(filters.Jurisdiction, qc.Authorities)
	qc.References = extractLegalReferences(trimmed)
	qc.TemporalHints = temporalPattern.FindAllString(lower, -1)
	qc.Expanded = expandTerms(lower)

	// Cross-reference cues override keyword-based intent: an explicit
	// citation is the strongest signal of what the user wants.
	if len(qc.References) > 0 && qc.Intent == domain.IntentGeneral {
		qc.Intent = domain.IntentCrossReference
	}

	return qc, nil
}

func classifyIntent(lower string) domain.QueryIntent {
	for _, group := range intentCues {
		for _, cue := range group.cues {
			if strings.Contains(lower, cue) {
				return group.intent
			}
		}
	}
	if legalRefPattern.MatchString(lower) {
		return domain.IntentCrossReference
	}
	return domain.IntentGeneral
}

func detectAuthorities(lower string) []string {
	found := make([]string, 0, 2)
	for code, aliases := range authorityCodes {
		for _, alias := range aliases {
			if containsWord(lower, alias) {
				found = append(found, code)
				break
			}
		}
	}
	sort.Strings(found)
	if len(found) == 0 {
		return nil
	}
	return found
}

// containsWord matches an alias on token boundaries so "ecb" does not fire
// inside unrelated words.
func containsWord(haystack, alias string) bool {
	idx := 0
	for {
		pos := strings.Index(haystack[idx:], alias)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(alias)
		beforeOK := start == 0 || !isWordByte(haystack[start-1])
		afterOK := end == len(haystack) || !isWordByte(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

func resolveJurisdiction(explicit string, authorities []string) string {
	if explicit != "" {
		return strings.ToUpper(explicit)
	}
	for _, code := range authorities {
		if j, ok := authorityHomeJurisdiction[code]; ok {
			return j
		}
	}
	return ""
}

func extractLegalReferences(text string) []domain.LegalReference {
	matches := legalRefPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	refs := make([]domain.LegalReference, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		ref := domain.LegalReference{
			Kind:      strings.ToLower(m[1]),
			Number:    strings.ToLower(m[2]),
			Subdivide: m[3],
			Raw:       m[0],
		}
		key := ref.Kind + " " + ref.Number + ref.Subdivide
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}

func expandTerms(lower string) []string {
	var expanded []string
	keys := make([]string, 0, len(domainSynonyms))
	for key := range domainSynonyms {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if strings.Contains(lower, key) {
			expanded = append(expanded, domainSynonyms[key]...)
		}
	}
	return expanded
}
