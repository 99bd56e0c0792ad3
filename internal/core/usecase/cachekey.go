package usecase

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/reglens/reglens/internal/core/domain"
)

// cacheKey hashes the normalized query text together with the active filter
// set. The pipeline stage name is supplied separately by the cache tier, so
// one request shares a key across tiers.
func cacheKey(query string, filters domain.Filters) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(normalizeQuery(query)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(canonicalFilters(filters)))
	return fmt.Sprintf("%016x", h.Sum64())
}

// normalizeQuery lowercases and collapses whitespace so trivially different
// spellings of the same question share cache entries.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func canonicalFilters(filters domain.Filters) string {
	var b strings.Builder

	b.WriteString("j=")
	b.WriteString(strings.ToUpper(filters.Jurisdiction))

	authorities := append([]string(nil), filters.Authorities...)
	sort.Strings(authorities)
	b.WriteString(";a=")
	b.WriteString(strings.Join(authorities, ","))

	types := make([]string, 0, len(filters.DocumentTypes))
	for _, t := range filters.DocumentTypes {
		types = append(types, string(t))
	}
	sort.Strings(types)
	b.WriteString(";t=")
	b.WriteString(strings.Join(types, ","))

	b.WriteString(";d=")
	if !filters.Dates.From.IsZero() {
		b.WriteString(filters.Dates.From.UTC().Format(time.RFC3339))
	}
	b.WriteString("..")
	if !filters.Dates.To.IsZero() {
		b.WriteString(filters.Dates.To.UTC().Format(time.RFC3339))
	}

	return b.String()
}
