package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/reglens/reglens/internal/core/domain"
)

const keySeparator = "\x1f"

// TieredCache memoizes ranked id lists per pipeline stage. Each stage gets
// its own expirable LRU; the TTL a stage is first written with becomes that
// tier's TTL. Entries never hold chunk text, so a cache hit is always
// re-hydrated from the chunk store.
//
// A side index maps document ids to the keys whose entries mention them,
// which makes document-update invalidation a direct lookup instead of a
// scan.
type TieredCache struct {
	maxEntries int

	tierMu sync.Mutex
	tiers  map[string]*expirable.LRU[string, []domain.SearchResult]

	idxMu sync.Mutex
	byDoc map[string]map[string]struct{}
	byKey map[string][]string
}

func New(maxEntries int) *TieredCache {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &TieredCache{
		maxEntries: maxEntries,
		tiers:      make(map[string]*expirable.LRU[string, []domain.SearchResult]),
		byDoc:      make(map[string]map[string]struct{}),
		byKey:      make(map[string][]string),
	}
}

func (c *TieredCache) Get(stage, key string) ([]domain.SearchResult, bool) {
	c.tierMu.Lock()
	tier := c.tiers[stage]
	c.tierMu.Unlock()
	if tier == nil {
		return nil, false
	}

	results, ok := tier.Get(key)
	if !ok {
		return nil, false
	}
	out := make([]domain.SearchResult, len(results))
	copy(out, results)
	return out, true
}

func (c *TieredCache) Set(stage, key string, results []domain.SearchResult, ttl time.Duration) {
	stored := make([]domain.SearchResult, len(results))
	copy(stored, results)
	for i := range stored {
		stored[i].Chunk = nil
	}

	c.tier(stage, ttl).Add(key, stored)
	c.indexEntry(stage, key, stored)
}

// InvalidateDocument drops every cached entry that mentions the document,
// across all tiers, and reports how many entries it removed.
func (c *TieredCache) InvalidateDocument(documentID string) int {
	c.idxMu.Lock()
	composites := make([]string, 0, len(c.byDoc[documentID]))
	for composite := range c.byDoc[documentID] {
		composites = append(composites, composite)
	}
	c.idxMu.Unlock()

	removed := 0
	for _, composite := range composites {
		stage, key, ok := strings.Cut(composite, keySeparator)
		if !ok {
			continue
		}
		c.tierMu.Lock()
		tier := c.tiers[stage]
		c.tierMu.Unlock()
		if tier != nil && tier.Remove(key) {
			removed++
		}
	}
	return removed
}

func (c *TieredCache) tier(stage string, ttl time.Duration) *expirable.LRU[string, []domain.SearchResult] {
	c.tierMu.Lock()
	defer c.tierMu.Unlock()

	if tier, ok := c.tiers[stage]; ok {
		return tier
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	tier := expirable.NewLRU[string, []domain.SearchResult](c.maxEntries, c.unindexEntry(stage), ttl)
	c.tiers[stage] = tier
	return tier
}

func (c *TieredCache) indexEntry(stage, key string, results []domain.SearchResult) {
	composite := stage + keySeparator + key

	seen := make(map[string]struct{}, len(results))
	docIDs := make([]string, 0, len(results))
	for _, result := range results {
		if result.DocumentID == "" {
			continue
		}
		if _, ok := seen[result.DocumentID]; ok {
			continue
		}
		seen[result.DocumentID] = struct{}{}
		docIDs = append(docIDs, result.DocumentID)
	}

	c.idxMu.Lock()
	defer c.idxMu.Unlock()
	for _, docID := range docIDs {
		if c.byDoc[docID] == nil {
			c.byDoc[docID] = make(map[string]struct{})
		}
		c.byDoc[docID][composite] = struct{}{}
	}
	c.byKey[composite] = docIDs
}

// unindexEntry runs on eviction and explicit removal, keeping the document
// index aligned with what the tiers actually hold.
func (c *TieredCache) unindexEntry(stage string) func(string, []domain.SearchResult) {
	return func(key string, _ []domain.SearchResult) {
		composite := stage + keySeparator + key

		c.idxMu.Lock()
		defer c.idxMu.Unlock()
		for _, docID := range c.byKey[composite] {
			delete(c.byDoc[docID], composite)
			if len(c.byDoc[docID]) == 0 {
				delete(c.byDoc, docID)
			}
		}
		delete(c.byKey, composite)
	}
}
