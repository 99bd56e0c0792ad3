package qdrant

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/reglens/reglens/internal/core/ports"
)

// ClusterIndex reads the precomputed cluster layer: one centroid point per
// topic, authority or temporal cluster, plus member points tagged with their
// cluster id and intra-cluster relevance. The offline clustering job writes
// a full new generation under a fresh snapshot id and flips the collection's
// "current_snapshot" marker point last, so readers never see a half-written
// generation.
type ClusterIndex struct {
	baseURL    string
	collection string
	httpClient *http.Client

	pinned string

	mu       sync.Mutex
	snapshot string
	loadedAt time.Time
	ttl      time.Duration
}

// NewClusterIndex builds the reader. An empty or "latest" snapshot follows
// the collection's marker point; any other value pins every query to that
// generation, which is how an operator rolls back a bad clustering run
// without touching the collection.
func NewClusterIndex(baseURL, collection, snapshot string) *ClusterIndex {
	pinned := strings.TrimSpace(snapshot)
	if strings.EqualFold(pinned, "latest") {
		pinned = ""
	}
	return &ClusterIndex{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		pinned:     pinned,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		ttl:        time.Minute,
	}
}

// Snapshot returns the snapshot id queries run against: the pinned one, or
// the last resolved marker (empty until the first query resolves it).
func (c *ClusterIndex) Snapshot() string {
	if c.pinned != "" {
		return c.pinned
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

func (c *ClusterIndex) NearestClusters(ctx context.Context, queryVector []float32, k int) ([]ports.ClusterMatch, error) {
	snapshot, err := c.currentSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	reqBody := map[string]any{
		"query":        queryVector,
		"using":        denseVectorName,
		"limit":        k,
		"with_payload": true,
	}
	addFilterMust(reqBody, matchClause("role", "centroid"))
	addFilterMust(reqBody, matchClause("snapshot", snapshot))

	points, err := queryPoints(ctx, c.httpClient, c.baseURL, c.collection, reqBody)
	if err != nil {
		return nil, fmt.Errorf("nearest centroids: %w", err)
	}

	out := make([]ports.ClusterMatch, 0, len(points))
	for _, p := range points {
		clusterID := getStringPayload(p.Payload, "cluster_id")
		if clusterID == "" {
			continue
		}
		out = append(out, ports.ClusterMatch{
			ClusterID:  clusterID,
			Kind:       getStringPayload(p.Payload, "kind"),
			Confidence: p.Score,
		})
	}
	return out, nil
}

func (c *ClusterIndex) ClusterMembers(ctx context.Context, clusterID string) ([]ports.ScoredChunkRef, error) {
	snapshot, err := c.currentSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	// Members are fetched by filter, not similarity; scroll preserves the
	// precomputed relevance stored in the payload.
	reqBody := map[string]any{
		"limit":        256,
		"with_payload": true,
	}
	addFilterMust(reqBody, matchClause("role", "member"))
	addFilterMust(reqBody, matchClause("cluster_id", clusterID))
	addFilterMust(reqBody, matchClause("snapshot", snapshot))

	points, err := c.scrollPoints(ctx, reqBody)
	if err != nil {
		return nil, fmt.Errorf("cluster members %s: %w", clusterID, err)
	}

	refs := make([]ports.ScoredChunkRef, 0, len(points))
	for _, p := range points {
		converted := pointsToRefs([]queryPoint{p})
		if len(converted) == 0 {
			continue
		}
		ref := converted[0]
		ref.Score = getFloatPayload(p.Payload, "relevance")
		refs = append(refs, ref)
	}
	return refs, nil
}

// currentSnapshot resolves the active snapshot id from the marker point,
// caching it briefly so the four-retriever fan-out does not hammer the
// collection. A request keeps whatever snapshot it resolved first. A pinned
// index never consults the marker.
func (c *ClusterIndex) currentSnapshot(ctx context.Context) (string, error) {
	if c.pinned != "" {
		return c.pinned, nil
	}
	c.mu.Lock()
	if c.snapshot != "" && time.Since(c.loadedAt) < c.ttl {
		snapshot := c.snapshot
		c.mu.Unlock()
		return snapshot, nil
	}
	c.mu.Unlock()

	reqBody := map[string]any{
		"limit":        1,
		"with_payload": true,
	}
	addFilterMust(reqBody, matchClause("role", "current_snapshot"))

	points, err := c.scrollPoints(ctx, reqBody)
	if err != nil {
		return "", fmt.Errorf("resolve snapshot: %w", err)
	}
	if len(points) == 0 {
		return "", fmt.Errorf("resolve snapshot: no marker point in %s", c.collection)
	}
	snapshot := getStringPayload(points[0].Payload, "snapshot")
	if snapshot == "" {
		return "", fmt.Errorf("resolve snapshot: marker point carries no snapshot id")
	}

	c.mu.Lock()
	c.snapshot = snapshot
	c.loadedAt = time.Now()
	c.mu.Unlock()
	return snapshot, nil
}

func (c *ClusterIndex) scrollPoints(ctx context.Context, reqBody map[string]any) ([]queryPoint, error) {
	scrollBody := map[string]any{
		"limit":        reqBody["limit"],
		"with_payload": true,
	}
	if filter, ok := reqBody["filter"]; ok {
		scrollBody["filter"] = filter
	}

	points, err := scroll(ctx, c.httpClient, c.baseURL, c.collection, scrollBody)
	if err != nil {
		return nil, err
	}
	return points, nil
}

func getFloatPayload(payload map[string]any, key string) float64 {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	return f
}
