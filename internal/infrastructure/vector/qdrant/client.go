package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/reglens/reglens/internal/core/domain"
	"github.com/reglens/reglens/internal/core/ports"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// Index serves dense and sparse similarity search over the chunk collection.
// Points carry named vectors ("dense" for cosine similarity, "sparse" for
// BM25-weighted terms) and a ranking payload: ids, authority, document type
// and effective date. Chunk text lives in the document store, never here.
type Index struct {
	baseURL    string
	collection string
	httpClient *http.Client
}

func NewIndex(baseURL, collection string) *Index {
	return &Index{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (i *Index) SimilaritySearch(
	ctx context.Context,
	queryVector []float32,
	model string,
	topK int,
	filters domain.Filters,
) ([]ports.ScoredChunkRef, error) {
	reqBody := map[string]any{
		"query":        queryVector,
		"using":        denseVectorName,
		"limit":        topK,
		"with_payload": true,
	}
	if model != "" {
		// Only match points embedded by the serving model; a model rollout
		// re-indexes under the new name and both coexist until cutover.
		addFilterMust(reqBody, matchClause("embedding_model", model))
	}
	applyFilters(reqBody, filters)

	points, err := i.queryPoints(ctx, i.collection, reqBody)
	if err != nil {
		return nil, fmt.Errorf("dense search: %w", err)
	}
	return pointsToRefs(points), nil
}

func (i *Index) SparseSearch(
	ctx context.Context,
	queryText string,
	topK int,
	filters domain.Filters,
) ([]ports.ScoredChunkRef, error) {
	sparse := encodeSparseQuery(queryText)
	if len(sparse.Indices) == 0 {
		return nil, nil
	}

	reqBody := map[string]any{
		"query":        map[string]any{"indices": sparse.Indices, "values": sparse.Values},
		"using":        sparseVectorName,
		"limit":        topK,
		"with_payload": true,
	}
	applyFilters(reqBody, filters)

	points, err := i.queryPoints(ctx, i.collection, reqBody)
	if err != nil {
		return nil, fmt.Errorf("sparse search: %w", err)
	}
	return pointsToRefs(points), nil
}

type queryPoint struct {
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (i *Index) queryPoints(ctx context.Context, collection string, reqBody map[string]any) ([]queryPoint, error) {
	return queryPoints(ctx, i.httpClient, i.baseURL, collection, reqBody)
}

func queryPoints(ctx context.Context, client *http.Client, baseURL, collection string, reqBody map[string]any) ([]queryPoint, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal query body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/query", baseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant query request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if trimmed := strings.TrimSpace(string(msg)); trimmed != "" {
			return nil, fmt.Errorf("qdrant query status: %s: %s", resp.Status, trimmed)
		}
		return nil, fmt.Errorf("qdrant query status: %s", resp.Status)
	}

	var queryResp struct {
		Result struct {
			Points []queryPoint `json:"points"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&queryResp); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return queryResp.Result.Points, nil
}

// scroll fetches points by filter without similarity ranking.
func scroll(ctx context.Context, client *http.Client, baseURL, collection string, reqBody map[string]any) ([]queryPoint, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal scroll body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/scroll", baseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create scroll request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant scroll request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if trimmed := strings.TrimSpace(string(msg)); trimmed != "" {
			return nil, fmt.Errorf("qdrant scroll status: %s: %s", resp.Status, trimmed)
		}
		return nil, fmt.Errorf("qdrant scroll status: %s", resp.Status)
	}

	var scrollResp struct {
		Result struct {
			Points []queryPoint `json:"points"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&scrollResp); err != nil {
		return nil, fmt.Errorf("decode scroll response: %w", err)
	}
	return scrollResp.Result.Points, nil
}

func pointsToRefs(points []queryPoint) []ports.ScoredChunkRef {
	out := make([]ports.ScoredChunkRef, 0, len(points))
	for _, p := range points {
		ref := ports.ScoredChunkRef{
			ChunkID:      getStringPayload(p.Payload, "chunk_id"),
			DocumentID:   getStringPayload(p.Payload, "document_id"),
			Authority:    getStringPayload(p.Payload, "authority"),
			DocumentType: domain.DocumentType(getStringPayload(p.Payload, "document_type")),
			Score:        p.Score,
		}
		if raw := getStringPayload(p.Payload, "effective_date"); raw != "" {
			if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
				ref.EffectiveDate = parsed
			}
		}
		if ref.ChunkID == "" {
			continue
		}
		out = append(out, ref)
	}
	return out
}

// applyFilters translates the caller's filter set into qdrant payload
// conditions. Zero-valued fields add no clauses.
func applyFilters(reqBody map[string]any, filters domain.Filters) {
	if filters.Jurisdiction != "" {
		addFilterMust(reqBody, matchClause("jurisdiction", strings.ToUpper(filters.Jurisdiction)))
	}
	if len(filters.Authorities) > 0 {
		values := make([]any, 0, len(filters.Authorities))
		for _, a := range filters.Authorities {
			values = append(values, a)
		}
		addFilterMust(reqBody, map[string]any{
			"key":   "authority",
			"match": map[string]any{"any": values},
		})
	}
	if len(filters.DocumentTypes) > 0 {
		values := make([]any, 0, len(filters.DocumentTypes))
		for _, t := range filters.DocumentTypes {
			values = append(values, string(t))
		}
		addFilterMust(reqBody, map[string]any{
			"key":   "document_type",
			"match": map[string]any{"any": values},
		})
	}
	if !filters.Dates.IsZero() {
		dateRange := map[string]any{}
		if !filters.Dates.From.IsZero() {
			dateRange["gte"] = filters.Dates.From.UTC().Format(time.RFC3339)
		}
		if !filters.Dates.To.IsZero() {
			dateRange["lte"] = filters.Dates.To.UTC().Format(time.RFC3339)
		}
		addFilterMust(reqBody, map[string]any{
			"key":   "effective_date",
			"range": dateRange,
		})
	}
}

func matchClause(key string, value any) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}

func addFilterMust(reqBody map[string]any, clause map[string]any) {
	filter, ok := reqBody["filter"].(map[string]any)
	if !ok {
		filter = map[string]any{}
		reqBody["filter"] = filter
	}
	must, _ := filter["must"].([]map[string]any)
	filter["must"] = append(must, clause)
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
