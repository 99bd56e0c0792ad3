package crossencoder

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
	"github.com/reglens/reglens/internal/infrastructure/resilience"
)

// Model scores (query, excerpt) pairs against an HTTP reranking service
// speaking the text-embeddings-inference /rerank protocol. One Model per
// served cross-encoder; the deep stage composes several into an ensemble.
type Model struct {
	baseURL    string
	name       string
	httpClient *http.Client
	exec       *resilience.Executor
}

func New(baseURL, name string, exec *resilience.Executor) *Model {
	return &Model{
		baseURL:    strings.TrimRight(baseURL, "/"),
		name:       name,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		exec:       exec,
	}
}

func (m *Model) Name() string {
	return m.name
}

// ScoreBatch returns one relevance score per excerpt, in excerpt order. The
// service replies with (index, score) pairs; excerpts it omits score zero.
func (m *Model) ScoreBatch(ctx context.Context, query string, excerpts []string) ([]float64, error) {
	if len(excerpts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": m.name,
		"query": query,
		"texts": excerpts,
	}

	var response []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	}
	err := m.exec.Execute(ctx, "rerank_"+m.name, func(ctx context.Context) error {
		response = response[:0]
		return m.postJSON(ctx, "/rerank", request, &response, "rerank")
	}, resilience.ClassifyHTTP)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("score_batch", err)
	}

	scores := make([]float64, len(excerpts))
	for _, pair := range response {
		if pair.Index < 0 || pair.Index >= len(scores) {
			return nil, fmt.Errorf("rerank index %d out of range for %d excerpts", pair.Index, len(excerpts))
		}
		scores[pair.Index] = pair.Score
	}
	return scores, nil
}

func (m *Model) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cross-encoder %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &resilience.HTTPStatusError{
			Service:    "cross-encoder",
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	class := resilience.ClassifyHTTP(err)
	if class.Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
