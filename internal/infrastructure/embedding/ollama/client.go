package ollama

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

// Client embeds query text with a model served by Ollama. The index stores
// vectors per embedding model, so Model() travels with every similarity
// search to keep queries on the serving model's points.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	exec       *resilience.Executor
}

func New(baseURL, model string, exec *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		exec:       exec,
	}
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": c.model,
		"input": []string{text},
	}

	var vector []float32
	err := c.exec.Execute(ctx, "embed_query", func(ctx context.Context) error {
		var response struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		if err := c.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
			return err
		}
		if len(response.Embeddings) == 0 || len(response.Embeddings[0]) == 0 {
			return fmt.Errorf("empty embedding result for model %s", c.model)
		}
		vector = response.Embeddings[0]
		return nil
	}, resilience.ClassifyHTTP)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("embed_query", err)
	}
	return vector, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &resilience.HTTPStatusError{
			Service:    "ollama",
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
