package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/reglens/reglens/internal/core/domain"
	"github.com/reglens/reglens/internal/infrastructure/resilience"
)

func testExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})
}

func TestEmbedQuerySendsModelAndInput(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer server.Close()

	client := New(server.URL, "nomic-embed-text", testExecutor())
	vector, err := client.EmbedQuery(context.Background(), "liquidity coverage ratio")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if len(vector) != 3 || vector[1] != 0.2 {
		t.Fatalf("vector = %v", vector)
	}

	if captured["model"] != "nomic-embed-text" {
		t.Errorf("model = %v", captured["model"])
	}
	input, _ := captured["input"].([]any)
	if len(input) != 1 || input[0] != "liquidity coverage ratio" {
		t.Errorf("input = %v", captured["input"])
	}
	if client.Model() != "nomic-embed-text" {
		t.Errorf("Model() = %s", client.Model())
	}
}

func TestEmbedQueryEmptyResultIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[]}`))
	}))
	defer server.Close()

	client := New(server.URL, "nomic-embed-text", testExecutor())
	if _, err := client.EmbedQuery(context.Background(), "q"); err == nil {
		t.Fatal("expected error for empty embeddings")
	}
}

func TestEmbedQueryWrapsOutageAsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL, "nomic-embed-text", testExecutor())
	_, err := client.EmbedQuery(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Errorf("error should carry temporary kind: %v", err)
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Errorf("expected response body in error, got %v", err)
	}
}
