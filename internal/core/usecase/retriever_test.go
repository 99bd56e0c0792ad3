package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/reglens/reglens/internal/core/domain"
	"github.com/reglens/reglens/internal/core/ports"
)

type fakeEmbeddingIndex struct {
	dense      []ports.ScoredChunkRef
	denseErr   error
	sparse     []ports.ScoredChunkRef
	sparseErr  error
	lastQuery  string
	lastFilter domain.Filters
}

func (i *fakeEmbeddingIndex) SimilaritySearch(_ context.Context, _ []float32, _ string, _ int, filters domain.Filters) ([]ports.ScoredChunkRef, error) {
	i.lastFilter = filters
	return i.dense, i.denseErr
}

func (i *fakeEmbeddingIndex) SparseSearch(_ context.Context, queryText string, _ int, filters domain.Filters) ([]ports.ScoredChunkRef, error) {
	i.lastQuery = queryText
	i.lastFilter = filters
	return i.sparse, i.sparseErr
}

type fakeClusterIndex struct {
	clusters []ports.ClusterMatch
	members  map[string][]ports.ScoredChunkRef
	err      error
}

func (i *fakeClusterIndex) Snapshot() string { return "snap-1" }

func (i *fakeClusterIndex) NearestClusters(context.Context, []float32, int) ([]ports.ClusterMatch, error) {
	return i.clusters, i.err
}

func (i *fakeClusterIndex) ClusterMembers(_ context.Context, clusterID string) ([]ports.ScoredChunkRef, error) {
	return i.members[clusterID], nil
}

func TestVectorRetrieverSkipsWithoutVector(t *testing.T) {
	index := &fakeEmbeddingIndex{denseErr: errors.New("must not be called")}
	r := NewVectorRetriever(index, &fakeChunkStore{}, "embed-model")

	results, err := r.Retrieve(context.Background(), RetrievalInput{}, 10)
	if err != nil || results != nil {
		t.Fatalf("nil query vector: got (%v, %v), want soft miss", results, err)
	}
}

func TestVectorRetrieverTieBreakByEffectiveDate(t *testing.T) {
	index := &fakeEmbeddingIndex{dense: []ports.ScoredChunkRef{
		{ChunkID: "old", Score: 0.8},
		{ChunkID: "new", Score: 0.8},
		{ChunkID: "top", Score: 0.9},
	}}
	store := &fakeChunkStore{chunks: map[string]domain.Chunk{
		"old": {ID: "old", EffectiveDate: mustDate("2020-01-01")},
		"new": {ID: "new", EffectiveDate: mustDate("2025-01-01")},
		"top": {ID: "top", EffectiveDate: mustDate("2018-01-01")},
	}}
	r := NewVectorRetriever(index, store, "embed-model")

	results, err := r.Retrieve(context.Background(), RetrievalInput{QueryVector: []float32{0.1}}, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"top", "new", "old"}
	for i, id := range want {
		if results[i].ChunkID != id {
			t.Fatalf("position %d = %s, want %s", i, results[i].ChunkID, id)
		}
	}
}

func TestKeywordRetrieverQueryShaping(t *testing.T) {
	index := &fakeEmbeddingIndex{sparse: []ports.ScoredChunkRef{{ChunkID: "c1", Score: 3.2}}}
	r := NewKeywordRetriever(index)

	qc, err := BuildQueryContext("EBA guidelines on outsourcing under Article 15(3)", domain.Filters{})
	if err != nil {
		t.Fatal(err)
	}

	results, err := r.Retrieve(context.Background(), RetrievalInput{Context: qc}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Breakdown.Keyword != 3.2 {
		t.Fatalf("results = %+v", results)
	}

	// The lexical query repeats regulatory signal to raise term frequency.
	for _, term := range []string{"EBA", "Article 15(3)", "article 15", "third-party arrangements"} {
		if !strings.Contains(index.lastQuery, term) {
			t.Errorf("lexical query missing %q:\n%s", term, index.lastQuery)
		}
	}
}

func TestClusterRetrieverScalesByConfidence(t *testing.T) {
	index := &fakeClusterIndex{
		clusters: []ports.ClusterMatch{
			{ClusterID: "k1", Kind: "topic", Confidence: 0.9},
			{ClusterID: "k2", Kind: "authority", Confidence: 0.5},
		},
		members: map[string][]ports.ScoredChunkRef{
			"k1": {{ChunkID: "c1", Score: 0.8}, {ChunkID: "shared", Score: 0.5}},
			"k2": {{ChunkID: "shared", Score: 1.0}, {ChunkID: "c2", Score: 0.9}},
		},
	}
	r := NewClusterRetriever(index)

	results, err := r.Retrieve(context.Background(), RetrievalInput{QueryVector: []float32{0.1}}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3 deduplicated", len(results))
	}

	byID := make(map[string]float64, 3)
	for _, res := range results {
		byID[res.ChunkID] = res.Score
	}
	// shared appears in both clusters: 0.5*0.9=0.45 vs 1.0*0.5=0.50, the
	// better product wins.
	if !almostEqual(byID["shared"], 0.50) {
		t.Errorf("shared score = %f, want 0.50", byID["shared"])
	}
	if !almostEqual(byID["c1"], 0.72) {
		t.Errorf("c1 score = %f, want 0.72", byID["c1"])
	}
}

func TestClusterRetrieverSkipsWithoutVector(t *testing.T) {
	r := NewClusterRetriever(&fakeClusterIndex{err: errors.New("must not be called")})
	results, err := r.Retrieve(context.Background(), RetrievalInput{}, 10)
	if err != nil || results != nil {
		t.Fatalf("nil query vector: got (%v, %v), want soft miss", results, err)
	}
}

func TestMetadataRetrieverSkipsWithoutFilters(t *testing.T) {
	store := &fakeChunkStore{filterErr: errors.New("must not be called")}
	r := NewMetadataRetriever(store)

	qc, _ := BuildQueryContext("liquidity buffers overview", domain.Filters{})
	results, err := r.Retrieve(context.Background(), RetrievalInput{Context: qc}, 10)
	if err != nil || results != nil {
		t.Fatalf("no structured signal: got (%v, %v), want soft miss", results, err)
	}
}

func TestMetadataRetrieverFoldsDetectedAuthorities(t *testing.T) {
	now := mustDate("2026-08-01")
	store := &fakeChunkStore{filterOut: []domain.Chunk{
		{
			ID: "fresh", DocumentID: "d1", Authority: "EBA",
			Type:          domain.ChunkRequirement,
			EffectiveDate: now.Add(-30 * 24 * time.Hour),
			CrossRefs:     []string{"Article 4"},
			Concepts:      []string{"outsourcing"},
		},
		{ID: "bare", DocumentID: "d2", Authority: "EBA"},
	}}
	r := NewMetadataRetriever(store)
	r.now = func() time.Time { return now }

	qc, err := BuildQueryContext("EBA outsourcing register requirements", domain.Filters{})
	if err != nil {
		t.Fatal(err)
	}

	results, err := r.Retrieve(context.Background(), RetrievalInput{Context: qc}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].ChunkID != "fresh" {
		t.Fatalf("top = %s, want the complete recent chunk", results[0].ChunkID)
	}
	if results[1].Score >= results[0].Score {
		t.Errorf("bare chunk %f should score below complete chunk %f", results[1].Score, results[0].Score)
	}
	if !almostEqual(results[1].Score, 0.4) {
		t.Errorf("bare chunk score = %f, want base 0.4", results[1].Score)
	}
}
