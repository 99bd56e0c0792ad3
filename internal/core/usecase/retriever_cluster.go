package usecase

import (
	"context"
	"fmt"

	"github.com/reglens/reglens/internal/core/domain"
	"github.com/reglens/reglens/internal/core/ports"
)

const nearestClusterCount = 3

// ClusterRetriever resolves the query against a read-only snapshot of
// precomputed topic/authority/temporal clusters: nearest centroids first,
// then members ranked by intra-cluster relevance scaled by cluster-match
// confidence.
type ClusterRetriever struct {
	index ports.ClusterIndex
}

func NewClusterRetriever(index ports.ClusterIndex) *ClusterRetriever {
	return &ClusterRetriever{index: index}
}

func (r *ClusterRetriever) Strategy() domain.RetrievalStrategy {
	return domain.StrategyCluster
}

func (r *ClusterRetriever) Retrieve(ctx context.Context, input RetrievalInput, limit int) ([]domain.SearchResult, error) {
	if input.QueryVector == nil {
		return nil, nil
	}

	clusters, err := r.index.NearestClusters(ctx, input.QueryVector, nearestClusterCount)
	if err != nil {
		return nil, fmt.Errorf("nearest clusters: %w", err)
	}

	// Collapse to the best score when a chunk belongs to several matched
	// clusters.
	best := make(map[string]domain.SearchResult, limit)
	for _, cluster := range clusters {
		members, err := r.index.ClusterMembers(ctx, cluster.ClusterID)
		if err != nil {
			return nil, fmt.Errorf("cluster members %s: %w", cluster.ClusterID, err)
		}
		for _, member := range members {
			score := member.Score * cluster.Confidence
			if have, ok := best[member.ChunkID]; ok && have.Score >= score {
				continue
			}
			best[member.ChunkID] = domain.SearchResult{
				ChunkID:       member.ChunkID,
				DocumentID:    member.DocumentID,
				Authority:     member.Authority,
				DocumentType:  member.DocumentType,
				EffectiveDate: member.EffectiveDate,
				Strategies:    []domain.RetrievalStrategy{domain.StrategyCluster},
				Breakdown:     domain.ScoreBreakdown{Cluster: score},
				Score:         score,
			}
		}
	}

	results := make([]domain.SearchResult, 0, len(best))
	for _, res := range best {
		results = append(results, res)
	}
	orderResults(results)
	return trimResults(results, limit), nil
}
