package usecase

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/reglens/reglens/internal/core/domain"
	"github.com/reglens/reglens/internal/core/ports"
)

// EnsembleMember pairs a scoring model with its configured weight. Members
// are resolved from configuration at bootstrap; adding or removing a model
// is a config change, not a code change.
type EnsembleMember struct {
	Model  ports.ScoringModel
	Weight float64
}

// DeepReranker is the second cascade stage. It scores hierarchically
// enriched excerpts (parent section, sibling definitions, cross-referenced
// text) through a weighted model ensemble, then adjusts by document
// completeness, query-chunk semantic alignment, regulatory precision and
// cross-reference completeness.
type DeepReranker struct {
	ensemble  []EnsembleMember
	graph     ports.CrossRefGraph
	batchSize int
}

func NewDeepReranker(ensemble []EnsembleMember, graph ports.CrossRefGraph, batchSize int) *DeepReranker {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &DeepReranker{ensemble: ensemble, graph: graph, batchSize: batchSize}
}

func (s *DeepReranker) Name() string { return domain.StageRerankDeep }

func (s *DeepReranker) Rerank(
	ctx context.Context,
	qc domain.QueryContext,
	candidates []domain.SearchResult,
	keepTopN int,
) ([]domain.SearchResult, error) {
	excerpts := s.enrichedExcerpts(ctx, candidates)

	ensembleScores, err := s.scoreEnsemble(ctx, qc.Raw, excerpts)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRerankerUnavailable, "deep rerank", err)
	}

	queryTokens := toTokenSet(qc.ExpandedText())
	next := make([]domain.SearchResult, len(candidates))
	for i, cand := range candidates {
		res := cand
		res.Breakdown.Ensemble = ensembleScores[i]

		score := ensembleScores[i]
		if cand.Chunk != nil {
			score *= completenessFactor(*cand.Chunk)
			score += 0.15 * setOverlap(queryTokens, toTokenSet(cand.Chunk.Text))
			score += 0.15 * regulatoryPrecision(qc, *cand.Chunk)
			score += 0.05 * crossRefCompleteness(*cand.Chunk)
		}

		res.Score = score
		next[i] = res
	}

	sort.SliceStable(next, func(i, j int) bool {
		if next[i].Score != next[j].Score {
			return next[i].Score > next[j].Score
		}
		return next[i].ChunkID < next[j].ChunkID
	})

	return trimResults(next, keepTopN), nil
}

// enrichedExcerpts builds the context each ensemble model reads. Graph
// failures degrade to the bare chunk text; enrichment is best effort and
// never fails the stage.
func (s *DeepReranker) enrichedExcerpts(ctx context.Context, candidates []domain.SearchResult) []string {
	excerpts := make([]string, len(candidates))
	for i, cand := range candidates {
		if cand.Chunk == nil {
			continue
		}

		var b strings.Builder
		if s.graph != nil {
			if parent, err := s.graph.ParentSection(ctx, cand.ChunkID); err == nil && parent != nil {
				b.WriteString("[section] ")
				b.WriteString(truncateRunes(parent.Text, 300))
				b.WriteString("\n")
			}
			if siblings, err := s.graph.SiblingDefinitions(ctx, cand.ChunkID, 2); err == nil {
				for _, sib := range siblings {
					b.WriteString("[definition] ")
					b.WriteString(truncateRunes(sib.Text, 200))
					b.WriteString("\n")
				}
			}
			if referenced, err := s.graph.ReferencedChunks(ctx, cand.ChunkID, 2); err == nil {
				for _, ref := range referenced {
					b.WriteString("[referenced] ")
					b.WriteString(truncateRunes(ref.Text, 200))
					b.WriteString("\n")
				}
			}
		}
		b.WriteString(truncateRunes(cand.Chunk.Text, 1200))
		excerpts[i] = b.String()
	}
	return excerpts
}

// scoreEnsemble runs every member over the full excerpt list and combines
// per-pair scores by member weight. A failing member drops out with its
// weight renormalized over the survivors; only a fully dark ensemble fails
// the stage.
func (s *DeepReranker) scoreEnsemble(ctx context.Context, query string, excerpts []string) ([]float64, error) {
	type memberScores struct {
		weight float64
		scores []float64
	}

	results := make([]memberScores, len(s.ensemble))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, member := range s.ensemble {
		i, member := i, member
		group.Go(func() error {
			scores, err := scoreInBatches(groupCtx, member.Model, query, excerpts, s.batchSize)
			if err != nil {
				// Leave the slot empty; weight renormalization below
				// absorbs the loss.
				slog.Warn("ensemble_member_failed", "model", member.Model.Name(), "error", err)
				return nil
			}
			results[i] = memberScores{weight: member.Weight, scores: scores}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var totalWeight float64
	for _, member := range results {
		if member.scores != nil {
			totalWeight += member.weight
		}
	}
	if totalWeight <= 0 {
		return nil, domain.ErrRerankerUnavailable
	}

	combined := make([]float64, len(excerpts))
	for _, member := range results {
		if member.scores == nil {
			continue
		}
		share := member.weight / totalWeight
		for i, score := range member.scores {
			combined[i] += share * score
		}
	}
	return combined, nil
}

// completenessFactor multiplies in how much structure the owning document
// exposes. Range [1.0, 1.2].
func completenessFactor(chunk domain.Chunk) float64 {
	factor := 1.0
	if len(chunk.SectionPath) > 0 {
		factor += 0.05
	}
	if len(chunk.CrossRefs) > 0 {
		factor += 0.05
	}
	if !chunk.EffectiveDate.IsZero() {
		factor += 0.05
	}
	if len(chunk.Concepts) > 0 {
		factor += 0.05
	}
	return factor
}

// regulatoryPrecision measures alignment of hard signals between query and
// chunk: numbers and percentages, dates, and parsed citations.
func regulatoryPrecision(qc domain.QueryContext, chunk domain.Chunk) float64 {
	var score float64

	queryNumbers := numericPattern.FindAllString(qc.Raw, -1)
	if len(queryNumbers) > 0 {
		chunkText := chunk.Text
		matched := 0
		for _, num := range queryNumbers {
			if strings.Contains(chunkText, strings.TrimSpace(num)) {
				matched++
			}
		}
		score += 0.5 * float64(matched) / float64(len(queryNumbers))
	}

	if len(qc.TemporalHints) > 0 {
		lower := strings.ToLower(chunk.Text)
		for _, hint := range qc.TemporalHints {
			if strings.Contains(lower, hint) {
				score += 0.2
				break
			}
		}
	}

	score += 0.3 * referenceOverlap(qc.References, chunk.CrossRefs)
	if score > 1 {
		score = 1
	}
	return score
}

// crossRefCompleteness rewards chunks whose citations resolve: many
// extracted references suggest well-linked normative text.
func crossRefCompleteness(chunk domain.Chunk) float64 {
	n := len(chunk.CrossRefs)
	switch {
	case n == 0:
		return 0
	case n <= 3:
		return 0.5
	default:
		return 1
	}
}
