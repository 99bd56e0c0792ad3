package usecase

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reglens/reglens/internal/core/domain"
	"github.com/reglens/reglens/internal/core/ports"
)

// regulatoryTerms are the normative markers used for legal-term overlap
// scoring in the fast pass.
var regulatoryTerms = []string{
	"shall", "must", "required", "requirement", "obligation", "prohibited",
	"exemption", "derogation", "threshold", "compliance", "supervisory",
}

// FastReranker is the first cascade stage: a lightweight cross-encoder
// scores (query, excerpt) pairs in parallel batches, enhanced with
// legal-term overlap, authority weight, a bounded temporal term and
// cross-reference overlap. No sampling anywhere: identical inputs produce
// identical ordering.
type FastReranker struct {
	model     ports.ScoringModel
	policy    RankingPolicy
	batchSize int
	now       func() time.Time
}

func NewFastReranker(model ports.ScoringModel, policy RankingPolicy, batchSize int) *FastReranker {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &FastReranker{model: model, policy: policy, batchSize: batchSize, now: time.Now}
}

func (s *FastReranker) Name() string { return domain.StageRerankFast }

func (s *FastReranker) Rerank(
	ctx context.Context,
	qc domain.QueryContext,
	candidates []domain.SearchResult,
	keepTopN int,
) ([]domain.SearchResult, error) {
	excerpts := make([]string, len(candidates))
	for i, cand := range candidates {
		excerpts[i] = excerptForIntent(qc.Intent, cand.Chunk)
	}

	modelScores, err := scoreInBatches(ctx, s.model, qc.Raw, excerpts, s.batchSize)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRerankerUnavailable, "fast rerank", err)
	}

	queryLegalTokens := legalTokenSet(qc)
	normalizeFused := minMaxNormalizer(candidates)
	now := s.now()

	next := make([]domain.SearchResult, len(candidates))
	for i, cand := range candidates {
		res := cand
		res.Breakdown.CrossEncoder = modelScores[i]

		legalOverlap := 0.0
		crossRefOverlap := 0.0
		temporal := 0.0
		if cand.Chunk != nil {
			chunkTokens := toTokenSet(cand.Chunk.Text)
			legalOverlap = tokenOverlap(queryLegalTokens, chunkTokens)
			crossRefOverlap = referenceOverlap(qc.References, cand.Chunk.CrossRefs)
			temporal = temporalRelevance(cand.Chunk.EffectiveDate, now)
		}

		base := 0.55*modelScores[i] +
			0.25*normalizeFused(cand.Score) +
			0.10*legalOverlap +
			0.10*crossRefOverlap

		authorityWeight := 1.0
		if rep, ok := s.policy.AuthorityReputation[cand.Authority]; ok {
			authorityWeight = rep
		}
		res.Breakdown.AuthorityWeight = authorityWeight

		res.Score = base * authorityWeight * (1 + temporal)
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

// scoreInBatches fans the pair scoring out in fixed-size batches. Scores
// land by index, so parallelism never perturbs ordering.
func scoreInBatches(
	ctx context.Context,
	model ports.ScoringModel,
	query string,
	excerpts []string,
	batchSize int,
) ([]float64, error) {
	scores := make([]float64, len(excerpts))
	group, groupCtx := errgroup.WithContext(ctx)

	for start := 0; start < len(excerpts); start += batchSize {
		start := start
		end := min(start+batchSize, len(excerpts))
		group.Go(func() error {
			batch, err := model.ScoreBatch(groupCtx, query, excerpts[start:end])
			if err != nil {
				return err
			}
			copy(scores[start:end], batch)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

// excerptForIntent picks what the cross-encoder actually reads. Definition
// queries get the definition span; requirement queries get the full
// normative text; everything else gets the leading window.
func excerptForIntent(intent domain.QueryIntent, chunk *domain.Chunk) string {
	if chunk == nil {
		return ""
	}
	switch intent {
	case domain.IntentDefinition:
		if span := definitionSpan(chunk.Text); span != "" {
			return span
		}
		return truncateRunes(chunk.Text, 400)
	case domain.IntentRequirement, domain.IntentComplianceCheck:
		return truncateRunes(chunk.Text, 1200)
	default:
		return truncateRunes(chunk.Text, 600)
	}
}

// definitionSpan returns the first sentence that reads like a definition.
func definitionSpan(text string) string {
	for _, sentence := range strings.SplitAfter(text, ".") {
		lower := strings.ToLower(sentence)
		if strings.Contains(lower, "means") || strings.Contains(lower, "is defined as") || strings.Contains(lower, "refers to") {
			return strings.TrimSpace(sentence)
		}
	}
	return ""
}

func legalTokenSet(qc domain.QueryContext) map[string]struct{} {
	tokens := make(map[string]struct{}, len(regulatoryTerms)+len(qc.References)*2)
	queryTokens := toTokenSet(qc.Raw)
	for _, term := range regulatoryTerms {
		if _, ok := queryTokens[term]; ok {
			tokens[term] = struct{}{}
		}
	}
	for _, ref := range qc.References {
		tokens[ref.Kind] = struct{}{}
		tokens[ref.Number] = struct{}{}
	}
	return tokens
}

// referenceOverlap is the fraction of query citations found among the
// chunk's extracted cross-references.
func referenceOverlap(refs []domain.LegalReference, chunkRefs []string) float64 {
	if len(refs) == 0 || len(chunkRefs) == 0 {
		return 0
	}
	lowerRefs := make([]string, len(chunkRefs))
	for i, cr := range chunkRefs {
		lowerRefs[i] = strings.ToLower(cr)
	}
	matches := 0
	for _, ref := range refs {
		needle := ref.Kind + " " + ref.Number
		for _, have := range lowerRefs {
			if strings.Contains(have, needle) {
				matches++
				break
			}
		}
	}
	return float64(matches) / float64(len(refs))
}

// temporalRelevance is a bounded freshness term, at most +10%.
func temporalRelevance(effective time.Time, now time.Time) float64 {
	if effective.IsZero() {
		return 0
	}
	ageYears := now.Sub(effective).Hours() / (24 * 365)
	if ageYears < 0 {
		ageYears = 0
	}
	return 0.10 / (1.0 + ageYears)
}
