package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/haru-planner/internal/api/retrieval"
	"github.com/FACorreiaa/haru-planner/internal/types"
)

var _ Ranker = (*ServiceImpl)(nil)

const DefaultMaxResults = 10

// Weights of the composite score
//
//	score = Similarity*sim + Popularity*pop + Novelty*novel
//
// where pop is the interaction count over the largest count in the batch and
// novel is 1 for candidates not yet shown in the session, else 0.
type Weights struct {
	Similarity float64 `mapstructure:"similarity"`
	Popularity float64 `mapstructure:"popularity"`
	Novelty    float64 `mapstructure:"novelty"`
}

func DefaultWeights() Weights {
	return Weights{Similarity: 0.6, Popularity: 0.3, Novelty: 0.1}
}

var ErrInvalidWeights = errors.New("invalid ranking weights")

// Validate requires similarity >= popularity >= novelty >= 0, not all zero.
func (w Weights) Validate() error {
	if w.Novelty < 0 || w.Popularity < w.Novelty || w.Similarity < w.Popularity {
		return fmt.Errorf("%w: need similarity >= popularity >= novelty >= 0, got %.2f/%.2f/%.2f",
			ErrInvalidWeights, w.Similarity, w.Popularity, w.Novelty)
	}
	if w.Similarity+w.Popularity+w.Novelty == 0 {
		return fmt.Errorf("%w: all weights are zero", ErrInvalidWeights)
	}
	return nil
}

// Input is everything a ranking needs besides the popularity source.
type Input struct {
	Candidates []types.Candidate
	// Seen are ids already surfaced in this session; they lose the novelty bonus.
	Seen map[string]struct{}
	// Excluded are removed outright.
	Excluded map[string]struct{}
}

type Ranker interface {
	Rank(ctx context.Context, in Input) []types.Candidate
}

type ServiceImpl struct {
	weights    Weights
	maxResults int
	popularity retrieval.PopularitySource
	logger     *slog.Logger
}

// NewService returns a ranker. popularity may be nil, in which case review
// counts carried in the candidate metadata are used.
func NewService(weights Weights, maxResults int, popularity retrieval.PopularitySource, logger *slog.Logger) (*ServiceImpl, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &ServiceImpl{
		weights:    weights,
		maxResults: maxResults,
		popularity: popularity,
		logger:     logger,
	}, nil
}

// Rank scores, orders and truncates the candidates. The same input always
// yields the same order; equal scores are ordered by id ascending.
func (s *ServiceImpl) Rank(ctx context.Context, in Input) []types.Candidate {
	ctx, span := otel.Tracer("Ranker").Start(ctx, "Rank", trace.WithAttributes(
		attribute.Int("candidates.count", len(in.Candidates)),
	))
	defer span.End()

	candidates := dedupe(in.Candidates, in.Excluded)
	if len(candidates) == 0 {
		span.SetStatus(codes.Ok, "No candidates")
		return []types.Candidate{}
	}

	counts := s.counts(ctx, candidates)
	maxCount := 0
	for _, n := range counts {
		maxCount = max(maxCount, n)
	}

	for i := range candidates {
		c := &candidates[i]
		c.Popularity = 0
		if maxCount > 0 {
			c.Popularity = float64(counts[c.ID]) / float64(maxCount)
		}
		_, c.Seen = in.Seen[c.ID]
		c.Score = s.Score(c.Similarity, c.Popularity, c.Seen)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ID < candidates[j].ID
	})

	if len(candidates) > s.maxResults {
		candidates = candidates[:s.maxResults]
	}
	span.SetAttributes(attribute.Int("results.count", len(candidates)))
	span.SetStatus(codes.Ok, "Candidates ranked")
	return candidates
}

// Score is the weighted sum for one candidate.
func (s *ServiceImpl) Score(similarity, popularity float64, seen bool) float64 {
	novelty := 1.0
	if seen {
		novelty = 0
	}
	return s.weights.Similarity*clamp(similarity) + s.weights.Popularity*clamp(popularity) + s.weights.Novelty*novelty
}

func (s *ServiceImpl) counts(ctx context.Context, candidates []types.Candidate) map[string]int {
	fromMetadata := func() map[string]int {
		m := make(map[string]int, len(candidates))
		for _, c := range candidates {
			m[c.ID] = max(c.Metadata.ReviewCount, 0)
		}
		return m
	}
	if s.popularity == nil {
		return fromMetadata()
	}
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	counts, err := s.popularity.InteractionCounts(ctx, ids)
	if err != nil {
		s.logger.WarnContext(ctx, "Popularity source failed, using review counts", slog.Any("error", err))
		return fromMetadata()
	}
	return counts
}

// dedupe drops excluded ids and keeps the most similar copy of duplicates.
func dedupe(in []types.Candidate, excluded map[string]struct{}) []types.Candidate {
	index := make(map[string]int, len(in))
	out := make([]types.Candidate, 0, len(in))
	for _, c := range in {
		if _, ok := excluded[c.ID]; ok {
			continue
		}
		if i, ok := index[c.ID]; ok {
			if c.Similarity > out[i].Similarity {
				out[i] = c
			}
			continue
		}
		index[c.ID] = len(out)
		out = append(out, c)
	}
	return out
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}
