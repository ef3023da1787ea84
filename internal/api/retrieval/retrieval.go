package retrieval

import (
	"context"
	"errors"
	"strings"

	"github.com/FACorreiaa/haru-planner/internal/types"
)

const DefaultTopK = 20

// ErrUnavailable marks failures of the index or the embedding backend.
var ErrUnavailable = errors.New("retrieval unavailable")

// Query is one similarity search for a category target.
type Query struct {
	Category   string
	Tags       []string
	Anchor     types.Anchor
	Exclusions []string
	TopK       int
}

// Normalized canonicalizes the category and anchor and defaults TopK. Tag
// order is kept since it feeds the embedding text.
func (q Query) Normalized() Query {
	q.Category = types.CanonicalCategory(q.Category)
	q.Anchor = q.Anchor.Normalized()
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}
	return q
}

// EmbeddingText is the text embedded for a tag search, e.g. "cafe: quiet, coffee".
func (q Query) EmbeddingText() string {
	return q.Category + ": " + strings.Join(q.Tags, ", ")
}

// Gateway returns candidates ordered by similarity, at most TopK of them.
// An empty result is not an error.
type Gateway interface {
	Search(ctx context.Context, q Query) ([]types.Candidate, error)
}

// Embedder is satisfied by generativeAI.AIClient.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// PopularitySource returns prior interaction counts keyed by candidate id.
type PopularitySource interface {
	InteractionCounts(ctx context.Context, ids []string) (map[string]int, error)
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
