package retrieval

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/haru-planner/internal/types"
)

var _ Gateway = (*CachedGateway)(nil)

const DefaultCacheTTL = 2 * time.Minute

// CachedGateway answers identical queries from memory within the TTL so
// repeated resolutions stay idempotent. Errors are never cached.
type CachedGateway struct {
	next   Gateway
	cache  *cache.Cache
	logger *slog.Logger
}

func NewCachedGateway(next Gateway, ttl time.Duration, logger *slog.Logger) *CachedGateway {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedGateway{
		next:   next,
		cache:  cache.New(ttl, 2*ttl),
		logger: logger,
	}
}

func (g *CachedGateway) Search(ctx context.Context, q Query) ([]types.Candidate, error) {
	q = q.Normalized()
	key := CacheKey(q)

	ctx, span := otel.Tracer("RetrievalGateway").Start(ctx, "CachedSearch", trace.WithAttributes(
		attribute.String("cache.key", key),
	))
	defer span.End()

	if cached, found := g.cache.Get(key); found {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		g.logger.DebugContext(ctx, "Retrieval cache hit", slog.String("category", q.Category))
		return slices.Clone(cached.([]types.Candidate)), nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	candidates, err := g.next.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	g.cache.Set(key, slices.Clone(candidates), cache.DefaultExpiration)
	return candidates, nil
}

// CacheKey hashes every field that changes the result. Tags and exclusions
// are order-insensitive for the key only. EmbeddingText keeps tag order, so
// the same tags in another order embed slightly different text yet share an
// entry; within the TTL that result is served as is.
func CacheKey(q Query) string {
	tags := slices.Clone(q.Tags)
	slices.Sort(tags)
	exclusions := slices.Clone(q.Exclusions)
	slices.Sort(exclusions)

	h := sha256.New()
	for _, part := range []string{
		q.Category,
		strings.Join(tags, "\x1f"),
		q.Anchor.District,
		strings.Join(exclusions, "\x1f"),
		fmt.Sprint(q.TopK),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
