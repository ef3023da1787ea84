package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	database "github.com/FACorreiaa/haru-planner/app/db"
	"github.com/FACorreiaa/haru-planner/app/observability/metrics"
	"github.com/FACorreiaa/haru-planner/internal/types"
)

var (
	_ Gateway          = (*RepositoryImpl)(nil)
	_ PopularitySource = (*RepositoryImpl)(nil)
)

const DefaultMinSimilarity = 0.2

const similarityQuery = `
        SELECT
            id, title, address, district, sub_category, image_url,
            latitude, longitude, review_count, average_stars,
            1 - (embedding <=> $1::vector) AS similarity
        FROM places
        WHERE category = $2
          AND embedding IS NOT NULL
          AND ($3::text = '' OR district = $3::text)
          AND NOT (id = ANY($4::text[]))
          AND 1 - (embedding <=> $1::vector) >= $5
        ORDER BY embedding <=> $1::vector, id
        LIMIT $6
    `

const popularityQuery = `
        SELECT
            id, title, address, district, sub_category, image_url,
            latitude, longitude, review_count, average_stars,
            0::float8 AS similarity
        FROM places
        WHERE category = $1
          AND ($2::text = '' OR district = $2::text)
          AND NOT (id = ANY($3::text[]))
        ORDER BY review_count DESC, id
        LIMIT $4
    `

const interactionCountsQuery = `
        SELECT place_id, COUNT(*)
        FROM place_interactions
        WHERE place_id = ANY($1::text[])
        GROUP BY place_id
    `

// RepositoryImpl searches the places table through pgvector.
type RepositoryImpl struct {
	logger        *slog.Logger
	db            database.DB
	embedder      Embedder
	metrics       *metrics.AppMetrics
	minSimilarity float64
}

func NewRepository(db database.DB, embedder Embedder, minSimilarity float64, appMetrics *metrics.AppMetrics, logger *slog.Logger) *RepositoryImpl {
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}
	return &RepositoryImpl{
		logger:        logger,
		db:            db,
		embedder:      embedder,
		metrics:       appMetrics,
		minSimilarity: minSimilarity,
	}
}

// Search embeds "category: tags" and runs a cosine similarity search. A query
// without tags, or a repository without an embedder, lists the category by
// review count instead.
func (r *RepositoryImpl) Search(ctx context.Context, q Query) ([]types.Candidate, error) {
	q = q.Normalized()
	ctx, span := otel.Tracer("RetrievalRepository").Start(ctx, "Search", trace.WithAttributes(
		attribute.String("category", q.Category),
		attribute.Int("tags.count", len(q.Tags)),
		attribute.String("district", q.Anchor.District),
		attribute.Int("top_k", q.TopK),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "Search"), slog.String("category", q.Category))

	exclusions := q.Exclusions
	if exclusions == nil {
		exclusions = []string{}
	}

	var (
		rows pgx.Rows
		err  error
	)
	start := time.Now()
	if len(q.Tags) > 0 && r.embedder == nil {
		l.WarnContext(ctx, "No embedder configured, listing by popularity")
	}
	if len(q.Tags) == 0 || r.embedder == nil {
		rows, err = r.db.Query(ctx, popularityQuery, q.Category, q.Anchor.District, exclusions, q.TopK)
	} else {
		embedding, embedErr := r.embedder.EmbedText(ctx, q.EmbeddingText())
		if embedErr != nil {
			span.RecordError(embedErr)
			span.SetStatus(codes.Error, "Embedding failed")
			l.ErrorContext(ctx, "Failed to embed query", slog.Any("error", embedErr))
			return nil, fmt.Errorf("%w: embedding query: %w", ErrUnavailable, embedErr)
		}
		rows, err = r.db.Query(ctx, similarityQuery,
			VectorLiteral(embedding), q.Category, q.Anchor.District, exclusions, r.minSimilarity, q.TopK)
	}
	if err != nil {
		r.metrics.RecordQuery(ctx, "places.search", time.Since(start), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Query failed")
		l.ErrorContext(ctx, "Failed to search places", slog.Any("error", err))
		return nil, fmt.Errorf("%w: searching places: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	candidates := make([]types.Candidate, 0, q.TopK)
	for rows.Next() {
		var c types.Candidate
		if err := rows.Scan(
			&c.ID, &c.Metadata.Title, &c.Metadata.Address, &c.Metadata.District,
			&c.Metadata.SubCategory, &c.Metadata.ImageURL,
			&c.Metadata.Latitude, &c.Metadata.Longitude,
			&c.Metadata.ReviewCount, &c.Metadata.AverageStars,
			&c.Similarity,
		); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Scan failed")
			return nil, fmt.Errorf("%w: scanning place row: %w", ErrUnavailable, err)
		}
		c.Similarity = clampUnit(c.Similarity)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Row iteration failed")
		return nil, fmt.Errorf("%w: iterating place rows: %w", ErrUnavailable, err)
	}
	r.metrics.RecordQuery(ctx, "places.search", time.Since(start), nil)

	l.DebugContext(ctx, "Places retrieved", slog.Int("count", len(candidates)))
	span.SetAttributes(attribute.Int("results.count", len(candidates)))
	span.SetStatus(codes.Ok, "Places retrieved")
	return candidates, nil
}

func (r *RepositoryImpl) InteractionCounts(ctx context.Context, ids []string) (map[string]int, error) {
	ctx, span := otel.Tracer("RetrievalRepository").Start(ctx, "InteractionCounts", trace.WithAttributes(
		attribute.Int("ids.count", len(ids)),
	))
	defer span.End()

	counts := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}

	start := time.Now()
	rows, err := r.db.Query(ctx, interactionCountsQuery, ids)
	r.metrics.RecordQuery(ctx, "place_interactions.count", time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Query failed")
		return nil, fmt.Errorf("failed to count interactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    string
			count int64
		)
		if err := rows.Scan(&id, &count); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan interaction count: %w", err)
		}
		counts[id] = int(count)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed iterating interaction counts: %w", err)
	}

	span.SetStatus(codes.Ok, "Interaction counts retrieved")
	return counts, nil
}

// VectorLiteral formats an embedding as a pgvector text literal.
func VectorLiteral(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
