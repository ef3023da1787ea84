package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	database "github.com/FACorreiaa/haru-planner/app/db"
	"github.com/FACorreiaa/haru-planner/app/observability/metrics"
)

const (
	DefaultBackfillBatch       = 20
	DefaultBackfillConcurrency = 4
)

// DocumentEmbedder is satisfied by generativeAI.AIClient.
type DocumentEmbedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
}

// PlaceText is the part of a place that gets embedded.
type PlaceText struct {
	ID          string
	Category    string
	Title       string
	SubCategory string
	District    string
}

// EmbeddingText mirrors Query.EmbeddingText so places and queries share a shape.
func (p PlaceText) EmbeddingText() string {
	var parts []string
	for _, s := range []string{p.Title, p.SubCategory, p.District} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return p.Category + ": " + strings.Join(parts, ", ")
}

type BackfillReport struct {
	Processed int
	Failed    int
}

const placesWithoutEmbeddingQuery = `
        SELECT id, category, title, sub_category, district
        FROM places
        WHERE embedding IS NULL
          AND NOT (id = ANY($1::text[]))
        ORDER BY id
        LIMIT $2
    `

const updatePlaceEmbeddingQuery = `UPDATE places SET embedding = $2::vector WHERE id = $1`

// Backfiller fills in missing place embeddings, batch by batch. Places whose
// embedding fails are skipped for the rest of the run.
type Backfiller struct {
	db          database.DB
	embedder    DocumentEmbedder
	batchSize   int
	concurrency int
	metrics     *metrics.AppMetrics
	logger      *slog.Logger
}

func NewBackfiller(db database.DB, embedder DocumentEmbedder, batchSize, concurrency int, appMetrics *metrics.AppMetrics, logger *slog.Logger) *Backfiller {
	if batchSize <= 0 {
		batchSize = DefaultBackfillBatch
	}
	if concurrency <= 0 {
		concurrency = DefaultBackfillConcurrency
	}
	return &Backfiller{
		db:          db,
		embedder:    embedder,
		batchSize:   batchSize,
		concurrency: concurrency,
		metrics:     appMetrics,
		logger:      logger,
	}
}

func (b *Backfiller) Run(ctx context.Context) (BackfillReport, error) {
	ctx, span := otel.Tracer("RetrievalBackfill").Start(ctx, "Run", trace.WithAttributes(
		attribute.Int("batch.size", b.batchSize),
	))
	defer span.End()

	var report BackfillReport
	failed := []string{}
	for {
		batch, err := b.pending(ctx, failed)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Listing places failed")
			return report, err
		}
		if len(batch) == 0 {
			break
		}
		b.logger.InfoContext(ctx, "Processing batch of places", slog.Int("batch_size", len(batch)))

		ok, bad := b.embedBatch(ctx, batch)
		report.Processed += ok
		report.Failed += len(bad)
		failed = append(failed, bad...)
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if len(batch) < b.batchSize {
			break
		}
	}

	b.logger.InfoContext(ctx, "Place embedding backfill completed",
		slog.Int("total_processed", report.Processed),
		slog.Int("total_errors", report.Failed))
	span.SetAttributes(attribute.Int("processed", report.Processed), attribute.Int("failed", report.Failed))
	if report.Failed > 0 {
		span.SetStatus(codes.Error, "Some places failed")
		return report, fmt.Errorf("embedding backfill completed with %d errors out of %d places",
			report.Failed, report.Processed+report.Failed)
	}
	span.SetStatus(codes.Ok, "Backfill completed")
	return report, nil
}

func (b *Backfiller) pending(ctx context.Context, skip []string) ([]PlaceText, error) {
	start := time.Now()
	rows, err := b.db.Query(ctx, placesWithoutEmbeddingQuery, skip, b.batchSize)
	b.metrics.RecordQuery(ctx, "places.pending_embeddings", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to get places without embeddings: %w", err)
	}
	defer rows.Close()

	var out []PlaceText
	for rows.Next() {
		var p PlaceText
		if err := rows.Scan(&p.ID, &p.Category, &p.Title, &p.SubCategory, &p.District); err != nil {
			return nil, fmt.Errorf("failed to scan place: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating places: %w", err)
	}
	return out, nil
}

// embedBatch embeds and stores one batch; it returns the success count and
// the ids that failed.
func (b *Backfiller) embedBatch(ctx context.Context, batch []PlaceText) (int, []string) {
	results := make([]bool, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, p := range batch {
		g.Go(func() error {
			if err := b.embedOne(gctx, p); err != nil {
				b.logger.ErrorContext(gctx, "Failed to embed place",
					slog.Any("error", err),
					slog.String("place_id", p.ID))
				return nil
			}
			results[i] = true
			return nil
		})
	}
	_ = g.Wait()

	processed := 0
	var failed []string
	for i, ok := range results {
		if ok {
			processed++
		} else {
			failed = append(failed, batch[i].ID)
		}
	}
	return processed, failed
}

func (b *Backfiller) embedOne(ctx context.Context, p PlaceText) error {
	embedding, err := b.embedder.EmbedDocument(ctx, p.EmbeddingText())
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	start := time.Now()
	_, err = b.db.Exec(ctx, updatePlaceEmbeddingQuery, p.ID, VectorLiteral(embedding))
	b.metrics.RecordQuery(ctx, "places.update_embedding", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to update place embedding: %w", err)
	}
	return nil
}
