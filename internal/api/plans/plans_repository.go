package plans

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	database "github.com/FACorreiaa/haru-planner/app/db"
	"github.com/FACorreiaa/haru-planner/app/observability/metrics"
	"github.com/FACorreiaa/haru-planner/internal/types"
)

var _ Repository = (*RepositoryImpl)(nil)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

type Repository interface {
	SavePlan(ctx context.Context, record types.PlanRecord) error
	ListPlans(ctx context.Context, userID string, limit int) ([]types.SavedPlan, error)
}

type RepositoryImpl struct {
	logger  *slog.Logger
	db      database.DB
	metrics *metrics.AppMetrics
}

func NewRepository(db database.DB, appMetrics *metrics.AppMetrics, logger *slog.Logger) *RepositoryImpl {
	return &RepositoryImpl{logger: logger, db: db, metrics: appMetrics}
}

const insertPlanQuery = `
        INSERT INTO day_plans (
            id, session_id, user_id, categories_name, party_size, anchor_address,
            starts_at, ends_at, approximate, targets
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)
    `

const insertStopQuery = `
        INSERT INTO day_plan_stops (
            plan_id, position, target_index, category, place_id, title, duration_minutes,
            transport_mode, transit_minutes, approximate, starts_at, ends_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `

// targetSummary is what a saved plan keeps of each conversation target.
type targetSummary struct {
	Category     string        `json:"category"`
	Tags         []string      `json:"tags"`
	AnyChoice    bool          `json:"any_choice,omitempty"`
	Forced       bool          `json:"forced,omitempty"`
	Outcome      types.Outcome `json:"outcome"`
	CandidateIDs []string      `json:"candidate_ids"`
}

func summarize(targets []types.CategoryTarget) []targetSummary {
	out := make([]targetSummary, len(targets))
	for i, t := range targets {
		ids := make([]string, len(t.Candidates))
		for j, c := range t.Candidates {
			ids[j] = c.ID
		}
		tags := t.Tags
		if tags == nil {
			tags = []string{}
		}
		out[i] = targetSummary{
			Category:     t.Category,
			Tags:         tags,
			AnyChoice:    t.AnyChoice,
			Forced:       t.Forced,
			Outcome:      t.Outcome,
			CandidateIDs: ids,
		}
	}
	return out
}

// CategoriesName joins the categories of the stops in visiting order.
func CategoriesName(entries []types.ItineraryEntry) string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Category
	}
	return strings.Join(names, ",")
}

// SavePlan stores the plan and its stops in one transaction.
func (r *RepositoryImpl) SavePlan(ctx context.Context, record types.PlanRecord) error {
	it := record.Itinerary
	ctx, span := otel.Tracer("PlansRepository").Start(ctx, "SavePlan", trace.WithAttributes(
		attribute.String("plan.id", it.ID().String()),
		attribute.String("session.id", it.SessionID()),
		attribute.Int("stops.count", it.Len()),
	))
	defer span.End()
	l := r.logger.With(slog.String("method", "SavePlan"), slog.String("plan_id", it.ID().String()))

	targets, err := json.Marshal(summarize(record.Targets))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Encoding targets failed")
		return fmt.Errorf("encoding plan targets: %w", err)
	}

	start := time.Now()
	err = r.savePlan(ctx, record, string(targets))
	r.metrics.RecordQuery(ctx, "day_plans.insert", time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Save failed")
		l.ErrorContext(ctx, "Failed to save plan", slog.Any("error", err))
		return err
	}

	l.InfoContext(ctx, "Plan saved", slog.Int("stops", it.Len()))
	span.SetStatus(codes.Ok, "Plan saved")
	return nil
}

func (r *RepositoryImpl) savePlan(ctx context.Context, record types.PlanRecord, targets string) error {
	it := record.Itinerary
	entries := it.Entries()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, insertPlanQuery,
		it.ID(), it.SessionID(), it.UserID(), CategoriesName(entries), record.PartySize,
		record.Anchor.Address, it.Start(), it.End(), it.Approximate(), targets,
	); err != nil {
		return fmt.Errorf("failed to insert plan: %w", err)
	}

	for i, e := range entries {
		if _, err := tx.Exec(ctx, insertStopQuery,
			it.ID(), i, e.TargetIndex, e.Category, e.CandidateID, e.Title, e.DurationMinutes,
			string(e.Mode), e.TransitMinutes, e.Approximate, e.Start, e.End,
		); err != nil {
			return fmt.Errorf("failed to insert stop %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const listPlansQuery = `
        SELECT id, session_id, categories_name, starts_at, ends_at, approximate, created_at
        FROM day_plans
        WHERE user_id = $1
        ORDER BY created_at DESC, id
        LIMIT $2
    `

const listStopsQuery = `
        SELECT plan_id, target_index, category, place_id, title, duration_minutes,
               transport_mode, transit_minutes, approximate, starts_at, ends_at
        FROM day_plan_stops
        WHERE plan_id = ANY($1)
        ORDER BY plan_id, position
    `

// ListPlans returns the user's most recent plans, newest first.
func (r *RepositoryImpl) ListPlans(ctx context.Context, userID string, limit int) ([]types.SavedPlan, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	ctx, span := otel.Tracer("PlansRepository").Start(ctx, "ListPlans", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("limit", limit),
	))
	defer span.End()
	l := r.logger.With(slog.String("method", "ListPlans"), slog.String("user_id", userID))

	start := time.Now()
	plans, err := r.listPlans(ctx, userID, limit)
	r.metrics.RecordQuery(ctx, "day_plans.list", time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "List failed")
		l.ErrorContext(ctx, "Failed to list plans", slog.Any("error", err))
		return nil, err
	}

	l.DebugContext(ctx, "Plans listed", slog.Int("count", len(plans)))
	span.SetStatus(codes.Ok, "Plans listed")
	return plans, nil
}

func (r *RepositoryImpl) listPlans(ctx context.Context, userID string, limit int) ([]types.SavedPlan, error) {
	rows, err := r.db.Query(ctx, listPlansQuery, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	plans := make([]types.SavedPlan, 0, limit)
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var p types.SavedPlan
		if err := rows.Scan(&p.ID, &p.SessionID, &p.CategoriesName, &p.StartsAt, &p.EndsAt, &p.Approximate, &p.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		p.Stops = []types.ItineraryEntry{}
		index[p.ID] = len(plans)
		plans = append(plans, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}
	if len(plans) == 0 {
		return plans, nil
	}

	ids := make([]uuid.UUID, len(plans))
	for i, p := range plans {
		ids[i] = p.ID
	}
	stopRows, err := r.db.Query(ctx, listStopsQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query plan stops: %w", err)
	}
	defer stopRows.Close()
	for stopRows.Next() {
		var (
			planID uuid.UUID
			mode   string
			e      types.ItineraryEntry
		)
		if err := stopRows.Scan(&planID, &e.TargetIndex, &e.Category, &e.CandidateID, &e.Title, &e.DurationMinutes,
			&mode, &e.TransitMinutes, &e.Approximate, &e.Start, &e.End); err != nil {
			return nil, fmt.Errorf("failed to scan plan stop: %w", err)
		}
		e.Mode = types.TransportMode(mode)
		if i, ok := index[planID]; ok {
			plans[i].Stops = append(plans[i].Stops, e)
		}
	}
	if err := stopRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plan stops: %w", err)
	}
	return plans, nil
}
