package itinerary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/haru-planner/app/observability/metrics"
	"github.com/FACorreiaa/haru-planner/internal/api/transport"
	"github.com/FACorreiaa/haru-planner/internal/types"
)

var _ Compiler = (*ServiceImpl)(nil)

const (
	DefaultTransitMinutes = 20
	maxParallelLegs       = 4
)

var ErrInvalidPlan = errors.New("invalid plan")

// Stop is the user's choice for one resolved target.
type Stop struct {
	TargetIndex     int                 `json:"target_index"`
	CandidateID     string              `json:"candidate_id"`
	DurationMinutes int                 `json:"duration_minutes"`
	Mode            types.TransportMode `json:"mode,omitempty"`
}

// Plan is the compile request. Mode is the default for stops that leave
// theirs empty; it describes how each stop is reached from the previous one.
type Plan struct {
	Start         time.Time           `json:"start"`
	StartLocation *types.Location     `json:"start_location,omitempty"`
	Mode          types.TransportMode `json:"mode,omitempty"`
	Stops         []Stop              `json:"stops"`
}

type Compiler interface {
	Compile(ctx context.Context, session *types.Session, plan Plan) (types.Itinerary, error)
}

type ServiceImpl struct {
	estimator      transport.Estimator
	defaultTransit int
	legTimeout     time.Duration
	logger         *slog.Logger
	metrics        *metrics.AppMetrics
}

func NewService(estimator transport.Estimator, defaultTransitMinutes int, legTimeout time.Duration, appMetrics *metrics.AppMetrics, logger *slog.Logger) *ServiceImpl {
	if defaultTransitMinutes <= 0 {
		defaultTransitMinutes = DefaultTransitMinutes
	}
	return &ServiceImpl{
		estimator:      estimator,
		defaultTransit: defaultTransitMinutes,
		legTimeout:     legTimeout,
		logger:         logger,
		metrics:        appMetrics,
	}
}

type resolvedStop struct {
	Stop
	target    types.CategoryTarget
	candidate types.Candidate
}

// Compile sequences the stops in the order the categories were requested,
// whatever order the plan lists them in. Transit failures never abort; the
// leg uses the default duration and the entry is marked approximate.
func (s *ServiceImpl) Compile(ctx context.Context, session *types.Session, plan Plan) (types.Itinerary, error) {
	ctx, span := otel.Tracer("ItineraryCompiler").Start(ctx, "Compile", trace.WithAttributes(
		attribute.String("session.id", session.ID),
		attribute.Int("stops.count", len(plan.Stops)),
	))
	defer span.End()

	stops, err := s.resolve(session, plan)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invalid plan")
		return types.Itinerary{}, err
	}

	legs := make([]int, len(stops))
	approx := make([]bool, len(stops))
	var g errgroup.Group
	g.SetLimit(maxParallelLegs)
	for i := 1; i < len(stops); i++ {
		g.Go(func() error {
			legs[i], approx[i] = s.leg(ctx, stops[i-1].candidate, stops[i].candidate, stops[i].Mode)
			return nil
		})
	}
	_ = g.Wait()

	entries := make([]types.ItineraryEntry, len(stops))
	clock := plan.Start
	for i, st := range stops {
		clock = clock.Add(time.Duration(legs[i]) * time.Minute)
		end := clock.Add(time.Duration(st.DurationMinutes) * time.Minute)
		entries[i] = types.ItineraryEntry{
			TargetIndex:     st.TargetIndex,
			Category:        st.target.Category,
			CandidateID:     st.CandidateID,
			Title:           st.candidate.Metadata.Title,
			DurationMinutes: st.DurationMinutes,
			Mode:            st.Mode,
			TransitMinutes:  legs[i],
			Approximate:     approx[i],
			Start:           clock,
			End:             end,
		}
		clock = end
	}

	startLocation := anchorLocation(session.Anchor)
	if plan.StartLocation != nil {
		startLocation = *plan.StartLocation
	}
	it := types.NewItinerary(session.ID, session.UserID, plan.Start, startLocation, entries)
	s.metrics.RecordItinerary(ctx, it.Len(), it.Approximate())

	span.SetAttributes(attribute.Bool("approximate", it.Approximate()))
	span.SetStatus(codes.Ok, "Itinerary compiled")
	return it, nil
}

func (s *ServiceImpl) resolve(session *types.Session, plan Plan) ([]resolvedStop, error) {
	if plan.Start.IsZero() {
		return nil, fmt.Errorf("%w: start time is required", ErrInvalidPlan)
	}
	if len(plan.Stops) == 0 {
		return nil, fmt.Errorf("%w: at least one stop is required", ErrInvalidPlan)
	}

	seen := make(map[int]struct{}, len(plan.Stops))
	out := make([]resolvedStop, 0, len(plan.Stops))
	for _, st := range plan.Stops {
		if st.TargetIndex < 0 || st.TargetIndex >= len(session.Targets) {
			return nil, fmt.Errorf("%w: target index %d out of range", ErrInvalidPlan, st.TargetIndex)
		}
		if _, dup := seen[st.TargetIndex]; dup {
			return nil, fmt.Errorf("%w: target %d has more than one stop", ErrInvalidPlan, st.TargetIndex)
		}
		seen[st.TargetIndex] = struct{}{}

		if st.DurationMinutes <= 0 {
			return nil, fmt.Errorf("%w: stop for target %d needs a positive duration", ErrInvalidPlan, st.TargetIndex)
		}
		if st.Mode == "" {
			st.Mode = plan.Mode
		}
		if st.Mode == "" {
			st.Mode = types.TransportTransit
		}
		if !st.Mode.Valid() {
			return nil, fmt.Errorf("%w: unknown transport mode %q", ErrInvalidPlan, st.Mode)
		}

		target := session.Targets[st.TargetIndex]
		if !target.Resolved {
			return nil, fmt.Errorf("%w: target %d is not resolved", ErrInvalidPlan, st.TargetIndex)
		}
		candidate, ok := findCandidate(target.Candidates, st.CandidateID)
		if !ok {
			return nil, fmt.Errorf("%w: %q was not recommended for %s", ErrInvalidPlan, st.CandidateID, target.Category)
		}
		out = append(out, resolvedStop{Stop: st, target: target, candidate: candidate})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].TargetIndex < out[j].TargetIndex })
	return out, nil
}

// leg returns the transit minutes between two stops and whether the value is
// a fallback.
func (s *ServiceImpl) leg(ctx context.Context, from, to types.Candidate, mode types.TransportMode) (int, bool) {
	fromLoc, okFrom := from.Location()
	toLoc, okTo := to.Location()
	if !okFrom || !okTo || s.estimator == nil {
		s.metrics.RecordTransitFallback(ctx, string(mode))
		return s.defaultTransit, true
	}

	if s.legTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.legTimeout)
		defer cancel()
	}
	minutes, err := s.estimator.Minutes(ctx, fromLoc, toLoc, mode)
	if err != nil || minutes < 0 {
		s.logger.WarnContext(ctx, "Transit estimate failed, using default",
			slog.String("from", from.ID), slog.String("to", to.ID),
			slog.String("mode", string(mode)), slog.Any("error", err))
		s.metrics.RecordTransitFallback(ctx, string(mode))
		return s.defaultTransit, true
	}
	return minutes, false
}

func findCandidate(candidates []types.Candidate, id string) (types.Candidate, bool) {
	for _, c := range candidates {
		if c.ID == id {
			return c, true
		}
	}
	return types.Candidate{}, false
}

func anchorLocation(a types.Anchor) types.Location {
	loc := types.Location{Address: a.Address}
	if a.Latitude != nil && a.Longitude != nil {
		loc.Latitude, loc.Longitude = *a.Latitude, *a.Longitude
	}
	return loc
}
