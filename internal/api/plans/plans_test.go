package plans

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	appMiddleware "github.com/FACorreiaa/haru-planner/app/middleware"
	"github.com/FACorreiaa/haru-planner/internal/types"
)

func setupPlansRepositoryTest(t *testing.T) (*RepositoryImpl, pgxmock.PgxPoolIface) {
	t.Helper()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewRepository(pool, nil, logger), pool
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func samplePlan() types.PlanRecord {
	start := time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC)
	entries := []types.ItineraryEntry{
		{TargetIndex: 0, Category: "cafe", CandidateID: "c1", Title: "Quiet Beans", DurationMinutes: 60,
			Mode: types.TransportTransit, Start: start, End: start.Add(time.Hour)},
		{TargetIndex: 1, Category: "restaurant", CandidateID: "r1", Title: "Bap House", DurationMinutes: 45,
			Mode: types.TransportWalk, TransitMinutes: 10, Start: start.Add(70 * time.Minute), End: start.Add(115 * time.Minute)},
	}
	return types.PlanRecord{
		Itinerary: types.NewItinerary("sess-1", "user-1", start, types.Location{}, entries),
		Targets: []types.CategoryTarget{
			{Category: "cafe", Tags: []string{"조용한"}, Resolved: true, Outcome: types.OutcomeMatched,
				Candidates: []types.Candidate{{ID: "c1"}}},
			{Category: "restaurant", AnyChoice: true, Resolved: true, Outcome: types.OutcomeMatched,
				Candidates: []types.Candidate{{ID: "r1"}, {ID: "r2"}}},
		},
		PartySize: 2,
		Anchor:    types.Anchor{Address: "서울 강남구"},
	}
}

func TestSavePlan(t *testing.T) {
	ctx := context.Background()
	record := samplePlan()
	it := record.Itinerary
	targets := `[{"category":"cafe","tags":["조용한"],"outcome":"matched","candidate_ids":["c1"]},` +
		`{"category":"restaurant","tags":[],"any_choice":true,"outcome":"matched","candidate_ids":["r1","r2"]}]`

	t.Run("writes plan and stops in one transaction", func(t *testing.T) {
		repo, pool := setupPlansRepositoryTest(t)
		pool.ExpectBegin()
		pool.ExpectExec("INSERT INTO day_plans").
			WithArgs(it.ID(), "sess-1", "user-1", "cafe,restaurant", 2, "서울 강남구",
				it.Start(), it.End(), false, targets).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		for i, e := range it.Entries() {
			pool.ExpectExec("INSERT INTO day_plan_stops").
				WithArgs(it.ID(), i, e.TargetIndex, e.Category, e.CandidateID, e.Title, e.DurationMinutes,
					string(e.Mode), e.TransitMinutes, e.Approximate, e.Start, e.End).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
		}
		pool.ExpectCommit()

		require.NoError(t, repo.SavePlan(ctx, record))
		assert.NoError(t, pool.ExpectationsWereMet())
	})

	t.Run("rolls back when a stop fails", func(t *testing.T) {
		repo, pool := setupPlansRepositoryTest(t)
		pool.ExpectBegin()
		pool.ExpectExec("INSERT INTO day_plans").
			WithArgs(anyArgs(10)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		pool.ExpectExec("INSERT INTO day_plan_stops").
			WithArgs(anyArgs(12)...).
			WillReturnError(errors.New("constraint violation"))
		pool.ExpectRollback()

		err := repo.SavePlan(ctx, record)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert stop 0")
		assert.NoError(t, pool.ExpectationsWereMet())
	})

	t.Run("begin fails", func(t *testing.T) {
		repo, pool := setupPlansRepositoryTest(t)
		pool.ExpectBegin().WillReturnError(errors.New("pool closed"))

		err := repo.SavePlan(ctx, record)
		assert.ErrorContains(t, err, "failed to start transaction")
		assert.NoError(t, pool.ExpectationsWereMet())
	})
}

func TestListPlans(t *testing.T) {
	ctx := context.Background()
	planA, planB := uuid.New(), uuid.New()
	start := time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC)
	planCols := []string{"id", "session_id", "categories_name", "starts_at", "ends_at", "approximate", "created_at"}
	stopCols := []string{"plan_id", "target_index", "category", "place_id", "title", "duration_minutes",
		"transport_mode", "transit_minutes", "approximate", "starts_at", "ends_at"}

	t.Run("attaches stops to their plans", func(t *testing.T) {
		repo, pool := setupPlansRepositoryTest(t)
		pool.ExpectQuery("FROM day_plans").
			WithArgs("user-1", 5).
			WillReturnRows(pgxmock.NewRows(planCols).
				AddRow(planA, "s-a", "cafe,restaurant", start, start.Add(2*time.Hour), false, start).
				AddRow(planB, "s-b", "attraction", start, start.Add(time.Hour), true, start.Add(-time.Hour)))
		pool.ExpectQuery("FROM day_plan_stops").
			WithArgs([]uuid.UUID{planA, planB}).
			WillReturnRows(pgxmock.NewRows(stopCols).
				AddRow(planA, 0, "cafe", "c1", "Quiet Beans", 60, "transit", 0, false, start, start.Add(time.Hour)).
				AddRow(planA, 1, "restaurant", "r1", "Bap House", 45, "walk", 10, false, start.Add(70*time.Minute), start.Add(115*time.Minute)).
				AddRow(planB, 0, "attraction", "a1", "Museum", 60, "drive", 0, true, start, start.Add(time.Hour)))

		plans, err := repo.ListPlans(ctx, "user-1", 5)
		require.NoError(t, err)
		require.Len(t, plans, 2)
		assert.Equal(t, planA, plans[0].ID)
		require.Len(t, plans[0].Stops, 2)
		assert.Equal(t, types.TransportWalk, plans[0].Stops[1].Mode)
		assert.Equal(t, 1, plans[0].Stops[1].TargetIndex)
		require.Len(t, plans[1].Stops, 1)
		assert.True(t, plans[1].Approximate)
		assert.NoError(t, pool.ExpectationsWereMet())
	})

	t.Run("no plans skips the stop query", func(t *testing.T) {
		repo, pool := setupPlansRepositoryTest(t)
		pool.ExpectQuery("FROM day_plans").
			WithArgs("user-1", DefaultListLimit).
			WillReturnRows(pgxmock.NewRows(planCols))

		plans, err := repo.ListPlans(ctx, "user-1", 0)
		require.NoError(t, err)
		assert.Empty(t, plans)
		assert.NotNil(t, plans)
		assert.NoError(t, pool.ExpectationsWereMet())
	})

	t.Run("limit is capped", func(t *testing.T) {
		repo, pool := setupPlansRepositoryTest(t)
		pool.ExpectQuery("FROM day_plans").
			WithArgs("user-1", MaxListLimit).
			WillReturnError(errors.New("timeout"))

		_, err := repo.ListPlans(ctx, "user-1", 1000)
		assert.ErrorContains(t, err, "failed to query plans")
		assert.NoError(t, pool.ExpectationsWereMet())
	})
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) SavePlan(ctx context.Context, record types.PlanRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *MockRepository) ListPlans(ctx context.Context, userID string, limit int) ([]types.SavedPlan, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.SavedPlan), args.Error(1)
}

func TestListPlansHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authed := func(target string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		return req.WithContext(appMiddleware.WithUserID(req.Context(), "user-1"))
	}

	t.Run("ok", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("ListPlans", mock.Anything, "user-1", 3).Return([]types.SavedPlan{{SessionID: "s-a"}}, nil).Once()
		rec := httptest.NewRecorder()
		NewHandler(repo, logger).ListPlans(rec, authed("/plans?limit=3"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"session_id":"s-a"`)
		repo.AssertExpectations(t)
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewHandler(new(MockRepository), logger).ListPlans(rec, authed("/plans?limit=abc"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("repository failure", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("ListPlans", mock.Anything, "user-1", DefaultListLimit).Return(nil, errors.New("db down")).Once()
		rec := httptest.NewRecorder()
		NewHandler(repo, logger).ListPlans(rec, authed("/plans"))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewHandler(new(MockRepository), logger).ListPlans(rec, httptest.NewRequest(http.MethodGet, "/plans", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
