package plans

import (
	"log/slog"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	appMiddleware "github.com/FACorreiaa/haru-planner/app/middleware"
	"github.com/FACorreiaa/haru-planner/internal/api"
)

type Handler struct {
	repo   Repository
	logger *slog.Logger
}

func NewHandler(repo Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// ListPlans handles GET /plans?limit=N for the authenticated user.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("PlansHandler").Start(r.Context(), "ListPlans")
	defer span.End()
	r = r.WithContext(ctx)
	l := h.logger.With(slog.String("method", "ListPlans"))

	userID, ok := appMiddleware.GetUserIDFromContext(ctx)
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	limit := DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.ErrorResponse(w, r, http.StatusBadRequest, "INVALID_INPUT", "limit must be a positive integer")
			return
		}
		limit = n
	}

	plans, err := h.repo.ListPlans(ctx, userID, limit)
	if err != nil {
		l.ErrorContext(ctx, "Failed to list plans", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Repository operation failed")
		api.ErrorResponse(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list plans")
		return
	}

	span.SetStatus(codes.Ok, "Plans listed")
	api.WriteJSONResponse(w, r, http.StatusOK, map[string]any{"plans": plans})
}
