package conversation

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	appMiddleware "github.com/FACorreiaa/haru-planner/app/middleware"
	"github.com/FACorreiaa/haru-planner/internal/api"
	"github.com/FACorreiaa/haru-planner/internal/api/itinerary"
	"github.com/FACorreiaa/haru-planner/internal/types"
)

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts the session endpoints; callers must run Authenticate first.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.StartSession)
	r.Route("/{sessionID}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Delete("/", h.CancelSession)
		r.Post("/messages", h.SendMessage)
		r.Post("/itinerary", h.CompileItinerary)
	})
}

type messageRequest struct {
	Utterance string `json:"utterance"`
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ConversationHandler").Start(r.Context(), "StartSession")
	defer span.End()
	r = r.WithContext(ctx)

	userID, ok := appMiddleware.GetUserIDFromContext(ctx)
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	var req StartRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		span.SetStatus(codes.Error, "Invalid request body")
		api.ErrorResponse(w, r, http.StatusBadRequest, string(CodeInvalidInput), err.Error())
		return
	}
	req.UserID = userID

	resp, err := h.service.Start(ctx, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	span.SetStatus(codes.Ok, "Session started")
	api.WriteJSONResponse(w, r, http.StatusCreated, resp)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ConversationHandler").Start(r.Context(), "GetSession")
	defer span.End()
	r = r.WithContext(ctx)

	session, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	span.SetStatus(codes.Ok, "Session returned")
	api.WriteJSONResponse(w, r, http.StatusOK, session)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ConversationHandler").Start(r.Context(), "SendMessage")
	defer span.End()
	r = r.WithContext(ctx)

	if _, ok := h.ownedSession(w, r); !ok {
		return
	}
	var req messageRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		span.SetStatus(codes.Error, "Invalid request body")
		api.ErrorResponse(w, r, http.StatusBadRequest, string(CodeInvalidInput), err.Error())
		return
	}

	resp, err := h.service.Message(ctx, chi.URLParam(r, "sessionID"), req.Utterance)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("stage", string(resp.Stage)))
	span.SetStatus(codes.Ok, "Message processed")
	api.WriteJSONResponse(w, r, http.StatusOK, resp)
}

func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ConversationHandler").Start(r.Context(), "CancelSession")
	defer span.End()
	r = r.WithContext(ctx)

	if _, ok := h.ownedSession(w, r); !ok {
		return
	}
	resp, err := h.service.Cancel(ctx, chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	span.SetStatus(codes.Ok, "Session cancelled")
	api.WriteJSONResponse(w, r, http.StatusOK, resp)
}

func (h *Handler) CompileItinerary(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ConversationHandler").Start(r.Context(), "CompileItinerary")
	defer span.End()
	r = r.WithContext(ctx)

	if _, ok := h.ownedSession(w, r); !ok {
		return
	}
	var plan itinerary.Plan
	if err := api.DecodeJSONBody(w, r, &plan); err != nil {
		span.SetStatus(codes.Error, "Invalid request body")
		api.ErrorResponse(w, r, http.StatusBadRequest, string(CodeInvalidInput), err.Error())
		return
	}

	result, err := h.service.CompileItinerary(ctx, chi.URLParam(r, "sessionID"), plan)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	span.SetStatus(codes.Ok, "Itinerary compiled")
	api.WriteJSONResponse(w, r, http.StatusOK, result)
}

// ownedSession loads the session and hides sessions of other users behind
// the same not-found answer as unknown ids.
func (h *Handler) ownedSession(w http.ResponseWriter, r *http.Request) (*types.Session, bool) {
	userID, ok := appMiddleware.GetUserIDFromContext(r.Context())
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return nil, false
	}
	session, err := h.service.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	if session.UserID != userID {
		h.writeError(w, r, newError(CodeNoActiveSession, "unknown session"))
		return nil, false
	}
	return session, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var convErr *Error
	if !errors.As(err, &convErr) {
		convErr = wrapError(CodeInternal, "unexpected failure", err)
	}
	message := string(convErr.Code)
	if convErr.Reason != "" {
		message = convErr.Reason
	}
	if convErr.Code == CodeInternal {
		h.logger.ErrorContext(r.Context(), "Request failed", slog.Any("error", err))
		message = "internal error"
	}
	api.ErrorResponse(w, r, convErr.HTTPStatus(), string(convErr.Code), message)
}
