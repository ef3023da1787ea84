package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/haru-planner/app/observability/metrics"
	"github.com/FACorreiaa/haru-planner/internal/api/itinerary"
	"github.com/FACorreiaa/haru-planner/internal/api/ranking"
	"github.com/FACorreiaa/haru-planner/internal/api/retrieval"
	"github.com/FACorreiaa/haru-planner/internal/api/tagging"
	"github.com/FACorreiaa/haru-planner/internal/types"
)

var _ Service = (*ServiceImpl)(nil)

const (
	cancelReasonUser    = "user"
	cancelReasonTimeout = "timeout"
)

// Settings are the conversation thresholds. Zero values take the defaults.
type Settings struct {
	MaxTurns          int
	MinTurns          int
	TagThreshold      int
	InactivityTimeout time.Duration
	MaxCategories     int
	MaxUtteranceRunes int
	MaxPartySize      int
	TopK              int
}

func DefaultSettings() Settings {
	return Settings{
		MaxTurns:          10,
		MinTurns:          1,
		TagThreshold:      3,
		InactivityTimeout: 30 * time.Minute,
		MaxCategories:     5,
		MaxUtteranceRunes: 1000,
		MaxPartySize:      50,
		TopK:              retrieval.DefaultTopK,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.MaxTurns <= 0 {
		s.MaxTurns = d.MaxTurns
	}
	if s.MinTurns <= 0 {
		s.MinTurns = d.MinTurns
	}
	if s.TagThreshold <= 0 {
		s.TagThreshold = d.TagThreshold
	}
	if s.InactivityTimeout == 0 {
		s.InactivityTimeout = d.InactivityTimeout
	}
	if s.MaxCategories <= 0 {
		s.MaxCategories = d.MaxCategories
	}
	if s.MaxUtteranceRunes <= 0 {
		s.MaxUtteranceRunes = d.MaxUtteranceRunes
	}
	if s.MaxPartySize <= 0 {
		s.MaxPartySize = d.MaxPartySize
	}
	if s.TopK <= 0 {
		s.TopK = d.TopK
	}
	return s
}

type StartRequest struct {
	UserID      string       `json:"-"`
	Categories  []string     `json:"categories"`
	PartySize   int          `json:"party_size"`
	Anchor      types.Anchor `json:"anchor"`
	ExcludeSeen bool         `json:"exclude_seen"`
}

// Response is what a caller sees after every Start, Message and Cancel.
// Recommendations is set only on the turn that resolved a category.
type Response struct {
	SessionID       string                  `json:"session_id"`
	Stage           types.Stage             `json:"stage"`
	Category        string                  `json:"category,omitempty"`
	Prompt          string                  `json:"prompt"`
	Tags            []string                `json:"tags,omitempty"`
	Notices         []types.Notice          `json:"notices,omitempty"`
	Recommendations *types.CategoryResult   `json:"recommendations,omitempty"`
	Results         []types.CategoryResult  `json:"results,omitempty"`
	Progress        types.Progress          `json:"progress"`
	Transitions     []types.StageTransition `json:"transitions,omitempty"`
}

type CompileResult struct {
	Itinerary types.Itinerary `json:"itinerary"`
	Saved     bool            `json:"saved"`
}

// PlanSaver receives compiled plans. Durability is its concern.
type PlanSaver interface {
	SavePlan(ctx context.Context, record types.PlanRecord) error
}

type Service interface {
	Start(ctx context.Context, req StartRequest) (Response, error)
	Message(ctx context.Context, sessionID, utterance string) (Response, error)
	Cancel(ctx context.Context, sessionID string) (Response, error)
	Get(ctx context.Context, sessionID string) (*types.Session, error)
	CompileItinerary(ctx context.Context, sessionID string, plan itinerary.Plan) (CompileResult, error)
	Sweep(ctx context.Context) int
}

type ServiceImpl struct {
	store     *Store
	extractor tagging.Extractor
	gateway   retrieval.Gateway
	ranker    ranking.Ranker
	compiler  itinerary.Compiler
	plans     PlanSaver
	settings  Settings
	metrics   *metrics.AppMetrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the state machine. plans may be nil, in which case
// compiled itineraries are returned but not saved.
func NewService(
	store *Store,
	extractor tagging.Extractor,
	gateway retrieval.Gateway,
	ranker ranking.Ranker,
	compiler itinerary.Compiler,
	plans PlanSaver,
	settings Settings,
	appMetrics *metrics.AppMetrics,
	logger *slog.Logger,
) *ServiceImpl {
	if store == nil {
		store = NewStore()
	}
	return &ServiceImpl{
		store:     store,
		extractor: extractor,
		gateway:   gateway,
		ranker:    ranker,
		compiler:  compiler,
		plans:     plans,
		settings:  settings.withDefaults(),
		metrics:   appMetrics,
		logger:    logger,
		now:       time.Now,
	}
}

// turnState collects everything one message does to the working copy.
type turnState struct {
	session     *types.Session
	at          time.Time
	prompt      []string
	notices     []types.Notice
	transitions []types.StageTransition
	result      *types.CategoryResult
	err         error
}

func (t *turnState) move(to types.Stage) {
	if t.err != nil {
		return
	}
	from := t.session.Stage
	if !types.CanTransition(from, to) {
		t.err = fmt.Errorf("illegal transition %s -> %s", from, to)
		return
	}
	tr := types.StageTransition{From: from, To: to, TargetIndex: t.session.CurrentIndex, At: t.at}
	t.session.Stage = to
	t.session.StageHistory = append(t.session.StageHistory, tr)
	t.transitions = append(t.transitions, tr)
}

func (t *turnState) notice(n types.Notice) {
	for _, existing := range t.notices {
		if existing == n {
			return
		}
	}
	t.notices = append(t.notices, n)
}

func (t *turnState) say(p string) { t.prompt = append(t.prompt, p) }

func (s *ServiceImpl) fail(ctx context.Context, span trace.Span, l *slog.Logger, err *Error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(err.Code))
	if err.Code == CodeInternal {
		l.ErrorContext(ctx, "Conversation operation failed", slog.Any("error", err))
	} else {
		l.WarnContext(ctx, "Conversation request rejected", slog.String("code", string(err.Code)), slog.String("reason", err.Reason))
	}
	return err
}

func (s *ServiceImpl) Start(ctx context.Context, req StartRequest) (Response, error) {
	ctx, span := otel.Tracer("ConversationService").Start(ctx, "Start", trace.WithAttributes(
		attribute.String("user.id", req.UserID),
		attribute.Int("categories.count", len(req.Categories)),
	))
	defer span.End()
	l := s.logger.With(slog.String("method", "Start"), slog.String("user_id", req.UserID))

	if strings.TrimSpace(req.UserID) == "" {
		return Response{}, s.fail(ctx, span, l, newError(CodeInvalidInput, "user id is required"))
	}
	if len(req.Categories) == 0 || len(req.Categories) > s.settings.MaxCategories {
		return Response{}, s.fail(ctx, span, l, newError(CodeInvalidInput, "between 1 and %d categories are required", s.settings.MaxCategories))
	}
	targets := make([]types.CategoryTarget, 0, len(req.Categories))
	for _, c := range req.Categories {
		category := types.CanonicalCategory(c)
		if category == "" {
			return Response{}, s.fail(ctx, span, l, newError(CodeInvalidInput, "category must not be empty"))
		}
		targets = append(targets, types.CategoryTarget{Category: category, Tags: []string{}})
	}
	party := req.PartySize
	if party == 0 {
		party = 1
	}
	if party < 0 || party > s.settings.MaxPartySize {
		return Response{}, s.fail(ctx, span, l, newError(CodeInvalidInput, "party size must be between 1 and %d", s.settings.MaxPartySize))
	}

	now := s.now()
	session := &types.Session{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		PartySize:      party,
		Anchor:         req.Anchor.Normalized(),
		ExcludeSeen:    req.ExcludeSeen,
		Targets:        targets,
		Stage:          types.StageCollectingDetails,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	working := session.Clone()
	s.store.put(session)
	s.metrics.RecordSessionStarted(ctx, len(targets))

	l.InfoContext(ctx, "Session started", slog.String("session_id", session.ID), slog.Int("categories", len(targets)))
	span.SetAttributes(attribute.String("session.id", session.ID))
	span.SetStatus(codes.Ok, "Session started")
	return s.response(working, &turnState{
		session: working,
		prompt:  []string{askDetailsPrompt(targets[0].Category, party)},
	}), nil
}

// Message advances the session by one utterance. Turns on the same session
// run one at a time; a turn that finishes after the session was cancelled is
// discarded.
func (s *ServiceImpl) Message(ctx context.Context, sessionID, utterance string) (Response, error) {
	ctx, span := otel.Tracer("ConversationService").Start(ctx, "Message", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()
	l := s.logger.With(slog.String("method", "Message"), slog.String("session_id", sessionID))

	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return Response{}, s.fail(ctx, span, l, newError(CodeInvalidInput, "utterance is required"))
	}
	if utf8.RuneCountInString(utterance) > s.settings.MaxUtteranceRunes {
		return Response{}, s.fail(ctx, span, l, newError(CodeInvalidInput, "utterance exceeds %d characters", s.settings.MaxUtteranceRunes))
	}

	e, ok := s.store.get(sessionID)
	if !ok {
		return Response{}, s.fail(ctx, span, l, newError(CodeNoActiveSession, "unknown session"))
	}
	if err := e.acquire(ctx); err != nil {
		return Response{}, s.fail(ctx, span, l, wrapError(CodeConcurrencyConflict, "gave up waiting for the previous message", err))
	}
	defer e.release()

	if s.expireIfIdle(ctx, e) {
		return Response{}, s.fail(ctx, span, l, newError(CodeNoActiveSession, "session expired"))
	}
	working := e.snapshot()
	if working.Stage.IsTerminal() {
		return Response{}, s.fail(ctx, span, l, newError(CodeNoActiveSession, "session is %s", working.Stage))
	}

	stageIn := working.Stage
	category := working.ActiveTarget().Category
	st := &turnState{session: working, at: s.now()}
	s.step(ctx, st, utterance)
	if st.err != nil {
		return Response{}, s.fail(ctx, span, l, wrapError(CodeInternal, "state machine", st.err))
	}

	resp := s.response(working, st)
	working.LastActivityAt = s.now()
	working.History = append(working.History, types.Turn{
		ID:        uuid.NewString(),
		Category:  category,
		Stage:     stageIn,
		Utterance: utterance,
		Response:  resp.Prompt,
		At:        st.at,
	})

	e.mu.Lock()
	if e.session.Stage == types.StageCancelled {
		current := e.session.Clone()
		e.mu.Unlock()
		l.InfoContext(ctx, "Session was cancelled during the turn, discarding result")
		span.SetStatus(codes.Ok, "Turn discarded")
		return cancelledResponse(current), nil
	}
	e.session = working
	e.mu.Unlock()

	s.metrics.RecordMessage(ctx, string(stageIn))
	for _, tr := range st.transitions {
		s.metrics.RecordTransition(ctx, string(tr.From), string(tr.To))
	}
	l.DebugContext(ctx, "Message processed",
		slog.String("from", string(stageIn)),
		slog.String("to", string(working.Stage)),
		slog.Any("notices", st.notices))
	span.SetAttributes(attribute.String("stage", string(working.Stage)))
	span.SetStatus(codes.Ok, "Message processed")
	return resp, nil
}

func (s *ServiceImpl) step(ctx context.Context, st *turnState, utterance string) {
	session := st.session
	target := session.ActiveTarget()
	if target == nil {
		st.err = errors.New("no active target")
		return
	}
	target.Turns++
	intent := ClassifyIntent(utterance)

	switch session.Stage {
	case types.StageCollectingDetails:
		s.collect(ctx, st, target, intent, utterance)
	case types.StageAwaitingConfirmation:
		switch intent {
		case IntentAffirm:
			s.resolve(ctx, st)
			return
		case IntentDecline, IntentMore:
			st.move(types.StageCollectingDetails)
			st.say(moreDetailsPrompt(target.Category))
		case IntentAnything:
			target.AnyChoice = true
			st.say(confirmPrompt(target))
		default:
			st.move(types.StageCollectingDetails)
			s.collect(ctx, st, target, IntentDetail, utterance)
		}
	default:
		st.err = fmt.Errorf("cannot take a message in stage %s", session.Stage)
		return
	}

	if target.Resolved || target.Turns < s.settings.MaxTurns {
		return
	}
	// Max-turn guard: resolve with whatever was gathered.
	target.Forced = true
	st.notice(types.NoticeForcedAdvance)
	st.prompt = []string{forcedAdvancePrompt}
	if session.Stage == types.StageCollectingDetails {
		st.move(types.StageAwaitingConfirmation)
	}
	s.resolve(ctx, st)
}

func (s *ServiceImpl) collect(ctx context.Context, st *turnState, target *types.CategoryTarget, intent Intent, utterance string) {
	switch intent {
	case IntentAnything:
		target.AnyChoice = true
		st.move(types.StageAwaitingConfirmation)
		st.say(confirmPrompt(target))
	case IntentAffirm:
		if len(target.Tags) == 0 && !target.AnyChoice {
			st.notice(types.NoticeClarify)
			st.say(clarifyPrompt(target.Category))
			return
		}
		st.move(types.StageAwaitingConfirmation)
		s.resolve(ctx, st)
	case IntentDecline, IntentMore:
		st.say(askDetailsPrompt(target.Category, st.session.PartySize))
	default:
		ex := s.extractor.Extract(ctx, tagging.Request{
			Utterance: utterance,
			Category:  target.Category,
			PartySize: st.session.PartySize,
		})
		if ex.Unavailable {
			st.notice(types.NoticeExtractionUnavailable)
		}
		target.AddTags(ex.Tags...)
		switch {
		case len(ex.Tags) == 0:
			st.notice(types.NoticeClarify)
			st.say(clarifyPrompt(target.Category))
		case target.Turns >= s.settings.MinTurns || len(target.Tags) >= s.settings.TagThreshold:
			st.move(types.StageAwaitingConfirmation)
			st.say(confirmPrompt(target))
		default:
			st.say(moreDetailsPrompt(target.Category))
		}
	}
}

// resolve runs retrieval and ranking for the active target and advances to
// the next one. Retrieval failures end the category with an empty result.
func (s *ServiceImpl) resolve(ctx context.Context, st *turnState) {
	session := st.session
	st.move(types.StageResolving)
	if st.err != nil {
		return
	}
	target := session.ActiveTarget()
	began := time.Now()

	q := retrieval.Query{
		Category: target.Category,
		Tags:     append([]string(nil), target.Tags...),
		Anchor:   session.Anchor,
		TopK:     s.settings.TopK,
	}
	seen := session.SurfacedSet()
	var excluded map[string]struct{}
	if session.ExcludeSeen {
		q.Exclusions = append([]string(nil), session.Surfaced...)
		excluded = seen
	}

	outcome := types.OutcomeMatched
	ranked := []types.Candidate{}
	found, err := s.gateway.Search(ctx, q)
	if err != nil {
		s.logger.WarnContext(ctx, "Retrieval failed, ending category with no results",
			slog.String("session_id", session.ID),
			slog.String("category", target.Category),
			slog.Any("error", err))
		outcome = types.OutcomeRetrievalUnavailable
		st.notice(types.NoticeRetrievalUnavailable)
	} else {
		if r := s.ranker.Rank(ctx, ranking.Input{Candidates: found, Seen: seen, Excluded: excluded}); r != nil {
			ranked = r
		}
		if len(ranked) == 0 {
			outcome = types.OutcomeNoMatches
			st.notice(types.NoticeNoMatches)
		}
	}

	target.Resolved = true
	target.Outcome = outcome
	target.Candidates = ranked
	session.MarkSurfaced(ranked)
	st.result = &types.CategoryResult{
		Category:   target.Category,
		Tags:       append([]string{}, target.Tags...),
		Outcome:    outcome,
		Candidates: append([]types.Candidate{}, ranked...),
	}
	st.say(resultPrompt(st.result))
	s.metrics.RecordOutcome(ctx, target.Category, string(outcome), time.Since(began))

	st.move(types.StageAdvancing)
	if session.CurrentIndex+1 < len(session.Targets) {
		session.CurrentIndex++
		st.move(types.StageCollectingDetails)
		st.say(askDetailsPrompt(session.ActiveTarget().Category, session.PartySize))
		return
	}
	st.move(types.StageCompleted)
	st.say(completedPrompt)
}

// Cancel ends the session immediately, even while a turn is in flight.
func (s *ServiceImpl) Cancel(ctx context.Context, sessionID string) (Response, error) {
	ctx, span := otel.Tracer("ConversationService").Start(ctx, "Cancel", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()
	l := s.logger.With(slog.String("method", "Cancel"), slog.String("session_id", sessionID))

	e, ok := s.store.get(sessionID)
	if !ok {
		return Response{}, s.fail(ctx, span, l, newError(CodeNoActiveSession, "unknown session"))
	}
	if s.expireIfIdle(ctx, e) {
		return Response{}, s.fail(ctx, span, l, newError(CodeNoActiveSession, "session expired"))
	}

	e.mu.Lock()
	if e.session.Stage.IsTerminal() {
		stage := e.session.Stage
		e.mu.Unlock()
		return Response{}, s.fail(ctx, span, l, newError(CodeNoActiveSession, "session is %s", stage))
	}
	tr := s.cancelLocked(e.session, cancelReasonUser)
	current := e.session.Clone()
	e.mu.Unlock()

	s.metrics.RecordTransition(ctx, string(tr.From), string(tr.To))
	l.InfoContext(ctx, "Session cancelled")
	span.SetStatus(codes.Ok, "Session cancelled")
	return cancelledResponse(current), nil
}

// cancelledResponse describes a cancelled session the same way whether the
// caller cancelled it or had its turn discarded by the cancellation.
func cancelledResponse(session *types.Session) Response {
	resp := Response{
		SessionID: session.ID,
		Stage:     types.StageCancelled,
		Prompt:    cancelledPrompt,
		Notices:   []types.Notice{types.NoticeSessionCancelled},
		Results:   resultsOf(session),
		Progress:  progressOf(session),
	}
	for i := len(session.StageHistory) - 1; i >= 0; i-- {
		if tr := session.StageHistory[i]; tr.To == types.StageCancelled {
			resp.Transitions = []types.StageTransition{tr}
			break
		}
	}
	return resp
}

// cancelLocked must be called with e.mu held for writing.
func (s *ServiceImpl) cancelLocked(session *types.Session, reason string) types.StageTransition {
	now := s.now()
	tr := types.StageTransition{From: session.Stage, To: types.StageCancelled, TargetIndex: session.CurrentIndex, At: now}
	session.Stage = types.StageCancelled
	session.CancelReason = reason
	session.StageHistory = append(session.StageHistory, tr)
	session.LastActivityAt = now
	return tr
}

// expireIfIdle cancels a live session that has been idle past the timeout and
// reports whether it did.
func (s *ServiceImpl) expireIfIdle(ctx context.Context, e *entry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Stage.IsTerminal() || !e.session.Expired(s.now(), s.settings.InactivityTimeout) {
		return false
	}
	tr := s.cancelLocked(e.session, cancelReasonTimeout)
	s.metrics.RecordTransition(ctx, string(tr.From), string(tr.To))
	s.logger.InfoContext(ctx, "Session expired", slog.String("session_id", e.session.ID))
	return true
}

// Get returns a copy of the session, terminal ones included.
func (s *ServiceImpl) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	ctx, span := otel.Tracer("ConversationService").Start(ctx, "Get", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()
	l := s.logger.With(slog.String("method", "Get"), slog.String("session_id", sessionID))

	e, ok := s.store.get(sessionID)
	if !ok {
		return nil, s.fail(ctx, span, l, newError(CodeNoActiveSession, "unknown session"))
	}
	s.expireIfIdle(ctx, e)
	span.SetStatus(codes.Ok, "Session returned")
	return e.snapshot(), nil
}

func (s *ServiceImpl) CompileItinerary(ctx context.Context, sessionID string, plan itinerary.Plan) (CompileResult, error) {
	ctx, span := otel.Tracer("ConversationService").Start(ctx, "CompileItinerary", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("stops.count", len(plan.Stops)),
	))
	defer span.End()
	l := s.logger.With(slog.String("method", "CompileItinerary"), slog.String("session_id", sessionID))

	e, ok := s.store.get(sessionID)
	if !ok {
		return CompileResult{}, s.fail(ctx, span, l, newError(CodeNoActiveSession, "unknown session"))
	}
	s.expireIfIdle(ctx, e)
	session := e.snapshot()
	switch session.Stage {
	case types.StageCompleted:
	case types.StageCancelled:
		return CompileResult{}, s.fail(ctx, span, l, newError(CodeNoActiveSession, "session is cancelled"))
	default:
		return CompileResult{}, s.fail(ctx, span, l, newError(CodeInvalidPlan, "recommendations are not complete"))
	}

	it, err := s.compiler.Compile(ctx, session, plan)
	if err != nil {
		if errors.Is(err, itinerary.ErrInvalidPlan) {
			return CompileResult{}, s.fail(ctx, span, l, wrapError(CodeInvalidPlan, "plan rejected", err))
		}
		return CompileResult{}, s.fail(ctx, span, l, wrapError(CodeInternal, "compiling itinerary", err))
	}

	result := CompileResult{Itinerary: it}
	if s.plans != nil {
		record := types.PlanRecord{
			Itinerary: it,
			Targets:   session.Targets,
			PartySize: session.PartySize,
			Anchor:    session.Anchor,
		}
		if err := s.plans.SavePlan(ctx, record); err != nil {
			l.ErrorContext(ctx, "Failed to save plan, returning it unsaved", slog.Any("error", err))
			span.RecordError(err)
		} else {
			result.Saved = true
		}
	}

	l.InfoContext(ctx, "Itinerary compiled",
		slog.String("itinerary_id", it.ID().String()),
		slog.Int("stops", it.Len()),
		slog.Bool("approximate", it.Approximate()))
	span.SetStatus(codes.Ok, "Itinerary compiled")
	return result, nil
}

// Sweep drops expired sessions and terminal sessions idle past the timeout.
// It only reclaims memory; expiry is enforced on access regardless.
func (s *ServiceImpl) Sweep(ctx context.Context) int {
	now := s.now()
	timeout := s.settings.InactivityTimeout
	removed := s.store.sweep(func(session *types.Session) bool {
		if timeout <= 0 {
			return false
		}
		return now.Sub(session.LastActivityAt) > timeout
	})
	if removed > 0 {
		s.logger.InfoContext(ctx, "Swept idle sessions", slog.Int("removed", removed), slog.Int("remaining", s.store.Len()))
	}
	return removed
}

func (s *ServiceImpl) response(session *types.Session, st *turnState) Response {
	resp := Response{
		SessionID:       session.ID,
		Stage:           session.Stage,
		Prompt:          joinPrompt(st.prompt...),
		Notices:         st.notices,
		Recommendations: st.result,
		Progress:        progressOf(session),
		Transitions:     st.transitions,
	}
	if !session.Stage.IsTerminal() {
		if t := session.ActiveTarget(); t != nil {
			resp.Category = t.Category
			resp.Tags = append([]string{}, t.Tags...)
		}
	}
	if session.Stage == types.StageCompleted {
		resp.Results = resultsOf(session)
	}
	return resp
}

func progressOf(session *types.Session) types.Progress {
	total := len(session.Targets)
	current := min(session.CurrentIndex+1, total)
	return types.Progress{Current: current, Total: total}
}

func resultsOf(session *types.Session) []types.CategoryResult {
	var out []types.CategoryResult
	for _, t := range session.Targets {
		if !t.Resolved {
			continue
		}
		out = append(out, types.CategoryResult{
			Category:   t.Category,
			Tags:       append([]string{}, t.Tags...),
			Outcome:    t.Outcome,
			Candidates: append([]types.Candidate{}, t.Candidates...),
		})
	}
	return out
}
