package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/haru-planner/internal/api/itinerary"
	"github.com/FACorreiaa/haru-planner/internal/api/ranking"
	"github.com/FACorreiaa/haru-planner/internal/api/retrieval"
	"github.com/FACorreiaa/haru-planner/internal/api/tagging"
	"github.com/FACorreiaa/haru-planner/internal/types"
)

type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Extract(ctx context.Context, req tagging.Request) tagging.Extraction {
	args := m.Called(ctx, req)
	return args.Get(0).(tagging.Extraction)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Search(ctx context.Context, q retrieval.Query) ([]types.Candidate, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Candidate), args.Error(1)
}

type MockCompiler struct {
	mock.Mock
}

func (m *MockCompiler) Compile(ctx context.Context, session *types.Session, plan itinerary.Plan) (types.Itinerary, error) {
	args := m.Called(ctx, session, plan)
	return args.Get(0).(types.Itinerary), args.Error(1)
}

type MockPlanSaver struct {
	mock.Mock
}

func (m *MockPlanSaver) SavePlan(ctx context.Context, record types.PlanRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func candidates(prefix string, sims ...float64) []types.Candidate {
	out := make([]types.Candidate, len(sims))
	for i, sim := range sims {
		id := fmt.Sprintf("%s-%d", prefix, i+1)
		out[i] = types.Candidate{ID: id, Similarity: sim, Metadata: types.PlaceMetadata{Title: id}}
	}
	return out
}

func byCategory(category string) any {
	return mock.MatchedBy(func(q retrieval.Query) bool { return q.Category == category })
}

func keywordExtractor(logger *slog.Logger) tagging.Extractor {
	return tagging.NewService(logger, nil, tagging.Limits{}, tagging.NewKeywordBackend())
}

func setupConversationServiceTest(t *testing.T, extractor tagging.Extractor, gateway retrieval.Gateway, compiler itinerary.Compiler, plans PlanSaver, settings Settings) (*ServiceImpl, *clock) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if extractor == nil {
		extractor = keywordExtractor(logger)
	}
	ranker, err := ranking.NewService(ranking.DefaultWeights(), 10, nil, logger)
	require.NoError(t, err)

	svc := NewService(NewStore(), extractor, gateway, ranker, compiler, plans, settings, nil, logger)
	c := &clock{now: time.Date(2024, 5, 4, 9, 0, 0, 0, time.UTC)}
	svc.now = c.Now
	return svc, c
}

func start(t *testing.T, svc *ServiceImpl, categories ...string) Response {
	t.Helper()
	resp, err := svc.Start(context.Background(), StartRequest{
		UserID:     "user-1",
		Categories: categories,
		Anchor:     types.Anchor{Address: "서울 강남구 역삼동"},
	})
	require.NoError(t, err)
	return resp
}

func stages(transitions []types.StageTransition) []types.Stage {
	out := make([]types.Stage, 0, len(transitions)+1)
	for i, tr := range transitions {
		if i == 0 {
			out = append(out, tr.From)
		}
		out = append(out, tr.To)
	}
	return out
}

func TestStartValidation(t *testing.T) {
	svc, _ := setupConversationServiceTest(t, nil, new(MockGateway), nil, nil, Settings{})
	ctx := context.Background()

	cases := map[string]StartRequest{
		"no user":         {Categories: []string{"cafe"}},
		"no categories":   {UserID: "u"},
		"too many":        {UserID: "u", Categories: []string{"cafe", "cafe", "cafe", "cafe", "cafe", "cafe"}},
		"blank category":  {UserID: "u", Categories: []string{" "}},
		"negative party":  {UserID: "u", Categories: []string{"cafe"}, PartySize: -1},
		"oversized party": {UserID: "u", Categories: []string{"cafe"}, PartySize: 51},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Start(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestStartCreatesSession(t *testing.T) {
	svc, _ := setupConversationServiceTest(t, nil, new(MockGateway), nil, nil, Settings{})

	resp := start(t, svc, "카페", "restaurant", "cafe")
	assert.Equal(t, types.StageCollectingDetails, resp.Stage)
	assert.Equal(t, "cafe", resp.Category)
	assert.Equal(t, types.Progress{Current: 1, Total: 3}, resp.Progress)
	assert.NotEmpty(t, resp.Prompt)

	session, err := svc.Get(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, session.PartySize)
	assert.Equal(t, "강남구", session.Anchor.District)
	require.Len(t, session.Targets, 3)
	assert.Equal(t, "cafe", session.Targets[2].Category, "duplicate categories are kept")
}

func TestCafeThenRestaurant(t *testing.T) {
	gateway := new(MockGateway)
	gateway.On("Search", mock.Anything, byCategory("cafe")).Return(candidates("cafe", 0.9, 0.8, 0.7), nil).Once()
	svc, _ := setupConversationServiceTest(t, nil, gateway, nil, nil, Settings{})
	ctx := context.Background()

	resp := start(t, svc, "cafe", "restaurant")

	resp, err := svc.Message(ctx, resp.SessionID, "조용하고 커피가 맛있는 곳")
	require.NoError(t, err)
	assert.Equal(t, types.StageAwaitingConfirmation, resp.Stage)
	assert.Subset(t, resp.Tags, []string{"조용한", "커피"})
	assert.Nil(t, resp.Recommendations)

	resp, err = svc.Message(ctx, resp.SessionID, "네")
	require.NoError(t, err)
	require.NotNil(t, resp.Recommendations)
	assert.Equal(t, types.OutcomeMatched, resp.Recommendations.Outcome)
	require.Len(t, resp.Recommendations.Candidates, 3)
	assert.Equal(t, "cafe-1", resp.Recommendations.Candidates[0].ID)
	assert.Equal(t, types.StageCollectingDetails, resp.Stage)
	assert.Equal(t, "restaurant", resp.Category)
	assert.Equal(t, types.Progress{Current: 2, Total: 2}, resp.Progress)
	assert.Equal(t, []types.Stage{
		types.StageAwaitingConfirmation, types.StageResolving, types.StageAdvancing, types.StageCollectingDetails,
	}, stages(resp.Transitions))

	gateway.AssertExpectations(t)
	q := gateway.Calls[0].Arguments.Get(1).(retrieval.Query)
	assert.Subset(t, q.Tags, []string{"조용한", "커피"})
	assert.Equal(t, "강남구", q.Anchor.District)
}

func TestNoMatchesCompletesWithEmptyResult(t *testing.T) {
	gateway := new(MockGateway)
	gateway.On("Search", mock.Anything, byCategory("restaurant")).Return([]types.Candidate{}, nil).Once()
	svc, _ := setupConversationServiceTest(t, nil, gateway, nil, nil, Settings{})
	ctx := context.Background()

	resp := start(t, svc, "restaurant")
	resp, err := svc.Message(ctx, resp.SessionID, "아무거나")
	require.NoError(t, err)
	assert.Equal(t, types.StageAwaitingConfirmation, resp.Stage)

	resp, err = svc.Message(ctx, resp.SessionID, "응")
	require.NoError(t, err)
	assert.Equal(t, types.StageCompleted, resp.Stage)
	require.NotNil(t, resp.Recommendations)
	assert.Equal(t, types.OutcomeNoMatches, resp.Recommendations.Outcome)
	assert.Empty(t, resp.Recommendations.Candidates)
	assert.NotNil(t, resp.Recommendations.Candidates, "empty list, not null")
	assert.Contains(t, resp.Notices, types.NoticeNoMatches)
	require.Len(t, resp.Results, 1)

	q := gateway.Calls[0].Arguments.Get(1).(retrieval.Query)
	assert.Empty(t, q.Tags, "anything searches without tags")
}

func TestMaxTurnGuardForcesAdvance(t *testing.T) {
	extractor := new(MockExtractor)
	extractor.On("Extract", mock.Anything, mock.Anything).Return(tagging.Extraction{Tags: []string{}, NoSignal: true})
	gateway := new(MockGateway)
	gateway.On("Search", mock.Anything, byCategory("cafe")).Return(candidates("cafe", 0.5), nil).Once()
	svc, _ := setupConversationServiceTest(t, extractor, gateway, nil, nil, Settings{})
	ctx := context.Background()

	resp := start(t, svc, "cafe", "restaurant")
	id := resp.SessionID
	for i := 1; i < 10; i++ {
		var err error
		resp, err = svc.Message(ctx, id, "음 글쎄")
		require.NoError(t, err)
		require.Equal(t, types.StageCollectingDetails, resp.Stage, "turn %d", i)
		require.Equal(t, "cafe", resp.Category)
		assert.Contains(t, resp.Notices, types.NoticeClarify)
	}

	resp, err := svc.Message(ctx, id, "음 글쎄")
	require.NoError(t, err)
	assert.Contains(t, resp.Notices, types.NoticeForcedAdvance)
	assert.Equal(t, types.StageCollectingDetails, resp.Stage)
	assert.Equal(t, "restaurant", resp.Category)
	require.NotNil(t, resp.Recommendations)
	assert.Len(t, resp.Recommendations.Candidates, 1)
	assert.Equal(t, []types.Stage{
		types.StageCollectingDetails, types.StageAwaitingConfirmation, types.StageResolving,
		types.StageAdvancing, types.StageCollectingDetails,
	}, stages(resp.Transitions))

	session, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, session.Targets[0].Forced)
	assert.Equal(t, 10, session.Targets[0].Turns)
	assert.Len(t, session.History, 10)
	gateway.AssertExpectations(t)
}

func TestDeclineLoopHitsMaxTurnGuard(t *testing.T) {
	extractor := new(MockExtractor)
	extractor.On("Extract", mock.Anything, mock.MatchedBy(func(r tagging.Request) bool { return r.Utterance == "조용한 카페" })).
		Return(tagging.Extraction{Tags: []string{"조용한", "카페"}})
	gateway := new(MockGateway)
	gateway.On("Search", mock.Anything, byCategory("cafe")).Return([]types.Candidate{}, nil).Once()
	svc, _ := setupConversationServiceTest(t, extractor, gateway, nil, nil, Settings{})
	ctx := context.Background()

	resp := start(t, svc, "cafe")
	id := resp.SessionID
	for i := 1; i < 10; i++ {
		utterance, want := "조용한 카페", types.StageAwaitingConfirmation
		if i%2 == 0 {
			utterance, want = "아니", types.StageCollectingDetails
		}
		var err error
		resp, err = svc.Message(ctx, id, utterance)
		require.NoError(t, err)
		require.Equal(t, want, resp.Stage, "turn %d", i)
		require.NotContains(t, resp.Notices, types.NoticeForcedAdvance, "turn %d", i)
	}

	resp, err := svc.Message(ctx, id, "아니")
	require.NoError(t, err)
	assert.Equal(t, []types.Notice{types.NoticeForcedAdvance, types.NoticeNoMatches}, resp.Notices)
	assert.Equal(t, types.StageCompleted, resp.Stage)
	assert.Equal(t, []types.Stage{
		types.StageAwaitingConfirmation, types.StageCollectingDetails, types.StageAwaitingConfirmation,
		types.StageResolving, types.StageAdvancing, types.StageCompleted,
	}, stages(resp.Transitions))

	session, err := svc.Get(ctx, id)
	require.NoError(t, err)
	for _, tr := range session.StageHistory {
		assert.True(t, types.CanTransition(tr.From, tr.To), "%s -> %s", tr.From, tr.To)
	}
	target := session.Targets[0]
	assert.True(t, target.Forced)
	assert.True(t, target.Resolved)
	assert.Equal(t, types.OutcomeNoMatches, target.Outcome)
	assert.Equal(t, 10, target.Turns)

	q := gateway.Calls[0].Arguments.Get(1).(retrieval.Query)
	assert.Equal(t, []string{"조용한", "카페"}, q.Tags, "forced resolution keeps the gathered tags")
	gateway.AssertExpectations(t)
}

func TestRetrievalUnavailableEndsCategory(t *testing.T) {
	gateway := new(MockGateway)
	gateway.On("Search", mock.Anything, mock.Anything).Return(nil, retrieval.ErrUnavailable).Once()
	svc, _ := setupConversationServiceTest(t, nil, gateway, nil, nil, Settings{})
	ctx := context.Background()

	resp := start(t, svc, "attraction")
	_, err := svc.Message(ctx, resp.SessionID, "아무데나")
	require.NoError(t, err)
	resp, err = svc.Message(ctx, resp.SessionID, "ㅇㅇ")
	require.NoError(t, err)

	assert.Equal(t, types.StageCompleted, resp.Stage)
	assert.Contains(t, resp.Notices, types.NoticeRetrievalUnavailable)
	assert.Equal(t, types.OutcomeRetrievalUnavailable, resp.Recommendations.Outcome)
	assert.Empty(t, resp.Recommendations.Candidates)
}

func TestExtractionUnavailableNotice(t *testing.T) {
	extractor := new(MockExtractor)
	extractor.On("Extract", mock.Anything, mock.Anything).
		Return(tagging.Extraction{Tags: []string{}, NoSignal: true, Unavailable: true}).Once()
	svc, _ := setupConversationServiceTest(t, extractor, new(MockGateway), nil, nil, Settings{})

	resp := start(t, svc, "cafe")
	resp, err := svc.Message(context.Background(), resp.SessionID, "뭔가 좋은데")
	require.NoError(t, err)
	assert.Equal(t, types.StageCollectingDetails, resp.Stage)
	assert.ElementsMatch(t, []types.Notice{types.NoticeExtractionUnavailable, types.NoticeClarify}, resp.Notices)
}

func TestDeclineReturnsToCollectingAndKeepsTags(t *testing.T) {
	extractor := new(MockExtractor)
	extractor.On("Extract", mock.Anything, mock.MatchedBy(func(r tagging.Request) bool { return r.Utterance == "조용한 곳" })).
		Return(tagging.Extraction{Tags: []string{"조용한"}})
	extractor.On("Extract", mock.Anything, mock.MatchedBy(func(r tagging.Request) bool { return r.Utterance == "디저트도" })).
		Return(tagging.Extraction{Tags: []string{"디저트"}})
	svc, _ := setupConversationServiceTest(t, extractor, new(MockGateway), nil, nil, Settings{})
	ctx := context.Background()

	resp := start(t, svc, "cafe")
	id := resp.SessionID

	resp, err := svc.Message(ctx, id, "조용한 곳")
	require.NoError(t, err)
	require.Equal(t, types.StageAwaitingConfirmation, resp.Stage)

	resp, err = svc.Message(ctx, id, "아니요")
	require.NoError(t, err)
	assert.Equal(t, types.StageCollectingDetails, resp.Stage)
	assert.Equal(t, []string{"조용한"}, resp.Tags)

	resp, err = svc.Message(ctx, id, "디저트도")
	require.NoError(t, err)
	assert.Equal(t, types.StageAwaitingConfirmation, resp.Stage)
	assert.Equal(t, []string{"조용한", "디저트"}, resp.Tags)

	resp, err = svc.Message(ctx, id, "조용한 곳")
	require.NoError(t, err)
	assert.Equal(t, []string{"조용한", "디저트"}, resp.Tags, "repeated tags collapse")
}

func TestTagsNeverShrink(t *testing.T) {
	svc, _ := setupConversationServiceTest(t, nil, new(MockGateway), nil, nil, Settings{MaxTurns: 50})
	ctx := context.Background()

	resp := start(t, svc, "restaurant")
	var previous []string
	for _, u := range []string{"매운 음식", "아니", "가성비 좋은 곳", "아무 말", "추가", "조용한 분위기", "매운 음식"} {
		var err error
		resp, err = svc.Message(ctx, resp.SessionID, u)
		require.NoError(t, err)
		assert.Subset(t, resp.Tags, previous, "after %q", u)
		previous = resp.Tags
	}
}

func TestAffirmWithoutDetailsAsksAgain(t *testing.T) {
	svc, _ := setupConversationServiceTest(t, nil, new(MockGateway), nil, nil, Settings{})

	resp := start(t, svc, "cafe")
	resp, err := svc.Message(context.Background(), resp.SessionID, "네")
	require.NoError(t, err)
	assert.Equal(t, types.StageCollectingDetails, resp.Stage)
	assert.Contains(t, resp.Notices, types.NoticeClarify)
}

func TestExcludeSeenPassesSurfacedIDs(t *testing.T) {
	gateway := new(MockGateway)
	gateway.On("Search", mock.Anything, mock.MatchedBy(func(q retrieval.Query) bool { return len(q.Exclusions) == 0 })).
		Return(candidates("c", 0.9, 0.8), nil).Once()
	gateway.On("Search", mock.Anything, mock.MatchedBy(func(q retrieval.Query) bool { return len(q.Exclusions) == 2 })).
		Return(append(candidates("c", 0.9), candidates("d", 0.7)...), nil).Once()
	svc, _ := setupConversationServiceTest(t, nil, gateway, nil, nil, Settings{})
	ctx := context.Background()

	resp, err := svc.Start(ctx, StartRequest{UserID: "u", Categories: []string{"cafe", "cafe"}, ExcludeSeen: true})
	require.NoError(t, err)
	for _, u := range []string{"아무거나", "네", "아무거나", "네"} {
		resp, err = svc.Message(ctx, resp.SessionID, u)
		require.NoError(t, err)
	}

	assert.Equal(t, types.StageCompleted, resp.Stage)
	require.Len(t, resp.Recommendations.Candidates, 1)
	assert.Equal(t, "d-1", resp.Recommendations.Candidates[0].ID, "already surfaced ids are removed")
	q := gateway.Calls[1].Arguments.Get(1).(retrieval.Query)
	assert.Equal(t, []string{"c-1", "c-2"}, q.Exclusions)
	gateway.AssertExpectations(t)
}

func TestMessageRejections(t *testing.T) {
	gateway := new(MockGateway)
	gateway.On("Search", mock.Anything, mock.Anything).Return(candidates("x", 0.4), nil)
	svc, _ := setupConversationServiceTest(t, nil, gateway, nil, nil, Settings{MaxUtteranceRunes: 5})
	ctx := context.Background()

	_, err := svc.Message(ctx, "missing", "hello")
	assert.ErrorIs(t, err, ErrNoActiveSession)

	resp := start(t, svc, "cafe")
	_, err = svc.Message(ctx, resp.SessionID, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Message(ctx, resp.SessionID, "너무 긴 문장입니다")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Message(ctx, resp.SessionID, "아무거나")
	require.NoError(t, err)
	done, err := svc.Message(ctx, resp.SessionID, "네")
	require.NoError(t, err)
	require.Equal(t, types.StageCompleted, done.Stage)

	_, err = svc.Message(ctx, resp.SessionID, "네")
	assert.ErrorIs(t, err, ErrNoActiveSession)
	assert.Equal(t, CodeNoActiveSession, CodeOf(err))
}

func TestCancel(t *testing.T) {
	svc, _ := setupConversationServiceTest(t, nil, new(MockGateway), nil, nil, Settings{})
	ctx := context.Background()

	resp := start(t, svc, "cafe")
	cancelled, err := svc.Cancel(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.StageCancelled, cancelled.Stage)
	assert.Contains(t, cancelled.Notices, types.NoticeSessionCancelled)

	_, err = svc.Cancel(ctx, resp.SessionID)
	assert.ErrorIs(t, err, ErrNoActiveSession)
	_, err = svc.Message(ctx, resp.SessionID, "카페")
	assert.ErrorIs(t, err, ErrNoActiveSession)

	session, err := svc.Get(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "user", session.CancelReason)
}

func TestCancelDuringResolutionDiscardsResult(t *testing.T) {
	searching := make(chan struct{})
	release := make(chan struct{})
	gateway := new(MockGateway)
	gateway.On("Search", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(searching)
		<-release
	}).Return(candidates("cafe", 0.9), nil).Once()
	svc, _ := setupConversationServiceTest(t, nil, gateway, nil, nil, Settings{})
	ctx := context.Background()

	resp := start(t, svc, "cafe")
	_, err := svc.Message(ctx, resp.SessionID, "아무거나")
	require.NoError(t, err)

	type result struct {
		resp Response
		err  error
	}
	out := make(chan result, 1)
	go func() {
		r, err := svc.Message(ctx, resp.SessionID, "네")
		out <- result{r, err}
	}()

	<-searching
	_, err = svc.Cancel(ctx, resp.SessionID)
	require.NoError(t, err)
	close(release)

	got := <-out
	require.NoError(t, got.err)
	assert.Equal(t, types.StageCancelled, got.resp.Stage)
	assert.Equal(t, []types.Notice{types.NoticeSessionCancelled}, got.resp.Notices)
	assert.Nil(t, got.resp.Recommendations)

	session, err := svc.Get(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.StageCancelled, session.Stage)
	assert.False(t, session.Targets[0].Resolved)
	assert.Empty(t, session.Surfaced)
}

func TestDiscardedTurnReportsCancellationLikeCancel(t *testing.T) {
	searching := make(chan struct{})
	release := make(chan struct{})
	gateway := new(MockGateway)
	gateway.On("Search", mock.Anything, byCategory("cafe")).Return(candidates("cafe", 0.9), nil).Once()
	gateway.On("Search", mock.Anything, byCategory("restaurant")).Run(func(mock.Arguments) {
		close(searching)
		<-release
	}).Return(candidates("restaurant", 0.8), nil).Once()
	svc, _ := setupConversationServiceTest(t, nil, gateway, nil, nil, Settings{})
	ctx := context.Background()

	id := start(t, svc, "cafe", "restaurant").SessionID
	for _, utterance := range []string{"아무거나", "네", "아무거나"} {
		_, err := svc.Message(ctx, id, utterance)
		require.NoError(t, err)
	}

	out := make(chan Response, 1)
	go func() {
		r, err := svc.Message(ctx, id, "네")
		assert.NoError(t, err)
		out <- r
	}()

	<-searching
	cancelled, err := svc.Cancel(ctx, id)
	require.NoError(t, err)
	close(release)
	discarded := <-out

	assert.Equal(t, cancelled, discarded)
	require.Len(t, discarded.Results, 1)
	assert.Equal(t, "cafe", discarded.Results[0].Category)
	require.Len(t, discarded.Transitions, 1)
	assert.Equal(t, types.StageCancelled, discarded.Transitions[0].To)
	assert.Equal(t, types.StageAwaitingConfirmation, discarded.Transitions[0].From)
}

func TestInactivityTimeout(t *testing.T) {
	svc, clk := setupConversationServiceTest(t, nil, new(MockGateway), nil, nil, Settings{InactivityTimeout: 10 * time.Minute})
	ctx := context.Background()

	resp := start(t, svc, "cafe")
	clk.Advance(9 * time.Minute)
	_, err := svc.Message(ctx, resp.SessionID, "조용한 곳")
	require.NoError(t, err)

	clk.Advance(11 * time.Minute)
	_, err = svc.Message(ctx, resp.SessionID, "네")
	assert.ErrorIs(t, err, ErrNoActiveSession)

	session, err := svc.Get(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.StageCancelled, session.Stage)
	assert.Equal(t, "timeout", session.CancelReason)
}

// countingExtractor records the highest number of overlapping calls.
type countingExtractor struct {
	inflight atomic.Int32
	peak     atomic.Int32
}

func (c *countingExtractor) Extract(context.Context, tagging.Request) tagging.Extraction {
	n := c.inflight.Add(1)
	defer c.inflight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return tagging.Extraction{Tags: []string{"조용한"}}
}

func TestMessagesOnOneSessionAreSerialized(t *testing.T) {
	extractor := &countingExtractor{}
	svc, _ := setupConversationServiceTest(t, extractor, new(MockGateway), nil, nil, Settings{MaxTurns: 100})
	ctx := context.Background()

	resp := start(t, svc, "cafe")
	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Message(ctx, resp.SessionID, "조용한 곳")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Equal(t, int32(1), extractor.peak.Load())
	session, err := svc.Get(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Len(t, session.History, n, "no message is lost")
	assert.Equal(t, n, session.Targets[0].Turns)
}

func TestWaitingTurnGivesUpWithContext(t *testing.T) {
	svc, _ := setupConversationServiceTest(t, nil, new(MockGateway), nil, nil, Settings{})
	resp := start(t, svc, "cafe")

	e, ok := svc.store.get(resp.SessionID)
	require.True(t, ok)
	require.True(t, e.tryAcquire())
	defer e.release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := svc.Message(ctx, resp.SessionID, "조용한 곳")
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func completeSession(t *testing.T, svc *ServiceImpl) string {
	t.Helper()
	ctx := context.Background()
	resp := start(t, svc, "cafe")
	_, err := svc.Message(ctx, resp.SessionID, "아무거나")
	require.NoError(t, err)
	done, err := svc.Message(ctx, resp.SessionID, "네")
	require.NoError(t, err)
	require.Equal(t, types.StageCompleted, done.Stage)
	return resp.SessionID
}

func TestCompileItinerary(t *testing.T) {
	gateway := new(MockGateway)
	gateway.On("Search", mock.Anything, mock.Anything).Return(candidates("cafe", 0.9, 0.6), nil)
	plan := itinerary.Plan{
		Start: time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC),
		Stops: []itinerary.Stop{{TargetIndex: 0, CandidateID: "cafe-1", DurationMinutes: 60}},
	}
	it := types.NewItinerary("s", "user-1", plan.Start, types.Location{}, []types.ItineraryEntry{{CandidateID: "cafe-1"}})

	t.Run("compiles and saves", func(t *testing.T) {
		compiler := new(MockCompiler)
		compiler.On("Compile", mock.Anything, mock.Anything, plan).Return(it, nil).Once()
		saver := new(MockPlanSaver)
		saver.On("SavePlan", mock.Anything, mock.MatchedBy(func(r types.PlanRecord) bool {
			return r.Itinerary.ID() == it.ID() && len(r.Targets) == 1 && r.PartySize == 1
		})).Return(nil).Once()
		svc, _ := setupConversationServiceTest(t, nil, gateway, compiler, saver, Settings{})

		result, err := svc.CompileItinerary(context.Background(), completeSession(t, svc), plan)
		require.NoError(t, err)
		assert.True(t, result.Saved)
		assert.Equal(t, it.ID(), result.Itinerary.ID())
		compiler.AssertExpectations(t)
		saver.AssertExpectations(t)
	})

	t.Run("save failure still returns the itinerary", func(t *testing.T) {
		compiler := new(MockCompiler)
		compiler.On("Compile", mock.Anything, mock.Anything, plan).Return(it, nil).Once()
		saver := new(MockPlanSaver)
		saver.On("SavePlan", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()
		svc, _ := setupConversationServiceTest(t, nil, gateway, compiler, saver, Settings{})

		result, err := svc.CompileItinerary(context.Background(), completeSession(t, svc), plan)
		require.NoError(t, err)
		assert.False(t, result.Saved)
		assert.Equal(t, 1, result.Itinerary.Len())
	})

	t.Run("invalid plan", func(t *testing.T) {
		compiler := new(MockCompiler)
		compiler.On("Compile", mock.Anything, mock.Anything, mock.Anything).
			Return(types.Itinerary{}, fmt.Errorf("%w: no stops", itinerary.ErrInvalidPlan)).Once()
		svc, _ := setupConversationServiceTest(t, nil, gateway, compiler, nil, Settings{})

		_, err := svc.CompileItinerary(context.Background(), completeSession(t, svc), itinerary.Plan{})
		assert.ErrorIs(t, err, ErrInvalidPlan)
		assert.ErrorIs(t, err, itinerary.ErrInvalidPlan)
	})

	t.Run("session not completed", func(t *testing.T) {
		compiler := new(MockCompiler)
		svc, _ := setupConversationServiceTest(t, nil, gateway, compiler, nil, Settings{})
		resp := start(t, svc, "cafe")

		_, err := svc.CompileItinerary(context.Background(), resp.SessionID, plan)
		assert.ErrorIs(t, err, ErrInvalidPlan)
		compiler.AssertNotCalled(t, "Compile", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown session", func(t *testing.T) {
		svc, _ := setupConversationServiceTest(t, nil, gateway, new(MockCompiler), nil, Settings{})
		_, err := svc.CompileItinerary(context.Background(), "nope", plan)
		assert.ErrorIs(t, err, ErrNoActiveSession)
	})
}

func TestSweep(t *testing.T) {
	gateway := new(MockGateway)
	gateway.On("Search", mock.Anything, mock.Anything).Return(candidates("cafe", 0.9), nil)
	svc, clk := setupConversationServiceTest(t, nil, gateway, nil, nil, Settings{InactivityTimeout: time.Minute})
	ctx := context.Background()

	completeSession(t, svc)
	start(t, svc, "cafe")
	assert.Equal(t, 0, svc.Sweep(ctx))

	clk.Advance(30 * time.Second)
	fresh := start(t, svc, "restaurant")
	clk.Advance(45 * time.Second)

	assert.Equal(t, 2, svc.Sweep(ctx))
	assert.Equal(t, 1, svc.store.Len())
	_, err := svc.Get(ctx, fresh.SessionID)
	assert.NoError(t, err)
}
