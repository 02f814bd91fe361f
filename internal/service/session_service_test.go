package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-assessment-api/internal/assessment"
	"github.com/noah-isme/gema-assessment-api/internal/dto"
)

const (
	waitFor = 2 * time.Second
	pollAt  = 10 * time.Millisecond
)

type sessionFixture struct {
	svc   *sessionService
	ticks *manualTicks
	clock *fakeClock
	repo  *memoryOutcomeRepo
	calls chan string
}

func halfMarks(calls chan string) assessment.Evaluator {
	return assessment.EvaluatorFunc(func(_ context.Context, q assessment.Question, _ string) (assessment.Evaluation, error) {
		select {
		case calls <- q.ID:
		default:
		}
		return assessment.Evaluation{Score: q.MaxMarks / 2, Feedback: "Half of the key points."}, nil
	})
}

func newSessionFixture(t *testing.T, broadcaster *SessionBroadcaster, withEvaluator bool) *sessionFixture {
	t.Helper()

	calls := make(chan string, 16)
	var evaluator assessment.Evaluator
	if withEvaluator {
		evaluator = halfMarks(calls)
	}
	f := newSessionFixtureWith(t, broadcaster, evaluator)
	f.calls = calls
	return f
}

func newSessionFixtureWith(t *testing.T, broadcaster *SessionBroadcaster, evaluator assessment.Evaluator) *sessionFixture {
	t.Helper()

	f := &sessionFixture{
		ticks: &manualTicks{},
		clock: newFakeClock(),
		repo:  &memoryOutcomeRepo{},
		calls: make(chan string, 16),
	}

	sets := &stubQuestionSetService{sets: map[string]*assessment.QuestionSet{"bio-101": biologySet()}}
	svc := NewSessionService(sets, evaluator, f.repo, broadcaster, validator.New(), SessionConfig{
		IdleTTL:    time.Hour,
		TickSource: f.ticks.factory,
		Now:        f.clock.Now,
	}, testLogger())
	f.svc = svc.(*sessionService)
	t.Cleanup(func() { _ = f.svc.Shutdown(context.Background()) })
	return f
}

func intPtr(v int) *int { return &v }

func TestSessionServiceLifecycle(t *testing.T) {
	f := newSessionFixture(t, nil, true)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, 7, dto.CreateSessionRequest{QuestionSetID: "bio-101"})
	require.NoError(t, err)
	require.Equal(t, "ready", created.Phase)
	require.True(t, created.Live)
	require.NotNil(t, created.QuestionSet)
	require.Equal(t, "Biology", created.QuestionSet.Subject)
	require.Equal(t, 60, created.Clock.RemainingSeconds)

	started, err := f.svc.Start(ctx, 7, created.ID)
	require.NoError(t, err)
	require.Equal(t, "in_progress", started.Phase)
	require.True(t, started.Clock.Running)

	answered, err := f.svc.Answer(ctx, 7, created.ID, dto.AnswerRequest{QuestionID: "q1", Text: "Water moves across a membrane"})
	require.NoError(t, err)
	require.Equal(t, "Water moves across a membrane", answered.Answers["q1"])
	require.Equal(t, 1, answered.AnsweredCount)

	moved, err := f.svc.Navigate(ctx, 7, created.ID, dto.NavigateRequest{Delta: intPtr(1)})
	require.NoError(t, err)
	require.Equal(t, 1, moved.CurrentIndex)
	require.Equal(t, "q2", moved.CurrentQuestion.ID)

	flagged, err := f.svc.ToggleFlag(ctx, 7, created.ID, dto.FlagRequest{QuestionID: "q2"})
	require.NoError(t, err)
	require.Equal(t, []string{"q2"}, flagged.Flagged)

	submitted, err := f.svc.Submit(ctx, 7, created.ID)
	require.NoError(t, err)
	require.Equal(t, "results", submitted.Phase)
	require.False(t, submitted.Clock.Running)
	require.NotNil(t, submitted.Result)
	require.Equal(t, float64(5), submitted.Result.TotalScore)
	require.Equal(t, float64(15), submitted.Result.MaxScore)
	require.Equal(t, 33, submitted.Result.Percentage)

	result, err := f.svc.Result(ctx, 7, created.ID)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 2)
	require.Equal(t, "scored", result.Outcomes[0].Status)
	require.Equal(t, "unanswered", result.Outcomes[1].Status)

	again, err := f.svc.Submit(ctx, 7, created.ID)
	require.NoError(t, err)
	require.Equal(t, "results", again.Phase)
	require.Len(t, f.calls, 1, "only the answered question reaches the evaluator, once")

	require.NoError(t, f.svc.Shutdown(ctx))
	results := f.repo.Results()
	require.Len(t, results, 1)
	require.Equal(t, created.ID, results[0].SessionID)
	require.Equal(t, uint(7), results[0].UserID)
	require.Equal(t, 33, results[0].Percentage)
	require.Len(t, f.repo.Outcomes(), 2)
}

func TestSessionServiceRetakeStartsFreshAttempt(t *testing.T) {
	f := newSessionFixture(t, nil, true)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, 7, dto.CreateSessionRequest{QuestionSetID: "bio-101"})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, 7, created.ID)
	require.NoError(t, err)
	_, err = f.svc.Answer(ctx, 7, created.ID, dto.AnswerRequest{QuestionID: "q2", Text: "Amylase"})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, 7, created.ID)
	require.NoError(t, err)

	retaken, err := f.svc.Retake(ctx, 7, created.ID)
	require.NoError(t, err)
	require.Equal(t, "ready", retaken.Phase)
	require.Equal(t, 2, retaken.Attempt)
	require.Empty(t, retaken.Answers)
	require.Nil(t, retaken.Result)

	_, err = f.svc.Result(ctx, 7, created.ID)
	require.ErrorIs(t, err, ErrResultNotReady)

	back, err := f.svc.BackToSelection(ctx, 7, created.ID)
	require.NoError(t, err)
	require.Equal(t, "selection", back.Phase)
	require.Nil(t, back.QuestionSet)

	selected, err := f.svc.Select(ctx, 7, created.ID, dto.SelectQuestionSetRequest{QuestionSetID: "bio-101"})
	require.NoError(t, err)
	require.Equal(t, "ready", selected.Phase)
}

func TestSessionServiceOwnership(t *testing.T) {
	f := newSessionFixture(t, nil, true)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, 7, dto.CreateSessionRequest{})
	require.NoError(t, err)
	require.Equal(t, "selection", created.Phase)

	_, err = f.svc.Get(ctx, 8, created.ID)
	require.ErrorIs(t, err, ErrSessionForbidden)

	_, err = f.svc.Start(ctx, 8, created.ID)
	require.ErrorIs(t, err, ErrSessionForbidden)

	_, err = f.svc.Get(ctx, 7, "unknown")
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, f.svc.Discard(ctx, 7, created.ID))
	_, err = f.svc.Get(ctx, 7, created.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionServiceRejectsBadRequests(t *testing.T) {
	f := newSessionFixture(t, nil, true)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, 7, dto.CreateSessionRequest{QuestionSetID: "missing"})
	require.ErrorIs(t, err, ErrQuestionSetNotFound)

	created, err := f.svc.Create(ctx, 7, dto.CreateSessionRequest{QuestionSetID: "bio-101"})
	require.NoError(t, err)

	_, err = f.svc.Answer(ctx, 7, created.ID, dto.AnswerRequest{QuestionID: "q1", Text: "too early"})
	require.ErrorIs(t, err, assessment.ErrInvalidTransition)

	_, err = f.svc.Start(ctx, 7, created.ID)
	require.NoError(t, err)

	_, err = f.svc.Answer(ctx, 7, created.ID, dto.AnswerRequest{QuestionID: "q9", Text: "x"})
	require.ErrorIs(t, err, assessment.ErrInvalidQuestionID)

	_, err = f.svc.Answer(ctx, 7, created.ID, dto.AnswerRequest{Text: "x"})
	var validationErrs validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrs)

	_, err = f.svc.Navigate(ctx, 7, created.ID, dto.NavigateRequest{})
	require.ErrorAs(t, err, &validationErrs)

	_, err = f.svc.Navigate(ctx, 7, created.ID, dto.NavigateRequest{Index: intPtr(5)})
	require.ErrorIs(t, err, assessment.ErrIndexOutOfRange)

	_, err = f.svc.Result(ctx, 7, created.ID)
	require.ErrorIs(t, err, ErrResultNotReady)
}

func TestSessionServiceReportsWordLimit(t *testing.T) {
	f := newSessionFixture(t, nil, true)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, 7, dto.CreateSessionRequest{QuestionSetID: "bio-101"})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, 7, created.ID)
	require.NoError(t, err)

	view, err := f.svc.Answer(ctx, 7, created.ID, dto.AnswerRequest{QuestionID: "q1", Text: "water moves from dilute to concentrated solution"})
	require.NoError(t, err)
	require.Equal(t, 7, view.WordCounts["q1"])
	require.Equal(t, []string{"q1"}, view.OverWordLimit)
}

func TestSessionServiceRollsBackWithoutEvaluator(t *testing.T) {
	f := newSessionFixture(t, nil, false)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, 7, dto.CreateSessionRequest{QuestionSetID: "bio-101"})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, 7, created.ID)
	require.NoError(t, err)
	_, err = f.svc.Answer(ctx, 7, created.ID, dto.AnswerRequest{QuestionID: "q2", Text: "Amylase"})
	require.NoError(t, err)

	view, err := f.svc.Submit(ctx, 7, created.ID)
	require.Error(t, err)
	require.True(t, assessment.IsSubmissionError(err))
	require.ErrorIs(t, err, assessment.ErrEvaluatorMissing)
	require.Equal(t, "in_progress", view.Phase)
	require.Equal(t, assessment.NoticeSubmissionFailed, view.Notice)
	require.True(t, view.Clock.Running)
	require.Equal(t, "Amylase", view.Answers["q2"])
	require.Empty(t, f.repo.Results())
}

func TestSessionServiceTimerSubmitsOnExpiry(t *testing.T) {
	f := newSessionFixture(t, nil, true)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, 7, dto.CreateSessionRequest{QuestionSetID: "bio-101"})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, 7, created.ID)
	require.NoError(t, err)
	_, err = f.svc.Answer(ctx, 7, created.ID, dto.AnswerRequest{QuestionID: "q1", Text: "osmosis"})
	require.NoError(t, err)

	f.ticks.last().Tick(59)
	view, err := f.svc.Get(ctx, 7, created.ID)
	require.NoError(t, err)
	require.Equal(t, "in_progress", view.Phase)
	require.Equal(t, 1, view.Clock.RemainingSeconds)

	f.ticks.last().Tick(1)
	view, err = f.svc.Get(ctx, 7, created.ID)
	require.NoError(t, err)
	require.Equal(t, "results", view.Phase)
	require.True(t, view.Clock.Expired)
	require.Equal(t, 0, view.Clock.RemainingSeconds)
	require.Equal(t, float64(5), view.Result.TotalScore)
}

func TestSessionServiceEvictsIdleSessions(t *testing.T) {
	f := newSessionFixture(t, nil, true)
	ctx := context.Background()

	idle, err := f.svc.Create(ctx, 7, dto.CreateSessionRequest{QuestionSetID: "bio-101"})
	require.NoError(t, err)
	running, err := f.svc.Create(ctx, 7, dto.CreateSessionRequest{QuestionSetID: "bio-101"})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, 7, running.ID)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	require.Equal(t, 0, f.svc.evictIdle())

	f.clock.Advance(2 * time.Hour)
	require.Equal(t, 1, f.svc.evictIdle())

	_, err = f.svc.Get(ctx, 7, idle.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.svc.Get(ctx, 7, running.ID)
	require.NoError(t, err)
}

func TestSessionServiceSubscribeStreamsSnapshots(t *testing.T) {
	f := newSessionFixture(t, nil, true)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, 7, dto.CreateSessionRequest{QuestionSetID: "bio-101"})
	require.NoError(t, err)

	_, _, _, err = f.svc.Subscribe(ctx, 8, created.ID)
	require.ErrorIs(t, err, ErrSessionForbidden)

	initial, stream, cancel, err := f.svc.Subscribe(ctx, 7, created.ID)
	require.NoError(t, err)
	defer cancel()
	require.Equal(t, "ready", initial.Phase)

	_, err = f.svc.Start(ctx, 7, created.ID)
	require.NoError(t, err)

	select {
	case snap := <-stream:
		require.Equal(t, "in_progress", snap.Phase)
		require.Greater(t, snap.Version, initial.Version)
	case <-time.After(waitFor):
		t.Fatal("no snapshot after start")
	}

	f.ticks.last().Tick(1)
	select {
	case snap := <-stream:
		require.Equal(t, 59, snap.Clock.RemainingSeconds)
	case <-time.After(waitFor):
		t.Fatal("no snapshot after tick")
	}

	require.NoError(t, f.svc.Discard(ctx, 7, created.ID))
	require.Eventually(t, func() bool {
		_, open := <-stream
		return !open
	}, waitFor, pollAt)
}

func TestSessionServiceCachesSnapshotsInRedis(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	broadcaster := NewSessionBroadcaster(BroadcasterConfig{Redis: client, KeyPrefix: "test"}, testLogger())
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	broadcaster.Start(runCtx)

	f := newSessionFixture(t, broadcaster, true)
	ctx := context.Background()

	pubsub := client.Subscribe(ctx, broadcaster.ResultsChannel())
	defer pubsub.Close()
	_, err = pubsub.Receive(ctx)
	require.NoError(t, err)

	created, err := f.svc.Create(ctx, 7, dto.CreateSessionRequest{QuestionSetID: "bio-101"})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, 7, created.ID)
	require.NoError(t, err)
	_, err = f.svc.Answer(ctx, 7, created.ID, dto.AnswerRequest{QuestionID: "q2", Text: "Amylase"})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, 7, created.ID)
	require.NoError(t, err)

	select {
	case msg := <-pubsub.Channel():
		var event ResultEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
		require.Equal(t, created.ID, event.SessionID)
		require.Equal(t, uint(7), event.UserID)
		require.Equal(t, "bio-101", event.QuestionSetID)
		require.Equal(t, 1, event.Attempt)
		require.Equal(t, float64(2.5), event.Result.TotalScore)
	case <-time.After(waitFor):
		t.Fatal("result was not published")
	}

	require.Eventually(t, func() bool {
		snap, _, ok, err := broadcaster.Cached(ctx, created.ID)
		return err == nil && ok && snap.Phase == assessment.PhaseResults
	}, waitFor, pollAt)

	require.NoError(t, f.svc.Discard(ctx, 7, created.ID))

	detached, err := f.svc.Get(ctx, 7, created.ID)
	require.NoError(t, err)
	require.False(t, detached.Live)
	require.Equal(t, "results", detached.Phase)
	require.NotNil(t, detached.Result)

	_, err = f.svc.Get(ctx, 8, created.ID)
	require.ErrorIs(t, err, ErrSessionForbidden)
}

func TestSessionServiceStoresAnswerTextVerbatim(t *testing.T) {
	var mu sync.Mutex
	graded := map[string]string{}
	evaluator := assessment.EvaluatorFunc(func(_ context.Context, q assessment.Question, answer string) (assessment.Evaluation, error) {
		mu.Lock()
		graded[q.ID] = answer
		mu.Unlock()
		return assessment.Evaluation{Score: 1}, nil
	})
	f := newSessionFixtureWith(t, nil, evaluator)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, 7, dto.CreateSessionRequest{QuestionSetID: "bio-101"})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, 7, created.ID)
	require.NoError(t, err)

	answers := map[string]string{
		"q1": "if a<b and b>c then a<c",
		"q2": "use <vector> in C++ & x<y",
	}
	for id, text := range answers {
		view, err := f.svc.Answer(ctx, 7, created.ID, dto.AnswerRequest{QuestionID: id, Text: text})
		require.NoError(t, err)
		require.Equal(t, text, view.Answers[id])
	}

	view, err := f.svc.Get(ctx, 7, created.ID)
	require.NoError(t, err)
	require.Equal(t, answers, view.Answers)

	_, err = f.svc.Submit(ctx, 7, created.ID)
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, answers, graded, "the evaluator sees exactly what was typed")
}

func TestSessionServiceShutdownWaitsForTimerSubmission(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	evaluator := assessment.EvaluatorFunc(func(_ context.Context, q assessment.Question, _ string) (assessment.Evaluation, error) {
		once.Do(func() { close(entered) })
		<-release
		return assessment.Evaluation{Score: q.MaxMarks}, nil
	})
	f := newSessionFixtureWith(t, nil, evaluator)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, 7, dto.CreateSessionRequest{QuestionSetID: "bio-101"})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, 7, created.ID)
	require.NoError(t, err)
	_, err = f.svc.Answer(ctx, 7, created.ID, dto.AnswerRequest{QuestionID: "q1", Text: "osmosis"})
	require.NoError(t, err)

	go f.ticks.last().Tick(60)
	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("timer did not submit the session")
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.svc.Shutdown(short), context.DeadlineExceeded)
	require.Empty(t, f.repo.Results())

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- f.svc.Shutdown(ctx) }()

	select {
	case err := <-shutdownDone:
		t.Fatalf("shutdown returned before the evaluation finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-shutdownDone:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("shutdown did not return")
	}

	results := f.repo.Results()
	require.Len(t, results, 1)
	require.Equal(t, created.ID, results[0].SessionID)
	require.Equal(t, float64(10), results[0].TotalScore)
	require.Len(t, f.repo.Outcomes(), 2)
}

func TestSessionServiceEvictionClosesStaleHandles(t *testing.T) {
	f := newSessionFixture(t, nil, true)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, 7, dto.CreateSessionRequest{QuestionSetID: "bio-101"})
	require.NoError(t, err)
	entry, err := f.svc.lookup(7, created.ID)
	require.NoError(t, err)

	f.clock.Advance(3 * time.Hour)
	require.Equal(t, 1, f.svc.evictIdle())

	require.ErrorIs(t, entry.machine.Start(), assessment.ErrSessionClosed)
	require.False(t, entry.machine.Clock().Running)
	_, err = f.svc.Start(ctx, 7, created.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}
