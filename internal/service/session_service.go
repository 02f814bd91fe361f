package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-assessment-api/internal/assessment"
	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/observability"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
)

var (
	// ErrSessionNotFound indicates the session is unknown or has been evicted.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionForbidden indicates the session belongs to another user.
	ErrSessionForbidden = errors.New("session belongs to another user")
	// ErrResultNotReady indicates the session has not produced a result yet.
	ErrResultNotReady = errors.New("result not available yet")
)

// SessionConfig tunes the in-memory session registry.
type SessionConfig struct {
	IdleTTL           time.Duration
	JanitorInterval   time.Duration
	EvaluationTimeout time.Duration
	StoreTimeout      time.Duration
	// TickSource overrides the one second clock ticker, mainly for tests.
	TickSource func() assessment.TickSource
	Now        func() time.Time
}

// SessionService hosts timed assessment sessions and drives them from API requests.
type SessionService interface {
	Create(ctx context.Context, userID uint, req dto.CreateSessionRequest) (dto.SessionResponse, error)
	Get(ctx context.Context, userID uint, sessionID string) (dto.SessionResponse, error)
	Select(ctx context.Context, userID uint, sessionID string, req dto.SelectQuestionSetRequest) (dto.SessionResponse, error)
	Start(ctx context.Context, userID uint, sessionID string) (dto.SessionResponse, error)
	Answer(ctx context.Context, userID uint, sessionID string, req dto.AnswerRequest) (dto.SessionResponse, error)
	ToggleFlag(ctx context.Context, userID uint, sessionID string, req dto.FlagRequest) (dto.SessionResponse, error)
	Navigate(ctx context.Context, userID uint, sessionID string, req dto.NavigateRequest) (dto.SessionResponse, error)
	Submit(ctx context.Context, userID uint, sessionID string) (dto.SessionResponse, error)
	Retake(ctx context.Context, userID uint, sessionID string) (dto.SessionResponse, error)
	BackToSelection(ctx context.Context, userID uint, sessionID string) (dto.SessionResponse, error)
	Result(ctx context.Context, userID uint, sessionID string) (dto.ResultResponse, error)
	Discard(ctx context.Context, userID uint, sessionID string) error
	Subscribe(ctx context.Context, userID uint, sessionID string) (dto.SnapshotResponse, <-chan dto.SnapshotResponse, func(), error)
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

type sessionEntry struct {
	id      string
	userID  uint
	machine *assessment.Machine

	mu        sync.Mutex
	subject   string
	lastSeen  time.Time
	lastPhase assessment.Phase
	recorded  int
}

type sessionService struct {
	questionSets QuestionSetService
	evaluator    assessment.Evaluator
	outcomes     repository.OutcomeRepository
	broadcaster  *SessionBroadcaster
	validator    *validator.Validate
	cfg          SessionConfig
	tracer       trace.Tracer
	logger       zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	pending  sync.WaitGroup
}

// NewSessionService constructs the session service. evaluator may be nil, in which case
// every submission fails preflight and is rolled back.
func NewSessionService(questionSets QuestionSetService, evaluator assessment.Evaluator, outcomes repository.OutcomeRepository, broadcaster *SessionBroadcaster, validate *validator.Validate, cfg SessionConfig, logger zerolog.Logger) SessionService {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 2 * time.Hour
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = time.Minute
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if broadcaster == nil {
		broadcaster = NewSessionBroadcaster(BroadcasterConfig{}, logger)
	}

	return &sessionService{
		questionSets: questionSets,
		evaluator:    evaluator,
		outcomes:     outcomes,
		broadcaster:  broadcaster,
		validator:    validate,
		cfg:          cfg,
		tracer:       otel.Tracer("github.com/noah-isme/gema-assessment-api/internal/service/session"),
		logger:       logger.With().Str("component", "session_service").Logger(),
		sessions:     make(map[string]*sessionEntry),
	}
}

func (s *sessionService) Create(ctx context.Context, userID uint, req dto.CreateSessionRequest) (dto.SessionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SessionResponse{}, err
	}

	entry := &sessionEntry{id: uuid.NewString(), userID: userID, lastSeen: s.cfg.Now()}
	entry.lastPhase = assessment.PhaseSelection

	var store assessment.SubmissionStore
	if s.outcomes != nil {
		store = newOutcomeStore(s.outcomes, userID, s.logger)
	}

	entry.machine = assessment.NewMachine(assessment.MachineConfig{
		SessionID:         entry.id,
		Evaluator:         s.evaluator,
		Store:             store,
		Observer:          assessment.ObserverFunc(func(snap assessment.Snapshot) { s.observe(entry, snap) }),
		TickSource:        s.cfg.TickSource,
		EvaluationTimeout: s.cfg.EvaluationTimeout,
		StoreTimeout:      s.cfg.StoreTimeout,
		Logger:            s.logger,
		Now:               s.cfg.Now,
	})

	if req.QuestionSetID != "" {
		if err := s.selectSet(ctx, entry, req.QuestionSetID); err != nil {
			entry.machine.Close()
			return dto.SessionResponse{}, err
		}
	}

	s.mu.Lock()
	s.sessions[entry.id] = entry
	count := len(s.sessions)
	s.mu.Unlock()
	observability.SessionsActive().Set(float64(count))

	s.logger.Info().Str("session_id", entry.id).Uint("user_id", userID).Msg("session created")
	return s.view(entry), nil
}

func (s *sessionService) Get(ctx context.Context, userID uint, sessionID string) (dto.SessionResponse, error) {
	entry, err := s.lookup(userID, sessionID)
	if err == nil {
		return s.view(entry), nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return dto.SessionResponse{}, err
	}

	snap, owner, ok, cacheErr := s.broadcaster.Cached(ctx, sessionID)
	if cacheErr != nil {
		s.logger.Warn().Err(cacheErr).Str("session_id", sessionID).Msg("snapshot cache lookup failed")
		return dto.SessionResponse{}, ErrSessionNotFound
	}
	if !ok {
		return dto.SessionResponse{}, ErrSessionNotFound
	}
	if owner != userID {
		return dto.SessionResponse{}, ErrSessionForbidden
	}
	return dto.NewDetachedSessionResponse(snap), nil
}

func (s *sessionService) Select(ctx context.Context, userID uint, sessionID string, req dto.SelectQuestionSetRequest) (dto.SessionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SessionResponse{}, err
	}
	entry, err := s.lookup(userID, sessionID)
	if err != nil {
		return dto.SessionResponse{}, err
	}
	if err := s.selectSet(ctx, entry, req.QuestionSetID); err != nil {
		return dto.SessionResponse{}, err
	}
	return s.view(entry), nil
}

func (s *sessionService) Start(ctx context.Context, userID uint, sessionID string) (dto.SessionResponse, error) {
	return s.apply(userID, sessionID, "start", func(m *assessment.Machine) error { return m.Start() })
}

func (s *sessionService) Answer(ctx context.Context, userID uint, sessionID string, req dto.AnswerRequest) (dto.SessionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SessionResponse{}, err
	}
	return s.apply(userID, sessionID, "answer", func(m *assessment.Machine) error {
		return m.SetAnswer(req.QuestionID, req.Text)
	})
}

func (s *sessionService) ToggleFlag(ctx context.Context, userID uint, sessionID string, req dto.FlagRequest) (dto.SessionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SessionResponse{}, err
	}
	return s.apply(userID, sessionID, "flag", func(m *assessment.Machine) error {
		_, err := m.ToggleFlag(req.QuestionID)
		return err
	})
}

func (s *sessionService) Navigate(ctx context.Context, userID uint, sessionID string, req dto.NavigateRequest) (dto.SessionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SessionResponse{}, err
	}
	return s.apply(userID, sessionID, "navigate", func(m *assessment.Machine) error {
		if req.Index != nil {
			return m.Jump(*req.Index)
		}
		return m.Navigate(*req.Delta)
	})
}

// Submit evaluates the session synchronously. The evaluation is detached from the request
// context so a dropped connection cannot cancel a run that already froze the answers.
func (s *sessionService) Submit(ctx context.Context, userID uint, sessionID string) (dto.SessionResponse, error) {
	entry, err := s.lookup(userID, sessionID)
	if err != nil {
		return dto.SessionResponse{}, err
	}
	s.touch(entry)

	spanCtx, span := s.tracer.Start(ctx, "sessions.submit", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	accepted, err := entry.machine.Submit(context.WithoutCancel(spanCtx), assessment.TriggerManual)
	switch {
	case err != nil && assessment.IsSubmissionError(err):
		observability.SessionEvents().WithLabelValues("submit", "rolled_back").Inc()
		span.RecordError(err)
		return s.view(entry), err
	case err != nil:
		observability.SessionEvents().WithLabelValues("submit", "rejected").Inc()
		return dto.SessionResponse{}, err
	case !accepted:
		observability.SessionEvents().WithLabelValues("submit", "ignored").Inc()
	default:
		observability.SessionEvents().WithLabelValues("submit", "ok").Inc()
	}
	return s.view(entry), nil
}

func (s *sessionService) Retake(ctx context.Context, userID uint, sessionID string) (dto.SessionResponse, error) {
	return s.apply(userID, sessionID, "retake", func(m *assessment.Machine) error { return m.Retake() })
}

func (s *sessionService) BackToSelection(ctx context.Context, userID uint, sessionID string) (dto.SessionResponse, error) {
	return s.apply(userID, sessionID, "back_to_selection", func(m *assessment.Machine) error { return m.BackToSelection() })
}

func (s *sessionService) Result(ctx context.Context, userID uint, sessionID string) (dto.ResultResponse, error) {
	entry, err := s.lookup(userID, sessionID)
	if err != nil {
		return dto.ResultResponse{}, err
	}
	s.touch(entry)

	result, ok := entry.machine.Result()
	if !ok {
		return dto.ResultResponse{}, ErrResultNotReady
	}
	return dto.NewResultResponse(result.View()), nil
}

func (s *sessionService) Discard(ctx context.Context, userID uint, sessionID string) error {
	entry, err := s.lookup(userID, sessionID)
	if err != nil {
		return err
	}
	if !entry.machine.CloseUnlessBusy() {
		return assessment.ErrInvalidTransition
	}
	s.remove(entry)
	s.logger.Info().Str("session_id", sessionID).Msg("session discarded")
	return nil
}

func (s *sessionService) Subscribe(ctx context.Context, userID uint, sessionID string) (dto.SnapshotResponse, <-chan dto.SnapshotResponse, func(), error) {
	entry, err := s.lookup(userID, sessionID)
	if err != nil {
		return dto.SnapshotResponse{}, nil, nil, err
	}
	s.touch(entry)

	ch, cancel := s.broadcaster.Subscribe(sessionID)
	return dto.NewSnapshotResponse(entry.machine.Snapshot()), ch, cancel, nil
}

// Run evicts idle sessions until ctx is cancelled.
func (s *sessionService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := s.evictIdle(); evicted > 0 {
				s.logger.Info().Int("evicted", evicted).Msg("idle sessions evicted")
			}
		}
	}
}

// Shutdown stops every clock, then waits for running evaluations and the result writes
// they start. It gives up when ctx ends.
func (s *sessionService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, entry := range s.sessions {
		entries = append(entries, entry)
	}
	s.mu.Unlock()

	for _, entry := range entries {
		entry.machine.Close()
	}
	for _, entry := range entries {
		if err := entry.machine.Wait(ctx); err != nil {
			s.logger.Warn().Err(err).Str("session_id", entry.id).Msg("evaluation still running at shutdown")
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn().Err(ctx.Err()).Msg("result writes still pending at shutdown")
		return ctx.Err()
	}
}

// evictIdle removes sessions untouched for longer than the idle TTL. Sessions that are
// mid-evaluation or have a running clock are kept.
func (s *sessionService) evictIdle() int {
	cutoff := s.cfg.Now().Add(-s.cfg.IdleTTL)

	s.mu.Lock()
	evicted := make([]*sessionEntry, 0)
	for id, entry := range s.sessions {
		entry.mu.Lock()
		idle := entry.lastSeen.Before(cutoff)
		entry.mu.Unlock()
		if !idle || !entry.machine.CloseIfIdle() {
			continue
		}
		delete(s.sessions, id)
		evicted = append(evicted, entry)
	}
	count := len(s.sessions)
	s.mu.Unlock()

	for _, entry := range evicted {
		s.broadcaster.CloseSession(entry.id)
		observability.SessionsEvicted().Inc()
	}
	if len(evicted) > 0 {
		observability.SessionsActive().Set(float64(count))
	}
	return len(evicted)
}

func (s *sessionService) remove(entry *sessionEntry) {
	s.mu.Lock()
	if _, ok := s.sessions[entry.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, entry.id)
	count := len(s.sessions)
	s.mu.Unlock()

	entry.machine.Close()
	s.broadcaster.CloseSession(entry.id)
	observability.SessionsActive().Set(float64(count))
}

func (s *sessionService) lookup(userID uint, sessionID string) (*sessionEntry, error) {
	s.mu.RLock()
	entry, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if entry.userID != userID {
		return nil, ErrSessionForbidden
	}
	return entry, nil
}

func (s *sessionService) touch(entry *sessionEntry) {
	entry.mu.Lock()
	entry.lastSeen = s.cfg.Now()
	entry.mu.Unlock()
}

func (s *sessionService) apply(userID uint, sessionID, event string, fn func(*assessment.Machine) error) (dto.SessionResponse, error) {
	entry, err := s.lookup(userID, sessionID)
	if err != nil {
		return dto.SessionResponse{}, err
	}
	s.touch(entry)

	if err := fn(entry.machine); err != nil {
		observability.SessionEvents().WithLabelValues(event, "rejected").Inc()
		return dto.SessionResponse{}, err
	}
	observability.SessionEvents().WithLabelValues(event, "ok").Inc()
	return s.view(entry), nil
}

func (s *sessionService) selectSet(ctx context.Context, entry *sessionEntry, questionSetID string) error {
	s.touch(entry)

	set, subject, err := s.questionSets.Load(ctx, questionSetID)
	if err != nil {
		return err
	}
	if err := entry.machine.Select(set); err != nil {
		observability.SessionEvents().WithLabelValues("select", "rejected").Inc()
		return err
	}

	entry.mu.Lock()
	entry.subject = subject
	entry.mu.Unlock()
	observability.SessionEvents().WithLabelValues("select", "ok").Inc()
	return nil
}

func (s *sessionService) view(entry *sessionEntry) dto.SessionResponse {
	state, snap, answers := entry.machine.Inspect()
	entry.mu.Lock()
	subject := entry.subject
	entry.mu.Unlock()
	return dto.NewSessionResponse(state, snap, answers, subject)
}

// observe runs inside the machine's emit path and must not block.
func (s *sessionService) observe(entry *sessionEntry, snap assessment.Snapshot) {
	s.broadcaster.Publish(entry.userID, snap)

	entry.mu.Lock()
	previous := entry.lastPhase
	entry.lastPhase = snap.Phase
	record := snap.Phase == assessment.PhaseResults && snap.Result != nil && snap.Attempt > entry.recorded
	if record {
		entry.recorded = snap.Attempt
	}
	entry.mu.Unlock()

	switch {
	case previous == assessment.PhaseInProgress && snap.Phase == assessment.PhaseSubmitted:
		trigger := assessment.TriggerManual
		if snap.Clock.Expired {
			trigger = assessment.TriggerTimer
		}
		observability.Submissions().WithLabelValues(string(trigger)).Inc()
	case previous == assessment.PhaseSubmitted && snap.Phase == assessment.PhaseInProgress:
		observability.Rollbacks().Inc()
	}

	if record {
		for _, o := range snap.Result.Outcomes {
			observability.Outcomes().WithLabelValues(string(o.Status)).Inc()
		}
		if s.outcomes != nil {
			s.pending.Add(1)
			go s.saveResult(entry.userID, snap)
		}
	}
}

func (s *sessionService) saveResult(userID uint, snap assessment.Snapshot) {
	defer s.pending.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
	defer cancel()

	outcomes, err := json.Marshal(snap.Result.Outcomes)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", snap.SessionID).Msg("failed to encode outcomes")
		return
	}

	row := models.SessionResult{
		SessionID:     snap.SessionID,
		Attempt:       snap.Attempt,
		UserID:        userID,
		QuestionSetID: snap.QuestionSetID,
		TotalScore:    snap.Result.TotalScore,
		MaxScore:      snap.Result.MaxScore,
		Percentage:    snap.Result.Percentage,
		Outcomes:      datatypes.JSON(outcomes),
	}
	if err := s.outcomes.SaveResult(ctx, &row); err != nil {
		observability.StoreFailures().WithLabelValues("result").Inc()
		s.logger.Error().Err(err).Str("session_id", snap.SessionID).Msg("failed to persist session result")
		return
	}

	s.logger.Info().
		Str("session_id", snap.SessionID).
		Str("question_set_id", snap.QuestionSetID).
		Int("attempt", snap.Attempt).
		Int("percentage", snap.Result.Percentage).
		Msg("session result stored")
}
