package assessment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// MachineConfig wires the collaborators of a session.
type MachineConfig struct {
	SessionID string
	Evaluator Evaluator
	Store     SubmissionStore
	Observer  Observer
	// TickSource builds the clock's ticking source; nil uses a one second ticker.
	TickSource func() TickSource
	// EvaluationTimeout bounds a single evaluator call. Zero means no extra bound.
	EvaluationTimeout time.Duration
	// StoreTimeout bounds a single submission-store write.
	StoreTimeout time.Duration
	// BaseContext is used for timer-triggered submissions.
	BaseContext context.Context
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Machine owns one session: its State, Clock and AnswerLedger. Every event is applied
// under a single lock through Transition, which makes the submission guard a state check.
type Machine struct {
	mu      sync.Mutex
	cfg     MachineConfig
	state   State
	ledger  *AnswerLedger
	clock   *Clock
	attempt int
	version uint64
	closed  bool

	// inflight counts accepted submissions until their final snapshot is emitted.
	inflight sync.WaitGroup

	emitMu      sync.Mutex
	lastEmitted uint64

	observer Observer
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// NewMachine builds a machine in the Selection phase.
func NewMachine(cfg MachineConfig) *Machine {
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}

	var source TickSource
	if cfg.TickSource != nil {
		source = cfg.TickSource()
	}

	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	m := &Machine{
		cfg:      cfg,
		state:    InitialState(),
		clock:    NewClock(0, source),
		observer: observer,
		tracer:   otel.Tracer("github.com/noah-isme/gema-assessment-api/internal/assessment"),
		logger:   cfg.Logger.With().Str("component", "session_machine").Str("session_id", cfg.SessionID).Logger(),
	}
	m.clock.OnExpire(m.handleExpiry)
	m.clock.OnTick(m.handleTick)
	return m
}

// ID returns the session identifier.
func (m *Machine) ID() string { return m.cfg.SessionID }

// State returns a copy of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	if s.Answers != nil {
		s.Answers = copyAnswers(s.Answers)
	}
	return s
}

// Clock exposes the live clock projection.
func (m *Machine) Clock() ClockState {
	return m.clock.State()
}

// Snapshot returns the current observer projection without emitting it.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Select moves Selection to Ready and arms the clock with the set's time limit.
func (m *Machine) Select(set *QuestionSet) error {
	return m.apply(SelectQuestionSet{Set: set}, func(next State) {
		m.arm(next.QuestionSet)
	})
}

// Start moves Ready to InProgress and starts the clock.
func (m *Machine) Start() error {
	return m.apply(StartEvent{}, func(State) {
		m.clock.Start()
	})
}

// Next moves to the following question; a no-op at the last one.
func (m *Machine) Next() error {
	return m.apply(NavigateEvent{Delta: 1}, nil)
}

// Previous moves to the preceding question; a no-op at the first one.
func (m *Machine) Previous() error {
	return m.apply(NavigateEvent{Delta: -1}, nil)
}

// Navigate moves the pointer by delta, clamped to the set bounds.
func (m *Machine) Navigate(delta int) error {
	return m.apply(NavigateEvent{Delta: delta}, nil)
}

// Jump moves the pointer to index.
func (m *Machine) Jump(index int) error {
	return m.apply(JumpEvent{Index: index}, nil)
}

// SetAnswer records answer text while the session is in progress.
func (m *Machine) SetAnswer(questionID, text string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrSessionClosed
	}
	if m.state.Phase != PhaseInProgress {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	if err := m.ledger.SetAnswer(questionID, text); err != nil {
		m.mu.Unlock()
		return err
	}
	snap := m.bumpLocked()
	m.mu.Unlock()

	m.emit(snap)
	return nil
}

// ToggleFlag flips the review flag while the session is in progress.
func (m *Machine) ToggleFlag(questionID string) (bool, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, ErrSessionClosed
	}
	if m.state.Phase != PhaseInProgress {
		m.mu.Unlock()
		return false, ErrInvalidTransition
	}
	flagged, err := m.ledger.ToggleFlag(questionID)
	if err != nil {
		m.mu.Unlock()
		return false, err
	}
	snap := m.bumpLocked()
	m.mu.Unlock()

	m.emit(snap)
	return flagged, nil
}

// Submit freezes the session and runs the evaluation loop. Only the first trigger of a
// session proceeds: later triggers, including a timer racing a manual submit, return
// (false, nil). A systemic failure rolls back to InProgress, resumes the clock and
// returns a *SubmissionError. After a timer-triggered rollback the clock stays expired
// at zero, so only a manual submit can retry.
func (m *Machine) Submit(ctx context.Context, trigger SubmitTrigger) (bool, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, ErrSessionClosed
	}
	if m.state.Phase != PhaseInProgress {
		phase := m.state.Phase
		m.mu.Unlock()
		if phase == PhaseSubmitted || phase == PhaseResults {
			m.logger.Debug().Str("trigger", string(trigger)).Str("phase", string(phase)).Msg("submission already handled")
			return false, nil
		}
		return false, ErrInvalidTransition
	}

	next, err := Transition(m.state, SubmitEvent{Trigger: trigger, Answers: m.ledger.Snapshot()})
	if err != nil {
		m.mu.Unlock()
		return false, err
	}
	m.inflight.Add(1)
	defer m.inflight.Done()
	m.clock.Pause()
	m.state = next
	set := next.QuestionSet
	answers := copyAnswers(next.Answers)
	attempt := m.attempt
	snap := m.bumpLocked()
	m.mu.Unlock()

	m.emit(snap)
	m.logger.Info().Str("trigger", string(trigger)).Int("answered", countAnswered(answers)).Msg("session submitted")

	result, evalErr := m.evaluate(ctx, set, answers, attempt)

	m.mu.Lock()
	if evalErr != nil {
		rolled, _ := Transition(m.state, EvaluationFailed{Err: evalErr})
		m.state = rolled
		if !m.closed {
			m.clock.Start()
		}
		snap = m.bumpLocked()
		m.mu.Unlock()

		m.emit(snap)
		m.logger.Warn().Err(evalErr).Msg("submission rolled back")
		return true, &SubmissionError{Err: evalErr}
	}

	done, _ := Transition(m.state, EvaluationComplete{Result: result})
	m.state = done
	snap = m.bumpLocked()
	m.mu.Unlock()

	m.emit(snap)
	m.logger.Info().
		Float64("total_score", result.TotalScore()).
		Float64("max_score", result.MaxScore()).
		Int("percentage", result.Percentage()).
		Msg("session evaluated")
	return true, nil
}

// Retake re-arms the same question set with fresh answers and a fresh clock.
func (m *Machine) Retake() error {
	return m.apply(RetakeEvent{}, func(next State) {
		m.arm(next.QuestionSet)
	})
}

// BackToSelection discards the question set.
func (m *Machine) BackToSelection() error {
	return m.apply(BackToSelectionEvent{}, func(State) {
		m.ledger = nil
		m.clock.Reset(0)
	})
}

// Close stops the clock and rejects every later event with ErrSessionClosed. A submission
// already evaluating runs to completion; use Wait to block on it.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

// Busy reports whether an evaluation run is in flight.
func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Phase == PhaseSubmitted
}

// CloseUnlessBusy closes the machine unless a submission is being evaluated.
func (m *Machine) CloseUnlessBusy() bool {
	return m.closeIf(func() bool { return m.state.Phase != PhaseSubmitted })
}

// CloseIfIdle closes the machine only when it is neither evaluating nor counting down.
func (m *Machine) CloseIfIdle() bool {
	return m.closeIf(func() bool {
		return m.state.Phase != PhaseSubmitted && !m.clock.State().Running
	})
}

// closeIf checks and closes under one lock, so no event can start in between.
func (m *Machine) closeIf(allowed func() bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return true
	}
	if !allowed() {
		return false
	}
	m.closeLocked()
	return true
}

func (m *Machine) closeLocked() {
	if m.closed {
		return
	}
	m.closed = true
	m.clock.Pause()
	m.clock.OnExpire(nil)
	m.clock.OnTick(nil)
}

// Wait blocks until every accepted submission has emitted its final snapshot, or ctx
// ends. Call it after Close so no new submission can start.
func (m *Machine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result returns the aggregate once the session reached Results.
func (m *Machine) Result() (*ResultAggregate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Phase != PhaseResults || m.state.Result == nil {
		return nil, false
	}
	return m.state.Result, true
}

func (m *Machine) apply(ev Event, effect func(next State)) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrSessionClosed
	}
	next, err := Transition(m.state, ev)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = next
	if effect != nil {
		effect(next)
	}
	snap := m.bumpLocked()
	m.mu.Unlock()

	m.emit(snap)
	return nil
}

// arm must be called with m.mu held.
func (m *Machine) arm(set *QuestionSet) {
	m.attempt++
	m.ledger = NewAnswerLedger(set.ids())
	m.clock.Reset(set.TimeLimitSeconds())
}

func (m *Machine) handleExpiry() {
	submitted, err := m.Submit(m.cfg.BaseContext, TriggerTimer)
	if errors.Is(err, ErrSessionClosed) {
		m.logger.Debug().Msg("timer expired after the session closed")
		return
	}
	if err != nil {
		m.logger.Error().Err(err).Msg("timer submission failed")
		return
	}
	if submitted {
		m.logger.Info().Msg("session auto-submitted on timer expiry")
	}
}

func (m *Machine) handleTick(ClockState) {
	m.mu.Lock()
	snap := m.bumpLocked()
	m.mu.Unlock()
	m.emit(snap)
}

func (m *Machine) bumpLocked() Snapshot {
	m.version++
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	clock := m.clock.State()
	snap := Snapshot{
		SessionID:        m.cfg.SessionID,
		Version:          m.version,
		Phase:            m.state.Phase,
		Attempt:          m.attempt,
		QuestionCount:    m.state.QuestionSet.Len(),
		CurrentIndex:     m.state.CurrentIndex,
		Answered:         []string{},
		Flagged:          []string{},
		Clock:            clock,
		PercentRemaining: clock.PercentRemaining(),
		Notice:           m.state.Notice,
		At:               m.cfg.Now().UTC(),
	}

	if set := m.state.QuestionSet; set != nil {
		snap.QuestionSetID = set.ID
		if m.state.CurrentIndex < set.Len() {
			snap.CurrentQuestionID = set.Questions[m.state.CurrentIndex].ID
		}
		if m.ledger != nil {
			order := set.ids()
			snap.AnsweredCount = m.ledger.AnsweredCount()
			for _, id := range order {
				if m.ledger.IsAnswered(id) {
					snap.Answered = append(snap.Answered, id)
				}
			}
			snap.Flagged = m.ledger.Flagged(order)
		}
	}

	if m.state.Result != nil {
		view := m.state.Result.View()
		snap.Result = &view
	}
	return snap
}

func (m *Machine) emit(s Snapshot) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	if s.Version <= m.lastEmitted {
		return
	}
	m.lastEmitted = s.Version
	m.observer.Notify(s)
}

// IsSubmissionError reports whether err is a rolled-back systemic submission failure.
func IsSubmissionError(err error) bool {
	var target *SubmissionError
	return errors.As(err, &target)
}

func copyAnswers(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Inspect returns the state, its observer projection and the ledger answers taken under
// one lock, so the three always describe the same moment.
func (m *Machine) Inspect() (State, Snapshot, map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state
	if s.Answers != nil {
		s.Answers = copyAnswers(s.Answers)
	}
	answers := map[string]string{}
	if m.ledger != nil {
		answers = m.ledger.Snapshot()
	}
	return s, m.snapshotLocked(), answers
}

// Answers returns the ledger's answer records for the current arming.
func (m *Machine) Answers() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ledger == nil {
		return map[string]string{}
	}
	return m.ledger.Snapshot()
}
