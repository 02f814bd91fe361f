package assessment

import "fmt"

// Phase names the active variant of a session State.
type Phase string

const (
	PhaseSelection  Phase = "selection"
	PhaseReady      Phase = "ready"
	PhaseInProgress Phase = "in_progress"
	PhaseSubmitted  Phase = "submitted"
	PhaseResults    Phase = "results"
)

// NoticeSubmissionFailed is surfaced after a systemic failure rolled the session back.
const NoticeSubmissionFailed = "Submission failed. Please retry."

// State is the session's tagged union. Only the fields of the active Phase are meaningful:
// Ready carries QuestionSet, InProgress adds CurrentIndex, Submitted adds Answers and
// Results adds Result. QuestionSet is kept through Results so a retake can reuse it.
type State struct {
	Phase        Phase
	QuestionSet  *QuestionSet
	CurrentIndex int
	Answers      map[string]string
	Result       *ResultAggregate
	Notice       string
}

// InitialState is the Selection phase.
func InitialState() State {
	return State{Phase: PhaseSelection}
}

// SubmitTrigger identifies who asked for the submission.
type SubmitTrigger string

const (
	TriggerManual SubmitTrigger = "manual"
	TriggerTimer  SubmitTrigger = "timer"
)

// Event is an input to Transition.
type Event interface {
	eventName() string
}

type SelectQuestionSet struct{ Set *QuestionSet }

type StartEvent struct{}

// NavigateEvent moves the pointer by Delta, clamped to the set bounds.
type NavigateEvent struct{ Delta int }

// JumpEvent moves the pointer to Index, which must be in range.
type JumpEvent struct{ Index int }

// SubmitEvent carries the timer-expired or manual-submit trigger plus the answers to freeze.
type SubmitEvent struct {
	Trigger SubmitTrigger
	Answers map[string]string
}

type EvaluationComplete struct{ Result *ResultAggregate }

type EvaluationFailed struct{ Err error }

type RetakeEvent struct{}

type BackToSelectionEvent struct{}

func (SelectQuestionSet) eventName() string    { return "select_question_set" }
func (StartEvent) eventName() string           { return "start" }
func (NavigateEvent) eventName() string        { return "navigate" }
func (JumpEvent) eventName() string            { return "jump" }
func (e SubmitEvent) eventName() string        { return "submit_" + string(e.Trigger) }
func (EvaluationComplete) eventName() string   { return "evaluation_complete" }
func (EvaluationFailed) eventName() string     { return "evaluation_failed" }
func (RetakeEvent) eventName() string          { return "retake" }
func (BackToSelectionEvent) eventName() string { return "back_to_selection" }

// EventName exposes the event label used in logs and metrics.
func EventName(ev Event) string {
	if ev == nil {
		return "unknown"
	}
	return ev.eventName()
}

// Transition computes the next state without side effects.
func Transition(s State, ev Event) (State, error) {
	switch s.Phase {
	case PhaseSelection:
		if e, ok := ev.(SelectQuestionSet); ok {
			if err := e.Set.Validate(); err != nil {
				return s, err
			}
			return State{Phase: PhaseReady, QuestionSet: e.Set.clone()}, nil
		}

	case PhaseReady:
		if _, ok := ev.(StartEvent); ok {
			return State{Phase: PhaseInProgress, QuestionSet: s.QuestionSet, CurrentIndex: 0}, nil
		}

	case PhaseInProgress:
		switch e := ev.(type) {
		case NavigateEvent:
			next := s
			next.CurrentIndex = clampIndex(s.CurrentIndex+e.Delta, s.QuestionSet.Len())
			return next, nil
		case JumpEvent:
			if e.Index < 0 || e.Index >= s.QuestionSet.Len() {
				return s, fmt.Errorf("%w: %d", ErrIndexOutOfRange, e.Index)
			}
			next := s
			next.CurrentIndex = e.Index
			return next, nil
		case SubmitEvent:
			return State{
				Phase:        PhaseSubmitted,
				QuestionSet:  s.QuestionSet,
				CurrentIndex: s.CurrentIndex,
				Answers:      e.Answers,
			}, nil
		}

	case PhaseSubmitted:
		switch e := ev.(type) {
		case EvaluationComplete:
			return State{Phase: PhaseResults, QuestionSet: s.QuestionSet, Result: e.Result}, nil
		case EvaluationFailed:
			return State{
				Phase:        PhaseInProgress,
				QuestionSet:  s.QuestionSet,
				CurrentIndex: s.CurrentIndex,
				Notice:       NoticeSubmissionFailed,
			}, nil
		}

	case PhaseResults:
		switch ev.(type) {
		case RetakeEvent:
			return State{Phase: PhaseReady, QuestionSet: s.QuestionSet}, nil
		case BackToSelectionEvent:
			return InitialState(), nil
		}
	}

	return s, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, EventName(ev), s.Phase)
}

func clampIndex(i, n int) int {
	if n <= 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
