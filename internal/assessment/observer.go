package assessment

import "time"

// Snapshot is the read-only projection pushed to observers after every accepted event
// and every clock tick.
type Snapshot struct {
	SessionID         string      `json:"session_id"`
	Version           uint64      `json:"version"`
	Phase             Phase       `json:"phase"`
	Attempt           int         `json:"attempt"`
	QuestionSetID     string      `json:"question_set_id,omitempty"`
	QuestionCount     int         `json:"question_count"`
	CurrentIndex      int         `json:"current_index"`
	CurrentQuestionID string      `json:"current_question_id,omitempty"`
	AnsweredCount     int         `json:"answered_count"`
	Answered          []string    `json:"answered"`
	Flagged           []string    `json:"flagged"`
	Clock             ClockState  `json:"clock"`
	PercentRemaining  float64     `json:"percent_remaining"`
	Notice            string      `json:"notice,omitempty"`
	Result            *ResultView `json:"result,omitempty"`
	At                time.Time   `json:"at"`
}

// Observer receives snapshots. Implementations must not call back into the Machine
// synchronously from Notify.
type Observer interface {
	Notify(Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot)

func (f ObserverFunc) Notify(s Snapshot) { f(s) }

type nopObserver struct{}

func (nopObserver) Notify(Snapshot) {}
