package assessment

import (
	"fmt"
	"strings"
)

// AnswerLedger tracks answer text, the answered set and the flagged set for one session.
// It is not safe for concurrent use; the owning Machine serializes access.
type AnswerLedger struct {
	known    map[string]struct{}
	answers  map[string]string
	answered map[string]struct{}
	flagged  map[string]struct{}
}

// NewAnswerLedger creates an empty ledger scoped to the given question ids.
func NewAnswerLedger(questionIDs []string) *AnswerLedger {
	known := make(map[string]struct{}, len(questionIDs))
	for _, id := range questionIDs {
		known[id] = struct{}{}
	}
	return &AnswerLedger{
		known:    known,
		answers:  make(map[string]string),
		answered: make(map[string]struct{}),
		flagged:  make(map[string]struct{}),
	}
}

func (l *AnswerLedger) check(questionID string) error {
	if _, ok := l.known[questionID]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidQuestionID, questionID)
	}
	return nil
}

// SetAnswer records text for the question. Blank text keeps the record but clears the
// answered membership.
func (l *AnswerLedger) SetAnswer(questionID, text string) error {
	if err := l.check(questionID); err != nil {
		return err
	}
	l.answers[questionID] = text
	if strings.TrimSpace(text) != "" {
		l.answered[questionID] = struct{}{}
	} else {
		delete(l.answered, questionID)
	}
	return nil
}

// ToggleFlag flips the review flag and returns the new membership.
func (l *AnswerLedger) ToggleFlag(questionID string) (bool, error) {
	if err := l.check(questionID); err != nil {
		return false, err
	}
	if _, ok := l.flagged[questionID]; ok {
		delete(l.flagged, questionID)
		return false, nil
	}
	l.flagged[questionID] = struct{}{}
	return true, nil
}

func (l *AnswerLedger) AnsweredCount() int {
	return len(l.answered)
}

func (l *AnswerLedger) IsAnswered(questionID string) bool {
	_, ok := l.answered[questionID]
	return ok
}

func (l *AnswerLedger) IsFlagged(questionID string) bool {
	_, ok := l.flagged[questionID]
	return ok
}

// Answer returns the recorded text and whether a record exists.
func (l *AnswerLedger) Answer(questionID string) (string, bool) {
	text, ok := l.answers[questionID]
	return text, ok
}

// Snapshot copies the answer records.
func (l *AnswerLedger) Snapshot() map[string]string {
	out := make(map[string]string, len(l.answers))
	for id, text := range l.answers {
		out[id] = text
	}
	return out
}

// Flagged lists flagged question ids in the given order.
func (l *AnswerLedger) Flagged(order []string) []string {
	out := make([]string, 0, len(l.flagged))
	for _, id := range order {
		if _, ok := l.flagged[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
