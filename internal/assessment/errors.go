package assessment

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuestionID indicates a ledger operation referenced a question outside the active set.
	ErrInvalidQuestionID = errors.New("invalid question id")
	// ErrInvalidTransition indicates the event is not accepted in the current phase.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrEmptyQuestionSet indicates a selection without any questions.
	ErrEmptyQuestionSet = errors.New("question set has no questions")
	// ErrIndexOutOfRange indicates a jump outside the question set.
	ErrIndexOutOfRange = errors.New("question index out of range")
	// ErrEvaluatorMissing indicates the machine was built without a scoring collaborator.
	ErrEvaluatorMissing = errors.New("evaluator not configured")
	// ErrSessionClosed indicates the machine was closed and accepts no further events.
	ErrSessionClosed = errors.New("session closed")
)

// CorruptQuestionSetError describes a structural problem found in a question set.
type CorruptQuestionSetError struct {
	Index  int
	Reason string
}

func (e *CorruptQuestionSetError) Error() string {
	return fmt.Sprintf("corrupt question set at index %d: %s", e.Index, e.Reason)
}

// SubmissionError wraps a systemic failure that rolled the session back to in-progress.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return "submission failed: " + e.Err.Error()
}

func (e *SubmissionError) Unwrap() error { return e.Err }
