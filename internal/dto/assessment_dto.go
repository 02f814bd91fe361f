package dto

import (
	"strings"
	"time"

	"github.com/noah-isme/gema-assessment-api/internal/assessment"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
)

// CreateSessionRequest optionally selects a question set right away.
type CreateSessionRequest struct {
	QuestionSetID string `json:"question_set_id" validate:"omitempty,max=64"`
}

// SelectQuestionSetRequest picks the paper for a session.
type SelectQuestionSetRequest struct {
	QuestionSetID string `json:"question_set_id" validate:"required,max=64"`
}

// AnswerRequest records the text of one answer.
type AnswerRequest struct {
	QuestionID string `json:"question_id" validate:"required,max=64"`
	Text       string `json:"text" validate:"max=20000"`
}

// FlagRequest toggles the review flag of one question.
type FlagRequest struct {
	QuestionID string `json:"question_id" validate:"required,max=64"`
}

// NavigateRequest moves the question pointer by Delta or to Index.
type NavigateRequest struct {
	Delta *int `json:"delta" validate:"required_without=Index,excluded_with=Index"`
	Index *int `json:"index" validate:"omitempty,min=0"`
}

// QuestionSetQuery filters the selection screen.
type QuestionSetQuery struct {
	Subject string `query:"subject" validate:"omitempty,max=128"`
}

// QuestionResponse is a question as shown to the candidate. Marking guides stay server side.
type QuestionResponse struct {
	ID        string  `json:"id"`
	Position  int     `json:"position"`
	Prompt    string  `json:"prompt"`
	Kind      string  `json:"kind,omitempty"`
	Topic     string  `json:"topic,omitempty"`
	MaxMarks  float64 `json:"max_marks"`
	WordLimit int     `json:"word_limit,omitempty"`
}

// QuestionSetSummaryResponse is one row of the selection screen.
type QuestionSetSummaryResponse struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	Subject          string  `json:"subject,omitempty"`
	TimeLimitMinutes int     `json:"time_limit_minutes"`
	QuestionCount    int64   `json:"question_count"`
	TotalMarks       float64 `json:"total_marks"`
}

// QuestionSetResponse is a full paper without marking guides.
type QuestionSetResponse struct {
	ID               string             `json:"id"`
	Title            string             `json:"title"`
	Subject          string             `json:"subject,omitempty"`
	TimeLimitMinutes int                `json:"time_limit_minutes"`
	TotalMarks       float64            `json:"total_marks"`
	Questions        []QuestionResponse `json:"questions"`
}

// ClockResponse is the countdown projection.
type ClockResponse struct {
	RemainingSeconds int     `json:"remaining_seconds"`
	LimitSeconds     int     `json:"limit_seconds"`
	Running          bool    `json:"running"`
	Expired          bool    `json:"expired"`
	PercentRemaining float64 `json:"percent_remaining"`
}

// OutcomeResponse is the marking of one question.
type OutcomeResponse struct {
	QuestionID string  `json:"question_id"`
	Score      float64 `json:"score"`
	MaxMarks   float64 `json:"max_marks"`
	Feedback   string  `json:"feedback"`
	Status     string  `json:"status"`
}

// ResultResponse is the aggregate of a completed attempt.
type ResultResponse struct {
	TotalScore float64           `json:"total_score"`
	MaxScore   float64           `json:"max_score"`
	Percentage int               `json:"percentage"`
	Outcomes   []OutcomeResponse `json:"outcomes"`
}

// SessionResponse is the full session view returned by the REST endpoints.
type SessionResponse struct {
	ID              string               `json:"id"`
	Version         uint64               `json:"version"`
	Phase           string               `json:"phase"`
	Attempt         int                  `json:"attempt"`
	Live            bool                 `json:"live"`
	Busy            bool                 `json:"busy"`
	QuestionSet     *QuestionSetResponse `json:"question_set,omitempty"`
	QuestionSetID   string               `json:"question_set_id,omitempty"`
	QuestionCount   int                  `json:"question_count"`
	CurrentIndex    int                  `json:"current_index"`
	CurrentQuestion *QuestionResponse    `json:"current_question,omitempty"`
	Answers         map[string]string    `json:"answers"`
	AnsweredCount   int                  `json:"answered_count"`
	Answered        []string             `json:"answered"`
	Flagged         []string             `json:"flagged"`
	WordCounts      map[string]int       `json:"word_counts,omitempty"`
	OverWordLimit   []string             `json:"over_word_limit,omitempty"`
	Clock           ClockResponse        `json:"clock"`
	Notice          string               `json:"notice,omitempty"`
	Result          *ResultResponse      `json:"result,omitempty"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// SnapshotResponse is what the live stream pushes on every accepted event.
type SnapshotResponse struct {
	SessionID         string          `json:"session_id"`
	Version           uint64          `json:"version"`
	Phase             string          `json:"phase"`
	Attempt           int             `json:"attempt"`
	QuestionSetID     string          `json:"question_set_id,omitempty"`
	QuestionCount     int             `json:"question_count"`
	CurrentIndex      int             `json:"current_index"`
	CurrentQuestionID string          `json:"current_question_id,omitempty"`
	AnsweredCount     int             `json:"answered_count"`
	Answered          []string        `json:"answered"`
	Flagged           []string        `json:"flagged"`
	Clock             ClockResponse   `json:"clock"`
	Notice            string          `json:"notice,omitempty"`
	Result            *ResultResponse `json:"result,omitempty"`
	At                time.Time       `json:"at"`
}

// NewQuestionSetSummaryResponse converts a repository summary row.
func NewQuestionSetSummaryResponse(row repository.QuestionSetSummary) QuestionSetSummaryResponse {
	return QuestionSetSummaryResponse{
		ID:               row.ID,
		Title:            row.Title,
		Subject:          row.Subject,
		TimeLimitMinutes: row.TimeLimitMinutes,
		QuestionCount:    row.QuestionCount,
		TotalMarks:       row.TotalMarks,
	}
}

// NewQuestionSetResponseFromModel converts a stored set, dropping marking guides.
func NewQuestionSetResponseFromModel(set models.QuestionSet) QuestionSetResponse {
	out := QuestionSetResponse{
		ID:               set.ID,
		Title:            set.Title,
		Subject:          set.Subject,
		TimeLimitMinutes: set.TimeLimitMinutes,
		Questions:        make([]QuestionResponse, 0, len(set.Questions)),
	}
	for _, q := range set.Questions {
		out.TotalMarks += q.MaxMarks
		out.Questions = append(out.Questions, QuestionResponse{
			ID:        q.Key,
			Position:  q.Position,
			Prompt:    q.Prompt,
			Kind:      q.Kind,
			Topic:     q.Topic,
			MaxMarks:  q.MaxMarks,
			WordLimit: q.WordLimit,
		})
	}
	return out
}

// NewQuestionSetResponse converts a session's active set, dropping marking guides.
func NewQuestionSetResponse(set *assessment.QuestionSet, subject string) *QuestionSetResponse {
	if set == nil {
		return nil
	}
	out := &QuestionSetResponse{
		ID:               set.ID,
		Title:            set.Title,
		Subject:          subject,
		TimeLimitMinutes: set.TimeLimitMinutes,
		TotalMarks:       set.MaxScore(),
		Questions:        make([]QuestionResponse, 0, set.Len()),
	}
	for i, q := range set.Questions {
		out.Questions = append(out.Questions, newQuestionResponse(i, q))
	}
	return out
}

func newQuestionResponse(position int, q assessment.Question) QuestionResponse {
	return QuestionResponse{
		ID:        q.ID,
		Position:  position,
		Prompt:    q.Prompt,
		Kind:      q.Kind,
		Topic:     q.Topic,
		MaxMarks:  q.MaxMarks,
		WordLimit: q.WordLimit,
	}
}

// NewClockResponse converts the clock projection.
func NewClockResponse(state assessment.ClockState) ClockResponse {
	return ClockResponse{
		RemainingSeconds: state.RemainingSeconds,
		LimitSeconds:     state.LimitSeconds,
		Running:          state.Running,
		Expired:          state.Expired,
		PercentRemaining: state.PercentRemaining(),
	}
}

// NewResultResponse converts a result projection.
func NewResultResponse(view assessment.ResultView) ResultResponse {
	out := ResultResponse{
		TotalScore: view.TotalScore,
		MaxScore:   view.MaxScore,
		Percentage: view.Percentage,
		Outcomes:   make([]OutcomeResponse, 0, len(view.Outcomes)),
	}
	for _, o := range view.Outcomes {
		out.Outcomes = append(out.Outcomes, OutcomeResponse{
			QuestionID: o.QuestionID,
			Score:      o.Score,
			MaxMarks:   o.MaxMarks,
			Feedback:   o.Feedback,
			Status:     string(o.Status),
		})
	}
	return out
}

// NewSnapshotResponse converts an observer snapshot.
func NewSnapshotResponse(s assessment.Snapshot) SnapshotResponse {
	out := SnapshotResponse{
		SessionID:         s.SessionID,
		Version:           s.Version,
		Phase:             string(s.Phase),
		Attempt:           s.Attempt,
		QuestionSetID:     s.QuestionSetID,
		QuestionCount:     s.QuestionCount,
		CurrentIndex:      s.CurrentIndex,
		CurrentQuestionID: s.CurrentQuestionID,
		AnsweredCount:     s.AnsweredCount,
		Answered:          s.Answered,
		Flagged:           s.Flagged,
		Clock:             NewClockResponse(s.Clock),
		Notice:            s.Notice,
		At:                s.At,
	}
	if s.Result != nil {
		result := NewResultResponse(*s.Result)
		out.Result = &result
	}
	return out
}

// NewSessionResponse builds the REST view of a live session.
func NewSessionResponse(state assessment.State, snap assessment.Snapshot, answers map[string]string, subject string) SessionResponse {
	out := SessionResponse{
		ID:            snap.SessionID,
		Version:       snap.Version,
		Phase:         string(snap.Phase),
		Attempt:       snap.Attempt,
		Live:          true,
		Busy:          snap.Phase == assessment.PhaseSubmitted,
		QuestionSet:   NewQuestionSetResponse(state.QuestionSet, subject),
		QuestionSetID: snap.QuestionSetID,
		QuestionCount: snap.QuestionCount,
		CurrentIndex:  snap.CurrentIndex,
		Answers:       answers,
		AnsweredCount: snap.AnsweredCount,
		Answered:      snap.Answered,
		Flagged:       snap.Flagged,
		Clock:         NewClockResponse(snap.Clock),
		Notice:        snap.Notice,
		UpdatedAt:     snap.At,
	}
	if out.Answers == nil {
		out.Answers = map[string]string{}
	}

	if set := state.QuestionSet; set != nil {
		if snap.CurrentIndex < set.Len() {
			current := newQuestionResponse(snap.CurrentIndex, set.Questions[snap.CurrentIndex])
			out.CurrentQuestion = &current
		}
		out.WordCounts = make(map[string]int, len(answers))
		for _, q := range set.Questions {
			text, ok := answers[q.ID]
			if !ok {
				continue
			}
			words := len(strings.Fields(text))
			out.WordCounts[q.ID] = words
			if q.WordLimit > 0 && words > q.WordLimit {
				out.OverWordLimit = append(out.OverWordLimit, q.ID)
			}
		}
	}

	if snap.Result != nil {
		result := NewResultResponse(*snap.Result)
		out.Result = &result
	}
	return out
}

// NewDetachedSessionResponse builds a read-only view from a cached snapshot of a session
// that is no longer held in memory.
func NewDetachedSessionResponse(s assessment.Snapshot) SessionResponse {
	snap := NewSnapshotResponse(s)
	return SessionResponse{
		ID:            snap.SessionID,
		Version:       snap.Version,
		Phase:         snap.Phase,
		Attempt:       snap.Attempt,
		QuestionSetID: snap.QuestionSetID,
		QuestionCount: snap.QuestionCount,
		CurrentIndex:  snap.CurrentIndex,
		Answers:       map[string]string{},
		AnsweredCount: snap.AnsweredCount,
		Answered:      snap.Answered,
		Flagged:       snap.Flagged,
		Clock:         snap.Clock,
		Notice:        snap.Notice,
		Result:        snap.Result,
		UpdatedAt:     snap.At,
	}
}
