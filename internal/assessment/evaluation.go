package assessment

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Evaluation is the evaluator's verdict for one answer.
type Evaluation struct {
	Score    float64
	Feedback string
	Details  map[string]interface{}
}

// Evaluator scores one answer against one question. The core never retries a call.
type Evaluator interface {
	Evaluate(ctx context.Context, question Question, answer string) (Evaluation, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, question Question, answer string) (Evaluation, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, question Question, answer string) (Evaluation, error) {
	return f(ctx, question, answer)
}

// Record is what gets persisted for each evaluated question.
type Record struct {
	SessionID     string
	QuestionSetID string
	Attempt       int
	Position      int
	Question      Question
	Answer        string
	Outcome       Outcome
}

// SubmissionStore persists outcomes on a best-effort basis.
type SubmissionStore interface {
	Record(ctx context.Context, rec Record) error
}

// evaluate runs the sequential scoring loop. Only preflight problems are returned as
// errors; per-question failures become zero-score outcomes.
func (m *Machine) evaluate(ctx context.Context, set *QuestionSet, answers map[string]string, attempt int) (*ResultAggregate, error) {
	if ctx == nil {
		ctx = m.cfg.BaseContext
	}
	ctx, span := m.tracer.Start(ctx, "assessment.evaluate", trace.WithAttributes(
		attribute.String("session.id", m.cfg.SessionID),
		attribute.Int("session.attempt", attempt),
		attribute.Int("questions", set.Len()),
	))
	defer span.End()

	if err := m.preflight(ctx, set, answers); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// Writes are handed to a single writer so they land in question order without
	// holding up the next evaluator call.
	var (
		writes chan Record
		done   chan struct{}
	)
	if m.cfg.Store != nil {
		writes = make(chan Record, set.Len())
		done = make(chan struct{})
		go m.drainWrites(ctx, writes, done)
	}

	outcomes := make([]Outcome, 0, set.Len())
	for i, q := range set.Questions {
		answer, present := answers[q.ID]
		outcome := m.scoreOne(ctx, q, answer, present)
		outcomes = append(outcomes, outcome)

		if writes != nil {
			writes <- Record{
				SessionID:     m.cfg.SessionID,
				QuestionSetID: set.ID,
				Attempt:       attempt,
				Position:      i,
				Question:      q,
				Answer:        answer,
				Outcome:       outcome,
			}
		}
	}

	if writes != nil {
		close(writes)
		<-done
	}
	return NewResultAggregate(outcomes), nil
}

func (m *Machine) preflight(ctx context.Context, set *QuestionSet, answers map[string]string) error {
	if err := set.Validate(); err != nil {
		return err
	}
	if m.cfg.Evaluator == nil {
		return ErrEvaluatorMissing
	}
	known := make(map[string]struct{}, set.Len())
	for _, id := range set.ids() {
		known[id] = struct{}{}
	}
	for id := range answers {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("%w: answer for %q", ErrInvalidQuestionID, id)
		}
	}
	return ctx.Err()
}

func (m *Machine) scoreOne(ctx context.Context, q Question, answer string, present bool) Outcome {
	outcome := Outcome{QuestionID: q.ID, MaxMarks: q.MaxMarks}

	if !present || strings.TrimSpace(answer) == "" {
		outcome.Feedback = FeedbackNoAnswer
		outcome.Status = OutcomeUnanswered
		return outcome
	}

	evaluation, err := m.callEvaluator(ctx, q, answer)
	if err == nil && math.IsNaN(evaluation.Score) {
		err = fmt.Errorf("evaluator returned NaN score")
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("question_id", q.ID).Msg("question evaluation failed")
		outcome.Feedback = FeedbackEvaluationFailed
		outcome.Status = OutcomeFailed
		return outcome
	}

	outcome.Score = clampScore(evaluation.Score, q.MaxMarks)
	outcome.Feedback = evaluation.Feedback
	outcome.Status = OutcomeScored
	return outcome
}

func (m *Machine) callEvaluator(ctx context.Context, q Question, answer string) (result Evaluation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluator panic: %v", r)
		}
	}()

	if m.cfg.EvaluationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.EvaluationTimeout)
		defer cancel()
	}
	return m.cfg.Evaluator.Evaluate(ctx, q, answer)
}

func (m *Machine) drainWrites(ctx context.Context, writes <-chan Record, done chan<- struct{}) {
	defer close(done)
	for rec := range writes {
		m.persist(ctx, rec)
	}
}

func (m *Machine) persist(ctx context.Context, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("question_id", rec.Question.ID).Msg("submission store panicked")
		}
	}()

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.StoreTimeout)
	defer cancel()

	if err := m.cfg.Store.Record(writeCtx, rec); err != nil {
		m.logger.Error().Err(err).Str("question_id", rec.Question.ID).Msg("failed to persist outcome")
	}
}

func clampScore(score, maxMarks float64) float64 {
	if score < 0 {
		return 0
	}
	if score > maxMarks {
		return maxMarks
	}
	return score
}

func countAnswered(answers map[string]string) int {
	n := 0
	for _, text := range answers {
		if strings.TrimSpace(text) != "" {
			n++
		}
	}
	return n
}
