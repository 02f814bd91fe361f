package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/assessment"
	"github.com/noah-isme/gema-assessment-api/internal/observability"
	"github.com/noah-isme/gema-assessment-api/pkg/ai"
)

const maxFeedbackLength = 1000

// AIEvaluator adapts an ai.Evaluator to the session evaluation loop. The model's 0-1 score
// becomes marks and its feedback is stripped of markup.
type AIEvaluator struct {
	grader    ai.Evaluator
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// NewAIEvaluator wraps grader.
func NewAIEvaluator(grader ai.Evaluator, logger zerolog.Logger) *AIEvaluator {
	return &AIEvaluator{
		grader:    grader,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "ai_evaluator").Str("provider", grader.Name()).Logger(),
	}
}

// Evaluate implements assessment.Evaluator.
func (e *AIEvaluator) Evaluate(ctx context.Context, question assessment.Question, answer string) (assessment.Evaluation, error) {
	start := time.Now()
	result, err := e.grader.Evaluate(ctx, ai.EvaluationInput{
		QuestionID:  question.ID,
		Subject:     question.Subject,
		Topic:       question.Topic,
		Kind:        question.Kind,
		Prompt:      question.Prompt,
		ModelAnswer: question.ModelAnswer,
		MaxMarks:    question.MaxMarks,
		WordLimit:   question.WordLimit,
		Answer:      answer,
	})
	observability.EvaluationDuration().Observe(time.Since(start).Seconds())
	if err != nil {
		return assessment.Evaluation{}, fmt.Errorf("%s: %w", e.grader.Name(), err)
	}

	e.logger.Debug().
		Str("question_id", question.ID).
		Float64("score", result.Score).
		Str("verdict", result.Verdict).
		Msg("answer marked")

	details := result.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	if result.Verdict != "" {
		details["verdict"] = result.Verdict
	}

	return assessment.Evaluation{
		Score:    result.Score * question.MaxMarks,
		Feedback: e.cleanFeedback(result.Feedback),
		Details:  details,
	}, nil
}

func (e *AIEvaluator) cleanFeedback(feedback string) string {
	clean := strings.TrimSpace(html.UnescapeString(e.sanitizer.Sanitize(feedback)))
	if runes := []rune(clean); len(runes) > maxFeedbackLength {
		clean = string(runes[:maxFeedbackLength])
	}
	return clean
}
