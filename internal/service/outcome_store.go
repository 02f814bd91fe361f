package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/assessment"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/observability"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
)

// outcomeStore persists per-question outcomes of one user's session.
type outcomeStore struct {
	repo   repository.OutcomeRepository
	userID uint
	logger zerolog.Logger
}

func newOutcomeStore(repo repository.OutcomeRepository, userID uint, logger zerolog.Logger) *outcomeStore {
	return &outcomeStore{repo: repo, userID: userID, logger: logger}
}

// Record implements assessment.SubmissionStore.
func (s *outcomeStore) Record(ctx context.Context, rec assessment.Record) error {
	row := models.SessionOutcome{
		SessionID:     rec.SessionID,
		Attempt:       rec.Attempt,
		UserID:        s.userID,
		QuestionSetID: rec.QuestionSetID,
		QuestionKey:   rec.Question.ID,
		Position:      rec.Position,
		Answer:        rec.Answer,
		Score:         rec.Outcome.Score,
		MaxMarks:      rec.Outcome.MaxMarks,
		Feedback:      rec.Outcome.Feedback,
		Status:        string(rec.Outcome.Status),
	}
	if err := s.repo.CreateOutcome(ctx, &row); err != nil {
		observability.StoreFailures().WithLabelValues("outcome").Inc()
		return err
	}
	return nil
}
