package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/assessment"
	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
)

// ErrQuestionSetNotFound indicates the requested question set does not exist.
var ErrQuestionSetNotFound = errors.New("question set not found")

// QuestionSetService serves the selection screen and loads sets into sessions.
type QuestionSetService interface {
	List(ctx context.Context, query dto.QuestionSetQuery) ([]dto.QuestionSetSummaryResponse, error)
	Get(ctx context.Context, id string) (dto.QuestionSetResponse, error)
	Load(ctx context.Context, id string) (*assessment.QuestionSet, string, error)
}

type questionSetService struct {
	repo      repository.QuestionSetRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewQuestionSetService constructs the question set service.
func NewQuestionSetService(repo repository.QuestionSetRepository, validate *validator.Validate, logger zerolog.Logger) QuestionSetService {
	return &questionSetService{
		repo:      repo,
		validator: validate,
		logger:    logger.With().Str("component", "question_set_service").Logger(),
	}
}

func (s *questionSetService) List(ctx context.Context, query dto.QuestionSetQuery) ([]dto.QuestionSetSummaryResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	rows, err := s.repo.List(ctx, query.Subject)
	if err != nil {
		return nil, err
	}

	out := make([]dto.QuestionSetSummaryResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, dto.NewQuestionSetSummaryResponse(row))
	}
	return out, nil
}

func (s *questionSetService) Get(ctx context.Context, id string) (dto.QuestionSetResponse, error) {
	set, err := s.fetch(ctx, id)
	if err != nil {
		return dto.QuestionSetResponse{}, err
	}
	return dto.NewQuestionSetResponseFromModel(set), nil
}

// Load returns the domain set plus its subject. An empty set is returned as is; the
// session machine refuses to arm it.
func (s *questionSetService) Load(ctx context.Context, id string) (*assessment.QuestionSet, string, error) {
	set, err := s.fetch(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return toDomainQuestionSet(set), set.Subject, nil
}

func (s *questionSetService) fetch(ctx context.Context, id string) (models.QuestionSet, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.QuestionSet{}, ErrQuestionSetNotFound
	}

	set, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.QuestionSet{}, ErrQuestionSetNotFound
		}
		return models.QuestionSet{}, fmt.Errorf("load question set %s: %w", id, err)
	}
	return set, nil
}

func toDomainQuestionSet(set models.QuestionSet) *assessment.QuestionSet {
	out := &assessment.QuestionSet{
		ID:               set.ID,
		Title:            set.Title,
		TimeLimitMinutes: set.TimeLimitMinutes,
		Questions:        make([]assessment.Question, 0, len(set.Questions)),
	}
	for _, q := range set.Questions {
		out.Questions = append(out.Questions, assessment.Question{
			ID:          q.Key,
			Prompt:      q.Prompt,
			Kind:        q.Kind,
			MaxMarks:    q.MaxMarks,
			WordLimit:   q.WordLimit,
			ModelAnswer: q.ModelAnswer,
			Topic:       q.Topic,
			Subject:     set.Subject,
		})
	}
	return out
}
