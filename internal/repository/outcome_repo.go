package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// OutcomeRepository stores per-question outcomes and attempt aggregates.
type OutcomeRepository interface {
	CreateOutcome(ctx context.Context, outcome *models.SessionOutcome) error
	ListOutcomes(ctx context.Context, sessionID string, attempt int) ([]models.SessionOutcome, error)
	SaveResult(ctx context.Context, result *models.SessionResult) error
	ListResultsByUser(ctx context.Context, userID uint, limit int) ([]models.SessionResult, error)
}

type outcomeRepository struct {
	db *gorm.DB
}

// NewOutcomeRepository constructs the repository implementation.
func NewOutcomeRepository(db *gorm.DB) OutcomeRepository {
	return &outcomeRepository{db: db}
}

func (r *outcomeRepository) CreateOutcome(ctx context.Context, outcome *models.SessionOutcome) error {
	return r.db.WithContext(ctx).Create(outcome).Error
}

func (r *outcomeRepository) ListOutcomes(ctx context.Context, sessionID string, attempt int) ([]models.SessionOutcome, error) {
	var outcomes []models.SessionOutcome
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND attempt = ?", sessionID, attempt).
		Order("position ASC").
		Find(&outcomes).Error
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// SaveResult writes the aggregate once per session attempt; repeats are ignored.
func (r *outcomeRepository) SaveResult(ctx context.Context, result *models.SessionResult) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "attempt"}},
		DoNothing: true,
	}).Create(result).Error
}

func (r *outcomeRepository) ListResultsByUser(ctx context.Context, userID uint, limit int) ([]models.SessionResult, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var results []models.SessionResult
	if err := query.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
