package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// QuestionSetSummary is a selection-screen row.
type QuestionSetSummary struct {
	ID               string
	Title            string
	Subject          string
	TimeLimitMinutes int
	QuestionCount    int64
	TotalMarks       float64
}

// QuestionSetRepository exposes persistence operations for question sets.
type QuestionSetRepository interface {
	List(ctx context.Context, subject string) ([]QuestionSetSummary, error)
	Get(ctx context.Context, id string) (models.QuestionSet, error)
	UpsertBatch(ctx context.Context, sets []models.QuestionSet) (int64, error)
}

type questionSetRepository struct {
	db *gorm.DB
}

// NewQuestionSetRepository constructs the repository implementation.
func NewQuestionSetRepository(db *gorm.DB) QuestionSetRepository {
	return &questionSetRepository{db: db}
}

func (r *questionSetRepository) List(ctx context.Context, subject string) ([]QuestionSetSummary, error) {
	query := r.db.WithContext(ctx).
		Table("question_sets").
		Select("question_sets.id, question_sets.title, question_sets.subject, question_sets.time_limit_minutes, " +
			"COUNT(questions.id) AS question_count, COALESCE(SUM(questions.max_marks), 0) AS total_marks").
		Joins("LEFT JOIN questions ON questions.question_set_id = question_sets.id").
		Group("question_sets.id, question_sets.title, question_sets.subject, question_sets.time_limit_minutes").
		Order("question_sets.title ASC")

	if trimmed := strings.TrimSpace(subject); trimmed != "" {
		query = query.Where("LOWER(question_sets.subject) = ?", strings.ToLower(trimmed))
	}

	var rows []QuestionSetSummary
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *questionSetRepository) Get(ctx context.Context, id string) (models.QuestionSet, error) {
	var set models.QuestionSet
	err := r.db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&set, "id = ?", id).Error
	if err != nil {
		return models.QuestionSet{}, err
	}
	return set, nil
}

// UpsertBatch replaces each set and its questions atomically.
func (r *questionSetRepository) UpsertBatch(ctx context.Context, sets []models.QuestionSet) (int64, error) {
	if len(sets) == 0 {
		return 0, nil
	}

	var affected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range sets {
			set := sets[i]
			questions := set.Questions
			set.Questions = nil

			result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"title", "subject", "time_limit_minutes", "metadata", "updated_at"}),
			}).Create(&set)
			if result.Error != nil {
				return result.Error
			}
			affected += result.RowsAffected

			if err := tx.Where("question_set_id = ?", set.ID).Delete(&models.Question{}).Error; err != nil {
				return err
			}
			for j := range questions {
				questions[j].ID = 0
				questions[j].QuestionSetID = set.ID
				questions[j].Position = j
			}
			if len(questions) > 0 {
				if err := tx.Create(&questions).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}
