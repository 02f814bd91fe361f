package models

import (
	"time"

	"gorm.io/datatypes"
)

// QuestionSet is a timed paper offered on the selection screen.
type QuestionSet struct {
	ID               string            `gorm:"primaryKey;size:64" json:"id"`
	Title            string            `gorm:"size:255;not null" json:"title"`
	Subject          string            `gorm:"size:128;index" json:"subject"`
	TimeLimitMinutes int               `gorm:"not null" json:"time_limit_minutes"`
	Metadata         datatypes.JSONMap `json:"metadata,omitempty"`
	Questions        []Question        `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"questions"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Question is one entry of a question set. Key is the identifier answers refer to and is
// unique within its set; Position fixes the paper order.
type Question struct {
	ID            uint    `gorm:"primaryKey" json:"-"`
	QuestionSetID string  `gorm:"size:64;not null;uniqueIndex:idx_question_set_key" json:"question_set_id"`
	Key           string  `gorm:"size:64;not null;uniqueIndex:idx_question_set_key" json:"id"`
	Position      int     `gorm:"not null" json:"position"`
	Prompt        string  `gorm:"type:text;not null" json:"prompt"`
	Kind          string  `gorm:"size:32" json:"kind"`
	Topic         string  `gorm:"size:128" json:"topic"`
	MaxMarks      float64 `gorm:"not null" json:"max_marks"`
	WordLimit     int     `json:"word_limit"`
	ModelAnswer   string  `gorm:"type:text" json:"model_answer"`
}

// SessionOutcome stores the marking of one question in one attempt.
type SessionOutcome struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	SessionID     string    `gorm:"size:64;not null;index:idx_outcome_session" json:"session_id"`
	Attempt       int       `gorm:"not null;index:idx_outcome_session" json:"attempt"`
	UserID        uint      `gorm:"index" json:"user_id"`
	QuestionSetID string    `gorm:"size:64;not null" json:"question_set_id"`
	QuestionKey   string    `gorm:"size:64;not null" json:"question_id"`
	Position      int       `gorm:"not null" json:"position"`
	Answer        string    `gorm:"type:text" json:"answer"`
	Score         float64   `gorm:"not null" json:"score"`
	MaxMarks      float64   `gorm:"not null" json:"max_marks"`
	Feedback      string    `gorm:"type:text" json:"feedback"`
	Status        string    `gorm:"size:16;not null" json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// SessionResult stores the aggregate of a completed attempt.
type SessionResult struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	SessionID     string         `gorm:"size:64;not null;uniqueIndex:idx_result_attempt" json:"session_id"`
	Attempt       int            `gorm:"not null;uniqueIndex:idx_result_attempt" json:"attempt"`
	UserID        uint           `gorm:"index" json:"user_id"`
	QuestionSetID string         `gorm:"size:64;not null;index" json:"question_set_id"`
	TotalScore    float64        `gorm:"not null" json:"total_score"`
	MaxScore      float64        `gorm:"not null" json:"max_score"`
	Percentage    int            `gorm:"not null" json:"percentage"`
	Outcomes      datatypes.JSON `json:"outcomes"`
	CreatedAt     time.Time      `json:"created_at"`
}

// AssessmentModels lists the tables owned by the assessment service.
func AssessmentModels() []interface{} {
	return []interface{}{&QuestionSet{}, &Question{}, &SessionOutcome{}, &SessionResult{}}
}
