package ai

import "context"

// EvaluationInput carries one question and the candidate's answer to be marked.
type EvaluationInput struct {
	QuestionID  string
	Subject     string
	Topic       string
	Kind        string
	Prompt      string
	ModelAnswer string
	MaxMarks    float64
	WordLimit   int
	Answer      string
}

// EvaluationResult is the structured verdict returned by a grader. Score is normalised to [0, 1].
type EvaluationResult struct {
	Score    float64                `json:"score"`
	Feedback string                 `json:"feedback"`
	Verdict  string                 `json:"verdict"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Raw      map[string]interface{} `json:"raw,omitempty"`
}

// Evaluator describes a model capable of marking a written answer.
type Evaluator interface {
	Evaluate(ctx context.Context, input EvaluationInput) (EvaluationResult, error)
	Name() string
}
