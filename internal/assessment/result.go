package assessment

import "math"

// Feedback strings used for outcomes the evaluator did not score.
const (
	FeedbackNoAnswer         = "No answer provided."
	FeedbackEvaluationFailed = "Evaluation failed. Please retry."
)

// OutcomeStatus records how an outcome was produced.
type OutcomeStatus string

const (
	OutcomeScored     OutcomeStatus = "scored"
	OutcomeUnanswered OutcomeStatus = "unanswered"
	OutcomeFailed     OutcomeStatus = "failed"
)

// Outcome is the scored result of one question.
type Outcome struct {
	QuestionID string        `json:"question_id"`
	Score      float64       `json:"score"`
	MaxMarks   float64       `json:"max_marks"`
	Feedback   string        `json:"feedback"`
	Status     OutcomeStatus `json:"status"`
}

// ResultAggregate is the immutable summary of a submitted session.
type ResultAggregate struct {
	totalScore float64
	maxScore   float64
	percentage int
	outcomes   []Outcome
}

// NewResultAggregate sums outcomes in the order given.
func NewResultAggregate(outcomes []Outcome) *ResultAggregate {
	r := &ResultAggregate{outcomes: append([]Outcome(nil), outcomes...)}
	for _, o := range outcomes {
		r.totalScore += o.Score
		r.maxScore += o.MaxMarks
	}
	if r.maxScore > 0 {
		r.percentage = int(math.Round(100 * r.totalScore / r.maxScore))
	}
	return r
}

func (r *ResultAggregate) TotalScore() float64 { return r.totalScore }

func (r *ResultAggregate) MaxScore() float64 { return r.maxScore }

func (r *ResultAggregate) Percentage() int { return r.percentage }

// Outcomes returns a copy of the per-question outcomes in question order.
func (r *ResultAggregate) Outcomes() []Outcome {
	return append([]Outcome(nil), r.outcomes...)
}

// ResultView is the serializable form of a ResultAggregate.
type ResultView struct {
	TotalScore float64   `json:"total_score"`
	MaxScore   float64   `json:"max_score"`
	Percentage int       `json:"percentage"`
	Outcomes   []Outcome `json:"outcomes"`
}

// View projects the aggregate for observers and transport.
func (r *ResultAggregate) View() ResultView {
	return ResultView{
		TotalScore: r.totalScore,
		MaxScore:   r.maxScore,
		Percentage: r.percentage,
		Outcomes:   r.Outcomes(),
	}
}
