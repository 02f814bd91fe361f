package assessment

import "strings"

// Question is read-only for the duration of a session.
type Question struct {
	ID          string  `json:"id"`
	Prompt      string  `json:"prompt"`
	Kind        string  `json:"kind"`
	MaxMarks    float64 `json:"max_marks"`
	WordLimit   int     `json:"word_limit,omitempty"`
	ModelAnswer string  `json:"model_answer,omitempty"`
	Topic       string  `json:"topic,omitempty"`
	Subject     string  `json:"subject,omitempty"`
}

// QuestionSet is the ordered selection a session is run against.
type QuestionSet struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	TimeLimitMinutes int        `json:"time_limit_minutes"`
	Questions        []Question `json:"questions"`
}

// Len returns the number of questions in the set.
func (qs *QuestionSet) Len() int {
	if qs == nil {
		return 0
	}
	return len(qs.Questions)
}

// TimeLimitSeconds converts the configured limit to clock seconds.
func (qs *QuestionSet) TimeLimitSeconds() int {
	if qs == nil || qs.TimeLimitMinutes <= 0 {
		return 0
	}
	return qs.TimeLimitMinutes * 60
}

// MaxScore sums the maximum marks of every question.
func (qs *QuestionSet) MaxScore() float64 {
	total := 0.0
	if qs == nil {
		return total
	}
	for _, q := range qs.Questions {
		total += q.MaxMarks
	}
	return total
}

// Validate checks the structural guarantees the machine relies on.
func (qs *QuestionSet) Validate() error {
	if qs.Len() == 0 {
		return ErrEmptyQuestionSet
	}
	seen := make(map[string]struct{}, len(qs.Questions))
	for i, q := range qs.Questions {
		id := strings.TrimSpace(q.ID)
		if id == "" {
			return &CorruptQuestionSetError{Index: i, Reason: "missing question id"}
		}
		if _, dup := seen[id]; dup {
			return &CorruptQuestionSetError{Index: i, Reason: "duplicate question id " + id}
		}
		if q.MaxMarks <= 0 {
			return &CorruptQuestionSetError{Index: i, Reason: "max marks must be positive"}
		}
		seen[id] = struct{}{}
	}
	return nil
}

// ids returns the question identifiers in set order.
func (qs *QuestionSet) ids() []string {
	out := make([]string, 0, qs.Len())
	if qs == nil {
		return out
	}
	for _, q := range qs.Questions {
		out = append(out, q.ID)
	}
	return out
}

func (qs *QuestionSet) clone() *QuestionSet {
	if qs == nil {
		return nil
	}
	cp := *qs
	cp.Questions = append([]Question(nil), qs.Questions...)
	return &cp
}
