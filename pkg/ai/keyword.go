package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {}, "for": {},
	"from": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"this": {}, "to": {}, "was": {}, "which": {}, "with": {},
}

// KeywordEvaluator marks an answer by its overlap with the model answer's keywords. It is
// used when no model provider is configured.
type KeywordEvaluator struct{}

// NewKeywordEvaluator returns a deterministic keyword-overlap grader.
func NewKeywordEvaluator() *KeywordEvaluator {
	return &KeywordEvaluator{}
}

// Name identifies the grader.
func (k *KeywordEvaluator) Name() string {
	return "keyword"
}

// Evaluate scores the share of model-answer keywords present in the answer.
func (k *KeywordEvaluator) Evaluate(ctx context.Context, input EvaluationInput) (EvaluationResult, error) {
	if err := ctx.Err(); err != nil {
		return EvaluationResult{}, err
	}

	expected := keywords(input.ModelAnswer)
	if len(expected) == 0 {
		return EvaluationResult{}, fmt.Errorf("question %s has no marking guide", input.QuestionID)
	}

	given := keywords(input.Answer)
	matched := make([]string, 0, len(expected))
	missing := make([]string, 0)
	for _, word := range sortedKeys(expected) {
		if _, ok := given[word]; ok {
			matched = append(matched, word)
		} else {
			missing = append(missing, word)
		}
	}

	score := float64(len(matched)) / float64(len(expected))
	return EvaluationResult{
		Score:    score,
		Verdict:  verdictFor(score),
		Feedback: keywordFeedback(score, missing),
		Details: map[string]interface{}{
			"matched": matched,
			"missing": missing,
		},
	}, nil
}

func keywords(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func verdictFor(score float64) string {
	switch {
	case score >= 0.8:
		return "strong"
	case score >= 0.4:
		return "partial"
	default:
		return "weak"
	}
}

func keywordFeedback(score float64, missing []string) string {
	if len(missing) == 0 {
		return "Your answer covers all the key points."
	}
	if len(missing) > 3 {
		missing = missing[:3]
	}
	if score == 0 {
		return "Your answer does not address the key points. Consider: " + strings.Join(missing, ", ") + "."
	}
	return "Good start. You could also mention: " + strings.Join(missing, ", ") + "."
}
