package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeywordEvaluatorScoresOverlap(t *testing.T) {
	evaluator := NewKeywordEvaluator()
	input := EvaluationInput{
		QuestionID:  "q1",
		ModelAnswer: "Osmosis is the diffusion of water across a semi-permeable membrane",
		Answer:      "Water moves across a membrane.",
	}

	result, err := evaluator.Evaluate(context.Background(), input)
	require.NoError(t, err)
	require.InDelta(t, 3.0/7.0, result.Score, 0.001)
	require.Equal(t, "partial", result.Verdict)
	require.Equal(t, []string{"across", "membrane", "water"}, result.Details["matched"])
	require.Contains(t, result.Feedback, "diffusion")
}

func TestKeywordEvaluatorFullAndEmptyMatches(t *testing.T) {
	evaluator := NewKeywordEvaluator()

	full, err := evaluator.Evaluate(context.Background(), EvaluationInput{ModelAnswer: "Amylase", Answer: "amylase!"})
	require.NoError(t, err)
	require.Equal(t, float64(1), full.Score)
	require.Equal(t, "Your answer covers all the key points.", full.Feedback)

	none, err := evaluator.Evaluate(context.Background(), EvaluationInput{ModelAnswer: "Amylase", Answer: "pepsin"})
	require.NoError(t, err)
	require.Equal(t, float64(0), none.Score)
	require.Equal(t, "weak", none.Verdict)
}

func TestKeywordEvaluatorRequiresMarkingGuide(t *testing.T) {
	_, err := NewKeywordEvaluator().Evaluate(context.Background(), EvaluationInput{QuestionID: "q9", Answer: "text"})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewKeywordEvaluator().Evaluate(ctx, EvaluationInput{ModelAnswer: "water", Answer: "water"})
	require.ErrorIs(t, err, context.Canceled)
}
