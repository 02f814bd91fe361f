package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "evaluation_duration_seconds",
		Help:      "Duration of AI marking requests",
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "evaluation_failures_total",
		Help:      "Number of AI marking failures",
	}, []string{"model"})
)

// OpenAIConfig defines configuration options for the OpenAI evaluator.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIEvaluator implements Evaluator against the OpenAI chat completion API.
type OpenAIEvaluator struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIEvaluator builds a new evaluator using the provided configuration.
func NewOpenAIEvaluator(cfg OpenAIConfig) (*OpenAIEvaluator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 400
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIEvaluator{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-assessment-api/pkg/ai/openai"),
		logger: cfg.Logger.With().Str("component", "openai_evaluator").Logger(),
	}, nil
}

// Name identifies the model used for marking.
func (e *OpenAIEvaluator) Name() string {
	return "openai:" + e.cfg.Model
}

// Evaluate sends the marking request to OpenAI and parses the JSON verdict.
func (e *OpenAIEvaluator) Evaluate(parent context.Context, input EvaluationInput) (EvaluationResult, error) {
	ctx, span := e.tracer.Start(parent, "openai.evaluate", trace.WithAttributes(
		attribute.String("model", e.cfg.Model),
		attribute.String("question.id", input.QuestionID),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: markerSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(input)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := e.client.CreateChatCompletion(ctx, request)
	aiDuration.WithLabelValues(e.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return EvaluationResult{}, e.fail(span, fmt.Errorf("openai evaluate: %w", err))
	}
	if len(resp.Choices) == 0 {
		return EvaluationResult{}, e.fail(span, fmt.Errorf("no choices returned from openai"))
	}

	result, err := parseEvaluationResponse(strings.TrimSpace(resp.Choices[0].Message.Content))
	if err != nil {
		return EvaluationResult{}, e.fail(span, err)
	}

	result.Raw = map[string]interface{}{"usage": resp.Usage}
	span.SetAttributes(attribute.Float64("score", result.Score))
	return result, nil
}

func (e *OpenAIEvaluator) fail(span trace.Span, err error) error {
	aiFailures.WithLabelValues(e.cfg.Model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.logger.Warn().Err(err).Msg("openai marking failed")
	return err
}

func markerSystemPrompt() string {
	return "You are an exam marker. Compare the candidate answer with the question and the marking guide. " +
		"Respond with a JSON object containing score (0-1 share of the available marks), verdict, " +
		"feedback (two sentences at most, addressed to the candidate) and an optional details object."
}

func buildUserPrompt(input EvaluationInput) string {
	builder := strings.Builder{}
	if input.Subject != "" {
		builder.WriteString("# Subject\n")
		builder.WriteString(input.Subject)
		builder.WriteString("\n\n")
	}
	builder.WriteString("## Question\n")
	builder.WriteString(input.Prompt)
	builder.WriteString("\n\n## Marks available\n")
	builder.WriteString(strconv.FormatFloat(input.MaxMarks, 'f', -1, 64))
	if input.Kind != "" {
		builder.WriteString("\n\n## Question type\n")
		builder.WriteString(input.Kind)
	}
	if input.WordLimit > 0 {
		builder.WriteString("\n\n## Word limit\n")
		builder.WriteString(strconv.Itoa(input.WordLimit))
	}
	if input.ModelAnswer != "" {
		builder.WriteString("\n\n## Marking guide\n")
		builder.WriteString(input.ModelAnswer)
	}
	builder.WriteString("\n\n## Candidate answer\n")
	builder.WriteString(input.Answer)
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

func parseEvaluationResponse(content string) (EvaluationResult, error) {
	type payload struct {
		Score    *float64               `json:"score"`
		Feedback string                 `json:"feedback"`
		Verdict  string                 `json:"verdict"`
		Details  map[string]interface{} `json:"details"`
	}

	var data payload
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return EvaluationResult{}, fmt.Errorf("parse evaluation json: %w", err)
	}
	if data.Score == nil {
		return EvaluationResult{}, fmt.Errorf("evaluation json missing score")
	}

	return EvaluationResult{
		Score:    clampUnit(*data.Score),
		Feedback: data.Feedback,
		Verdict:  data.Verdict,
		Details:  data.Details,
	}, nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
