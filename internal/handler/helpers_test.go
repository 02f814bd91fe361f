package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-assessment-api/internal/assessment"
	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/handler"
	"github.com/noah-isme/gema-assessment-api/internal/service"
)

const testUserHeader = "X-Test-User"

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
	Details json.RawMessage `json:"details"`
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(data, target))
}

// withTestUser binds the user id sent in X-Test-User the way the JWT middleware would.
func withTestUser(c *fiber.Ctx) error {
	if raw := c.Get(testUserHeader); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err == nil {
			c.Locals("user_id", uint(id))
		}
	}
	return c.Next()
}

type stubQuestionSets struct {
	sets map[string]*assessment.QuestionSet
}

func (s *stubQuestionSets) List(context.Context, dto.QuestionSetQuery) ([]dto.QuestionSetSummaryResponse, error) {
	out := make([]dto.QuestionSetSummaryResponse, 0, len(s.sets))
	for _, set := range s.sets {
		out = append(out, dto.QuestionSetSummaryResponse{
			ID:               set.ID,
			Title:            set.Title,
			TimeLimitMinutes: set.TimeLimitMinutes,
			QuestionCount:    int64(set.Len()),
			TotalMarks:       set.MaxScore(),
		})
	}
	return out, nil
}

func (s *stubQuestionSets) Get(_ context.Context, id string) (dto.QuestionSetResponse, error) {
	set, ok := s.sets[id]
	if !ok {
		return dto.QuestionSetResponse{}, service.ErrQuestionSetNotFound
	}
	return *dto.NewQuestionSetResponse(set, "Biology"), nil
}

func (s *stubQuestionSets) Load(_ context.Context, id string) (*assessment.QuestionSet, string, error) {
	set, ok := s.sets[id]
	if !ok {
		return nil, "", service.ErrQuestionSetNotFound
	}
	cp := *set
	cp.Questions = append([]assessment.Question(nil), set.Questions...)
	return &cp, "Biology", nil
}

func sampleSets() *stubQuestionSets {
	return &stubQuestionSets{sets: map[string]*assessment.QuestionSet{
		"bio-101": {
			ID:               "bio-101",
			Title:            "Cell transport",
			TimeLimitMinutes: 20,
			Questions: []assessment.Question{
				{ID: "q1", Prompt: "Define osmosis.", MaxMarks: 10, ModelAnswer: "Movement of water across a membrane."},
				{ID: "q2", Prompt: "Name an enzyme that digests starch.", MaxMarks: 5, ModelAnswer: "Amylase"},
			},
		},
		"empty": {ID: "empty", Title: "Nothing yet", TimeLimitMinutes: 5},
	}}
}

func fullMarks() assessment.Evaluator {
	return assessment.EvaluatorFunc(func(_ context.Context, q assessment.Question, _ string) (assessment.Evaluation, error) {
		return assessment.Evaluation{Score: q.MaxMarks, Feedback: "Complete answer."}, nil
	})
}

type sessionApp struct {
	app     *fiber.App
	service service.SessionService
}

func newSessionApp(t *testing.T, evaluator assessment.Evaluator) *sessionApp {
	t.Helper()

	logger := zerolog.New(io.Discard)
	svc := service.NewSessionService(sampleSets(), evaluator, nil, nil, validator.New(), service.SessionConfig{}, logger)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	app := fiber.New()
	sessions := app.Group("/api/v2/assessment/sessions", withTestUser)
	handler.NewSessionStreamHandler(svc, logger).Register(sessions)
	handler.NewSessionHandler(svc, logger).Register(sessions)
	return &sessionApp{app: app, service: svc}
}

func (s *sessionApp) do(t *testing.T, method, path string, user uint, body interface{}) (*http.Response, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, "/api/v2/assessment/sessions"+path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != 0 {
		req.Header.Set(testUserHeader, strconv.FormatUint(uint64(user), 10))
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)

	var out envelope
	decodeResponse(t, resp, &out)
	return resp, out
}

func decodeData(t *testing.T, env envelope, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, target))
}
