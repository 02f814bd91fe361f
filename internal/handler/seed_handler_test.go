package handler_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-assessment-api/internal/handler"
	"github.com/noah-isme/gema-assessment-api/internal/service"
)

type mockSeedService struct {
	err         error
	lastToken   string
	lastPayload []byte
	affected    int64
}

func (m *mockSeedService) SeedQuestionSets(_ context.Context, token string, payload []byte) (int64, error) {
	m.lastToken = token
	m.lastPayload = append([]byte(nil), payload...)
	if m.err != nil {
		return 0, m.err
	}
	return m.affected, nil
}

const seedBody = `{"question_sets":[{"id":"bio-101","title":"Cell transport","time_limit_minutes":20,"questions":[{"id":"q1","prompt":"Define osmosis.","max_marks":10}]}]}`

func TestSeedHandler_QuestionSetsSuccess(t *testing.T) {
	svc := &mockSeedService{affected: 1}
	app := fiber.New()
	handler.NewSeedHandler(svc, zerolog.New(io.Discard)).Register(app.Group("/api/v2/seed"))

	req := httptest.NewRequest(http.MethodPost, "/api/v2/seed/question-sets", bytes.NewReader([]byte(seedBody)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Seed-Token", "secret")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var response struct {
		Success bool `json:"success"`
		Data    struct {
			Affected int64 `json:"affected"`
		} `json:"data"`
	}
	decodeResponse(t, resp, &response)

	require.True(t, response.Success)
	require.Equal(t, int64(1), response.Data.Affected)
	require.Equal(t, "secret", svc.lastToken)
	require.JSONEq(t, seedBody, string(svc.lastPayload))
}

func TestSeedHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		statusCode int
		message    string
	}{
		{name: "disabled", err: service.ErrSeedDisabled, statusCode: fiber.StatusForbidden, message: "seeding disabled"},
		{name: "unauthorized", err: service.ErrSeedUnauthorized, statusCode: fiber.StatusForbidden, message: "invalid token"},
		{name: "invalid", err: fmt.Errorf("%w: missing properties", service.ErrSeedInvalid), statusCode: fiber.StatusBadRequest, message: "invalid seed payload: missing properties"},
		{name: "generic", err: errors.New("boom"), statusCode: fiber.StatusInternalServerError, message: "seed operation failed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockSeedService{err: tc.err}
			app := fiber.New()
			handler.NewSeedHandler(svc, zerolog.New(io.Discard)).Register(app.Group("/api/v2/seed"))

			req := httptest.NewRequest(http.MethodPost, "/api/v2/seed/question-sets", bytes.NewReader([]byte(seedBody)))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Seed-Token", "secret")

			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, tc.statusCode, resp.StatusCode)

			var response envelope
			decodeResponse(t, resp, &response)
			require.False(t, response.Success)
			require.Equal(t, tc.message, response.Message)
		})
	}
}

func TestSeedHandler_EmptyBody(t *testing.T) {
	svc := &mockSeedService{}
	app := fiber.New()
	handler.NewSeedHandler(svc, zerolog.New(io.Discard)).Register(app.Group("/api/v2/seed"))

	req := httptest.NewRequest(http.MethodPost, "/api/v2/seed/question-sets", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Nil(t, svc.lastPayload)
}
