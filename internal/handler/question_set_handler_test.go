package handler_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/handler"
)

func TestQuestionSetHandler_ListAndGet(t *testing.T) {
	app := fiber.New()
	handler.NewQuestionSetHandler(sampleSets(), zerolog.New(io.Discard)).Register(app.Group("/api/v2/assessment/question-sets"))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/assessment/question-sets?subject=biology", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var listed struct {
		Success bool                             `json:"success"`
		Data    []dto.QuestionSetSummaryResponse `json:"data"`
		Meta    struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	decodeResponse(t, resp, &listed)
	require.True(t, listed.Success)
	require.Len(t, listed.Data, 2)
	require.Equal(t, 2, listed.Meta.Count)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/assessment/question-sets/bio-101", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var fetched struct {
		Data dto.QuestionSetResponse `json:"data"`
	}
	decodeResponse(t, resp, &fetched)
	require.Equal(t, "Cell transport", fetched.Data.Title)
	require.Len(t, fetched.Data.Questions, 2)
	require.Equal(t, float64(15), fetched.Data.TotalMarks)
}

func TestQuestionSetHandler_NotFound(t *testing.T) {
	app := fiber.New()
	handler.NewQuestionSetHandler(sampleSets(), zerolog.New(io.Discard)).Register(app.Group("/api/v2/assessment/question-sets"))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/assessment/question-sets/chemistry", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	var env envelope
	decodeResponse(t, resp, &env)
	require.Equal(t, "question set not found", env.Message)
}
