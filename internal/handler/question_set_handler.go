package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/service"
	"github.com/noah-isme/gema-assessment-api/internal/utils"
)

// QuestionSetHandler serves the selection screen.
type QuestionSetHandler struct {
	service service.QuestionSetService
	logger  zerolog.Logger
}

// NewQuestionSetHandler builds a question set handler.
func NewQuestionSetHandler(service service.QuestionSetService, logger zerolog.Logger) *QuestionSetHandler {
	return &QuestionSetHandler{
		service: service,
		logger:  logger.With().Str("component", "question_set_handler").Logger(),
	}
}

// Register wires the routes below /api/v2/assessment/question-sets.
func (h *QuestionSetHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Get("/:id", h.get)
}

func (h *QuestionSetHandler) list(c *fiber.Ctx) error {
	var query dto.QuestionSetQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query")
	}

	sets, err := h.service.List(c.UserContext(), query)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.OK(c, sets, "question sets retrieved", fiber.Map{"count": len(sets)})
}

func (h *QuestionSetHandler) get(c *fiber.Ctx) error {
	set, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "question set retrieved", set)
}

func (h *QuestionSetHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrQuestionSetNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "question set not found")
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
