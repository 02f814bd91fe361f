package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/assessment"
	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/service"
	"github.com/noah-isme/gema-assessment-api/internal/utils"
)

// SessionHandler exposes the timed assessment session endpoints.
type SessionHandler struct {
	service service.SessionService
	logger  zerolog.Logger
}

// NewSessionHandler builds a session handler.
func NewSessionHandler(service service.SessionService, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		service: service,
		logger:  logger.With().Str("component", "session_handler").Logger(),
	}
}

// Register wires the routes below /api/v2/assessment/sessions. submitGuards run in front of
// the submit route only.
func (h *SessionHandler) Register(router fiber.Router, submitGuards ...fiber.Handler) {
	router.Post("", h.create)
	router.Get("/:id", h.get)
	router.Delete("/:id", h.discard)
	router.Post("/:id/select", h.selectSet)
	router.Post("/:id/start", h.start)
	router.Post("/:id/answers", h.answer)
	router.Post("/:id/flags", h.flag)
	router.Post("/:id/navigate", h.navigate)
	router.Post("/:id/retake", h.retake)
	router.Post("/:id/back", h.back)
	router.Get("/:id/result", h.result)

	submit := append(append([]fiber.Handler{}, submitGuards...), h.submit)
	router.Post("/:id/submit", submit...)
}

func (h *SessionHandler) create(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
	}

	var req dto.CreateSessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
		}
	}

	session, err := h.service.Create(c.UserContext(), userID, req)
	if err != nil {
		return h.handleError(c, err)
	}

	requestLogger(h.logger, c).Info().Str("session_id", session.ID).Uint("user_id", userID).Msg("session opened")
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "session created", session)
}

func (h *SessionHandler) get(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
	}

	session, err := h.service.Get(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "session retrieved", session)
}

func (h *SessionHandler) discard(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
	}

	if err := h.service.Discard(c.UserContext(), userID, c.Params("id")); err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "session discarded", nil)
}

func (h *SessionHandler) selectSet(c *fiber.Ctx) error {
	var req dto.SelectQuestionSetRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	return h.mutate(c, "question set selected", func(userID uint, id string) (dto.SessionResponse, error) {
		return h.service.Select(c.UserContext(), userID, id, req)
	})
}

func (h *SessionHandler) start(c *fiber.Ctx) error {
	return h.mutate(c, "session started", func(userID uint, id string) (dto.SessionResponse, error) {
		return h.service.Start(c.UserContext(), userID, id)
	})
}

func (h *SessionHandler) answer(c *fiber.Ctx) error {
	var req dto.AnswerRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	return h.mutate(c, "answer saved", func(userID uint, id string) (dto.SessionResponse, error) {
		return h.service.Answer(c.UserContext(), userID, id, req)
	})
}

func (h *SessionHandler) flag(c *fiber.Ctx) error {
	var req dto.FlagRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	return h.mutate(c, "flag toggled", func(userID uint, id string) (dto.SessionResponse, error) {
		return h.service.ToggleFlag(c.UserContext(), userID, id, req)
	})
}

func (h *SessionHandler) navigate(c *fiber.Ctx) error {
	var req dto.NavigateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	return h.mutate(c, "question changed", func(userID uint, id string) (dto.SessionResponse, error) {
		return h.service.Navigate(c.UserContext(), userID, id, req)
	})
}

func (h *SessionHandler) submit(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
	}

	session, err := h.service.Submit(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		var submitErr *assessment.SubmissionError
		if errors.As(err, &submitErr) {
			requestLogger(h.logger, c).Warn().Err(err).Str("session_id", session.ID).Msg("submission rolled back")
			return utils.Fail(c, fiber.StatusServiceUnavailable, session.Notice, session)
		}
		return h.handleError(c, err)
	}

	if session.Phase == string(assessment.PhaseResults) {
		return utils.SendSuccess(c, "session evaluated", session)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "submission already in progress", session)
}

func (h *SessionHandler) retake(c *fiber.Ctx) error {
	return h.mutate(c, "session reset for retake", func(userID uint, id string) (dto.SessionResponse, error) {
		return h.service.Retake(c.UserContext(), userID, id)
	})
}

func (h *SessionHandler) back(c *fiber.Ctx) error {
	return h.mutate(c, "returned to selection", func(userID uint, id string) (dto.SessionResponse, error) {
		return h.service.BackToSelection(c.UserContext(), userID, id)
	})
}

func (h *SessionHandler) result(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
	}

	result, err := h.service.Result(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "result retrieved", result)
}

func (h *SessionHandler) mutate(c *fiber.Ctx, message string, fn func(userID uint, id string) (dto.SessionResponse, error)) error {
	userID, err := currentUser(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
	}

	session, err := fn(userID, c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, message, session)
}

func (h *SessionHandler) handleError(c *fiber.Ctx, err error) error {
	return sessionError(c, h.logger, err)
}

func sessionError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	var corrupt *assessment.CorruptQuestionSetError
	switch {
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, assessment.ErrSessionClosed):
		return utils.SendError(c, fiber.StatusNotFound, "session not found")
	case errors.Is(err, service.ErrQuestionSetNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "question set not found")
	case errors.Is(err, service.ErrSessionForbidden):
		return utils.SendError(c, fiber.StatusForbidden, "session belongs to another user")
	case errors.Is(err, service.ErrResultNotReady):
		return utils.SendError(c, fiber.StatusConflict, "result not available yet")
	case errors.Is(err, assessment.ErrInvalidTransition):
		return utils.SendError(c, fiber.StatusConflict, "action not allowed in the current phase")
	case errors.Is(err, assessment.ErrInvalidQuestionID):
		return utils.SendError(c, fiber.StatusBadRequest, "question is not part of this session")
	case errors.Is(err, assessment.ErrIndexOutOfRange):
		return utils.SendError(c, fiber.StatusBadRequest, "question index out of range")
	case errors.Is(err, assessment.ErrEmptyQuestionSet):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, "question set has no questions")
	case errors.As(err, &corrupt):
		return utils.Fail(c, fiber.StatusUnprocessableEntity, "question set is invalid", fiber.Map{"index": corrupt.Index, "reason": corrupt.Reason})
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
