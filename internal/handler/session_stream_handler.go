package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/middleware"
	"github.com/noah-isme/gema-assessment-api/internal/service"
)

const (
	streamPingInterval = 30 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// SessionStreamHandler pushes live session snapshots over a websocket.
type SessionStreamHandler struct {
	service service.SessionService
	logger  zerolog.Logger
}

// NewSessionStreamHandler builds a stream handler.
func NewSessionStreamHandler(service service.SessionService, logger zerolog.Logger) *SessionStreamHandler {
	return &SessionStreamHandler{
		service: service,
		logger:  logger.With().Str("component", "session_stream_handler").Logger(),
	}
}

// Register binds the websocket upgrade below the sessions group.
func (h *SessionStreamHandler) Register(router fiber.Router) {
	router.Use("/:id/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		userID, err := currentUser(c)
		if err != nil {
			return fiber.ErrUnauthorized
		}
		if _, err := h.service.Get(c.UserContext(), userID, c.Params("id")); err != nil {
			return sessionError(c, h.logger, err)
		}
		c.Locals("request_ctx", middleware.ContextWithCorrelation(context.Background(), middleware.GetCorrelationID(c)))
		return c.Next()
	})

	router.Get("/:id/ws", websocket.New(h.handleConnection))
}

func (h *SessionStreamHandler) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	sessionID := conn.Params("id")
	userID, _ := conn.Locals("user_id").(uint)
	ctx, _ := conn.Locals("request_ctx").(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}
	logger := h.logger.With().Str("session_id", sessionID).Str("correlation_id", middleware.CorrelationIDFromContext(ctx)).Logger()

	initial, stream, cancel, err := h.service.Subscribe(ctx, userID, sessionID)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		return
	}
	defer cancel()

	logger.Info().Msg("session stream connected")
	defer logger.Info().Msg("session stream disconnected")

	if err := h.write(conn, initial); err != nil {
		return
	}

	// Inbound frames are ignored; reading detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case snap, ok := <-stream:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := h.write(conn, snap); err != nil {
				logger.Debug().Err(err).Msg("session stream write failed")
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (h *SessionStreamHandler) write(conn *websocket.Conn, payload interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(payload)
}
