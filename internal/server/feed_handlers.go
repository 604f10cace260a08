package server

import (
	"log/slog"

	"chatguard/internal/middleware"
	"chatguard/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RequireWebSocketUpgrade rejects plain HTTP requests on websocket routes.
func RequireWebSocketUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if userID := c.Query("user_id"); userID != "" {
		if err := validation.ValidateUserID(userID); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}
	return c.Next()
}

// ActionFeedHandler streams applied moderation actions as JSON events. The
// optional user_id query parameter limits the stream to one user.
func (s *Server) ActionFeedHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID := conn.Query("user_id")

		client, err := s.feed.Register(conn, userID)
		if err != nil {
			middleware.Logger.Warn("action feed registration refused",
				slog.String("user_id", userID), slog.String("error", err.Error()))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			client.WritePump()
		}()
		client.ReadPump()
		<-done
	})
}
