package server

import (
	"net/url"

	"chatguard/internal/middleware"
	"chatguard/internal/models"
	"chatguard/internal/moderation"

	"github.com/gofiber/fiber/v2"
)

// CheckMessage runs one chat message through the moderation gate.
func (s *Server) CheckMessage(c *fiber.Ctx) error {
	var req moderation.CheckRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("invalid request body"))
	}

	ctx := middleware.WithUserID(c.UserContext(), req.UserID)
	c.SetUserContext(ctx)

	verdict, err := s.engine.Check(ctx, req)
	if err != nil {
		return models.RespondWithError(c, models.StatusFor(err), err)
	}
	return c.JSON(verdict)
}

// GetUserStatus returns the mute/ban snapshot for one user. Unknown users
// get an all-zero status.
func (s *Server) GetUserStatus(c *fiber.Ctx) error {
	userID, err := url.PathUnescape(c.Params("userId"))
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("invalid user id"))
	}

	status, err := s.engine.Status(c.UserContext(), userID)
	if err != nil {
		return models.RespondWithError(c, models.StatusFor(err), err)
	}
	return c.JSON(status)
}

// GetStats returns engine-wide moderation counters.
func (s *Server) GetStats(c *fiber.Ctx) error {
	return c.JSON(s.engine.Stats())
}
