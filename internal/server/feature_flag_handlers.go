package server

import "github.com/gofiber/fiber/v2"

// GetFeatureFlags returns configured feature flags and their evaluated state
// for the subject given in ?subject= (a chat user ID).
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	subject := c.Query("subject")

	if s.featureFlags == nil {
		return c.JSON(fiber.Map{
			"raw":       map[string]string{},
			"evaluated": map[string]bool{},
		})
	}

	return c.JSON(fiber.Map{
		"subject":   subject,
		"raw":       s.featureFlags.Raw(),
		"evaluated": s.featureFlags.Snapshot(subject),
	})
}
