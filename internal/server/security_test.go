package server

import (
	"net/http/httptest"
	"testing"

	"chatguard/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/stretchr/testify/assert"
)

func TestSecurityMiddleware(t *testing.T) {
	app := fiber.New()

	// Apply just the middleware we want to test
	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	app.Get("/test", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	t.Run("Security Headers", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		resp, _ := app.Test(req)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-Content-Type-Options"))
		assert.NotEmpty(t, resp.Header.Get("X-Frame-Options"))
	})

	t.Run("Structured Logging", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		resp, _ := app.Test(req)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})
}

func TestServerApp_SecurityHeaders(t *testing.T) {
	_, app := newTestServer(t, testDeps{})

	resp := get(t, app, "/api/moderation/stats")
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestServerApp_UnknownRoute(t *testing.T) {
	_, app := newTestServer(t, testDeps{})

	resp := get(t, app, "/api/nope")
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
