package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatguard/internal/config"
	"chatguard/internal/database"
	"chatguard/internal/featureflags"
	"chatguard/internal/models"
	"chatguard/internal/moderation"
	"chatguard/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testDeps struct {
	db     *gorm.DB
	redis  *redis.Client
	store  repository.ModerationStore
	flags  *featureflags.Manager
	config *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		Port:           "0",
		Env:            "test",
		AllowedOrigins: "http://localhost:5173",
		CheckRateLimit: 120,
	}
}

func setupModerationTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(database.PersistentModels()...))
	return db
}

// newTestServer builds a server over sqlite unless deps.store is set.
func newTestServer(t *testing.T, deps testDeps) (*Server, *fiber.App) {
	t.Helper()
	if deps.config == nil {
		deps.config = testConfig()
	}
	if deps.store == nil {
		if deps.db == nil {
			deps.db = setupModerationTestDB(t)
		}
		deps.store = repository.NewGormStore(deps.db)
	}

	engine, err := moderation.New(context.Background(), deps.store)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Shutdown(context.Background()) })

	srv, err := NewServerWithDeps(deps.config, deps.db, deps.redis, engine, deps.flags)
	require.NoError(t, err)
	return srv, srv.App()
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func get(t *testing.T, app *fiber.App, path string) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out T
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out
}

type failingStore struct{}

func (failingStore) LoadViolations(context.Context) ([]models.Violation, error) { return nil, nil }
func (failingStore) LoadActions(context.Context) ([]models.Action, error)       { return nil, nil }
func (failingStore) AppendDecision(context.Context, *models.Violation, *models.Action) error {
	return errors.New("disk full")
}
func (failingStore) SaveAll(context.Context, *models.Snapshot) (repository.SaveResult, error) {
	return repository.SaveResult{}, nil
}
func (failingStore) Close() error { return nil }

func TestNewServerWithDeps_RequiresEngine(t *testing.T) {
	_, err := NewServerWithDeps(testConfig(), nil, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewServer(testConfig(), nil)
	assert.Error(t, err)
}

func TestHealthChecks(t *testing.T) {
	t.Run("live", func(t *testing.T) {
		_, app := newTestServer(t, testDeps{})
		resp := get(t, app, "/health/live")
		body := decode[map[string]any](t, resp)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "up", body["status"])
	})

	t.Run("ready without redis is degraded", func(t *testing.T) {
		_, app := newTestServer(t, testDeps{})
		resp := get(t, app, "/health/ready")
		body := decode[map[string]any](t, resp)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "degraded", body["status"])
		checks := body["checks"].(map[string]any)
		assert.Equal(t, "healthy", checks["database"])
		assert.Equal(t, "unavailable", checks["redis"])
		assert.Equal(t, "healthy", checks["engine"])
	})

	t.Run("ready with redis is healthy", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })

		_, app := newTestServer(t, testDeps{redis: rdb})
		resp := get(t, app, "/health/ready")
		body := decode[map[string]any](t, resp)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("file store has no database", func(t *testing.T) {
		store, err := repository.NewFileStore(t.TempDir() + "/moderation.json")
		require.NoError(t, err)
		_, app := newTestServer(t, testDeps{store: store})
		resp := get(t, app, "/health/ready")
		body := decode[map[string]any](t, resp)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "not_configured", body["checks"].(map[string]any)["database"])
	})

	t.Run("not ready after shutdown", func(t *testing.T) {
		srv, app := newTestServer(t, testDeps{})
		require.NoError(t, srv.engine.Shutdown(context.Background()))

		resp := get(t, app, "/health/ready")
		body := decode[map[string]any](t, resp)
		assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "unhealthy", body["status"])
	})
}

func TestServer_Shutdown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	srv, _ := newTestServer(t, testDeps{redis: rdb})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	assert.Error(t, srv.engine.Ping())
	assert.Error(t, rdb.Ping(context.Background()).Err(), "redis client closed")
}
