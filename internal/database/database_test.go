package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"chatguard/internal/config"
	"chatguard/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestConfigurePool(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	cfg := &config.Config{
		DBDriver:                 config.DriverSQLite,
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           5,
		DBConnMaxLifetimeMinutes: 15,
	}
	require.NoError(t, configurePool(db, cfg))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestSchemaPolicy(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		runSQL  bool
		runAuto bool
		wantErr bool
	}{
		{"postgres hybrid dev", config.Config{DBDriver: config.DriverPostgres, DBSchemaMode: "hybrid", Env: "development"}, true, true, false},
		{"postgres hybrid prod", config.Config{DBDriver: config.DriverPostgres, DBSchemaMode: "hybrid", Env: "production"}, true, false, false},
		{"postgres sql", config.Config{DBDriver: config.DriverPostgres, DBSchemaMode: "sql"}, true, false, false},
		{"postgres auto in prod refused", config.Config{DBDriver: config.DriverPostgres, DBSchemaMode: "auto", Env: "prod"}, false, false, true},
		{"sqlite always auto", config.Config{DBDriver: config.DriverSQLite, DBSchemaMode: "sql", Env: "production"}, false, true, false},
		{"file store has no schema", config.Config{DBDriver: config.DriverFile}, false, false, true},
		{"unknown mode", config.Config{DBDriver: config.DriverPostgres, DBSchemaMode: "yolo"}, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			runSQL, runAuto, err := schemaPolicy(&cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.runSQL, runSQL)
			assert.Equal(t, tt.runAuto, runAuto)
		})
	}
}

func TestApplySchema_SQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	cfg := &config.Config{DBDriver: config.DriverSQLite, DBSchemaMode: "hybrid", Env: "test"}
	require.NoError(t, ApplySchema(context.Background(), db, cfg))

	assert.True(t, db.Migrator().HasTable(&models.Violation{}))
	assert.True(t, db.Migrator().HasTable(&models.Action{}))
	assert.True(t, db.Migrator().HasIndex(&models.Violation{}, "idx_violations_user_created"))
}

func TestEmbeddedMigrations(t *testing.T) {
	ms := GetMigrations()
	require.GreaterOrEqual(t, len(ms), 2)
	assert.Equal(t, 1, ms[0].Version)
	assert.Equal(t, "000001_moderation_log", ms[0].String())
	assert.Contains(t, ms[0].UpScript, "moderation_actions")
	assert.NotEmpty(t, ms[0].DownScript)

	assert.NoError(t, validateAppliedVersions([]int{1, 2}, ms))
	assert.Error(t, validateAppliedVersions([]int{1, 99}, ms))
}

func TestIsMissingTableError(t *testing.T) {
	assert.True(t, isMissingTableError(fmt.Errorf("query: %w", &pgconn.PgError{Code: "42P01"})))
	assert.False(t, isMissingTableError(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isMissingTableError(errors.New("no such table: migration_logs")))
	assert.False(t, isMissingTableError(errors.New("connection refused")))
}

func TestGetAppliedMigrations_EmptyDatabase(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	applied, err := NewMigrationStore(db).GetAppliedMigrations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)
}
