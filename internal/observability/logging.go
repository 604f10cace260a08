// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"

	"chatguard/internal/models"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// SetGlobalLogger replaces the logger used by repository and moderation logs.
func SetGlobalLogger(l *slog.Logger) {
	if l != nil {
		GlobalLogger = &Logger{Logger: l}
	}
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// Context keys for logging
const (
	CorrelationID LogContextKey = "correlation_id"
)

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableRepoLogging     bool
	EnableDecisionLogging bool
}

var (
	// Config holds the current logging configuration.
	Config = LoggingConfig{
		EnableRepoLogging:     true,
		EnableDecisionLogging: true,
	}
)

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

// RepoLogger provides structured logging for repository operations.
type RepoLogger struct {
	tableName string
	logger    *Logger
}

// NewRepoLogger creates a new RepoLogger for the given table.
func NewRepoLogger(tableName string) *RepoLogger {
	return &RepoLogger{
		tableName: tableName,
		logger:    GlobalLogger,
	}
}

// LogCreate logs a repository create operation.
func (l *RepoLogger) LogCreate(ctx context.Context, fields map[string]interface{}) {
	l.logOperation(ctx, "create", fields)
}

// LogRead logs a repository read operation.
func (l *RepoLogger) LogRead(ctx context.Context, fields map[string]interface{}) {
	l.logOperation(ctx, "read", fields)
}

func (l *RepoLogger) logOperation(ctx context.Context, operation string, fields map[string]interface{}) {
	if !Config.EnableRepoLogging {
		return
	}
	attrs := []any{
		slog.String("table", l.tableName),
		slog.String("operation", operation),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.DebugContext(ctx, "repository "+operation, attrs...)
}

// LogError logs a repository error.
func (l *RepoLogger) LogError(ctx context.Context, err error, operation string) {
	if !Config.EnableRepoLogging {
		return
	}
	l.logger.ErrorContext(ctx, "repository error",
		slog.String("table", l.tableName),
		slog.String("operation", operation),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
		slog.String("error", err.Error()),
	)
}

// ModerationLogger records engine decisions, detector fallbacks, and
// startup replay. A nil *ModerationLogger logs through GlobalLogger.
type ModerationLogger struct {
	logger *Logger
}

// NewModerationLogger creates a ModerationLogger on GlobalLogger.
func NewModerationLogger() *ModerationLogger {
	return &ModerationLogger{logger: GlobalLogger}
}

func (l *ModerationLogger) log() *Logger {
	if l == nil || l.logger == nil {
		return GlobalLogger
	}
	return l.logger
}

// LogDecision logs one recorded violation and the action it produced, if any.
func (l *ModerationLogger) LogDecision(ctx context.Context, v models.Violation, a *models.Action, violations24h, warnings int) {
	if !Config.EnableDecisionLogging {
		return
	}
	attrs := []any{
		slog.String("user_id", v.UserID),
		slog.String("chat_id", v.ChatID),
		slog.String("violation_kind", v.Kind.String()),
		slog.Int("severity", v.Severity),
		slog.Int("violations_24h", violations24h),
		slog.Int("warnings", warnings),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	if a != nil {
		attrs = append(attrs,
			slog.String("action_kind", a.Kind.String()),
			slog.Int("duration_minutes", a.DurationMinutes),
		)
	}
	l.log().InfoContext(ctx, "moderation decision", attrs...)
}

// LogClassifierFallback logs a classifier failure that fell back to local detectors.
func (l *ModerationLogger) LogClassifierFallback(ctx context.Context, userID, reason string, err error) {
	l.log().WarnContext(ctx, "classifier unavailable, using local detectors",
		slog.String("user_id", userID),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
}

// LogReplay logs the state rebuilt at startup.
func (l *ModerationLogger) LogReplay(ctx context.Context, violations, actions, muted, banned int) {
	l.log().InfoContext(ctx, "enforcement state replayed",
		slog.Int("violations", violations),
		slog.Int("actions", actions),
		slog.Int("muted", muted),
		slog.Int("banned", banned),
	)
}

// LogPersistFailure logs a decision that could not be made durable.
func (l *ModerationLogger) LogPersistFailure(ctx context.Context, userID string, err error) {
	l.log().ErrorContext(ctx, "moderation decision not persisted",
		slog.String("user_id", userID),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogSinkFailure logs a best-effort action delivery that failed.
func (l *ModerationLogger) LogSinkFailure(ctx context.Context, a models.Action, err error) {
	LogAsyncOperationError(ctx, "action_sink", err, map[string]interface{}{
		"user_id":     a.UserID,
		"action_kind": a.Kind.String(),
	})
}

// LogAsyncOperationError logs an error in an asynchronous operation.
func LogAsyncOperationError(ctx context.Context, operation string, err error, fields map[string]interface{}) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("type", "async_error"),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.WarnContext(ctx, "async operation failed", attrs...)
}
