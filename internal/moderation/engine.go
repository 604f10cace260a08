package moderation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chatguard/internal/models"
	"chatguard/internal/observability"
	"chatguard/internal/repository"
	"chatguard/internal/validation"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultWindow is the trailing period used for tier selection.
const DefaultWindow = 24 * time.Hour

// ActionSink receives every action after it has been made durable. Sinks
// are best effort: errors are logged and never change the verdict.
type ActionSink interface {
	ActionApplied(ctx context.Context, a models.Action) error
}

// CheckRequest is one message submitted for moderation.
type CheckRequest struct {
	Message  string `json:"message"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	ChatID   string `json:"chat_id"`
}

// Engine is the moderation gate. Construct one per process with New and
// share it; it is safe for concurrent use.
type Engine struct {
	store    repository.ModerationStore
	pipeline *Pipeline
	clock    func() time.Time
	window   time.Duration
	sinks    []ActionSink
	logger   *observability.ModerationLogger

	ledger      *Ledger
	enforcement *EnforcementStore
	locks       *userLocks

	// lifecycle guards closed: checks hold it shared, Shutdown exclusively.
	lifecycle    sync.RWMutex
	closed       bool
	totalActions atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithPipeline(p *Pipeline) Option {
	return func(e *Engine) { e.pipeline = p }
}

func WithWindow(window time.Duration) Option {
	return func(e *Engine) {
		if window > 0 {
			e.window = window
		}
	}
}

func WithSinks(sinks ...ActionSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, sinks...) }
}

func WithLogger(l *observability.ModerationLogger) Option {
	return func(e *Engine) { e.logger = l }
}

// New loads the full violation history and action log from store, rejects
// unknown or malformed records, and replays the log into live state.
func New(ctx context.Context, store repository.ModerationStore, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:  store,
		clock:  time.Now,
		window: DefaultWindow,
		locks:  newUserLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = observability.NewModerationLogger()
	}
	if e.pipeline == nil {
		e.pipeline = DefaultPipeline(DefaultDenylist())
	}
	if e.pipeline.logger == nil {
		e.pipeline.logger = e.logger
	}

	violations, err := store.LoadViolations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load violations: %w", err)
	}
	for _, v := range violations {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("load violations: %w", err)
		}
	}
	actions, err := store.LoadActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}
	for _, a := range actions {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("load actions: %w", err)
		}
	}

	now := e.now()
	e.ledger = NewLedger(violations)
	e.enforcement = Replay(actions, now)
	e.totalActions.Store(int64(len(actions)))

	muted, banned, _ := e.enforcement.Counts(now)
	observability.EnforcedUsers.WithLabelValues("muted").Set(float64(muted))
	observability.EnforcedUsers.WithLabelValues("banned").Set(float64(banned))
	e.logger.LogReplay(ctx, len(violations), len(actions), muted, banned)

	return e, nil
}

func (e *Engine) now() time.Time {
	return e.clock().UTC().Truncate(time.Microsecond)
}

// Check runs the moderation gate for one message: banned and muted users are
// blocked without inspection; otherwise detectors run and any violation is
// escalated, persisted, and applied before the verdict is returned.
func (e *Engine) Check(ctx context.Context, req CheckRequest) (models.Verdict, error) {
	if err := validation.ValidateCheck(req.UserID, req.ChatID, req.Message); err != nil {
		return models.Verdict{}, err
	}
	if req.UserName == "" {
		req.UserName = req.UserID
	}

	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	if e.closed {
		return models.Verdict{}, models.NewUnavailableError(fmt.Errorf("engine is shut down"))
	}

	ctx, span := observability.Tracer.Start(ctx, "moderation.check")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("chat_id", req.ChatID),
	)

	start := time.Now()
	verdict, action, err := e.decide(ctx, req)
	observability.DecisionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decision unavailable")
		observability.DecisionFailures.Inc()
		return models.Verdict{}, err
	}
	observability.Verdicts.WithLabelValues(string(verdict.Kind)).Inc()
	span.SetAttributes(attribute.String("verdict", string(verdict.Kind)))

	if action != nil {
		e.notify(ctx, *action)
	}
	return verdict, nil
}

func (e *Engine) decide(ctx context.Context, req CheckRequest) (models.Verdict, *models.Action, error) {
	unlock := e.locks.lock(req.UserID)
	defer unlock()

	now := e.now()
	state := e.enforcement.State(req.UserID, now)
	if state.Banned {
		return models.Blocked("user is banned", nil), nil, nil
	}
	if state.MutedAt(now) {
		until := *state.MuteUntil
		return models.Blocked("user is muted until "+until.Format(time.RFC3339), &until), nil, nil
	}

	detection, found := e.pipeline.Detect(ctx, Message{
		Text:             req.Message,
		UserID:           req.UserID,
		RecentViolations: e.ledger.CountSince(req.UserID, FloodWindow, now),
	})
	if !found {
		return models.Allowed(), nil, nil
	}

	violation := models.Violation{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		UserName:    req.UserName,
		ChatID:      req.ChatID,
		Kind:        detection.Kind,
		MessageText: req.Message,
		Severity:    detection.Severity,
		CreatedAt:   now,
	}
	input := PolicyInput{
		Violations:       e.ledger.CountSince(req.UserID, e.window, now) + 1,
		LifetimeWarnings: e.enforcement.Warnings(req.UserID),
		State:            state,
		Now:              now,
	}

	var action *models.Action
	if kind, ok := Decide(input); ok {
		action = &models.Action{
			ID:              uuid.NewString(),
			ViolationID:     violation.ID,
			Kind:            kind,
			UserID:          req.UserID,
			UserName:        req.UserName,
			ChatID:          req.ChatID,
			Reason:          Reason(kind, violation),
			ViolationKind:   violation.Kind,
			DurationMinutes: kind.MuteMinutes(),
			CreatedAt:       now,
		}
	}

	if err := e.store.AppendDecision(ctx, &violation, action); err != nil {
		e.logger.LogPersistFailure(ctx, req.UserID, err)
		return models.Verdict{}, nil, models.NewUnavailableError(err)
	}

	e.ledger.Record(violation)
	observability.Violations.WithLabelValues(violation.Kind.String(), detection.Source).Inc()
	if action == nil {
		e.logger.LogDecision(ctx, violation, nil, input.Violations, input.LifetimeWarnings)
		return models.Allowed(), nil, nil
	}

	e.enforcement.Apply(*action)
	e.totalActions.Add(1)
	observability.Actions.WithLabelValues(action.Kind.String()).Inc()
	e.logger.LogDecision(ctx, violation, action, input.Violations, input.LifetimeWarnings)

	return VerdictFor(*action), action, nil
}

func (e *Engine) notify(ctx context.Context, a models.Action) {
	for _, sink := range e.sinks {
		if err := sink.ActionApplied(ctx, a); err != nil {
			e.logger.LogSinkFailure(ctx, a, err)
		}
	}
}

// Status returns a read-only snapshot for one user. Unknown users get an
// all-zero status.
func (e *Engine) Status(ctx context.Context, userID string) (models.UserStatus, error) {
	if err := validation.ValidateUserID(userID); err != nil {
		return models.UserStatus{}, err
	}
	unlock := e.locks.lock(userID)
	defer unlock()

	now := e.now()
	state := e.enforcement.State(userID, now)
	return models.UserStatus{
		UserID:           userID,
		IsMuted:          state.MutedAt(now),
		IsBanned:         state.Banned,
		ViolationsLast24: e.ledger.CountSince(userID, e.window, now),
		LifetimeWarnings: e.enforcement.Warnings(userID),
		MuteUntil:        state.MuteUntil,
	}, nil
}

// Stats aggregates counters over all users. Expired mutes are not counted.
func (e *Engine) Stats() models.Stats {
	now := e.now()
	muted, banned, warnings := e.enforcement.Counts(now)
	observability.EnforcedUsers.WithLabelValues("muted").Set(float64(muted))
	observability.EnforcedUsers.WithLabelValues("banned").Set(float64(banned))

	return models.Stats{
		TotalViolations:     e.ledger.Total(),
		TotalActions:        int(e.totalActions.Load()),
		UsersWithViolations: e.ledger.Users(),
		MutedUsers:          muted,
		BannedUsers:         banned,
		Warnings:            warnings,
	}
}

// EnforcementSnapshot returns the live mute and ban state of every user
// with an active entry.
func (e *Engine) EnforcementSnapshot() map[string]models.EnforcementState {
	return e.enforcement.Snapshot(e.now())
}

// Ping reports whether the engine still accepts checks.
func (e *Engine) Ping() error {
	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	if e.closed {
		return models.ErrDecisionUnavailable
	}
	return nil
}

// Shutdown waits for in-flight checks, rejects new ones, and closes the store.
func (e *Engine) Shutdown(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		e.lifecycle.Lock()
		defer e.lifecycle.Unlock()
		if e.closed {
			errc <- nil
			return
		}
		e.closed = true
		errc <- e.store.Close()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
