// Package repository persists the moderation log: the append-only violation
// and action records the engine replays on startup.
package repository

import (
	"context"
	"errors"

	"chatguard/internal/models"
)

// ErrStoreClosed is returned by stores after Close.
var ErrStoreClosed = errors.New("moderation store closed")

// SaveResult reports what SaveAll wrote. Skipped records were already stored
// under the same ID.
type SaveResult struct {
	Violations        int `json:"violations"`
	Actions           int `json:"actions"`
	SkippedViolations int `json:"skipped_violations"`
	SkippedActions    int `json:"skipped_actions"`
}

// ModerationStore defines the interface for moderation log persistence
type ModerationStore interface {
	// LoadViolations returns every stored violation ordered by creation time.
	LoadViolations(ctx context.Context) ([]models.Violation, error)
	// LoadActions returns the action log ordered by creation time.
	LoadActions(ctx context.Context) ([]models.Action, error)
	// AppendDecision durably records a violation and, when non-nil, the
	// action it produced. Either both are stored or neither is.
	AppendDecision(ctx context.Context, v *models.Violation, a *models.Action) error
	// SaveAll writes every record of snap that is not already stored.
	// Records without an ID are given a content-derived one first.
	SaveAll(ctx context.Context, snap *models.Snapshot) (SaveResult, error)
	Close() error
}
