package cache

import (
	"context"
	"fmt"
	"time"

	"chatguard/internal/models"
	"chatguard/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	MuteKeyPrefix = "moderation:mute:%s"
	BanKeyPrefix  = "moderation:ban:%s"
)

func MuteKey(userID string) string {
	return fmt.Sprintf(MuteKeyPrefix, userID)
}

func BanKey(userID string) string {
	return fmt.Sprintf(BanKeyPrefix, userID)
}

// EnforcementMirror copies mute and ban state into Redis keys. The mirror is
// write-only from the engine's point of view; the action log stays the only
// source of truth.
type EnforcementMirror struct {
	rdb   *redis.Client
	clock func() time.Time
}

// NewEnforcementMirror returns a mirror writing to rdb. A nil client makes
// every call a no-op.
func NewEnforcementMirror(rdb *redis.Client) *EnforcementMirror {
	return &EnforcementMirror{rdb: rdb, clock: time.Now}
}

// ActionApplied mirrors a durable action. Mute keys expire with the mute;
// ban keys never expire. Warnings are not mirrored.
func (m *EnforcementMirror) ActionApplied(ctx context.Context, a models.Action) error {
	if m == nil || m.rdb == nil {
		return nil
	}
	switch {
	case a.Kind == models.ActionBan:
		return m.setBan(ctx, a.UserID, a.CreatedAt)
	case a.Kind.IsMute():
		return m.setMute(ctx, a.UserID, a.Expiry())
	}
	return nil
}

// Sync writes every active entry of a replayed state snapshot.
func (m *EnforcementMirror) Sync(ctx context.Context, states map[string]models.EnforcementState) error {
	if m == nil || m.rdb == nil {
		return nil
	}
	ctx, span := observability.GetTraceLayer().TraceRedisOperation(ctx, "mirror_sync")
	var err error
	defer func() { observability.EndSpan(span, err) }()

	now := m.clock()
	_, err = m.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for userID, st := range states {
			if st.Banned {
				pipe.Set(ctx, BanKey(userID), "1", 0)
			}
			if st.MuteUntil != nil && st.MuteUntil.After(now) {
				pipe.Set(ctx, MuteKey(userID), st.MuteUntil.UTC().Format(time.RFC3339), st.MuteUntil.Sub(now))
			}
		}
		return nil
	})
	return err
}

func (m *EnforcementMirror) setMute(ctx context.Context, userID string, until time.Time) error {
	ttl := until.Sub(m.clock())
	if ttl <= 0 {
		return nil
	}
	return m.rdb.Set(ctx, MuteKey(userID), until.UTC().Format(time.RFC3339), ttl).Err()
}

func (m *EnforcementMirror) setBan(ctx context.Context, userID string, at time.Time) error {
	return m.rdb.Set(ctx, BanKey(userID), at.UTC().Format(time.RFC3339), 0).Err()
}
