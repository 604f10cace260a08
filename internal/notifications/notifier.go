// Package notifications publishes moderation actions to Redis pub/sub so chat
// frontends can react to mutes and bans without polling.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"chatguard/internal/middleware"
	"chatguard/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	// ActionsChannel receives every action regardless of user.
	ActionsChannel = "moderation:actions"

	userChannelPattern = "moderation:user:*"
	actionEventType    = "moderation.action"
)

// ActionEvent is the payload published for each applied action.
type ActionEvent struct {
	Type      string        `json:"type"`
	Action    models.Action `json:"action"`
	MuteUntil *time.Time    `json:"mute_until,omitempty"`
}

// NewActionEvent wraps a for publishing, adding the mute expiry when a is a
// mute.
func NewActionEvent(a models.Action) ActionEvent {
	event := ActionEvent{Type: actionEventType, Action: a}
	if a.Kind.IsMute() {
		until := a.Expiry()
		event.MuteUntil = &until
	}
	return event
}

// Notifier provides helpers to publish moderation events into Redis channels
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID string) string {
	return "moderation:user:" + userID
}

// ActionApplied publishes the action to the user's channel and the shared
// actions channel.
func (n *Notifier) ActionApplied(ctx context.Context, a models.Action) error {
	if n == nil || n.rdb == nil {
		return nil
	}

	payload, err := json.Marshal(NewActionEvent(a))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = n.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, UserChannel(a.UserID), payload)
		pipe.Publish(ctx, ActionsChannel, payload)
		return nil
	})
	return err
}

// StartActionSubscriber subscribes to per-user moderation channels and calls
// onEvent for each decoded event. Undecodable payloads are logged and skipped.
func (n *Notifier) StartActionSubscriber(
	ctx context.Context, onEvent func(channel string, event ActionEvent),
) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, userChannelPattern)
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event ActionEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					middleware.Logger.Warn("dropping undecodable moderation event",
						slog.String("channel", msg.Channel), slog.String("error", err.Error()))
					continue
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							middleware.Logger.Error("panic in action subscriber",
								slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
						}
					}()
					onEvent(msg.Channel, event)
				}()
			}
		}
	}()

	return nil
}
