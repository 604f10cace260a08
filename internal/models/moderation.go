package models

import (
	"fmt"
	"time"
)

// Violation is a single detected rule-breaking message. Records are
// immutable once written.
type Violation struct {
	ID          string        `gorm:"primaryKey;size:36" json:"id"`
	UserID      string        `gorm:"size:191;not null;index:idx_violations_user_created,priority:1" json:"user_id"`
	UserName    string        `gorm:"size:191;not null;default:''" json:"user_name"`
	ChatID      string        `gorm:"size:191;not null;default:''" json:"chat_id"`
	Kind        ViolationKind `gorm:"column:violation_type;type:varchar(32);not null" json:"violation_type"`
	MessageText string        `gorm:"column:message;type:text;not null;default:''" json:"message"`
	Severity    int           `gorm:"type:integer;not null" json:"severity"`
	CreatedAt   time.Time     `gorm:"not null;index:idx_violations_user_created,priority:2" json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Violation) TableName() string {
	return "moderation_violations"
}

// Validate rejects records that could not have been produced by the engine.
func (v Violation) Validate() error {
	if v.ID == "" {
		return fmt.Errorf("violation for %q: %w", v.UserID, ErrMissingRecordID)
	}
	if v.UserID == "" {
		return fmt.Errorf("violation %s: empty user_id", v.ID)
	}
	if !v.Kind.Valid() {
		return fmt.Errorf("violation %s: %w", v.ID, ErrUnknownViolationKind)
	}
	if v.Severity < 1 || v.Severity > 5 {
		return fmt.Errorf("violation %s: severity %d out of range", v.ID, v.Severity)
	}
	return nil
}

// Action is an enforcement decision derived from violation history. The log
// of actions is the only source of truth for mute and ban state.
type Action struct {
	ID              string        `gorm:"primaryKey;size:36" json:"id"`
	ViolationID     string        `gorm:"size:36;not null;default:'';index" json:"violation_id,omitempty"`
	Kind            ActionKind    `gorm:"column:action_type;type:varchar(32);not null" json:"action_type"`
	UserID          string        `gorm:"size:191;not null;index" json:"user_id"`
	UserName        string        `gorm:"size:191;not null;default:''" json:"user_name"`
	ChatID          string        `gorm:"size:191;not null;default:''" json:"chat_id"`
	Reason          string        `gorm:"type:text;not null;default:''" json:"reason"`
	ViolationKind   ViolationKind `gorm:"column:violation_type;type:varchar(32);not null" json:"violation_type"`
	DurationMinutes int           `gorm:"type:integer;not null;default:0" json:"duration_minutes,omitempty"`
	CreatedAt       time.Time     `gorm:"not null;index" json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Action) TableName() string {
	return "moderation_actions"
}

// Validate checks the tag and that the stored duration agrees with the tier.
func (a Action) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("action for %q: %w", a.UserID, ErrMissingRecordID)
	}
	if a.UserID == "" {
		return fmt.Errorf("action %s: empty user_id", a.ID)
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("action %s: %w", a.ID, ErrUnknownActionKind)
	}
	if !a.ViolationKind.Valid() {
		return fmt.Errorf("action %s: %w", a.ID, ErrUnknownViolationKind)
	}
	if a.DurationMinutes != a.Kind.MuteMinutes() {
		return fmt.Errorf("action %s: duration %d does not match %s", a.ID, a.DurationMinutes, a.Kind)
	}
	return nil
}

// Expiry returns when a mute action stops applying. It is zero for
// warnings and bans.
func (a Action) Expiry() time.Time {
	if !a.Kind.IsMute() {
		return time.Time{}
	}
	return a.CreatedAt.Add(a.Kind.MuteDuration())
}

// EnforcementState is the derived mute/ban status of one user.
type EnforcementState struct {
	MuteUntil *time.Time `json:"mute_until,omitempty"`
	Banned    bool       `json:"banned"`
}

// MutedAt reports whether the mute is still running at now.
func (s EnforcementState) MutedAt(now time.Time) bool {
	return s.MuteUntil != nil && s.MuteUntil.After(now)
}

// UserStatus is the read-only snapshot returned to admin tooling.
type UserStatus struct {
	UserID           string     `json:"user_id"`
	IsMuted          bool       `json:"is_muted"`
	IsBanned         bool       `json:"is_banned"`
	ViolationsLast24 int        `json:"violations_last_24h"`
	LifetimeWarnings int        `json:"lifetime_warnings"`
	MuteUntil        *time.Time `json:"mute_until,omitempty"`
}

// Stats aggregates engine-wide counters.
type Stats struct {
	TotalViolations     int `json:"total_violations"`
	TotalActions        int `json:"total_actions"`
	UsersWithViolations int `json:"users_with_violations"`
	MutedUsers          int `json:"muted_users"`
	BannedUsers         int `json:"banned_users"`
	Warnings            int `json:"warnings"`
}

// Snapshot is the save-all document: violations keyed by user and the
// action log in chronological order.
type Snapshot struct {
	Violations map[string][]Violation `json:"violations"`
	Actions    []Action               `json:"actions"`
}

// FlattenViolations returns every violation in the snapshot.
func (s *Snapshot) FlattenViolations() []Violation {
	var out []Violation
	for _, vs := range s.Violations {
		out = append(out, vs...)
	}
	return out
}

// Validate rejects the snapshot if any record carries an unknown tag or
// is otherwise malformed.
func (s *Snapshot) Validate() error {
	for userID, vs := range s.Violations {
		for _, v := range vs {
			if v.UserID != userID {
				return fmt.Errorf("violation %s filed under %q belongs to %q", v.ID, userID, v.UserID)
			}
			if err := v.Validate(); err != nil {
				return err
			}
		}
	}
	for _, a := range s.Actions {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// NewSnapshot groups violations by user.
func NewSnapshot(violations []Violation, actions []Action) *Snapshot {
	snap := &Snapshot{
		Violations: make(map[string][]Violation),
		Actions:    actions,
	}
	if snap.Actions == nil {
		snap.Actions = []Action{}
	}
	for _, v := range violations {
		snap.Violations[v.UserID] = append(snap.Violations[v.UserID], v)
	}
	return snap
}
