package moderation

import (
	"fmt"
	"time"

	"chatguard/internal/models"
)

// warningAllowance is the lifetime number of warnings before escalation
// skips straight to mutes.
const warningAllowance = 2

// escalationTiers are inclusive upper bounds on the windowed violation
// count, checked in ascending order. Anything above the last bound is a ban.
var escalationTiers = []struct {
	maxViolations int
	kind          models.ActionKind
}{
	{4, models.ActionMuteMinutes},
	{6, models.ActionMuteHours},
	{9, models.ActionMuteDays},
}

var reasonPrefix = map[models.ActionKind]string{
	models.ActionWarning:     "violation",
	models.ActionMuteMinutes: "multiple violations",
	models.ActionMuteHours:   "repeated violations",
	models.ActionMuteDays:    "systematic violations",
	models.ActionBan:         "critical violations",
}

// PolicyInput is everything the escalation decision depends on.
// Violations includes the triggering violation.
type PolicyInput struct {
	Violations       int
	LifetimeWarnings int
	State            models.EnforcementState
	Now              time.Time
}

// Decide picks the action for a new violation. ok is false when the user is
// banned or still muted; no action is taken then.
func Decide(in PolicyInput) (kind models.ActionKind, ok bool) {
	if in.State.Banned || in.State.MutedAt(in.Now) {
		return 0, false
	}
	if in.Violations <= 2 && in.LifetimeWarnings < warningAllowance {
		return models.ActionWarning, true
	}
	for _, tier := range escalationTiers {
		if in.Violations <= tier.maxViolations {
			return tier.kind, true
		}
	}
	return models.ActionBan, true
}

// Reason renders the stored reason for an action. Severity is recorded for
// audit only.
func Reason(kind models.ActionKind, v models.Violation) string {
	return fmt.Sprintf("%s: %s (severity %d)", reasonPrefix[kind], v.Kind, v.Severity)
}

// VerdictFor maps a freshly applied action to what the caller sees.
func VerdictFor(a models.Action) models.Verdict {
	switch {
	case a.Kind == models.ActionWarning:
		return models.AllowedWithWarning("Warning: " + a.Reason)
	case a.Kind.IsMute():
		until := a.Expiry()
		v := models.Blocked(fmt.Sprintf("muted for %s: %s", FormatDuration(a.DurationMinutes), a.Reason), &until)
		v.Action = a.Kind.String()
		return v
	default:
		v := models.Blocked("banned: "+a.Reason, nil)
		v.Action = a.Kind.String()
		return v
	}
}

// FormatDuration renders whole minutes as minutes, hours, or days.
func FormatDuration(minutes int) string {
	switch {
	case minutes < 60:
		return plural(minutes, "minute")
	case minutes < 1440:
		return plural(minutes/60, "hour")
	default:
		return plural(minutes/1440, "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
