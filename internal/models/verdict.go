package models

import "time"

// VerdictKind is the outcome reported to the chat backend.
type VerdictKind string

const (
	VerdictAllowed            VerdictKind = "allowed"
	VerdictAllowedWithWarning VerdictKind = "allowed_with_warning"
	VerdictBlocked            VerdictKind = "blocked"
)

// Verdict is the reply to a check call.
type Verdict struct {
	Kind   VerdictKind `json:"verdict"`
	Text   string      `json:"text,omitempty"`
	Reason string      `json:"reason,omitempty"`
	Until  *time.Time  `json:"until,omitempty"`
	Action string      `json:"action,omitempty"`
}

func Allowed() Verdict {
	return Verdict{Kind: VerdictAllowed}
}

func AllowedWithWarning(text string) Verdict {
	return Verdict{Kind: VerdictAllowedWithWarning, Text: text, Action: ActionWarning.String()}
}

func Blocked(reason string, until *time.Time) Verdict {
	return Verdict{Kind: VerdictBlocked, Reason: reason, Until: until}
}

// Classification is the normalized answer of an external classifier.
type Classification struct {
	HasViolation bool          `json:"has_violation"`
	Kind         ViolationKind `json:"kind,omitempty"`
	Severity     int           `json:"severity,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}
