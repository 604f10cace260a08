package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// ViolationKind is the closed set of rule violations a detector can report.
type ViolationKind uint8

const (
	ViolationSpam ViolationKind = iota + 1
	ViolationProfanity
	ViolationHarassment
	ViolationHateSpeech
	ViolationInappropriateContent
	ViolationCapsLock
	ViolationFlood
)

var violationKindTags = map[ViolationKind]string{
	ViolationSpam:                 "spam",
	ViolationProfanity:            "profanity",
	ViolationHarassment:           "harassment",
	ViolationHateSpeech:           "hate_speech",
	ViolationInappropriateContent: "inappropriate_content",
	ViolationCapsLock:             "caps_lock",
	ViolationFlood:                "flood",
}

var violationKindsByTag = invert(violationKindTags)

// ParseViolationKind maps a persisted tag back to its kind. Unknown tags are
// rejected with ErrUnknownViolationKind.
func ParseViolationKind(tag string) (ViolationKind, error) {
	if k, ok := violationKindsByTag[tag]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownViolationKind, tag)
}

// ViolationKinds lists every known kind in declaration order.
func ViolationKinds() []ViolationKind {
	out := make([]ViolationKind, 0, len(violationKindTags))
	for k := ViolationSpam; k <= ViolationFlood; k++ {
		out = append(out, k)
	}
	return out
}

func (k ViolationKind) String() string {
	if tag, ok := violationKindTags[k]; ok {
		return tag
	}
	return fmt.Sprintf("ViolationKind(%d)", uint8(k))
}

func (k ViolationKind) Valid() bool {
	_, ok := violationKindTags[k]
	return ok
}

func (k ViolationKind) MarshalText() ([]byte, error) {
	tag, ok := violationKindTags[k]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownViolationKind, uint8(k))
	}
	return []byte(tag), nil
}

func (k *ViolationKind) UnmarshalText(b []byte) error {
	parsed, err := ParseViolationKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Value implements driver.Valuer so the tag, not the ordinal, is stored.
func (k ViolationKind) Value() (driver.Value, error) {
	b, err := k.MarshalText()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (k *ViolationKind) Scan(src any) error {
	tag, err := scanTag(src)
	if err != nil {
		return fmt.Errorf("scan violation kind: %w", err)
	}
	return k.UnmarshalText([]byte(tag))
}

// ActionKind is the closed set of enforcement actions. Each mute tier has
// its own tag so the duration is recoverable from the tag alone.
type ActionKind uint8

const (
	ActionWarning ActionKind = iota + 1
	ActionMuteMinutes
	ActionMuteHours
	ActionMuteDays
	ActionBan
)

var actionKindTags = map[ActionKind]string{
	ActionWarning:     "warning",
	ActionMuteMinutes: "mute_minutes",
	ActionMuteHours:   "mute_hours",
	ActionMuteDays:    "mute_days",
	ActionBan:         "ban",
}

var actionKindsByTag = invert(actionKindTags)

var muteTierMinutes = map[ActionKind]int{
	ActionMuteMinutes: 5,
	ActionMuteHours:   60,
	ActionMuteDays:    1440,
}

// ParseActionKind maps a persisted tag back to its kind. Unknown tags are
// rejected with ErrUnknownActionKind.
func ParseActionKind(tag string) (ActionKind, error) {
	if k, ok := actionKindsByTag[tag]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownActionKind, tag)
}

func (k ActionKind) String() string {
	if tag, ok := actionKindTags[k]; ok {
		return tag
	}
	return fmt.Sprintf("ActionKind(%d)", uint8(k))
}

func (k ActionKind) Valid() bool {
	_, ok := actionKindTags[k]
	return ok
}

// IsMute reports whether k is one of the timed mute tiers.
func (k ActionKind) IsMute() bool {
	_, ok := muteTierMinutes[k]
	return ok
}

// MuteMinutes returns the tier length, or 0 for non-mute actions.
func (k ActionKind) MuteMinutes() int {
	return muteTierMinutes[k]
}

// MuteDuration returns the tier length as a duration.
func (k ActionKind) MuteDuration() time.Duration {
	return time.Duration(muteTierMinutes[k]) * time.Minute
}

func (k ActionKind) MarshalText() ([]byte, error) {
	tag, ok := actionKindTags[k]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownActionKind, uint8(k))
	}
	return []byte(tag), nil
}

func (k *ActionKind) UnmarshalText(b []byte) error {
	parsed, err := ParseActionKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k ActionKind) Value() (driver.Value, error) {
	b, err := k.MarshalText()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (k *ActionKind) Scan(src any) error {
	tag, err := scanTag(src)
	if err != nil {
		return fmt.Errorf("scan action kind: %w", err)
	}
	return k.UnmarshalText([]byte(tag))
}

func scanTag(src any) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", fmt.Errorf("null tag")
	default:
		return "", fmt.Errorf("unsupported tag type %T", src)
	}
}

func invert[K comparable, V comparable](m map[K]V) map[V]K {
	out := make(map[V]K, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}
