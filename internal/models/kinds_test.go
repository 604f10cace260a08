package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViolationKindMapping(t *testing.T) {
	for _, k := range ViolationKinds() {
		tag, err := k.MarshalText()
		require.NoError(t, err)

		parsed, err := ParseViolationKind(string(tag))
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := ParseViolationKind("rudeness")
	assert.ErrorIs(t, err, ErrUnknownViolationKind)
}

func TestActionKindTiers(t *testing.T) {
	tests := []struct {
		kind    ActionKind
		tag     string
		minutes int
		mute    bool
	}{
		{ActionWarning, "warning", 0, false},
		{ActionMuteMinutes, "mute_minutes", 5, true},
		{ActionMuteHours, "mute_hours", 60, true},
		{ActionMuteDays, "mute_days", 1440, true},
		{ActionBan, "ban", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			assert.Equal(t, tt.tag, tt.kind.String())
			assert.Equal(t, tt.minutes, tt.kind.MuteMinutes())
			assert.Equal(t, tt.mute, tt.kind.IsMute())

			parsed, err := ParseActionKind(tt.tag)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, parsed)
		})
	}
}

func TestScanRejectsUnknownTag(t *testing.T) {
	var vk ViolationKind
	err := vk.Scan([]byte("shouting"))
	assert.True(t, errors.Is(err, ErrUnknownViolationKind))

	var ak ActionKind
	err = ak.Scan("mute_weeks")
	assert.True(t, errors.Is(err, ErrUnknownActionKind))

	assert.Error(t, ak.Scan(nil))
	require.NoError(t, ak.Scan("mute_hours"))
	assert.Equal(t, ActionMuteHours, ak)
}

func TestActionJSONUsesTags(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := Action{
		ID:              "a1",
		Kind:            ActionMuteMinutes,
		UserID:          "u1",
		ViolationKind:   ViolationCapsLock,
		DurationMinutes: 5,
		CreatedAt:       created,
	}

	raw, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"action_type":"mute_minutes"`)
	assert.Contains(t, string(raw), `"violation_type":"caps_lock"`)

	var back Action
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, a, back)
	assert.Equal(t, created.Add(5*time.Minute), back.Expiry())

	err = json.Unmarshal([]byte(`{"id":"x","action_type":"kick","user_id":"u1"}`), &back)
	assert.ErrorIs(t, err, ErrUnknownActionKind)
}

func TestActionValidateDuration(t *testing.T) {
	a := Action{ID: "a", UserID: "u", Kind: ActionMuteHours, ViolationKind: ViolationSpam, DurationMinutes: 5}
	assert.Error(t, a.Validate())

	a.DurationMinutes = 60
	assert.NoError(t, a.Validate())
}

func TestSnapshotValidate(t *testing.T) {
	now := time.Now().UTC()
	snap := NewSnapshot(
		[]Violation{{ID: "v1", UserID: "u1", Kind: ViolationSpam, Severity: 2, CreatedAt: now}},
		nil,
	)
	require.NoError(t, snap.Validate())
	assert.Len(t, snap.FlattenViolations(), 1)
	assert.NotNil(t, snap.Actions)

	snap.Violations["u2"] = snap.Violations["u1"]
	assert.Error(t, snap.Validate())
}
