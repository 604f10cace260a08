package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// legacyDocument is laid out the way the first moderation bot saved its
// state: no record IDs, naive timestamps and a null duration for
// non-mute actions.
const legacyDocument = `{
  "violations": {
    "u1": [
      {"user_id": "u1", "user_name": "Ann", "violation_type": "spam", "message": "aaaaaa", "chat_id": "c1", "created_at": "2024-05-01T12:00:00.123456", "severity": 2},
      {"user_id": "u1", "user_name": "Ann", "violation_type": "spam", "message": "aaaaaa", "chat_id": "c1", "created_at": "2024-05-01T12:00:00.123456", "severity": 2},
      {"user_id": "u1", "user_name": "Ann", "violation_type": "profanity", "message": "damn", "chat_id": "c1", "created_at": "2024-05-01T12:01:00", "severity": 4}
    ]
  },
  "actions": [
    {"action_type": "mute_minutes", "user_id": "u1", "user_name": "Ann", "chat_id": "c1", "reason": "multiple violations: spam (severity 2)", "violation_type": "spam", "duration_minutes": 5, "created_at": "2024-05-01T12:00:00.123456"},
    {"action_type": "ban", "user_id": "u1", "user_name": "Ann", "chat_id": "c1", "reason": "critical violations: profanity (severity 4)", "violation_type": "profanity", "duration_minutes": null, "created_at": "2024-05-01T12:01:00"}
  ]
}`

func decodeLegacy(t *testing.T) Snapshot {
	t.Helper()
	var snap Snapshot
	require.NoError(t, json.Unmarshal([]byte(legacyDocument), &snap))
	return snap
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-05-01T12:00:00.123456", time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.UTC)},
		{"2024-05-01T12:00:00", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		{"2024-05-01 12:00:00.5", time.Date(2024, 5, 1, 12, 0, 0, 500000000, time.UTC)},
		{"2024-05-01T14:00:00+02:00", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		{"2024-05-01T12:00:00Z", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	_, err := ParseTimestamp("")
	assert.Error(t, err)
	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestSnapshot_DecodesLegacyDocument(t *testing.T) {
	snap := decodeLegacy(t)

	require.Len(t, snap.Violations["u1"], 3)
	first := snap.Violations["u1"][0]
	assert.Equal(t, ViolationSpam, first.Kind)
	assert.True(t, time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.UTC).Equal(first.CreatedAt))

	require.Len(t, snap.Actions, 2)
	assert.Equal(t, ActionBan, snap.Actions[1].Kind)
	assert.Zero(t, snap.Actions[1].DurationMinutes)

	assert.ErrorIs(t, snap.Validate(), ErrMissingRecordID, "records without IDs are not accepted as-is")
}

func TestSnapshot_AssignIDs(t *testing.T) {
	snap := decodeLegacy(t)
	assert.Equal(t, 5, snap.AssignIDs())
	require.NoError(t, snap.Validate())

	ids := map[string]struct{}{}
	for _, v := range snap.FlattenViolations() {
		ids[v.ID] = struct{}{}
	}
	for _, a := range snap.Actions {
		ids[a.ID] = struct{}{}
	}
	assert.Len(t, ids, 5, "identical records still get distinct IDs")

	again := decodeLegacy(t)
	again.AssignIDs()
	assert.Equal(t, snap.Violations["u1"][1].ID, again.Violations["u1"][1].ID)
	assert.Equal(t, snap.Actions[1].ID, again.Actions[1].ID)

	assert.Zero(t, snap.AssignIDs(), "existing IDs are kept")
}

func TestUnmarshalRejectsBadTimestamp(t *testing.T) {
	var v Violation
	err := json.Unmarshal([]byte(`{"id":"v1","user_id":"u1","violation_type":"spam","severity":2,"created_at":"soon"}`), &v)
	assert.Error(t, err)

	var a Action
	err = json.Unmarshal([]byte(`{"id":"a1","user_id":"u1","action_type":"ban","violation_type":"spam"}`), &a)
	assert.Error(t, err, "created_at is required")
}
