package moderation

import (
	"testing"
	"time"

	"chatguard/internal/models"

	"github.com/stretchr/testify/assert"
)

func violationAt(userID string, at time.Time) models.Violation {
	return models.Violation{UserID: userID, Kind: models.ViolationSpam, Severity: 2, CreatedAt: at}
}

func TestLedger_CountSince(t *testing.T) {
	l := NewLedger([]models.Violation{
		violationAt("u1", t0.Add(-25*time.Hour)),
		violationAt("u1", t0.Add(-24*time.Hour)),
		violationAt("u1", t0.Add(-time.Hour)),
		violationAt("u2", t0.Add(-time.Minute)),
	})

	assert.Equal(t, 2, l.CountSince("u1", 24*time.Hour, t0), "window is inclusive at both ends")
	assert.Equal(t, 1, l.CountSince("u1", time.Hour, t0))
	assert.Equal(t, 0, l.CountSince("u1", time.Minute, t0))
	assert.Equal(t, 1, l.CountSince("u2", time.Hour, t0))
	assert.Equal(t, 0, l.CountSince("nobody", time.Hour, t0))
	assert.Equal(t, 4, l.Total())
	assert.Equal(t, 2, l.Users())
}

func TestLedger_RecordKeepsOrder(t *testing.T) {
	l := NewLedger(nil)
	l.Record(violationAt("u1", t0))
	l.Record(violationAt("u1", t0.Add(-2*time.Minute)))
	l.Record(violationAt("u1", t0.Add(-time.Minute)))

	history := l.byUser["u1"]
	assert.Len(t, history, 3)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].CreatedAt.Before(history[i-1].CreatedAt))
	}
	assert.Equal(t, 2, l.CountSince("u1", 90*time.Second, t0))
	assert.Equal(t, 0, l.CountSince("u1", time.Hour, t0.Add(-3*time.Minute)), "future entries are excluded")
}

func TestLedger_RebuildMatchesLive(t *testing.T) {
	live := NewLedger(nil)
	var all []models.Violation
	for i := 0; i < 30; i++ {
		v := violationAt([]string{"a", "b", "c"}[i%3], t0.Add(time.Duration(i)*37*time.Minute))
		live.Record(v)
		all = append(all, v)
	}
	rebuilt := NewLedger(all)

	now := t0.Add(20 * time.Hour)
	for _, user := range []string{"a", "b", "c"} {
		for _, window := range []time.Duration{time.Minute, time.Hour, 6 * time.Hour, 24 * time.Hour} {
			assert.Equal(t, live.CountSince(user, window, now), rebuilt.CountSince(user, window, now))
		}
	}
}
