package moderation

import (
	"sort"
	"sync"
	"time"

	"chatguard/internal/models"
)

// Ledger is the in-memory, per-user, time-ordered violation history. It is
// loaded from the store at startup and appended to only after the store has
// accepted the write.
type Ledger struct {
	mu     sync.RWMutex
	byUser map[string][]models.Violation
	total  int
}

// NewLedger indexes violations by user in created_at order.
func NewLedger(violations []models.Violation) *Ledger {
	l := &Ledger{byUser: make(map[string][]models.Violation)}
	for _, v := range violations {
		l.byUser[v.UserID] = append(l.byUser[v.UserID], v)
	}
	for _, vs := range l.byUser {
		sort.SliceStable(vs, func(i, j int) bool { return vs[i].CreatedAt.Before(vs[j].CreatedAt) })
	}
	l.total = len(violations)
	return l
}

// Record appends v, keeping the user's list ordered.
func (l *Ledger) Record(v models.Violation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	vs := append(l.byUser[v.UserID], v)
	for i := len(vs) - 1; i > 0 && vs[i].CreatedAt.Before(vs[i-1].CreatedAt); i-- {
		vs[i], vs[i-1] = vs[i-1], vs[i]
	}
	l.byUser[v.UserID] = vs
	l.total++
}

// CountSince returns the number of the user's violations with created_at
// in [now-window, now].
func (l *Ledger) CountSince(userID string, window time.Duration, now time.Time) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	vs := l.byUser[userID]
	cutoff := now.Add(-window)
	lo := sort.Search(len(vs), func(i int) bool { return !vs[i].CreatedAt.Before(cutoff) })
	hi := sort.Search(len(vs), func(i int) bool { return vs[i].CreatedAt.After(now) })
	if hi < lo {
		return 0
	}
	return hi - lo
}

// Total returns the number of violations across all users.
func (l *Ledger) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Users returns the number of distinct users with at least one violation.
func (l *Ledger) Users() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byUser)
}
