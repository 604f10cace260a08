package moderation

import (
	"sort"
	"sync"
	"time"

	"chatguard/internal/models"
)

type userEnforcement struct {
	muteUntil time.Time
	banned    bool
	warnings  int
}

// EnforcementStore holds live mute and ban state per user plus the lifetime
// warning count. It is always rebuildable from the action log via Replay.
type EnforcementStore struct {
	mu    sync.RWMutex
	users map[string]*userEnforcement
}

func NewEnforcementStore() *EnforcementStore {
	return &EnforcementStore{users: make(map[string]*userEnforcement)}
}

// Replay folds the action log into enforcement state as of now. Bans stick
// unconditionally, mutes apply only if they outlive now with later mutes
// overwriting earlier ones, and warnings only add to the lifetime count.
func Replay(actions []models.Action, now time.Time) *EnforcementStore {
	ordered := append([]models.Action(nil), actions...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].CreatedAt.Before(ordered[j].CreatedAt) })

	s := NewEnforcementStore()
	for _, a := range ordered {
		u := s.user(a.UserID)
		switch {
		case a.Kind == models.ActionBan:
			u.banned = true
		case a.Kind.IsMute():
			if expiry := a.Expiry(); expiry.After(now) {
				u.muteUntil = expiry
			}
		case a.Kind == models.ActionWarning:
			u.warnings++
		}
	}
	return s
}

func (s *EnforcementStore) user(userID string) *userEnforcement {
	u, ok := s.users[userID]
	if !ok {
		u = &userEnforcement{}
		s.users[userID] = u
	}
	return u
}

// Apply records a durable action in live state.
func (s *EnforcementStore) Apply(a models.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(a.UserID)
	switch {
	case a.Kind == models.ActionBan:
		u.banned = true
	case a.Kind.IsMute():
		u.muteUntil = a.Expiry()
	case a.Kind == models.ActionWarning:
		u.warnings++
	}
}

// State returns the user's state at now. An expired mute is cleared here,
// on access, rather than by a timer.
func (s *EnforcementStore) State(userID string, now time.Time) models.EnforcementState {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return models.EnforcementState{}
	}
	if !u.muteUntil.IsZero() && !u.muteUntil.After(now) {
		u.muteUntil = time.Time{}
	}
	return u.state()
}

func (u *userEnforcement) state() models.EnforcementState {
	st := models.EnforcementState{Banned: u.banned}
	if !u.muteUntil.IsZero() {
		until := u.muteUntil
		st.MuteUntil = &until
	}
	return st
}

// Warnings returns the lifetime warning count.
func (s *EnforcementStore) Warnings(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, ok := s.users[userID]; ok {
		return u.warnings
	}
	return 0
}

// Snapshot returns every user with a running mute or a ban at now.
func (s *EnforcementStore) Snapshot(now time.Time) map[string]models.EnforcementState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.EnforcementState)
	for id, u := range s.users {
		st := u.state()
		if !st.MutedAt(now) {
			st.MuteUntil = nil
		}
		if st.Banned || st.MuteUntil != nil {
			out[id] = st
		}
	}
	return out
}

// Counts returns muted users, banned users, and total warnings at now.
func (s *EnforcementStore) Counts(now time.Time) (muted, banned, warnings int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.banned {
			banned++
		}
		if u.muteUntil.After(now) {
			muted++
		}
		warnings += u.warnings
	}
	return muted, banned, warnings
}
