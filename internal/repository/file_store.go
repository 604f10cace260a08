package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"chatguard/internal/models"
	"chatguard/internal/observability"
)

// FileStore keeps the whole moderation log in one JSON document. Every
// write replaces the file atomically, so it suits single-instance and
// development deployments only.
type FileStore struct {
	path string

	mu     sync.Mutex
	snap   *models.Snapshot
	closed bool
}

// NewFileStore opens path, creating an empty log if the file does not exist.
// A document holding an unknown violation or action tag is rejected. Records
// saved without an ID are given a content-derived one.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, snap: models.NewSnapshot(nil, nil)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read moderation file: %w", err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode moderation file %s: %w", path, err)
	}
	snap.AssignIDs()
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("moderation file %s: %w", path, err)
	}
	if snap.Violations == nil {
		snap.Violations = make(map[string][]models.Violation)
	}
	if snap.Actions == nil {
		snap.Actions = []models.Action{}
	}
	sortActions(snap.Actions)
	s.snap = &snap
	return s, nil
}

func (s *FileStore) LoadViolations(ctx context.Context) ([]models.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	out := s.snap.FlattenViolations()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *FileStore) LoadActions(ctx context.Context) ([]models.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return append([]models.Action(nil), s.snap.Actions...), nil
}

// AppendDecision adds the records and rewrites the file. The in-memory
// document is restored if the write fails.
func (s *FileStore) AppendDecision(ctx context.Context, v *models.Violation, a *models.Action) (err error) {
	_, span := observability.GetTraceLayer().TraceStoreMethod(ctx, "file", "append_decision")
	defer func() { observability.EndSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	prevViolations, hadUser := s.snap.Violations[v.UserID]
	prevActions := s.snap.Actions

	s.snap.Violations[v.UserID] = append(append([]models.Violation(nil), prevViolations...), *v)
	if a != nil {
		s.snap.Actions = insertAction(prevActions, *a)
	}

	if err = s.flush(); err != nil {
		if hadUser {
			s.snap.Violations[v.UserID] = prevViolations
		} else {
			delete(s.snap.Violations, v.UserID)
		}
		s.snap.Actions = prevActions
		return err
	}
	return nil
}

// SaveAll merges snap into the document, skipping records whose ID is
// already present.
func (s *FileStore) SaveAll(ctx context.Context, snap *models.Snapshot) (res SaveResult, err error) {
	snap.AssignIDs()
	if err = snap.Validate(); err != nil {
		return res, err
	}
	_, span := observability.GetTraceLayer().TraceStoreMethod(ctx, "file", "save_all")
	defer func() { observability.EndSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return res, ErrStoreClosed
	}

	seen := make(map[string]struct{})
	for _, v := range s.snap.FlattenViolations() {
		seen[v.ID] = struct{}{}
	}
	for _, a := range s.snap.Actions {
		seen[a.ID] = struct{}{}
	}

	merged := models.NewSnapshot(s.snap.FlattenViolations(), append([]models.Action(nil), s.snap.Actions...))
	for _, v := range snap.FlattenViolations() {
		if _, ok := seen[v.ID]; ok {
			res.SkippedViolations++
			continue
		}
		seen[v.ID] = struct{}{}
		merged.Violations[v.UserID] = append(merged.Violations[v.UserID], v)
		res.Violations++
	}
	for _, a := range snap.Actions {
		if _, ok := seen[a.ID]; ok {
			res.SkippedActions++
			continue
		}
		seen[a.ID] = struct{}{}
		merged.Actions = append(merged.Actions, a)
		res.Actions++
	}
	sortActions(merged.Actions)

	prev := s.snap
	s.snap = merged
	if err = s.flush(); err != nil {
		s.snap = prev
		return SaveResult{}, err
	}
	return res, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// sortActions orders the log by creation time, keeping insertion order for
// equal timestamps.
func sortActions(actions []models.Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].CreatedAt.Before(actions[j].CreatedAt)
	})
}

// insertAction returns a copy of log with a placed after every action created
// at or before it.
func insertAction(log []models.Action, a models.Action) []models.Action {
	i := sort.Search(len(log), func(i int) bool { return log[i].CreatedAt.After(a.CreatedAt) })
	out := make([]models.Action, 0, len(log)+1)
	out = append(out, log[:i]...)
	out = append(out, a)
	return append(out, log[i:]...)
}

// flush writes the document to a temp file in the same directory, syncs it,
// and renames it over the target. Callers hold s.mu.
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode moderation file: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write moderation file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync moderation file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close moderation file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace moderation file: %w", err)
	}
	return nil
}
