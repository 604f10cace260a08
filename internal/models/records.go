package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timestampLayouts are tried in order when decoding created_at. Older
// snapshot files carry naive ISO-8601 times without an offset; those are
// read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// recordNamespace scopes the name-based IDs given to imported records.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("chatguard:moderation-record"))

// ParseTimestamp parses a created_at value in any accepted layout and
// returns it in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (v *Violation) UnmarshalJSON(data []byte) error {
	type plain Violation
	aux := struct {
		*plain
		CreatedAt string `json:"created_at"`
	}{plain: (*plain)(v)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t, err := ParseTimestamp(aux.CreatedAt)
	if err != nil {
		return fmt.Errorf("violation created_at: %w", err)
	}
	v.CreatedAt = t
	return nil
}

func (a *Action) UnmarshalJSON(data []byte) error {
	type plain Action
	aux := struct {
		*plain
		CreatedAt string `json:"created_at"`
	}{plain: (*plain)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t, err := ParseTimestamp(aux.CreatedAt)
	if err != nil {
		return fmt.Errorf("action created_at: %w", err)
	}
	a.CreatedAt = t
	return nil
}

// AssignIDs gives every record without an ID a name-based UUID derived from
// its content, so importing the same document twice yields the same IDs.
// Identical records are told apart by their position among their twins.
// It returns how many IDs were assigned.
func (s *Snapshot) AssignIDs() int {
	assigned := 0
	seen := make(map[string]int)
	next := func(key string) string {
		seen[key]++
		return uuid.NewSHA1(recordNamespace, []byte(key+"\x1f"+strconv.Itoa(seen[key]))).String()
	}

	for _, vs := range s.Violations {
		for i := range vs {
			if vs[i].ID != "" {
				continue
			}
			vs[i].ID = next(recordKey("violation", vs[i].UserID, vs[i].ChatID, vs[i].Kind.String(),
				vs[i].CreatedAt.UTC().Format(time.RFC3339Nano), vs[i].MessageText))
			assigned++
		}
	}
	for i := range s.Actions {
		a := &s.Actions[i]
		if a.ID != "" {
			continue
		}
		a.ID = next(recordKey("action", a.UserID, a.ChatID, a.Kind.String(), a.ViolationKind.String(),
			a.CreatedAt.UTC().Format(time.RFC3339Nano), a.Reason))
		assigned++
	}
	return assigned
}

func recordKey(parts ...string) string {
	return strings.Join(parts, "\x1f")
}
