package classifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"

	"chatguard/internal/models"
)

// ErrMalformedResponse is returned when no JSON object can be found in a
// classifier reply.
var ErrMalformedResponse = errors.New("malformed classifier response")

const defaultSeverity = 3

type wireClassification struct {
	HasViolation  bool     `json:"has_violation"`
	ViolationType *string  `json:"violation_type"`
	Severity      *float64 `json:"severity"`
	Reason        *string  `json:"reason"`
}

// Parse extracts the first JSON object from a reply that may be wrapped in
// markdown fences or prose. Unknown kinds and out of range severities yield
// a negative Classification; a missing severity defaults to 3.
func Parse(raw []byte) (models.Classification, error) {
	wire, ok := firstObject(stripFences(raw))
	if !ok {
		return models.Classification{}, ErrMalformedResponse
	}
	if !wire.HasViolation || wire.ViolationType == nil {
		return models.Classification{}, nil
	}

	kind, err := models.ParseViolationKind(*wire.ViolationType)
	if err != nil {
		return models.Classification{}, nil
	}

	severity := defaultSeverity
	if wire.Severity != nil {
		s := *wire.Severity
		if s != math.Trunc(s) || s < 1 || s > 5 {
			return models.Classification{}, nil
		}
		severity = int(s)
	}

	out := models.Classification{HasViolation: true, Kind: kind, Severity: severity}
	if wire.Reason != nil {
		out.Reason = *wire.Reason
	}
	return out, nil
}

func stripFences(raw []byte) []byte {
	for _, fence := range [][]byte{[]byte("```json"), []byte("```")} {
		_, rest, found := bytes.Cut(raw, fence)
		if !found {
			continue
		}
		inner, _, _ := bytes.Cut(rest, []byte("```"))
		return bytes.TrimSpace(inner)
	}
	return raw
}

// firstObject tries each '{' in turn until one starts a decodable object.
func firstObject(raw []byte) (wireClassification, bool) {
	for i := 0; i < len(raw); i++ {
		if raw[i] != '{' {
			continue
		}
		var wire wireClassification
		if err := json.NewDecoder(bytes.NewReader(raw[i:])).Decode(&wire); err == nil {
			return wire, true
		}
	}
	return wireClassification{}, false
}
