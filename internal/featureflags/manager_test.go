package featureflags

import (
	"fmt"
	"testing"
)

func TestEnabled_BooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0")

	if !m.Enabled("a", "u1") || !m.Enabled("c", "u1") || !m.Enabled("e", "u1") {
		t.Fatal("expected enabled boolean values to evaluate true")
	}
	if m.Enabled("b", "u1") || m.Enabled("d", "u1") || m.Enabled("f", "u1") {
		t.Fatal("expected disabled boolean values to evaluate false")
	}
}

func TestEnabled_PercentageValues(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%,junk=abc%")

	if !m.Enabled("always", "u1") {
		t.Fatal("100% rollout should always be enabled")
	}
	if m.Enabled("never", "u1") {
		t.Fatal("0% rollout should always be disabled")
	}
	if m.Enabled("junk", "u1") {
		t.Fatal("unparseable percentage should be disabled")
	}

	first := m.Enabled("canary", "user-42")
	for i := 0; i < 5; i++ {
		if got := m.Enabled("canary", "user-42"); got != first {
			t.Fatal("rollout evaluation must be deterministic per subject")
		}
	}

	if m.Enabled("canary", "") {
		t.Fatal("percentage rollout requires a subject")
	}
}

func TestEnabled_PercentageRoughlyMatchesRollout(t *testing.T) {
	m := NewManager(ExternalClassifier + "=50%")

	enabled := 0
	for i := 0; i < 1000; i++ {
		if m.Enabled(ExternalClassifier, fmt.Sprintf("user-%d", i)) {
			enabled++
		}
	}
	if enabled < 350 || enabled > 650 {
		t.Fatalf("expected about half of subjects enabled, got %d/1000", enabled)
	}
}

func TestGateAndNilManager(t *testing.T) {
	gate := NewManager("External_Classifier=on").Gate(ExternalClassifier)
	if !gate("anyone") {
		t.Fatal("flag names should be case-insensitive")
	}

	var m *Manager
	if m.Enabled(ExternalClassifier, "u1") || m.Defined(ExternalClassifier) {
		t.Fatal("nil manager should disable everything")
	}
	if len(m.Raw()) != 0 || len(m.Snapshot("u1")) != 0 {
		t.Fatal("nil manager should report no flags")
	}
}

func TestParseAndSnapshot(t *testing.T) {
	m := NewManager(" bad ,x=on, y = 20% ,z=off ")

	raw := m.Raw()
	if len(raw) != 3 {
		t.Fatalf("expected 3 parsed flags, got %d", len(raw))
	}
	if raw["x"] != "on" || raw["y"] != "20%" || raw["z"] != "off" {
		t.Fatalf("unexpected raw flags: %#v", raw)
	}
	if !m.Defined("y") || m.Defined("bad") {
		t.Fatal("Defined should reflect parsed flags only")
	}

	snap := m.Snapshot("u-123")
	if len(snap) != 3 {
		t.Fatalf("expected snapshot size 3, got %d", len(snap))
	}
}
