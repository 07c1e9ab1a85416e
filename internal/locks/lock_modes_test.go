package locks_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/lockplane/migrator/internal/locks"
)

func TestLockModeProperties(t *testing.T) {
	modes := []struct {
		mode         locks.LockMode
		name         string
		blocksReads  bool
		blocksWrites bool
		impact       locks.ImpactLevel
	}{
		{locks.LockAccessShare, "ACCESS SHARE", false, false, locks.ImpactNone},
		{locks.LockRowShare, "ROW SHARE", false, false, locks.ImpactNone},
		{locks.LockRowExclusive, "ROW EXCLUSIVE", false, false, locks.ImpactNone},
		{locks.LockShareUpdateExclusive, "SHARE UPDATE EXCLUSIVE", false, false, locks.ImpactLow},
		{locks.LockShare, "SHARE", false, true, locks.ImpactMedium},
		{locks.LockShareRowExclusive, "SHARE ROW EXCLUSIVE", false, true, locks.ImpactHigh},
		{locks.LockExclusive, "EXCLUSIVE", false, true, locks.ImpactHigh},
		{locks.LockAccessExclusive, "ACCESS EXCLUSIVE", true, true, locks.ImpactHigh},
	}

	for i, m := range modes {
		if i > 0 && m.mode <= modes[i-1].mode {
			t.Errorf("Expected %s to be stronger than %s", m.name, modes[i-1].name)
		}
		if got := m.mode.String(); got != m.name {
			t.Errorf("Expected name %q, got %q", m.name, got)
		}
		if got := m.mode.BlocksReads(); got != m.blocksReads {
			t.Errorf("%s: expected BlocksReads %v, got %v", m.name, m.blocksReads, got)
		}
		if got := m.mode.BlocksWrites(); got != m.blocksWrites {
			t.Errorf("%s: expected BlocksWrites %v, got %v", m.name, m.blocksWrites, got)
		}
		if got := m.mode.ImpactLevel(); got != m.impact {
			t.Errorf("%s: expected impact %s, got %s", m.name, m.impact, got)
		}
	}

	if got := locks.LockMode(42).String(); got != "UNKNOWN(42)" {
		t.Errorf("Expected UNKNOWN(42), got %s", got)
	}
}

func TestImpactLevelDisplay(t *testing.T) {
	levels := map[locks.ImpactLevel]string{
		locks.ImpactNone:   "NONE",
		locks.ImpactLow:    "LOW",
		locks.ImpactMedium: "MEDIUM",
		locks.ImpactHigh:   "HIGH",
	}
	markers := map[string]bool{}
	for level, name := range levels {
		if level.String() != name {
			t.Errorf("Expected %s, got %s", name, level.String())
		}
		markers[level.Emoji()] = true
		li := locks.LockImpact{Impact: level}
		if want := level >= locks.ImpactMedium; li.IsHighImpact() != want {
			t.Errorf("%s: expected IsHighImpact %v", name, want)
		}
	}
	if len(markers) != len(levels) {
		t.Errorf("Expected a distinct marker per impact level, got %d", len(markers))
	}
}

func TestLockImpactJSON(t *testing.T) {
	impacts, err := locks.Analyze(nil, nil)
	if err != nil || len(impacts) != 0 {
		t.Fatalf("Expected no impacts for no operations, got %v (%v)", impacts, err)
	}

	li := locks.LockImpact{
		Operation:    "Add field votes to polls.Question",
		Table:        "polls_question",
		LockMode:     locks.LockAccessExclusive,
		Lock:         locks.LockAccessExclusive.String(),
		BlocksReads:  true,
		BlocksWrites: true,
		Impact:       locks.ImpactHigh,
	}
	data, err := json.Marshal(li)
	if err != nil {
		t.Fatalf("Failed to marshal impact: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"lock":"ACCESS EXCLUSIVE"`) || strings.Contains(out, "LockMode") {
		t.Errorf("Unexpected JSON: %s", out)
	}
}
