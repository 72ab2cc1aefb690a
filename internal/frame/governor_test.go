package frame

import (
	"testing"
	"time"
)

func TestGovernorAllow(t *testing.T) {
	g := NewGovernor(10 * time.Millisecond)
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if !g.Allow(t0) {
		t.Fatal("first call should be allowed")
	}
	if g.Allow(t0.Add(5 * time.Millisecond)) {
		t.Fatal("call inside the interval should be denied")
	}
	// A denied call must not push the window forward.
	if !g.Allow(t0.Add(10 * time.Millisecond)) {
		t.Fatal("call at exactly the interval should be allowed")
	}
	if g.Allow(t0.Add(15 * time.Millisecond)) {
		t.Fatal("window should restart from the last allowed call")
	}
}

func TestGovernorDisabled(t *testing.T) {
	g := NewGovernor(0)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if !g.Allow(now) {
			t.Fatal("zero interval must never gate")
		}
	}
}

func TestGovernorReset(t *testing.T) {
	g := NewGovernor(time.Hour)
	now := time.Now()
	if !g.Allow(now) {
		t.Fatal("first call should be allowed")
	}
	if g.Allow(now) {
		t.Fatal("second call should be denied")
	}
	g.Reset()
	if !g.Allow(now) {
		t.Fatal("call after Reset should be allowed")
	}
}
