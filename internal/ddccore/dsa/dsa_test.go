package dsa

import (
	"testing"
	"time"
)

func TestNewMultiplierStartsNeutral(t *testing.T) {
	m := New()
	if m.Value() != 1.0 {
		t.Fatalf("expected neutral multiplier 1.0, got %v", m.Value())
	}
}

func TestLoadClampsStaleZeroToFloor(t *testing.T) {
	m := Load(0.0)
	if m.Value() != floor {
		t.Fatalf("expected stale 0.0 to clamp to floor %v, got %v", floor, m.Value())
	}
}

func TestLoadClampsAboveCeiling(t *testing.T) {
	m := Load(99.0)
	if m.Value() != ceiling {
		t.Fatalf("expected clamp to ceiling %v, got %v", ceiling, m.Value())
	}
}

func TestObserveRetryIncreasesImmediately(t *testing.T) {
	m := New()
	before := m.Value()
	m.Observe(true)
	if m.Value() <= before {
		t.Fatalf("expected increase after a retried attempt, got %v -> %v", before, m.Value())
	}
}

func TestObserveDecreaseRequiresFullCleanWindowAndDwell(t *testing.T) {
	m := New()
	m.lastDecrease = time.Now().Add(-2 * minDwell) // satisfy dwell up front
	before := m.Value()

	for i := 0; i < windowSize-1; i++ {
		m.Observe(false)
	}
	if m.Value() != before {
		t.Fatalf("should not decrease before window fills, got %v", m.Value())
	}

	m.Observe(false) // windowSize-th clean observation
	if m.Value() >= before {
		t.Fatalf("expected decrease once window is full and clean, got %v -> %v", before, m.Value())
	}
}

func TestObserveDecreaseRespectsMinDwell(t *testing.T) {
	m := New()
	m.lastDecrease = time.Now() // just decreased/started, dwell not satisfied
	before := m.Value()

	for i := 0; i < windowSize; i++ {
		m.Observe(false)
	}
	if m.Value() != before {
		t.Fatalf("expected no decrease inside the dwell window, got %v -> %v", before, m.Value())
	}
}

func TestSetUserMultiplierPinsAndDisablesAdaptation(t *testing.T) {
	m := New()
	m.SetUserMultiplier(2.5)
	if m.Value() != 2.5 {
		t.Fatalf("expected pinned value 2.5, got %v", m.Value())
	}
	m.Observe(true)
	if m.Value() != 2.5 {
		t.Fatalf("pinned multiplier must not adapt, got %v", m.Value())
	}
}

func TestSetUserMultiplierClampsOutOfRange(t *testing.T) {
	m := New()
	m.SetUserMultiplier(50.0)
	if m.Value() != ceiling {
		t.Fatalf("expected pin to clamp to ceiling, got %v", m.Value())
	}
}

func TestSleepScalesBaseDelayByMultiplier(t *testing.T) {
	m := New()
	m.SetUserMultiplier(2.0)
	var slept time.Duration
	m.sleepFunc = func(d time.Duration) { slept = d }

	m.Sleep(WriteToRead)
	want := 2 * BaseDelay(WriteToRead)
	if slept != want {
		t.Fatalf("expected scaled sleep %v, got %v", want, slept)
	}
}
