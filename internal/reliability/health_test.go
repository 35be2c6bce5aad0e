package reliability

import (
	"testing"
	"time"
)

func TestHealthMonitorInitialState(t *testing.T) {
	m := NewHealthMonitor(2 * time.Minute)
	snap := m.Snapshot()
	if snap.Status != StatusUnknown {
		t.Fatalf("Status = %v, want %v", snap.Status, StatusUnknown)
	}
	if !snap.CheckedAt.IsZero() {
		t.Fatalf("CheckedAt = %v, want zero", snap.CheckedAt)
	}
	if d := m.CooldownRemaining(); d != 0 {
		t.Fatalf("CooldownRemaining() = %v, want 0", d)
	}
}

func TestHealthMonitorCooldown(t *testing.T) {
	m := NewHealthMonitor(2 * time.Minute)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	m.publish(StatusRateLimited)

	now = base.Add(30 * time.Second)
	if d := m.CooldownRemaining(); d != 90*time.Second {
		t.Fatalf("CooldownRemaining() = %v, want 90s", d)
	}

	now = base.Add(3 * time.Minute)
	if d := m.CooldownRemaining(); d != 0 {
		t.Fatalf("CooldownRemaining() after window = %v, want 0", d)
	}
}

func TestHealthMonitorCooldownOnlyForRateLimit(t *testing.T) {
	m := NewHealthMonitor(2 * time.Minute)
	m.publish(StatusError)
	if d := m.CooldownRemaining(); d != 0 {
		t.Fatalf("CooldownRemaining() after error = %v, want 0", d)
	}
	m.publish(StatusNormal)
	if d := m.CooldownRemaining(); d != 0 {
		t.Fatalf("CooldownRemaining() after normal = %v, want 0", d)
	}
}

func TestHealthMonitorRecovery(t *testing.T) {
	m := NewHealthMonitor(2 * time.Minute)
	m.publish(StatusRateLimited)
	m.publish(StatusNormal)
	if got := m.Snapshot().Status; got != StatusNormal {
		t.Fatalf("Status = %v, want %v", got, StatusNormal)
	}
	if d := m.CooldownRemaining(); d != 0 {
		t.Fatalf("CooldownRemaining() = %v, want 0", d)
	}
}
