package reliability

import (
	"sync"
	"time"
)

// APIStatus is the most recent observed health of the upstream provider.
type APIStatus string

const (
	StatusUnknown     APIStatus = "unknown"
	StatusNormal      APIStatus = "normal"
	StatusRateLimited APIStatus = "rate_limited"
	StatusError       APIStatus = "error"
)

// HealthSnapshot is a point-in-time copy of the monitor state.
type HealthSnapshot struct {
	Status    APIStatus
	CheckedAt time.Time
}

// HealthMonitor tracks the outcome of the most recent provider call. Only
// the executor writes to it; everything else reads snapshots.
type HealthMonitor struct {
	mu        sync.Mutex
	status    APIStatus
	checkedAt time.Time
	cooldown  time.Duration
	now       func() time.Time
}

// NewHealthMonitor returns a monitor in the unknown state. A non-positive
// cooldown disables rate-limit backpressure hints entirely.
func NewHealthMonitor(cooldown time.Duration) *HealthMonitor {
	return &HealthMonitor{
		status:   StatusUnknown,
		cooldown: cooldown,
		now:      time.Now,
	}
}

func (m *HealthMonitor) publish(status APIStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
	m.checkedAt = m.now()
}

// Snapshot returns the current status and when it was last updated.
func (m *HealthMonitor) Snapshot() HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return HealthSnapshot{Status: m.status, CheckedAt: m.checkedAt}
}

// CooldownRemaining reports how long callers should hold off before the
// next provider call. It is zero unless the last call was rate limited
// within the cooldown window.
func (m *HealthMonitor) CooldownRemaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusRateLimited || m.cooldown <= 0 {
		return 0
	}
	elapsed := m.now().Sub(m.checkedAt)
	if elapsed >= m.cooldown {
		return 0
	}
	return m.cooldown - elapsed
}
