package timeout

import (
	"errors"

	"go.uber.org/zap"

	"github.com/tallstad/bootcore/internal/logging"
	"github.com/tallstad/bootcore/internal/tick"
)

// MaxConcurrent is the number of contexts a Manager can supervise at once.
const MaxConcurrent = 8

// activityWindowMs is how recent the last recorded activity must be for
// Update to re-arm auto-reset contexts.
const activityWindowMs = 100

// ErrManagerFull is returned by Register when all slots are taken.
var ErrManagerFull = errors.New("timeout: manager full")

// Manager supervises a fixed set of contexts and tracks when the system
// last saw activity.
type Manager struct {
	clock tick.Source
	slots [MaxConcurrent]*Context

	activeCount      uint8
	totalTimeouts    uint32
	totalWarnings    uint32
	lastActivityTick uint32
}

// NewManager returns an empty manager using clock for activity tracking.
func NewManager(clock tick.Source) *Manager {
	return &Manager{
		clock:            clock,
		lastActivityTick: clock.Now(),
	}
}

// Register adds a context to the first free slot and returns its slot id.
func (m *Manager) Register(c *Context) (int, error) {
	if m.activeCount >= MaxConcurrent {
		return -1, ErrManagerFull
	}
	for i := range m.slots {
		if m.slots[i] == nil {
			m.slots[i] = c
			m.activeCount++
			return i, nil
		}
	}
	return -1, ErrManagerFull
}

// Unregister frees a slot. It reports whether the slot held a context.
func (m *Manager) Unregister(id int) bool {
	if id < 0 || id >= MaxConcurrent || m.slots[id] == nil {
		return false
	}
	m.slots[id].Stop()
	m.slots[id] = nil
	if m.activeCount > 0 {
		m.activeCount--
	}
	return true
}

// Update sweeps all registered contexts, counting new expirations and
// warnings and re-arming auto-reset contexts after recent activity.
func (m *Manager) Update() {
	now := m.clock.Now()
	for _, c := range m.slots {
		if c == nil || c.state == StateDisabled {
			continue
		}
		wasExpired := c.state == StateExpired
		if c.Expired() && !wasExpired {
			m.totalTimeouts++
			logging.Warn("Operation timed out",
				zap.String("operation", c.name),
				zap.Uint32("timeout_ms", c.timeoutMs),
			)
		} else if c.Warning() {
			m.totalWarnings++
			logging.Debug("Operation nearing timeout",
				zap.String("operation", c.name),
				zap.Uint32("warning_ms", c.warningMs),
			)
		}
		if c.autoReset && tick.Elapsed(m.lastActivityTick, now) < activityWindowMs {
			c.Restart()
		}
	}
}

// ExpiredCount returns the number of registered contexts currently expired.
func (m *Manager) ExpiredCount() int {
	count := 0
	for _, c := range m.slots {
		if c != nil && c.state == StateExpired {
			count++
		}
	}
	return count
}

// WarningCount returns the number of registered contexts currently in the
// warning state.
func (m *Manager) WarningCount() int {
	count := 0
	for _, c := range m.slots {
		if c != nil && c.state == StateWarning {
			count++
		}
	}
	return count
}

// RecordActivity timestamps communication activity, feeding both auto-reset
// and the responsiveness check.
func (m *Manager) RecordActivity() {
	m.lastActivityTick = m.clock.Now()
}

// SystemResponsive reports whether activity was recorded within maxIdleMs.
func (m *Manager) SystemResponsive(maxIdleMs uint32) bool {
	return tick.Elapsed(m.lastActivityTick, m.clock.Now()) < maxIdleMs
}

// TotalTimeouts returns the cumulative expirations seen by Update.
func (m *Manager) TotalTimeouts() uint32 { return m.totalTimeouts }

// TotalWarnings returns the cumulative warnings seen by Update.
func (m *Manager) TotalWarnings() uint32 { return m.totalWarnings }

// ActiveCount returns the number of occupied slots.
func (m *Manager) ActiveCount() int { return int(m.activeCount) }
