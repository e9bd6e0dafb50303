package resource

import (
	"go.uber.org/zap"

	"github.com/tallstad/bootcore/internal/logging"
)

// Manager tracks up to MaxResources entries plus a short list of global
// cleanup functions run during full and emergency sweeps.
type Manager struct {
	entries [MaxResources]*Entry
	globals []CleanupFunc

	resourceCount      uint8
	totalAllocations   uint32
	totalDeallocations uint32
	cleanupFailures    uint32
	stamp              uint32

	cleanupInProgress bool
	emergencyMode     bool
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) nextStamp() uint32 {
	m.stamp++
	return m.stamp
}

// Register tracks a new resource and returns its id.
func (m *Manager) Register(e *Entry) (int, error) {
	if m.resourceCount >= MaxResources {
		return -1, ErrFull
	}
	for i := range m.entries {
		if m.entries[i] == nil {
			e.state = StateUninitialized
			e.initStamp = m.nextStamp()
			e.accessStamp = e.initStamp
			m.entries[i] = e
			m.resourceCount++
			m.totalAllocations++
			return i, nil
		}
	}
	return -1, ErrFull
}

// Unregister cleans up (if needed) and stops tracking a resource.
func (m *Manager) Unregister(id int) error {
	e := m.entry(id)
	if e == nil {
		return ErrNotFound
	}
	if e.state != StateCleanedUp && e.state != StateUninitialized {
		if err := m.CleanupResource(id); err != nil {
			return err
		}
	}
	m.entries[id] = nil
	if m.resourceCount > 0 {
		m.resourceCount--
	}
	m.totalDeallocations++
	return nil
}

// AddGlobalCleanup appends a function run by CleanupAll and
// EmergencyCleanup regardless of individual registrations.
func (m *Manager) AddGlobalCleanup(fn CleanupFunc) error {
	if fn == nil || len(m.globals) >= MaxCleanupFunctions {
		return ErrCleanupFuncsFull
	}
	m.globals = append(m.globals, fn)
	return nil
}

// MarkInitialized moves a resource to the initialized state.
func (m *Manager) MarkInitialized(id int) {
	if e := m.entry(id); e != nil {
		e.state = StateInitialized
		e.accessStamp = m.nextStamp()
	}
}

// MarkActive moves a resource to the active state.
func (m *Manager) MarkActive(id int) {
	if e := m.entry(id); e != nil {
		e.state = StateActive
		e.accessStamp = m.nextStamp()
	}
}

// MarkError moves a resource to the error state.
func (m *Manager) MarkError(id int) {
	if e := m.entry(id); e != nil {
		e.state = StateError
		e.accessStamp = m.nextStamp()
	}
}

// Touch refreshes the resource's access stamp.
func (m *Manager) Touch(id int) {
	if e := m.entry(id); e != nil {
		e.accessStamp = m.nextStamp()
	}
}

// CleanupResource releases one resource. Already-cleaned resources succeed
// without rerunning the cleanup func; a cleanup already in flight is
// refused.
func (m *Manager) CleanupResource(id int) error {
	e := m.entry(id)
	if e == nil {
		return ErrNotFound
	}
	if e.state == StateCleanedUp {
		return nil
	}
	if e.state == StateCleanupPending {
		return ErrCleanupPending
	}

	e.state = StateCleanupPending
	if e.Cleanup != nil {
		if err := e.Cleanup(); err != nil {
			e.state = StateError
			m.cleanupFailures++
			logging.Warn("Resource cleanup failed",
				zap.String("resource", e.Name),
				zap.Stringer("type", e.Type),
				zap.Error(err),
			)
			return err
		}
	}
	e.state = StateCleanedUp
	e.accessStamp = m.nextStamp()
	return nil
}

// CleanupAll runs the global cleanup functions, then releases every entry
// registered with AutoCleanup. Re-entrant calls are ignored.
func (m *Manager) CleanupAll() {
	if m.cleanupInProgress {
		return
	}
	m.cleanupInProgress = true
	defer func() { m.cleanupInProgress = false }()

	m.runGlobals()
	for i, e := range m.entries {
		if e != nil && e.AutoCleanup {
			_ = m.CleanupResource(i)
		}
	}
}

// CleanupByType releases every entry of the given type.
func (m *Manager) CleanupByType(t Type) {
	if m.cleanupInProgress {
		return
	}
	for i, e := range m.entries {
		if e != nil && e.Type == t {
			_ = m.CleanupResource(i)
		}
	}
}

// EmergencyCleanup force-releases everything. Cleanup errors are swallowed
// and every entry ends in the cleaned-up state; this path must never fail.
func (m *Manager) EmergencyCleanup() {
	m.emergencyMode = true
	m.cleanupInProgress = true
	defer func() { m.cleanupInProgress = false }()

	for _, e := range m.entries {
		if e == nil || e.state == StateCleanedUp {
			continue
		}
		e.state = StateCleanupPending
		if e.Cleanup != nil {
			if err := e.Cleanup(); err != nil {
				m.cleanupFailures++
				logging.Warn("Emergency cleanup error ignored",
					zap.String("resource", e.Name),
					zap.Error(err),
				)
			}
		}
		e.state = StateCleanedUp
	}
	m.runGlobals()
}

func (m *Manager) runGlobals() {
	for _, fn := range m.globals {
		if err := fn(); err != nil {
			m.cleanupFailures++
			logging.Warn("Global cleanup error", zap.Error(err))
		}
	}
}

// Entry returns the tracked entry for id, or nil.
func (m *Manager) Entry(id int) *Entry { return m.entry(id) }

// CountByType returns the number of tracked entries of the given type.
func (m *Manager) CountByType(t Type) int {
	count := 0
	for _, e := range m.entries {
		if e != nil && e.Type == t {
			count++
		}
	}
	return count
}

// CountByState returns the number of tracked entries in the given state.
func (m *Manager) CountByState(s State) int {
	count := 0
	for _, e := range m.entries {
		if e != nil && e.state == s {
			count++
		}
	}
	return count
}

// HasCriticalResources reports whether any critical entry is tracked.
func (m *Manager) HasCriticalResources() bool {
	for _, e := range m.entries {
		if e != nil && e.Critical {
			return true
		}
	}
	return false
}

// HasErrorResources reports whether any entry is in the error state.
func (m *Manager) HasErrorResources() bool {
	return m.CountByState(StateError) > 0
}

// Count returns the number of tracked entries.
func (m *Manager) Count() int { return int(m.resourceCount) }

// HasCapacity reports whether another resource can be registered.
func (m *Manager) HasCapacity() bool { return m.resourceCount < MaxResources }

// Stats summarizes the manager's counters.
type Stats struct {
	Active             int
	TotalAllocations   uint32
	TotalDeallocations uint32
	CleanupFailures    uint32
	EmergencyMode      bool
}

// GetStats returns a snapshot of the manager's counters.
func (m *Manager) GetStats() Stats {
	return Stats{
		Active:             int(m.resourceCount),
		TotalAllocations:   m.totalAllocations,
		TotalDeallocations: m.totalDeallocations,
		CleanupFailures:    m.cleanupFailures,
		EmergencyMode:      m.emergencyMode,
	}
}

// SetEmergencyMode toggles the emergency flag without sweeping.
func (m *Manager) SetEmergencyMode(on bool) { m.emergencyMode = on }

// EmergencyMode reports whether an emergency sweep has run or the flag was
// set explicitly.
func (m *Manager) EmergencyMode() bool { return m.emergencyMode }

func (m *Manager) entry(id int) *Entry {
	if id < 0 || id >= MaxResources {
		return nil
	}
	return m.entries[id]
}
