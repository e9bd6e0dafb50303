package faults

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/tallstad/bootcore/internal/logging"
	"github.com/tallstad/bootcore/internal/tick"
)

// MaxHistory is the depth of the fault ring buffer.
const MaxHistory = 16

// Record is one recorded fault with its context.
type Record struct {
	Code        Code
	Severity    Severity
	SourceState string
	Timestamp   uint32
	Location    string
	Context     uint32
	Description string
}

// Manager keeps the most recent MaxHistory fault records plus lifetime
// counters. Older records are overwritten in ring order.
type Manager struct {
	clock tick.Source

	records [MaxHistory]Record
	count   uint8
	index   uint8

	totalCount    uint32
	criticalCount uint32
	lastTimestamp uint32
}

// NewManager returns an empty fault manager stamping records from clock.
func NewManager(clock tick.Source) *Manager {
	return &Manager{clock: clock}
}

// Report records a fault. sourceState names the lifecycle state the fault
// was observed in; context carries a code-specific detail value such as an
// offset or expected CRC.
func (m *Manager) Report(code Code, severity Severity, sourceState string, context uint32, description string) {
	rec := Record{
		Code:        code,
		Severity:    severity,
		SourceState: sourceState,
		Timestamp:   m.clock.Now(),
		Location:    callerLocation(2),
		Context:     context,
		Description: description,
	}

	m.records[m.index] = rec
	m.index = (m.index + 1) % MaxHistory
	if m.count < MaxHistory {
		m.count++
	}
	m.totalCount++
	m.lastTimestamp = rec.Timestamp
	if severity >= SeverityCritical {
		m.criticalCount++
	}

	logging.Warn("Fault recorded",
		zap.Stringer("code", code),
		zap.Stringer("class", code.Class()),
		zap.Stringer("severity", severity),
		zap.String("state", sourceState),
		zap.String("location", rec.Location),
		zap.Uint32("context", context),
		zap.String("description", description),
	)
}

// Last returns the most recently recorded fault.
func (m *Manager) Last() (Record, bool) {
	if m.count == 0 {
		return Record{}, false
	}
	last := (int(m.index) + MaxHistory - 1) % MaxHistory
	return m.records[last], true
}

// CountAtLeast returns how many retained records are at or above the given
// severity.
func (m *Manager) CountAtLeast(min Severity) int {
	count := 0
	for i := 0; i < int(m.count); i++ {
		idx := (int(m.index) + MaxHistory - 1 - i) % MaxHistory
		if m.records[idx].Severity >= min {
			count++
		}
	}
	return count
}

// History returns retained records, newest first.
func (m *Manager) History() []Record {
	out := make([]Record, 0, m.count)
	for i := 0; i < int(m.count); i++ {
		idx := (int(m.index) + MaxHistory - 1 - i) % MaxHistory
		out = append(out, m.records[idx])
	}
	return out
}

// Clear drops the retained history. Lifetime counters are kept.
func (m *Manager) Clear() {
	m.records = [MaxHistory]Record{}
	m.count = 0
	m.index = 0
}

// HasCritical reports whether any critical-or-worse fault has ever been
// recorded.
func (m *Manager) HasCritical() bool { return m.criticalCount > 0 }

// TotalCount returns the lifetime fault count.
func (m *Manager) TotalCount() uint32 { return m.totalCount }

// CriticalCount returns the lifetime critical-or-worse count.
func (m *Manager) CriticalCount() uint32 { return m.criticalCount }

// LastTimestamp returns the tick of the most recent record.
func (m *Manager) LastTimestamp() uint32 { return m.lastTimestamp }

func callerLocation(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	// Trim to the last two path elements.
	short := file
	seen := 0
	for i := len(file) - 1; i >= 0; i-- {
		if file[i] == '/' {
			seen++
			if seen == 2 {
				short = file[i+1:]
				break
			}
		}
	}
	return fmt.Sprintf("%s:%d", short, line)
}
