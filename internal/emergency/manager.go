package emergency

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/tallstad/bootcore/internal/flash"
	"github.com/tallstad/bootcore/internal/logging"
	"github.com/tallstad/bootcore/internal/resource"
	"github.com/tallstad/bootcore/internal/tick"
	"github.com/tallstad/bootcore/internal/transport"
)

// MaxHistory is how many past emergencies are retained.
const MaxHistory = 4

// DefaultMaxRecoveryAttempts bounds automatic recovery.
const DefaultMaxRecoveryAttempts = 3

// RecoveryFunc tries to recover from a condition. attempt counts from 1.
type RecoveryFunc func(cond Condition, attempt uint32) bool

// Manager tracks the active emergency and drives the shutdown sequence.
type Manager struct {
	clock     tick.Source
	resources *resource.Manager
	tr        *transport.Context
	flashDev  flash.Device
	snapshot  func() Snapshot

	active  bool
	current Context

	history   [MaxHistory]Context
	histCount uint8
	histIndex uint8

	totalEmergencies     uint32
	successfulRecoveries uint32
	failedRecoveries     uint32
	lastTimestamp        uint32

	autoRecovery        bool
	maxRecoveryAttempts uint32
	recoveryDelayMs     uint32
}

// NewManager returns an emergency manager delegating critical cleanup to
// resources. Auto recovery starts disabled.
func NewManager(clock tick.Source, resources *resource.Manager) *Manager {
	return &Manager{
		clock:               clock,
		resources:           resources,
		maxRecoveryAttempts: DefaultMaxRecoveryAttempts,
	}
}

// AttachTransport registers the transport put into a safe state during
// shutdown.
func (m *Manager) AttachTransport(tr *transport.Context) { m.tr = tr }

// AttachFlash registers the flash controller locked during shutdown.
func (m *Manager) AttachFlash(dev flash.Device) { m.flashDev = dev }

// SetSnapshotFunc registers the callback capturing system state at trigger
// time.
func (m *Manager) SetSnapshotFunc(fn func() Snapshot) { m.snapshot = fn }

// Configure sets the automatic recovery policy.
func (m *Manager) Configure(autoRecovery bool, maxAttempts, delayMs uint32) {
	m.autoRecovery = autoRecovery
	m.maxRecoveryAttempts = maxAttempts
	m.recoveryDelayMs = delayMs
}

// Trigger records an emergency and marks the system emergency-active. A
// trigger while already active updates nothing but the history.
func (m *Manager) Trigger(cond Condition, action Action, message string) {
	ctx := Context{
		Condition:      cond,
		Phase:          PhaseDetect,
		Timestamp:      m.clock.Now(),
		Location:       callerLocation(2),
		Message:        message,
		RecoveryAction: action,
	}
	if m.snapshot != nil {
		ctx.Snapshot = m.snapshot()
	}

	m.history[m.histIndex] = ctx
	m.histIndex = (m.histIndex + 1) % MaxHistory
	if m.histCount < MaxHistory {
		m.histCount++
	}
	m.totalEmergencies++
	m.lastTimestamp = ctx.Timestamp

	if !m.active {
		m.current = ctx
		m.active = true
	}

	logging.Error("Emergency triggered",
		zap.Stringer("condition", cond),
		zap.Stringer("recovery_action", action),
		zap.String("location", ctx.Location),
		zap.String("message", message),
	)
}

// ExecuteShutdown runs the shutdown phases in strict order. Every phase
// runs even if a prior phase reported a failure; this path never returns
// an error.
func (m *Manager) ExecuteShutdown() {
	if !m.active {
		return
	}

	m.enterPhase(PhaseSignal)
	logging.Error("Emergency shutdown started",
		zap.Stringer("condition", m.current.Condition),
	)

	m.enterPhase(PhaseCriticalCleanup)
	if m.resources != nil {
		m.resources.EmergencyCleanup()
	}

	m.enterPhase(PhaseHardwareSafeState)
	if m.tr != nil {
		_ = m.tr.Flush()
		_ = m.tr.Deinit()
	}
	if m.flashDev != nil {
		_ = m.flashDev.Lock()
	}

	m.enterPhase(PhaseDiagnostics)
	m.logDiagnostics()

	m.enterPhase(PhaseFinalShutdown)
	logging.Error("Emergency shutdown complete")
}

func (m *Manager) enterPhase(p Phase) {
	m.current.Phase = p
	logging.Warn("Emergency phase", zap.Stringer("phase", p))
}

func (m *Manager) logDiagnostics() {
	snap := m.current.Snapshot
	logging.Error("Emergency diagnostics",
		zap.Stringer("condition", m.current.Condition),
		zap.Uint32("timestamp", m.current.Timestamp),
		zap.String("location", m.current.Location),
		zap.String("message", m.current.Message),
		zap.String("bootloader_state", snap.BootloaderState),
		zap.String("protocol_state", snap.ProtocolState),
		zap.Uint32("uptime_ms", snap.UptimeMs),
		zap.Uint32("session_elapsed_ms", snap.SessionElapsedMs),
		zap.Int("active_resources", snap.ActiveResources),
	)
}

// CanAttemptRecovery reports whether the recovery policy permits another
// attempt right now.
func (m *Manager) CanAttemptRecovery() bool {
	return m.active && m.autoRecovery &&
		m.current.RecoveryAttempts < m.maxRecoveryAttempts
}

// AttemptRecovery runs fn once if the policy allows. The emergency clears
// only on a successful recovery.
func (m *Manager) AttemptRecovery(fn RecoveryFunc) bool {
	if fn == nil || !m.CanAttemptRecovery() {
		return false
	}
	m.current.RecoveryAttempts++
	m.current.RecoveryAttempted = true

	ok := fn(m.current.Condition, m.current.RecoveryAttempts)
	m.current.RecoverySuccessful = ok
	if ok {
		m.successfulRecoveries++
		logging.Info("Emergency recovery succeeded",
			zap.Stringer("condition", m.current.Condition),
			zap.Uint32("attempt", m.current.RecoveryAttempts),
		)
		m.Clear()
		return true
	}
	m.failedRecoveries++
	logging.Warn("Emergency recovery failed",
		zap.Stringer("condition", m.current.Condition),
		zap.Uint32("attempt", m.current.RecoveryAttempts),
	)
	return false
}

// Clear ends the active emergency. Call only after successful recovery.
func (m *Manager) Clear() {
	m.active = false
}

// Reset clears the active emergency and drops all history and counters.
func (m *Manager) Reset() {
	m.active = false
	m.current = Context{}
	m.history = [MaxHistory]Context{}
	m.histCount = 0
	m.histIndex = 0
	m.totalEmergencies = 0
	m.successfulRecoveries = 0
	m.failedRecoveries = 0
}

// Active reports whether an emergency is in progress.
func (m *Manager) Active() bool { return m.active }

// Current returns the active emergency context.
func (m *Manager) Current() Context { return m.current }

// History returns retained emergencies, newest first.
func (m *Manager) History() []Context {
	out := make([]Context, 0, m.histCount)
	for i := 0; i < int(m.histCount); i++ {
		idx := (int(m.histIndex) + MaxHistory - 1 - i) % MaxHistory
		out = append(out, m.history[idx])
	}
	return out
}

// Stats summarizes emergency activity.
type Stats struct {
	TotalEmergencies     uint32
	SuccessfulRecoveries uint32
	FailedRecoveries     uint32
	Active               bool
	LastCondition        Condition
	SinceLastMs          uint32
}

// GetStats returns a snapshot of the counters.
func (m *Manager) GetStats() Stats {
	s := Stats{
		TotalEmergencies:     m.totalEmergencies,
		SuccessfulRecoveries: m.successfulRecoveries,
		FailedRecoveries:     m.failedRecoveries,
		Active:               m.active,
	}
	if m.histCount > 0 {
		last := (int(m.histIndex) + MaxHistory - 1) % MaxHistory
		s.LastCondition = m.history[last].Condition
		s.SinceLastMs = tick.Elapsed(m.lastTimestamp, m.clock.Now())
	}
	return s
}

// sessionResetter is the part of the protocol session recovery needs.
type sessionResetter interface {
	ResetSession()
}

// RecoverResetSession returns a recovery func that resets the protocol
// session.
func RecoverResetSession(s sessionResetter) RecoveryFunc {
	return func(cond Condition, attempt uint32) bool {
		s.ResetSession()
		return true
	}
}

// RecoverReinitTransport returns a recovery func that tears the transport
// down and brings it back up.
func RecoverReinitTransport(tr *transport.Context) RecoveryFunc {
	return func(cond Condition, attempt uint32) bool {
		if err := tr.Deinit(); err != nil {
			return false
		}
		return tr.Init() == nil
	}
}

func callerLocation(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
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
