package bootloader

import (
	"errors"

	"go.uber.org/zap"

	"github.com/tallstad/bootcore/internal/emergency"
	"github.com/tallstad/bootcore/internal/faults"
	"github.com/tallstad/bootcore/internal/flash"
	"github.com/tallstad/bootcore/internal/logging"
	"github.com/tallstad/bootcore/internal/protocol"
	"github.com/tallstad/bootcore/internal/resource"
	"github.com/tallstad/bootcore/internal/tick"
	"github.com/tallstad/bootcore/internal/timeout"
	"github.com/tallstad/bootcore/internal/transport"
)

// DefaultMaxStateRetries is the silent retry budget for a failing handler
// before the machine escalates to an error state.
const DefaultMaxStateRetries = 3

// sessionPollMs bounds a single session poll inside a run cycle so the
// machine stays responsive to its own state timeouts.
const sessionPollMs = 10

var (
	ErrIllegalTransition = errors.New("bootloader: transition not permitted")
	ErrEmergencyMode     = errors.New("bootloader: emergency mode active")
)

// Runtime aggregates the collaborators one machine instance owns. There are
// no package-level singletons; everything the machine touches is reachable
// from here.
type Runtime struct {
	Clock     tick.Source
	Faults    *faults.Manager
	Resources *resource.Manager
	Timeouts  *timeout.Manager
	Emergency *emergency.Manager

	// Optional collaborators. A machine without a transport or session
	// walks its states unconditionally, which is what the lifecycle tests
	// exercise.
	Transport *transport.Context
	Session   *protocol.Session
	Flash     *flash.Writer
}

// NewRuntime builds a runtime with fresh managers on the given tick source.
func NewRuntime(clock tick.Source) *Runtime {
	resources := resource.NewManager()
	return &Runtime{
		Clock:     clock,
		Faults:    faults.NewManager(clock),
		Resources: resources,
		Timeouts:  timeout.NewManager(clock),
		Emergency: emergency.NewManager(clock, resources),
	}
}

// Machine is the device lifecycle state machine. It advances at most one
// state per RunCycle call and is driven from a single-threaded poll loop.
type Machine struct {
	rt *Runtime

	current  State
	previous State
	next     State

	changePending bool
	entryTick     uint32

	executionCount  uint32
	transitionCount uint32
	retryCount      uint32
	maxStateRetries uint32

	stateTimeout *timeout.Context

	debug         bool
	emergencyMode bool
}

// New builds a machine in StateStartup with the startup timeout armed.
func New(rt *Runtime) *Machine {
	m := &Machine{
		rt:              rt,
		current:         StateStartup,
		previous:        StateStartup,
		next:            StateStartup,
		entryTick:       rt.Clock.Now(),
		maxStateRetries: DefaultMaxStateRetries,
	}
	spec := stateTable[StateStartup]
	m.stateTimeout = timeout.New("state", rt.Clock, spec.timeoutMs,
		spec.warningMs, uint8(m.maxStateRetries))
	m.stateTimeout.Start()
	return m
}

// RunCycle executes one iteration: emergency check, handler dispatch,
// timeout bookkeeping and at most one pending transition.
func (m *Machine) RunCycle() error {
	if m.rt.Emergency != nil && m.rt.Emergency.Active() && !m.emergencyMode {
		m.SetEmergencyMode(true)
		m.rt.Emergency.ExecuteShutdown()
		return m.escalateCondition(m.rt.Emergency.Current().Condition)
	}

	if m.current >= stateCount {
		return m.escalate(faults.StateViolation, uint32(m.current))
	}
	spec := stateTable[m.current]

	m.executionCount++
	if m.rt.Timeouts != nil {
		m.rt.Timeouts.RecordActivity()
	}

	handlerErr := spec.handler(m)

	if m.stateTimeout.Expired() {
		if spec.allowsRetry && m.stateTimeout.CanRetry() {
			m.stateTimeout.Retry()
			m.rt.Faults.Report(faults.OperationTimeout, faults.SeverityWarning,
				m.current.String(), uint32(m.current), "state timeout, retrying")
		} else {
			return m.escalate(faults.OperationTimeout, uint32(m.current))
		}
	}

	switch {
	case handlerErr != nil && spec.allowsRetry && m.retryCount < m.maxStateRetries:
		m.retryCount++
		if m.debug {
			logging.Debug("state handler retry",
				zap.Stringer("state", m.current),
				zap.Uint32("attempt", m.retryCount),
				zap.Error(handlerErr),
			)
		}
	case handlerErr != nil:
		return m.escalate(faults.StateViolation, uint32(m.current))
	default:
		m.retryCount = 0
	}

	if m.changePending {
		return m.Transition(m.next)
	}
	return nil
}

// Transition moves the machine to a new state after validating the move
// against the adjacency table. Leaving certain states releases the
// resources scoped to them; entering a state re-arms its timeout budget.
func (m *Machine) Transition(to State) error {
	if m.emergencyMode && !to.IsError() {
		return ErrEmergencyMode
	}
	if !ValidTransition(m.current, to) {
		m.rt.Faults.Report(faults.StateViolation, faults.SeverityError,
			m.current.String(), uint32(to), "transition rejected")
		m.changePending = false
		m.next = m.current
		return ErrIllegalTransition
	}

	m.cleanupStateResources(m.current)

	m.previous = m.current
	m.current = to
	m.next = to
	m.entryTick = m.rt.Clock.Now()
	m.executionCount = 0
	m.retryCount = 0
	m.transitionCount++
	m.changePending = false

	spec := stateTable[to]
	m.stateTimeout.Configure(spec.timeoutMs, spec.warningMs, uint8(m.maxStateRetries))
	m.stateTimeout.Start()

	if m.debug {
		logging.Debug("state transition",
			zap.Stringer("from", m.previous),
			zap.Stringer("to", to),
			zap.Uint32("count", m.transitionCount),
		)
	}
	return nil
}

// cleanupStateResources releases resources scoped to the state being left.
func (m *Machine) cleanupStateResources(leaving State) {
	if m.rt.Resources == nil {
		return
	}
	switch leaving {
	case StateTransportInit:
		m.rt.Resources.CleanupByType(resource.TypeTransport)
	case StateProgram:
		m.rt.Resources.CleanupByType(resource.TypeFlash)
	case StateReceiveData:
		m.rt.Resources.CleanupByType(resource.TypeFrameBuffer)
	}
}

// escalate records the fault and forces the matching error state.
func (m *Machine) escalate(code faults.Code, context uint32) error {
	m.rt.Faults.Report(code, faults.SeverityError, m.current.String(),
		context, "escalating to error state")
	return m.Transition(errorStateFor(code.Class()))
}

func (m *Machine) escalateCondition(cond emergency.Condition) error {
	var to State
	switch cond {
	case emergency.ConditionResourceExhaustion:
		to = StateErrorResourceExhaustion
	case emergency.ConditionCommunicationFailure:
		to = StateErrorCommunication
	case emergency.ConditionFlashCorruption:
		to = StateErrorFlashOperation
	case emergency.ConditionTimeoutExceeded:
		to = StateErrorTimeout
	default:
		to = StateErrorHardwareFault
	}
	return m.Transition(to)
}

// errorStateFor maps a fault class to its lifecycle error state. Protocol
// and unknown classes land on the hardware fault state, the most
// conservative escalation.
func errorStateFor(class faults.Class) State {
	switch class {
	case faults.ClassCommunication:
		return StateErrorCommunication
	case faults.ClassFlash:
		return StateErrorFlashOperation
	case faults.ClassDataCorruption:
		return StateErrorDataCorruption
	case faults.ClassResource:
		return StateErrorResourceExhaustion
	case faults.ClassTimeout:
		return StateErrorTimeout
	default:
		return StateErrorHardwareFault
	}
}

// request queues a transition applied at the end of the current run cycle.
func (m *Machine) request(to State) {
	m.next = to
	m.changePending = true
}

// pollSession services the attached protocol session once, bounded by a
// short timeout so the run cycle never stalls.
func (m *Machine) pollSession() error {
	if m.rt.Session == nil {
		return nil
	}
	_, err := m.rt.Session.Poll(sessionPollMs)
	return err
}

func (m *Machine) handleStartup() error {
	m.request(StateTriggerDetect)
	return nil
}

func (m *Machine) handleTriggerDetect() error {
	m.request(StateBootloaderActive)
	return nil
}

func (m *Machine) handleBootloaderActive() error {
	m.request(StateTransportInit)
	return nil
}

func (m *Machine) handleTransportInit() error {
	if m.rt.Transport != nil && !m.rt.Transport.Initialized() {
		if err := m.rt.Transport.Init(); err != nil {
			return err
		}
	}
	m.request(StateHandshake)
	return nil
}

// handleHandshake waits for the host to complete the sync exchange. Without
// a session attached the state passes straight through.
func (m *Machine) handleHandshake() error {
	if m.rt.Session == nil {
		m.request(StateReady)
		return nil
	}
	if err := m.pollSession(); err != nil {
		return err
	}
	if m.rt.Session.Ready() {
		m.request(StateReady)
	}
	return nil
}

// handleReady idles until the host announces an upload.
func (m *Machine) handleReady() error {
	if m.rt.Session == nil {
		return nil
	}
	if err := m.pollSession(); err != nil {
		return err
	}
	if m.rt.Session.Upload().InProgress {
		m.request(StateReceiveHeader)
	}
	return nil
}

// handleReceiveHeader has its work already done by the session's
// UploadStart handler; it exists as a distinct lifecycle step so header
// problems surface before any data moves.
func (m *Machine) handleReceiveHeader() error {
	m.request(StateReceiveData)
	return nil
}

func (m *Machine) handleReceiveData() error {
	if m.rt.Session == nil {
		m.request(StateVerify)
		return nil
	}
	if err := m.pollSession(); err != nil {
		return err
	}
	if m.rt.Session.State() == protocol.StateUploadComplete {
		m.request(StateVerify)
	}
	return nil
}

func (m *Machine) handleVerify() error {
	m.request(StateProgram)
	return nil
}

// handleProgram flushes any partial staging buffer so the full image is
// committed before the bank switch.
func (m *Machine) handleProgram() error {
	if m.rt.Flash != nil {
		if err := m.rt.Flash.Flush(); err != nil {
			return err
		}
	}
	m.request(StateBankSwitch)
	return nil
}

func (m *Machine) handleBankSwitch() error {
	m.request(StateComplete)
	return nil
}

func (m *Machine) handleComplete() error {
	m.request(StateJumpApplication)
	return nil
}

func (m *Machine) handleErrorRetryable() error {
	m.request(StateRecoveryRetry)
	return nil
}

func (m *Machine) handleErrorAbort() error {
	m.request(StateRecoveryAbort)
	return nil
}

func (m *Machine) handleErrorResourceExhaustion() error {
	if m.rt.Resources != nil {
		m.rt.Resources.EmergencyCleanup()
	}
	m.request(StateRecoveryRetry)
	return nil
}

func (m *Machine) handleRecoveryRetry() error {
	m.request(StateReady)
	return nil
}

func (m *Machine) handleRecoveryAbort() error {
	m.request(StateJumpApplication)
	return nil
}

// handleJumpApplication releases everything still registered. On hardware
// the jump itself would follow; here the state is terminal.
func (m *Machine) handleJumpApplication() error {
	if m.rt.Resources != nil {
		m.rt.Resources.CleanupAll()
	}
	return nil
}

// SetEmergencyMode restricts transitions to error states and propagates the
// mode to the resource manager.
func (m *Machine) SetEmergencyMode(on bool) {
	m.emergencyMode = on
	if m.rt.Resources != nil {
		m.rt.Resources.SetEmergencyMode(on)
	}
}

// SetDebugMode enables transition and retry logging.
func (m *Machine) SetDebugMode(on bool) { m.debug = on }

// SetMaxStateRetries overrides the silent retry budget.
func (m *Machine) SetMaxStateRetries(n uint32) { m.maxStateRetries = n }

// CurrentState returns the state the machine is in.
func (m *Machine) CurrentState() State { return m.current }

// PreviousState returns the state before the last transition.
func (m *Machine) PreviousState() State { return m.previous }

// Done reports whether the machine reached its terminal state.
func (m *Machine) Done() bool { return m.current == StateJumpApplication }

// CanRecover reports whether the current state permits graceful recovery.
func (m *Machine) CanRecover() bool {
	if m.current >= stateCount {
		return false
	}
	spec := stateTable[m.current]
	return spec.allowsRetry && !spec.critical
}

// StateElapsed returns milliseconds spent in the current state.
func (m *Machine) StateElapsed() uint32 {
	return tick.Elapsed(m.entryTick, m.rt.Clock.Now())
}

// Stats summarizes machine activity for collaborator reporting.
type Stats struct {
	Current         State
	Previous        State
	ExecutionCount  uint32
	TransitionCount uint32
	RetryCount      uint32
	StateElapsedMs  uint32
	EmergencyMode   bool
}

// GetStats returns a snapshot of the machine counters.
func (m *Machine) GetStats() Stats {
	return Stats{
		Current:         m.current,
		Previous:        m.previous,
		ExecutionCount:  m.executionCount,
		TransitionCount: m.transitionCount,
		RetryCount:      m.retryCount,
		StateElapsedMs:  m.StateElapsed(),
		EmergencyMode:   m.emergencyMode,
	}
}
