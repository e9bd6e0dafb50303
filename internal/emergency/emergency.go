// Package emergency implements the last-resort shutdown path. Any layer
// can trigger an emergency; the shutdown sequence then runs its phases in
// strict order and must make progress even when individual phases fail.
package emergency

// Condition names what forced the emergency.
type Condition int

const (
	ConditionNone Condition = iota
	ConditionResourceExhaustion
	ConditionHardwareFault
	ConditionCommunicationFailure
	ConditionFlashCorruption
	ConditionTimeoutExceeded
	ConditionProtocolViolation
	ConditionWatchdogTrigger
	ConditionUserRequested
)

// String returns the condition's diagnostic name.
func (c Condition) String() string {
	switch c {
	case ConditionNone:
		return "NONE"
	case ConditionResourceExhaustion:
		return "RESOURCE_EXHAUSTION"
	case ConditionHardwareFault:
		return "HARDWARE_FAULT"
	case ConditionCommunicationFailure:
		return "COMMUNICATION_FAILURE"
	case ConditionFlashCorruption:
		return "FLASH_CORRUPTION"
	case ConditionTimeoutExceeded:
		return "TIMEOUT_EXCEEDED"
	case ConditionProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case ConditionWatchdogTrigger:
		return "WATCHDOG_TRIGGER"
	case ConditionUserRequested:
		return "USER_REQUESTED"
	default:
		return "UNKNOWN"
	}
}

// Phase is one step of the shutdown sequence.
type Phase int

const (
	PhaseDetect Phase = iota
	PhaseSignal
	PhaseCriticalCleanup
	PhaseHardwareSafeState
	PhaseDiagnostics
	PhaseFinalShutdown
)

// String returns the phase's diagnostic name.
func (p Phase) String() string {
	switch p {
	case PhaseDetect:
		return "DETECT"
	case PhaseSignal:
		return "SIGNAL"
	case PhaseCriticalCleanup:
		return "CRITICAL_CLEANUP"
	case PhaseHardwareSafeState:
		return "HARDWARE_SAFE_STATE"
	case PhaseDiagnostics:
		return "DIAGNOSTICS"
	case PhaseFinalShutdown:
		return "FINAL_SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Action is the recovery suggested for a condition.
type Action int

const (
	ActionNone Action = iota
	ActionRestartSession
	ActionResetProtocol
	ActionReinitTransport
	ActionFlushBuffers
	ActionHardwareReset
	ActionSafeMode
)

// String returns the action's diagnostic name.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "NONE"
	case ActionRestartSession:
		return "RESTART_SESSION"
	case ActionResetProtocol:
		return "RESET_PROTOCOL"
	case ActionReinitTransport:
		return "REINIT_TRANSPORT"
	case ActionFlushBuffers:
		return "FLUSH_BUFFERS"
	case ActionHardwareReset:
		return "HARDWARE_RESET"
	case ActionSafeMode:
		return "SAFE_MODE"
	default:
		return "UNKNOWN"
	}
}

// Snapshot captures system state at trigger time for post-mortem analysis.
type Snapshot struct {
	BootloaderState  string
	ProtocolState    string
	UptimeMs         uint32
	SessionElapsedMs uint32
	ActiveResources  int
}

// Context is one emergency with its diagnostics and recovery bookkeeping.
type Context struct {
	Condition Condition
	Phase     Phase
	Timestamp uint32
	Location  string
	Message   string

	Snapshot Snapshot

	RecoveryAction     Action
	RecoveryAttempted  bool
	RecoverySuccessful bool
	RecoveryAttempts   uint32
}
