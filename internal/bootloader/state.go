// Package bootloader implements the device lifecycle state machine that
// drives a firmware update session from power-on trigger detection through
// flash programming and the final jump into the application image.
//
// Each state carries a handler, a timeout budget and retry policy in a
// static table. Transitions are validated against an explicit adjacency
// table; anything not listed is rejected and recorded as a state violation
// rather than silently allowed.
package bootloader

// State identifies one lifecycle state.
type State uint8

const (
	StateStartup State = iota
	StateTriggerDetect
	StateBootloaderActive
	StateTransportInit
	StateHandshake
	StateReady
	StateReceiveHeader
	StateReceiveData
	StateVerify
	StateProgram
	StateBankSwitch
	StateComplete

	StateErrorCommunication
	StateErrorFlashOperation
	StateErrorDataCorruption
	StateErrorResourceExhaustion
	StateErrorTimeout
	StateErrorHardwareFault

	StateRecoveryRetry
	StateRecoveryAbort

	StateJumpApplication

	stateCount
)

var stateNames = [stateCount]string{
	StateStartup:                 "STARTUP",
	StateTriggerDetect:           "TRIGGER_DETECT",
	StateBootloaderActive:        "BOOTLOADER_ACTIVE",
	StateTransportInit:           "TRANSPORT_INIT",
	StateHandshake:               "HANDSHAKE",
	StateReady:                   "READY",
	StateReceiveHeader:           "RECEIVE_HEADER",
	StateReceiveData:             "RECEIVE_DATA",
	StateVerify:                  "VERIFY",
	StateProgram:                 "PROGRAM",
	StateBankSwitch:              "BANK_SWITCH",
	StateComplete:                "COMPLETE",
	StateErrorCommunication:      "ERROR_COMMUNICATION",
	StateErrorFlashOperation:     "ERROR_FLASH_OPERATION",
	StateErrorDataCorruption:     "ERROR_DATA_CORRUPTION",
	StateErrorResourceExhaustion: "ERROR_RESOURCE_EXHAUSTION",
	StateErrorTimeout:            "ERROR_TIMEOUT",
	StateErrorHardwareFault:      "ERROR_HARDWARE_FAULT",
	StateRecoveryRetry:           "RECOVERY_RETRY",
	StateRecoveryAbort:           "RECOVERY_ABORT",
	StateJumpApplication:         "JUMP_APPLICATION",
}

// String returns the lifecycle state name.
func (s State) String() string {
	if s >= stateCount {
		return "INVALID"
	}
	return stateNames[s]
}

// IsError reports whether s is one of the error family states.
func (s State) IsError() bool {
	return s >= StateErrorCommunication && s <= StateErrorHardwareFault
}

// IsRecovery reports whether s is a recovery state.
func (s State) IsRecovery() bool {
	return s == StateRecoveryRetry || s == StateRecoveryAbort
}

// IsOperational reports whether s is on the normal update path.
func (s State) IsOperational() bool {
	return s >= StateStartup && s <= StateComplete
}

// stateSpec describes one state's handler and timing policy. Critical
// states have no graceful continuation: a failure there cannot be recovered
// in place.
type stateSpec struct {
	handler     func(*Machine) error
	timeoutMs   uint32
	warningMs   uint32
	allowsRetry bool
	critical    bool
}

var stateTable = [stateCount]stateSpec{
	StateStartup:                 {(*Machine).handleStartup, 1000, 800, false, false},
	StateTriggerDetect:           {(*Machine).handleTriggerDetect, 5000, 4000, true, false},
	StateBootloaderActive:        {(*Machine).handleBootloaderActive, 2000, 1500, false, false},
	StateTransportInit:           {(*Machine).handleTransportInit, 3000, 2000, true, false},
	StateHandshake:               {(*Machine).handleHandshake, 10000, 7000, true, false},
	StateReady:                   {(*Machine).handleReady, 30000, 25000, false, false},
	StateReceiveHeader:           {(*Machine).handleReceiveHeader, 15000, 12000, true, false},
	StateReceiveData:             {(*Machine).handleReceiveData, 60000, 50000, true, false},
	StateVerify:                  {(*Machine).handleVerify, 5000, 4000, true, true},
	StateProgram:                 {(*Machine).handleProgram, 30000, 25000, true, true},
	StateBankSwitch:              {(*Machine).handleBankSwitch, 10000, 8000, true, true},
	StateComplete:                {(*Machine).handleComplete, 2000, 1500, false, false},
	StateErrorCommunication:      {(*Machine).handleErrorRetryable, 5000, 4000, true, false},
	StateErrorFlashOperation:     {(*Machine).handleErrorAbort, 5000, 4000, true, true},
	StateErrorDataCorruption:     {(*Machine).handleErrorRetryable, 5000, 4000, true, false},
	StateErrorResourceExhaustion: {(*Machine).handleErrorResourceExhaustion, 5000, 4000, true, true},
	StateErrorTimeout:            {(*Machine).handleErrorRetryable, 5000, 4000, true, false},
	StateErrorHardwareFault:      {(*Machine).handleErrorAbort, 5000, 4000, false, true},
	StateRecoveryRetry:           {(*Machine).handleRecoveryRetry, 3000, 2000, false, false},
	StateRecoveryAbort:           {(*Machine).handleRecoveryAbort, 2000, 1500, false, false},
	StateJumpApplication:         {(*Machine).handleJumpApplication, 1000, 800, false, false},
}

// ValidTransition reports whether the adjacency table permits from -> to.
// Escalation into any error state is always permitted so a fault can be
// reported from anywhere.
func ValidTransition(from, to State) bool {
	if from >= stateCount || to >= stateCount {
		return false
	}
	if to.IsError() {
		return true
	}
	switch from {
	case StateStartup:
		return to == StateTriggerDetect
	case StateTriggerDetect:
		return to == StateBootloaderActive
	case StateBootloaderActive:
		return to == StateTransportInit
	case StateTransportInit:
		return to == StateHandshake
	case StateHandshake:
		return to == StateReady
	case StateReady:
		return to == StateReceiveHeader
	case StateReceiveHeader:
		return to == StateReceiveData
	case StateReceiveData:
		return to == StateVerify
	case StateVerify:
		return to == StateProgram
	case StateProgram:
		return to == StateBankSwitch
	case StateBankSwitch:
		return to == StateComplete
	case StateComplete:
		return to == StateJumpApplication
	case StateErrorCommunication, StateErrorFlashOperation,
		StateErrorDataCorruption, StateErrorResourceExhaustion,
		StateErrorTimeout, StateErrorHardwareFault:
		return to == StateRecoveryRetry || to == StateRecoveryAbort
	case StateRecoveryRetry:
		return to == StateReady || to == StateRecoveryAbort
	case StateRecoveryAbort:
		return to == StateJumpApplication
	case StateJumpApplication:
		return false
	}
	return false
}
