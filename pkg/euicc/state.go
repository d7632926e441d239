package euicc

import "fmt"

// InitState is the bring-up state machine position. Transitions are driven
// by wire-reply handlers; the allowed-transition table below is the contract
// and setInitState enforces it.
type InitState int

const (
	StateUninitialized InitState = iota
	StateInitializeStarted
	StateReadImei
	StateGetSubscriberReadyState
	StateCheckSingleSim
	StateSysQuery
	StateDeviceSlotMapping
	StateSlotInfo
	StateCloseChannel
	StateOpenChannel
	StateReadEid
	StateEidReadComplete
	StateStarted
)

func (s InitState) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateInitializeStarted:
		return "InitializeStarted"
	case StateReadImei:
		return "ReadImei"
	case StateGetSubscriberReadyState:
		return "GetSubscriberReadyState"
	case StateCheckSingleSim:
		return "CheckSingleSim"
	case StateSysQuery:
		return "SysQuery"
	case StateDeviceSlotMapping:
		return "DeviceSlotMapping"
	case StateSlotInfo:
		return "SlotInfo"
	case StateCloseChannel:
		return "CloseChannel"
	case StateOpenChannel:
		return "OpenChannel"
	case StateReadEid:
		return "ReadEid"
	case StateEidReadComplete:
		return "EidReadComplete"
	case StateStarted:
		return "Started"
	default:
		return fmt.Sprintf("InitState(%d)", int(s))
	}
}

// initTransitions lists the legal forward edges. Every state may additionally
// fall back to Uninitialized on teardown. SlotInfo self-loops once per slot;
// CheckSingleSim jumps straight to CloseChannel on single-SIM hardware, and
// CloseChannel jumps to Started when no slot holds an eSIM.
var initTransitions = map[InitState][]InitState{
	StateUninitialized:           {StateInitializeStarted},
	StateInitializeStarted:       {StateReadImei},
	StateReadImei:                {StateGetSubscriberReadyState},
	StateGetSubscriberReadyState: {StateCheckSingleSim},
	StateCheckSingleSim:          {StateSysQuery, StateCloseChannel},
	StateSysQuery:                {StateDeviceSlotMapping},
	StateDeviceSlotMapping:       {StateSlotInfo},
	StateSlotInfo:                {StateSlotInfo, StateCloseChannel},
	StateCloseChannel:            {StateOpenChannel, StateStarted},
	StateOpenChannel:             {StateReadEid},
	StateReadEid:                 {StateEidReadComplete},
	StateEidReadComplete:         {StateStarted},
	StateStarted:                 {},
}

func initTransitionAllowed(from, to InitState) bool {
	if to == StateUninitialized {
		return true
	}
	for _, next := range initTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EventPhase selects which part of the event flow to run.
type EventPhase int

const (
	// PhaseStart runs the full chain: refresh device identity and slot
	// mappings, switch to the event's slot if needed, open a channel, and
	// read the EID.
	PhaseStart EventPhase = iota
	// PhasePendingNotifications reuses the current mapping: cycle the
	// channel and re-read the EID only.
	PhasePendingNotifications
	// PhaseEnd closes the channel and restores the remembered mapping.
	PhaseEnd
)

func (p EventPhase) String() string {
	switch p {
	case PhaseStart:
		return "Start"
	case PhasePendingNotifications:
		return "PendingNotifications"
	case PhaseEnd:
		return "End"
	default:
		return "EventPhase(?)"
	}
}

// EuiccEvent asks the session to run an event flow against a physical slot
// (1-indexed). Slot is ignored for PhasePendingNotifications and PhaseEnd,
// which operate on the current mapping.
type EuiccEvent struct {
	Phase EventPhase
	Slot  int
}

// eventStep is the position inside a running event flow.
type eventStep int

const (
	evIdle eventStep = iota
	evGetDevice
	evGetSlotMapping
	evGetSlotInfo
	evSetSlotMapping
	evCloseChannel
	evOpenChannel
	evGetEid
	evRestoreMapping
	evDone
)

func (s eventStep) String() string {
	switch s {
	case evIdle:
		return "Idle"
	case evGetDevice:
		return "GetDevice"
	case evGetSlotMapping:
		return "GetSlotMapping"
	case evGetSlotInfo:
		return "GetSlotInfo"
	case evSetSlotMapping:
		return "SetSlotMapping"
	case evCloseChannel:
		return "CloseChannel"
	case evOpenChannel:
		return "OpenChannel"
	case evGetEid:
		return "GetEid"
	case evRestoreMapping:
		return "RestoreMapping"
	case evDone:
		return "Done"
	default:
		return "eventStep(?)"
	}
}
