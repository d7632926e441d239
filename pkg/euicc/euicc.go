/*
Package euicc implements the transport state machine that drives an eUICC
(embedded SIM) through a modem control channel.

The package turns logical smart-card operations (read capabilities, enumerate
SIM slots, open a logical channel, exchange APDUs, switch the active physical
slot) into an ordered stream of wire messages, and turns the modem's
asynchronous replies back into completion callbacks for a profile manager.

# Execution model

A Session is single-threaded and callback-chained: every public operation
returns immediately after enqueueing work on the session's task loop, and
completion is always delivered later via a continuation invoked on that loop.
Exactly one wire exchange is in flight at a time. The only points of
suspension are the wait for a wire reply and the fixed-delay timers used for
retry back-off and slot power-up settling.

# Bring-up

Initialization is a strict linear sequence with two joins:

	Uninitialized -> InitializeStarted -> ReadImei -> GetSubscriberReadyState
	  -> CheckSingleSim -> {SysQuery -> DeviceSlotMapping -> SlotInfo}
	  -> CloseChannel -> OpenChannel -> ReadEid -> EidReadComplete -> Started

Single-SIM hardware skips the slot enumeration branch; hardware without any
eSIM skips the channel steps. Any step failure tears the transport down and
restarts bring-up after a delay, up to a bound; past the bound the session
waits for a hardware-availability event instead of polling.
*/
package euicc

import (
	"errors"
	"time"
)

// Result is the outcome code delivered to queued-command continuations.
type Result int

const (
	ResultSuccess         Result = 0
	ResultProcessingError Result = -1
	ResultTransportError  Result = -2
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "Success"
	case ResultProcessingError:
		return "ProcessingError"
	case ResultTransportError:
		return "TransportError"
	default:
		return "Result(?)"
	}
}

// Sentinel errors surfaced to callers. Card-level status words are never
// translated into these; they travel verbatim inside apdu.Response.
var (
	// ErrNotReady is returned by SendApdus when the transport has not
	// completed bring-up. Callers must drive initialization first.
	ErrNotReady = errors.New("euicc: transport not started")
	// ErrProcessing marks a malformed or unexpected reply, or a violated
	// queue/ownership invariant.
	ErrProcessing = errors.New("euicc: processing error")
	// ErrTransport marks a connection-level failure.
	ErrTransport = errors.New("euicc: transport error")
)

// Err converts a Result into its sentinel error, nil for success.
func (r Result) Err() error {
	switch r {
	case ResultSuccess:
		return nil
	case ResultTransportError:
		return ErrTransport
	default:
		return ErrProcessing
	}
}

func resultFromErr(err error) Result {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, ErrTransport):
		return ResultTransportError
	default:
		return ResultProcessingError
	}
}

// Observer receives eUICC presence notifications. Physical slots are
// reported 1-indexed (hardware labelling); the logical slot (radio executor
// index) is 0-indexed. Callbacks are invoked from the session loop, never
// concurrently.
type Observer interface {
	// OnEuiccUpdated fires once per present eSIM slot when bring-up
	// completes, and when an event flow refreshes a slot's EID.
	OnEuiccUpdated(physicalSlot int, eid string)
	// OnEuiccRemoved fires when a slot that previously reported an eSIM no
	// longer does.
	OnEuiccRemoved(physicalSlot int)
	// OnLogicalSlotUpdated reports which physical slot is mapped to the
	// logical slot. mapped is false when no slot is active.
	OnLogicalSlotUpdated(physicalSlot int, logicalSlot int, mapped bool)
}

// AvailabilityWatcher is the hardware-ownership collaborator. The retry
// controller registers a one-shot callback once it judges the modem
// unresponsive rather than merely slow.
type AvailabilityWatcher interface {
	NotifyWhenAvailable(func())
}

const (
	// maxInitRetries bounds the timed bring-up retries before the session
	// demotes to event-based waiting.
	maxInitRetries = 5
	// initRetryDelay is the back-off between bring-up attempts.
	initRetryDelay = 10 * time.Second
	// slotSettleDelay gives a newly selected physical slot time to power up
	// before it will answer.
	slotSettleDelay = 2 * time.Second
	// defaultMtu is used until the open handshake negotiates a transfer size.
	defaultMtu = 256
)

// isdrAID is the application identifier of the ISD-R, the eUICC's profile
// management application (SGP.02 section 2.2.3).
var isdrAID = []byte{
	0xA0, 0x00, 0x00, 0x05, 0x59, 0x10, 0x10,
	0xFF, 0xFF, 0xFF, 0xFF, 0x89, 0x00, 0x00, 0x01, 0x00,
}

// channelGroup tags the logical channels this session opens so a stale
// channel from an unclean teardown can be released as a group.
const channelGroup = 1
