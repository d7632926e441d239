package apdu

import (
	"bytes"
	"fmt"
)

// FRAGMENTATION & REASSEMBLY:
//
// The modem transport negotiates a maximum transfer unit per exchange. An
// encoded command longer than the MTU is split into chunks; the transport
// sends them in order and only the reply to the final chunk carries the
// card's real response. In the other direction, the card may hold more
// response data than one reply carries: it answers 61XX, and the transport
// must issue GET RESPONSE (on the same logical channel, so the original CLA
// is reused) until the trailer stops signalling a continuation.
//
// Two conditions look similar but must never be conflated:
//   - OutcomeMoreFragmentsToSend: OUR command still has chunks to push.
//   - OutcomeContinuationNeeded:  the CARD holds more response data.
// The first continues the Fragmenter sequence; the second synthesizes a new
// GET RESPONSE command within the same logical exchange.

// Outcome reports what the transport must do next after processing a reply.
type Outcome int

const (
	// OutcomeMoreFragmentsToSend means the command fragment sequence is not
	// exhausted; send the next chunk.
	OutcomeMoreFragmentsToSend Outcome = iota
	// OutcomeContinuationNeeded means the card signalled 61XX; send a
	// GET RESPONSE built by Accumulator.ContinuationCommand.
	OutcomeContinuationNeeded
	// OutcomeComplete means the logical exchange is finished and the
	// accumulated Response is ready.
	OutcomeComplete
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMoreFragmentsToSend:
		return "MoreFragmentsToSend"
	case OutcomeContinuationNeeded:
		return "ContinuationNeeded"
	case OutcomeComplete:
		return "Complete"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Fragmenter is a finite, non-restartable sequence of wire chunks for one
// encoded command. It is consumed exactly once per logical send.
type Fragmenter struct {
	raw []byte
	off int
	mtu int
}

// NewFragmenter encodes the command and prepares its chunk sequence.
// The MTU is the transport's negotiated maximum transfer size.
func NewFragmenter(cmd *Command, mtu int) (*Fragmenter, error) {
	if mtu < 1 {
		return nil, fmt.Errorf("invalid max transfer size %d", mtu)
	}
	raw, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}
	return &Fragmenter{raw: raw, mtu: mtu}, nil
}

// Next returns the next chunk and whether it is the final one. The final
// chunk is the one whose reply carries the card's response; replies to
// earlier chunks are transport-level acknowledgements only.
// Next returns nil after the sequence is exhausted.
func (f *Fragmenter) Next() (chunk []byte, last bool) {
	if f.off >= len(f.raw) {
		return nil, true
	}

	end := f.off + f.mtu
	if end >= len(f.raw) {
		end = len(f.raw)
		last = true
	}

	chunk = f.raw[f.off:end]
	f.off = end
	return chunk, last
}

// Remaining reports whether chunks are still pending.
func (f *Fragmenter) Remaining() bool {
	return f.off < len(f.raw)
}

// Size returns the total encoded command length.
func (f *Fragmenter) Size() int {
	return len(f.raw)
}

// Accumulator reassembles one logical response across wire fragments and
// card-initiated 61XX continuations. It is owned by the in-flight command;
// once complete, the accumulated Response is moved to the caller and the
// accumulator is discarded.
type Accumulator struct {
	cls Class
	buf bytes.Buffer
	sw  StatusWord
}

// NewAccumulator creates an accumulator for an exchange initiated with the
// given class byte. Continuation commands reuse it so they stay on the same
// logical channel.
func NewAccumulator(cls Class) *Accumulator {
	return &Accumulator{cls: cls}
}

// Absorb appends one reply fragment and records its status trailer.
func (a *Accumulator) Absorb(data []byte, sw1, sw2 byte) {
	a.buf.Write(data)
	a.sw = NewStatusWord(sw1, sw2)
}

// AbsorbResponse appends a parsed reply.
func (a *Accumulator) AbsorbResponse(r Response) {
	a.buf.Write(r.Data)
	a.sw = r.SW
}

// MorePayloadIncoming is true while the card signals a continuation (61XX).
func (a *Accumulator) MorePayloadIncoming() bool {
	return a.sw.HasMoreData()
}

// ContinuationCommand synthesizes the GET RESPONSE command that drains the
// pending bytes. The original class byte is reused so the request stays on
// the logical channel of the initiating command; chaining is cleared since
// GET RESPONSE is always a standalone transmission.
func (a *Accumulator) ContinuationCommand() *Command {
	cls := a.cls
	cls.IsChained = false

	le := int(a.sw.SW2())
	if le == 0 {
		le = MaxShortLe
	}

	return NewCommand(cls, INS_GET_RESPONSE, 0x00, 0x00, nil, le)
}

// Response moves the accumulated payload out. The accumulator is reset so a
// stale exchange can never leak bytes into a later one.
func (a *Accumulator) Response() Response {
	data := make([]byte, a.buf.Len())
	copy(data, a.buf.Bytes())
	a.buf.Reset()
	return Response{Data: data, SW: a.sw}
}

// Len returns the number of payload bytes accumulated so far.
func (a *Accumulator) Len() int {
	return a.buf.Len()
}

// Step decides the next transport action for an in-flight exchange: pending
// command fragments take precedence, then card continuations, then done.
func Step(f *Fragmenter, a *Accumulator) Outcome {
	if f != nil && f.Remaining() {
		return OutcomeMoreFragmentsToSend
	}
	if a != nil && a.MorePayloadIncoming() {
		return OutcomeContinuationNeeded
	}
	return OutcomeComplete
}
