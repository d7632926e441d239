package euicc

import (
	"fmt"
	"time"

	"github.com/cardside/euicc/pkg/apdu"
	"github.com/cardside/euicc/pkg/mbim"
)

// Session drives one modem control channel. All state is confined to the
// task loop started by Start; public methods post work onto the loop and
// deliver outcomes through continuations invoked there. Callers must not
// block inside continuations.
type Session struct {
	dev     mbim.Device
	obs     Observer
	watcher AvailabilityWatcher

	tasks   chan func()
	stopped chan struct{}

	// afterFunc schedules a raw timer; tests replace it to run timers
	// deterministically. Use after, not this field, inside the session.
	afterFunc func(time.Duration, func())

	state      InitState
	epoch      int
	cancelled  bool
	connected  bool
	retryCount int

	queue    *txQueue
	slots    slotTable
	inFlight bool
	batchSeq int

	mtu        int
	channel    uint32
	imei       string
	cardVer    string
	readyState mbim.ReadyState
	singleSim  bool
	slotQuery  int

	// responses accumulates parsed replies for the in-progress SendApdus
	// batch; the final continuation moves them to the caller and clears.
	responses []apdu.Response

	initWaiters []func(Result)

	evStep       eventStep
	eventActive  bool
	pendingEvent *pendingEvent
	notified     map[int]bool
}

// NewSession creates a session over the given device. obs and watcher may be
// nil; a nil watcher disables the hardware-availability fallback after the
// retry budget is exhausted.
func NewSession(dev mbim.Device, obs Observer, watcher AvailabilityWatcher) *Session {
	return &Session{
		dev:       dev,
		obs:       obs,
		watcher:   watcher,
		tasks:     make(chan func(), 128),
		stopped:   make(chan struct{}),
		afterFunc: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		queue:     newTxQueue(),
		slots:     newSlotTable(),
		mtu:       defaultMtu,
		notified:  make(map[int]bool),
	}
}

// Start runs the task loop. It must be called exactly once before any other
// method.
func (s *Session) Start() {
	go s.loop()
}

// Stop cancels the session. Pending continuations are dropped, not failed;
// the caller is shutting down and no longer listening.
func (s *Session) Stop() {
	s.post(func() {
		if s.cancelled {
			return
		}
		s.cancelled = true
		if s.connected {
			s.dev.Disconnect()
			s.connected = false
		}
		close(s.stopped)
	})
}

func (s *Session) loop() {
	for {
		select {
		case f := <-s.tasks:
			f()
		case <-s.stopped:
			return
		}
	}
}

func (s *Session) post(f func()) {
	select {
	case s.tasks <- f:
	case <-s.stopped:
	}
}

// after schedules f on the task loop. The timer is bound to the current
// bring-up epoch: if the transport is torn down before it fires, f is
// dropped so a stale timer cannot act on a rebuilt session.
func (s *Session) after(d time.Duration, f func()) {
	epoch := s.epoch
	s.afterFunc(d, func() {
		s.post(func() {
			if s.cancelled || s.epoch != epoch {
				return
			}
			f()
		})
	})
}

// Initialize starts bring-up if needed and invokes done with the outcome of
// the attempt that completes it. Calling it while already started succeeds
// immediately; calling it during a running bring-up joins the waiters.
func (s *Session) Initialize(done func(Result)) {
	s.post(func() {
		if s.cancelled {
			return
		}
		if s.state == StateStarted {
			if done != nil {
				done(ResultSuccess)
			}
			return
		}
		if done != nil {
			s.initWaiters = append(s.initWaiters, done)
		}
		if s.state == StateUninitialized {
			s.startInitialization()
		}
	})
}

func (s *Session) completeInitWaiters(r Result) {
	waiters := s.initWaiters
	s.initWaiters = nil
	for _, w := range waiters {
		w(r)
	}
}

// SendApdus queues the commands as one batch and invokes done once with all
// responses in order, or with the first error. Card-level status words are
// not errors; they are delivered verbatim inside the responses. Fails with
// ErrNotReady when bring-up has not completed.
func (s *Session) SendApdus(cmds []*apdu.Command, done func([]apdu.Response, error)) {
	s.post(func() {
		if s.cancelled {
			return
		}
		if s.state != StateStarted {
			if done != nil {
				done(nil, ErrNotReady)
			}
			return
		}
		if len(cmds) == 0 {
			if done != nil {
				done(nil, nil)
			}
			return
		}

		s.batchSeq++
		batch := s.batchSeq
		for i, cmd := range cmds {
			cont := func(Result) {}
			if i == len(cmds)-1 {
				cont = func(r Result) {
					resp := s.responses
					s.responses = nil
					if done == nil {
						return
					}
					if r != ResultSuccess {
						done(nil, r.Err())
						return
					}
					done(resp, nil)
				}
			}
			s.queue.enqueue(&apduCommand{batch: batch, cmd: cmd, done: cont})
		}
		s.dispatchQueue()
	})
}

// StoreAndSetActiveSlot queues a switch of the logical mapping to the given
// physical slot (1-indexed), remembering the current mapping for a later
// RestoreActiveSlot. Bring-up is started first if needed.
func (s *Session) StoreAndSetActiveSlot(physicalSlot int, done func(Result)) {
	s.post(func() {
		if s.cancelled {
			return
		}
		s.whenStarted(done, func() {
			target := physicalSlot - 1
			if !s.slots.valid(target) {
				if done != nil {
					done(ResultProcessingError)
				}
				return
			}
			s.queue.enqueue(&switchSlotCommand{physicalSlot: target, done: done})
			s.dispatchQueue()
		})
	})
}

// RestoreActiveSlot queues a switch back to the slot remembered by the last
// StoreAndSetActiveSlot.
func (s *Session) RestoreActiveSlot(done func(Result)) {
	s.post(func() {
		if s.cancelled {
			return
		}
		s.whenStarted(done, func() {
			s.queue.enqueue(&switchSlotCommand{restore: true, done: done})
			s.dispatchQueue()
		})
	})
}

// whenStarted runs f now if the transport is started, or after the current
// or newly triggered bring-up completes. fail receives the bring-up result
// when it does not succeed.
func (s *Session) whenStarted(fail func(Result), f func()) {
	if s.state == StateStarted {
		f()
		return
	}
	s.initWaiters = append(s.initWaiters, func(r Result) {
		if r != ResultSuccess {
			if fail != nil {
				fail(r)
			}
			return
		}
		f()
	})
	if s.state == StateUninitialized {
		s.startInitialization()
	}
}

// queue dispatch

// resume hands the wire to whoever may use it next: a parked event flow
// first, then the queue head. Events and queued commands share the single
// in-flight exchange, so neither may start while the other holds it.
func (s *Session) resume() {
	if s.state != StateStarted || s.inFlight || s.eventActive {
		return
	}
	if pe := s.pendingEvent; pe != nil {
		s.pendingEvent = nil
		s.startEvent(pe)
		return
	}
	s.dispatchQueue()
}

func (s *Session) dispatchQueue() {
	if s.inFlight || s.eventActive || s.state != StateStarted {
		return
	}
	e := s.queue.peek()
	if e == nil {
		return
	}
	s.inFlight = true
	switch c := e.cmd.(type) {
	case *apduCommand:
		s.dispatchApdu(c)
	case *switchSlotCommand:
		s.dispatchSwitchSlot(e, c)
	}
}

// finishHead pops and completes the head entry, then releases the wire.
func (s *Session) finishHead(r Result) {
	s.queue.popAndComplete(r)
	s.inFlight = false
	s.resume()
}

func (s *Session) dispatchApdu(c *apduCommand) {
	s.exchangeApdu(c.cmd, func(resp apdu.Response, err error) {
		if err != nil {
			s.failBatch(c.batch, resultFromErr(err))
			return
		}
		s.responses = append(s.responses, resp)
		s.finishHead(ResultSuccess)
	})
}

// failBatch fails the head entry and every following entry of the same
// SendApdus batch, so a partially transmitted batch never delivers a
// truncated response set.
func (s *Session) failBatch(batch int, r Result) {
	s.queue.popAndComplete(r)
	for {
		e := s.queue.peek()
		if e == nil {
			break
		}
		ac, ok := e.cmd.(*apduCommand)
		if !ok || ac.batch != batch {
			break
		}
		s.queue.popAndComplete(r)
	}
	s.inFlight = false
	s.resume()
}

func (s *Session) dispatchSwitchSlot(e *txEntry, c *switchSlotCommand) {
	target := c.physicalSlot
	if c.restore {
		stored, ok := s.slots.stored()
		if !ok {
			s.finishHead(ResultProcessingError)
			return
		}
		target = stored
	} else {
		s.slots.rememberActive()
	}

	req := mbim.SetSlotMappingsRequest{Slots: []uint32{uint32(target)}}
	s.transact(req.Encode(e.id), mbim.MSG_SET_SLOT_MAPPINGS, func(payload []byte, err error) {
		if err != nil {
			// A mapping change that fails on the wire leaves the modem in
			// an unknown state; rebuild the transport. The entry stays
			// queued and is re-dispatched after re-initialization, or
			// flushed if the retry budget runs out.
			s.retryInitialization(resultFromErr(err))
			return
		}
		m, derr := mbim.DecodeSlotMappingsResponse(payload)
		if derr != nil {
			s.retryInitialization(ResultProcessingError)
			return
		}
		if serr := statusErr(m.Status); serr != nil {
			s.retryInitialization(ResultProcessingError)
			return
		}
		s.slots.setActiveSlot(target)
		if c.restore {
			s.slots.clearStored()
		}
		if s.obs != nil {
			s.obs.OnLogicalSlotUpdated(target+1, 0, true)
		}
		// The newly mapped slot needs power-up time before it answers.
		s.after(slotSettleDelay, func() {
			s.finishHead(ResultSuccess)
		})
	})
}

// wire plumbing

// transact sends one frame and delivers the decoded payload of the reply on
// the task loop. Replies from a torn-down epoch are dropped. A channel-level
// failure is reported as ErrProcessing: the retry controller treats it as a
// recoverable modem fault, while a failure to open the device at all
// (Connect) is the transport-level case.
func (s *Session) transact(frame []byte, want mbim.MessageType, done func(payload []byte, err error)) {
	epoch := s.epoch
	s.dev.Transact(frame, func(resp []byte, err error) {
		s.post(func() {
			if s.cancelled || s.epoch != epoch {
				return
			}
			if err != nil {
				done(nil, fmt.Errorf("%w: %v", ErrProcessing, err))
				return
			}
			h, payload, perr := mbim.ParseFrame(resp)
			if perr != nil {
				done(nil, fmt.Errorf("%w: %v", ErrProcessing, perr))
				return
			}
			if !h.Type.IsResponse() || h.Type.Request() != want {
				done(nil, fmt.Errorf("%w: reply type 0x%X to request 0x%X",
					ErrProcessing, uint32(h.Type), uint32(want)))
				return
			}
			done(payload, nil)
		})
	})
}

func statusErr(st mbim.Status) error {
	if st == mbim.STATUS_SUCCESS {
		return nil
	}
	return fmt.Errorf("%w: device reported %s", ErrProcessing, st)
}

// exchangeApdu runs one logical APDU exchange: fragment the command to the
// negotiated MTU, push the chunks, then drain card continuations until the
// response is complete.
func (s *Session) exchangeApdu(cmd *apdu.Command, done func(apdu.Response, error)) {
	frag, err := apdu.NewFragmenter(cmd, s.mtu)
	if err != nil {
		done(apdu.Response{}, fmt.Errorf("%w: %v", ErrProcessing, err))
		return
	}
	s.apduRound(frag, apdu.NewAccumulator(cmd.Class), done)
}

func (s *Session) apduRound(frag *apdu.Fragmenter, acc *apdu.Accumulator, done func(apdu.Response, error)) {
	chunk, last := frag.Next()
	req := mbim.ApduRequest{Channel: s.channel, Data: chunk}
	s.transact(req.Encode(s.queue.allocateID()), mbim.MSG_APDU, func(payload []byte, err error) {
		if err != nil {
			done(apdu.Response{}, err)
			return
		}
		m, derr := mbim.DecodeApduResponse(payload)
		if derr != nil {
			done(apdu.Response{}, fmt.Errorf("%w: %v", ErrProcessing, derr))
			return
		}
		if serr := statusErr(m.Status); serr != nil {
			done(apdu.Response{}, serr)
			return
		}

		// Replies to non-final chunks are transport acknowledgements; only
		// the final chunk's reply carries card data and a status word.
		if last {
			r, perr := apdu.ParseResponse(m.Payload)
			if perr != nil {
				done(apdu.Response{}, fmt.Errorf("%w: %v", ErrProcessing, perr))
				return
			}
			acc.AbsorbResponse(r)
		}

		switch apdu.Step(frag, acc) {
		case apdu.OutcomeMoreFragmentsToSend:
			s.apduRound(frag, acc, done)
		case apdu.OutcomeContinuationNeeded:
			cf, cerr := apdu.NewFragmenter(acc.ContinuationCommand(), s.mtu)
			if cerr != nil {
				done(apdu.Response{}, fmt.Errorf("%w: %v", ErrProcessing, cerr))
				return
			}
			s.apduRound(cf, acc, done)
		case apdu.OutcomeComplete:
			done(acc.Response(), nil)
		}
	})
}

// accessors, valid once the corresponding bring-up step has completed;
// read them from continuations for a consistent view.

// GetImei returns the device identity read during bring-up.
func (s *Session) GetImei() string {
	return s.imei
}

// GetCardVersion returns the control-protocol version reported by the modem,
// formatted major.minor.
func (s *Session) GetCardVersion() string {
	return s.cardVer
}

// GetEidForSlot returns the cached EID for a physical slot (1-indexed), or
// "" when none has been read.
func (s *Session) GetEidForSlot(physicalSlot int) string {
	return s.slots.eid(physicalSlot - 1)
}

// SlotCount returns the number of physical slots discovered.
func (s *Session) SlotCount() int {
	return s.slots.slotCount
}

// SlotStateOf returns the state of a physical slot (1-indexed).
func (s *Session) SlotStateOf(physicalSlot int) SlotState {
	return s.slots.state(physicalSlot - 1)
}

// ActiveSlot returns the physical slot (1-indexed) currently mapped to the
// logical slot, or 0 when none.
func (s *Session) ActiveSlot() int {
	if s.slots.active() < 0 {
		return 0
	}
	return s.slots.active() + 1
}

// State returns the bring-up state.
func (s *Session) State() InitState {
	return s.state
}
