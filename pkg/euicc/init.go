package euicc

import (
	"fmt"

	"github.com/cardside/euicc/pkg/apdu"
	"github.com/cardside/euicc/pkg/mbim"
)

// Bring-up sequence. Each enter function moves the state machine one step
// and issues the wire exchange whose reply drives the next step. Any failure
// funnels into initStepFailed, which tears the transport down and schedules
// a retry.

// apduRequestOverhead is the frame header plus the channel and length fields
// of an APDU request; subtracting it from the negotiated transfer size gives
// the usable chunk size.
const apduRequestOverhead = mbim.HeaderSize + 8

func (s *Session) setInitState(next InitState) {
	if !initTransitionAllowed(s.state, next) {
		// The transition table is the contract; violating it is a bug in the
		// step handlers, not a runtime condition.
		panic(fmt.Sprintf("illegal state transition %s -> %s", s.state, next))
	}
	s.state = next
}

func (s *Session) startInitialization() {
	s.setInitState(StateInitializeStarted)

	if !s.connected {
		if err := s.dev.Connect(); err != nil {
			// No device node at all: retrying on a timer is pointless, wait
			// for the hardware to appear instead.
			s.retryInitialization(ResultTransportError)
			return
		}
		s.connected = true
	}

	req := mbim.OpenRequest{MaxTransfer: mbim.MaxFrameSize}
	s.transact(req.Encode(s.queue.allocateID()), mbim.MSG_OPEN, func(payload []byte, err error) {
		if err != nil {
			s.initStepFailed(err)
			return
		}
		m, derr := mbim.DecodeOpenResponse(payload)
		if derr != nil {
			s.initStepFailed(fmt.Errorf("%w: %v", ErrProcessing, derr))
			return
		}
		if serr := statusErr(m.Status); serr != nil {
			s.initStepFailed(serr)
			return
		}
		if mtu := int(m.MaxTransfer) - apduRequestOverhead; mtu > 0 {
			s.mtu = mtu
		} else {
			s.mtu = defaultMtu
		}
		s.enterReadImei()
	})
}

func (s *Session) enterReadImei() {
	s.setInitState(StateReadImei)
	s.transact(mbim.DeviceCapsRequest{}.Encode(s.queue.allocateID()), mbim.MSG_DEVICE_CAPS, func(payload []byte, err error) {
		if err != nil {
			s.initStepFailed(err)
			return
		}
		m, derr := mbim.DecodeDeviceCapsResponse(payload)
		if derr != nil {
			s.initStepFailed(fmt.Errorf("%w: %v", ErrProcessing, derr))
			return
		}
		if serr := statusErr(m.Status); serr != nil {
			s.initStepFailed(serr)
			return
		}
		s.imei = m.DeviceID
		s.enterGetSubscriberReadyState()
	})
}

func (s *Session) enterGetSubscriberReadyState() {
	s.setInitState(StateGetSubscriberReadyState)
	s.transact(mbim.SubscriberReadyRequest{}.Encode(s.queue.allocateID()), mbim.MSG_SUBSCRIBER_READY, func(payload []byte, err error) {
		if err != nil {
			s.initStepFailed(err)
			return
		}
		m, derr := mbim.DecodeSubscriberReadyResponse(payload)
		if derr != nil {
			s.initStepFailed(fmt.Errorf("%w: %v", ErrProcessing, derr))
			return
		}
		if serr := statusErr(m.Status); serr != nil {
			s.initStepFailed(serr)
			return
		}
		s.readyState = m.ReadyState
		s.enterCheckSingleSim()
	})
}

// enterCheckSingleSim probes the extension version. Devices below 2.0 cannot
// answer slot queries: they are treated as single-SIM with one pessimistically
// assumed eSIM slot, corrected later by the EID read.
func (s *Session) enterCheckSingleSim() {
	s.setInitState(StateCheckSingleSim)
	req := mbim.VersionRequest{HostVersion: mbim.Version20}
	s.transact(req.Encode(s.queue.allocateID()), mbim.MSG_VERSION, func(payload []byte, err error) {
		if err != nil {
			s.initStepFailed(err)
			return
		}
		m, derr := mbim.DecodeVersionResponse(payload)
		if derr != nil {
			s.initStepFailed(fmt.Errorf("%w: %v", ErrProcessing, derr))
			return
		}
		if serr := statusErr(m.Status); serr != nil {
			s.initStepFailed(serr)
			return
		}
		s.cardVer = fmt.Sprintf("%d.%d", m.DeviceVersion>>8, m.DeviceVersion&0xFF)
		s.singleSim = m.DeviceVersion < mbim.Version20

		if !s.singleSim {
			s.enterSysQuery()
			return
		}
		if s.readyState == mbim.READY_STATE_SIM_NOT_INSERTED {
			s.initStepFailed(fmt.Errorf("%w: no SIM in single-SIM device", ErrProcessing))
			return
		}
		s.slots.initSlotInfo(1, 1)
		s.slots.setActiveSlot(0)
		s.slots.setState(0, SlotStateActiveEsim)
		s.enterCloseChannel()
	})
}

func (s *Session) enterSysQuery() {
	s.setInitState(StateSysQuery)
	s.transact(mbim.SysCapsRequest{}.Encode(s.queue.allocateID()), mbim.MSG_SYS_CAPS, func(payload []byte, err error) {
		if err != nil {
			s.initStepFailed(err)
			return
		}
		m, derr := mbim.DecodeSysCapsResponse(payload)
		if derr != nil {
			s.initStepFailed(fmt.Errorf("%w: %v", ErrProcessing, derr))
			return
		}
		if serr := statusErr(m.Status); serr != nil {
			s.initStepFailed(serr)
			return
		}
		if m.SlotCount == 0 || m.SlotCount > 16 {
			s.initStepFailed(fmt.Errorf("%w: implausible slot count %d", ErrProcessing, m.SlotCount))
			return
		}
		s.slots.initSlotInfo(int(m.SlotCount), int(m.ExecutorCount))
		s.enterDeviceSlotMapping()
	})
}

func (s *Session) enterDeviceSlotMapping() {
	s.setInitState(StateDeviceSlotMapping)
	s.transact(mbim.SlotMappingsRequest{}.Encode(s.queue.allocateID()), mbim.MSG_DEVICE_SLOT_MAPPINGS, func(payload []byte, err error) {
		if err != nil {
			s.initStepFailed(err)
			return
		}
		m, derr := mbim.DecodeSlotMappingsResponse(payload)
		if derr != nil {
			s.initStepFailed(fmt.Errorf("%w: %v", ErrProcessing, derr))
			return
		}
		if serr := statusErr(m.Status); serr != nil {
			s.initStepFailed(serr)
			return
		}
		if len(m.Slots) == 0 || !s.slots.valid(int(m.Slots[0])) {
			s.initStepFailed(fmt.Errorf("%w: unusable slot mapping %v", ErrProcessing, m.Slots))
			return
		}
		s.slots.setActiveSlot(int(m.Slots[0]))
		s.enterSlotInfo()
	})
}

// enterSlotInfo queries every physical slot in turn, self-looping through
// StateSlotInfo once per slot.
func (s *Session) enterSlotInfo() {
	s.slotQuery = 0
	s.querySlotInfo()
}

func (s *Session) querySlotInfo() {
	s.setInitState(StateSlotInfo)
	req := mbim.SlotInfoRequest{Slot: uint32(s.slotQuery)}
	s.transact(req.Encode(s.queue.allocateID()), mbim.MSG_SLOT_INFO_STATUS, func(payload []byte, err error) {
		if err != nil {
			s.initStepFailed(err)
			return
		}
		m, derr := mbim.DecodeSlotInfoResponse(payload)
		if derr != nil {
			s.initStepFailed(fmt.Errorf("%w: %v", ErrProcessing, derr))
			return
		}
		if serr := statusErr(m.Status); serr != nil {
			s.initStepFailed(serr)
			return
		}
		s.slots.setState(int(m.Slot), slotStateFromWire(m.State))

		s.slotQuery++
		if s.slotQuery < s.slots.slotCount {
			s.querySlotInfo()
			return
		}
		s.enterCloseChannel()
	})
}

// enterCloseChannel releases any logical channel left over from an unclean
// previous run before opening a fresh one. Hardware without any eSIM skips
// the channel and EID steps entirely.
func (s *Session) enterCloseChannel() {
	s.setInitState(StateCloseChannel)

	if !s.slots.anyEuicc() {
		s.finishInit()
		return
	}

	req := mbim.CloseChannelRequest{Channel: s.channel, ChannelGroup: channelGroup}
	s.transact(req.Encode(s.queue.allocateID()), mbim.MSG_CLOSE_CHANNEL, func(payload []byte, err error) {
		if err != nil {
			s.initStepFailed(err)
			return
		}
		m, derr := mbim.DecodeCloseChannelResponse(payload)
		if derr != nil {
			s.initStepFailed(fmt.Errorf("%w: %v", ErrProcessing, derr))
			return
		}
		// "Operation not allowed" here means there was no stale channel to
		// close, which is the state we wanted.
		if m.Status != mbim.STATUS_SUCCESS && m.Status != mbim.STATUS_OPERATION_NOT_ALLOWED {
			s.initStepFailed(statusErr(m.Status))
			return
		}
		s.channel = 0
		s.enterOpenChannel()
	})
}

func (s *Session) enterOpenChannel() {
	s.setInitState(StateOpenChannel)
	req := mbim.OpenChannelRequest{AppID: isdrAID, ChannelGroup: channelGroup}
	s.transact(req.Encode(s.queue.allocateID()), mbim.MSG_OPEN_CHANNEL, func(payload []byte, err error) {
		if err != nil {
			s.initStepFailed(err)
			return
		}
		m, derr := mbim.DecodeOpenChannelResponse(payload)
		if derr != nil {
			s.initStepFailed(fmt.Errorf("%w: %v", ErrProcessing, derr))
			return
		}
		if serr := statusErr(m.Status); serr != nil {
			s.initStepFailed(serr)
			return
		}
		s.channel = m.Channel
		s.enterReadEid()
	})
}

func (s *Session) enterReadEid() {
	s.setInitState(StateReadEid)
	s.readEid(func(eid string, err error) {
		if err != nil {
			s.initStepFailed(err)
			return
		}
		s.completeEidRead(eid)
	})
}

// readEid issues GET DATA for the EID object on the open channel. It is
// shared by bring-up and the event flow.
func (s *Session) readEid(done func(eid string, err error)) {
	cls, err := apdu.NewInterindustryClass(false, apdu.SMNone, uint8(s.channel))
	if err != nil {
		done("", fmt.Errorf("%w: %v", ErrProcessing, err))
		return
	}
	cmd := apdu.NewCommand(cls, apdu.INS_GET_DATA, 0xBF, 0x3E, nil, apdu.MaxShortLe)
	s.exchangeApdu(cmd, func(resp apdu.Response, err error) {
		if err != nil {
			done("", err)
			return
		}
		if !resp.SW.IsSuccess() {
			done("", fmt.Errorf("%w: EID read rejected: %s", ErrProcessing, resp.SW))
			return
		}
		eid, perr := parseEID(resp.Data)
		if perr != nil {
			done("", fmt.Errorf("%w: %v", ErrProcessing, perr))
			return
		}
		done(eid, nil)
	})
}

func (s *Session) completeEidRead(eid string) {
	s.setInitState(StateEidReadComplete)
	active := s.slots.active()
	switch {
	case eid == "" && s.singleSim:
		// The pessimistic single-SIM assumption was wrong: the card has no
		// usable eUICC identity, so the slot is not an eSIM slot.
		s.slots.setState(active, SlotStateEmpty)
	case eid != "":
		s.slots.setEID(active, eid)
	}
	s.finishInit()
}

// finishInit transitions to Started, notifies observers, releases waiters,
// and lets queued commands flow.
func (s *Session) finishInit() {
	s.setInitState(StateStarted)
	s.retryCount = 0

	if s.obs != nil {
		for i := 0; i < s.slots.slotCount; i++ {
			if s.slots.isEuicc(i) {
				s.notified[i] = true
				s.obs.OnEuiccUpdated(i+1, s.slots.eid(i))
			} else if s.notified[i] {
				delete(s.notified, i)
				s.obs.OnEuiccRemoved(i + 1)
			}
		}
		if active := s.slots.active(); active >= 0 {
			s.obs.OnLogicalSlotUpdated(active+1, 0, true)
		}
	}

	s.completeInitWaiters(ResultSuccess)
	s.resume()
}

// retry controller

func (s *Session) initStepFailed(err error) {
	s.retryInitialization(resultFromErr(err))
}

// retryInitialization tears the transport down and either schedules a timed
// retry or, once the budget is spent (or immediately on a transport-level
// failure), fails all pending work and waits for hardware availability.
func (s *Session) retryInitialization(r Result) {
	s.teardown()

	if r == ResultTransportError {
		s.retryCount = maxInitRetries + 1
	} else {
		s.retryCount++
	}

	if s.retryCount <= maxInitRetries {
		s.after(initRetryDelay, func() {
			if s.state != StateUninitialized {
				return
			}
			s.startInitialization()
		})
		return
	}

	// Budget exhausted: the modem is gone, not slow. Fail everything that
	// was waiting and ask to be woken when the hardware returns.
	s.retryCount = 0
	s.queue.flush(ResultProcessingError)
	s.inFlight = false
	s.responses = nil
	s.completeInitWaiters(ResultProcessingError)
	if pe := s.pendingEvent; pe != nil {
		s.pendingEvent = nil
		s.eventDone(pe, ResultProcessingError)
	}
	if s.watcher != nil {
		s.watcher.NotifyWhenAvailable(func() {
			s.post(func() {
				if s.cancelled || s.state != StateUninitialized {
					return
				}
				s.startInitialization()
			})
		})
	}
}

// teardown drops the connection and resets all per-bring-up state. Bumping
// the epoch orphans every in-flight reply and timer. The command queue is
// preserved; entries fail only when the retry budget is exhausted.
func (s *Session) teardown() {
	s.epoch++
	s.inFlight = false
	s.channel = 0
	s.readyState = 0
	s.singleSim = false
	s.slotQuery = 0
	s.slots.reset()
	s.eventActive = false
	s.evStep = evIdle
	if s.connected {
		s.dev.Disconnect()
		s.connected = false
	}
	s.state = StateUninitialized
}
