package euicc

import (
	"fmt"

	"github.com/cardside/euicc/pkg/mbim"
)

// Event flow. A profile-manager event (download about to start, pending
// notifications to drain, operation finished) needs the transport pointed at
// a specific slot with a fresh channel. The flow runs outside the command
// queue: it owns the transport exclusively until it completes.

type pendingEvent struct {
	event EuiccEvent
	done  func(Result)
}

// ProcessEuiccEvent runs the event flow for ev and reports the outcome via
// done. Only one event may be active or pending at a time; a second request
// fails with ProcessingError. If the transport is down, the event is parked
// and re-run once bring-up completes.
func (s *Session) ProcessEuiccEvent(ev EuiccEvent, done func(Result)) {
	s.post(func() {
		if s.cancelled {
			return
		}
		if s.eventActive || s.pendingEvent != nil {
			if done != nil {
				done(ResultProcessingError)
			}
			return
		}
		pe := &pendingEvent{event: ev, done: done}
		if s.state != StateStarted {
			s.pendingEvent = pe
			if s.state == StateUninitialized {
				s.startInitialization()
			}
			return
		}
		if s.inFlight {
			// The queue head holds the wire; the flow starts once it
			// completes.
			s.pendingEvent = pe
			return
		}
		s.startEvent(pe)
	})
}

func (s *Session) startEvent(pe *pendingEvent) {
	s.eventActive = true
	switch pe.event.Phase {
	case PhaseStart:
		s.evGetDeviceStep(pe)
	case PhasePendingNotifications:
		// The mapping is already where the previous Start phase left it;
		// only the channel needs cycling for a fresh card context.
		s.evCloseChannelStep(pe)
	case PhaseEnd:
		s.evEndStep(pe)
	default:
		s.eventDone(pe, ResultProcessingError)
	}
}

func (s *Session) eventDone(pe *pendingEvent, r Result) {
	s.eventActive = false
	s.evStep = evDone
	if pe.done != nil {
		pe.done(r)
	}
	s.resume()
}

// eventFailed parks the event and hands control to the retry controller; a
// successful re-initialization re-runs the event from its first step.
func (s *Session) eventFailed(pe *pendingEvent, err error) {
	s.pendingEvent = pe
	s.retryInitialization(resultFromErr(err))
}

func (s *Session) evGetDeviceStep(pe *pendingEvent) {
	s.evStep = evGetDevice
	s.transact(mbim.DeviceCapsRequest{}.Encode(s.queue.allocateID()), mbim.MSG_DEVICE_CAPS, func(payload []byte, err error) {
		if err != nil {
			s.eventFailed(pe, err)
			return
		}
		m, derr := mbim.DecodeDeviceCapsResponse(payload)
		if derr != nil {
			s.eventFailed(pe, fmt.Errorf("%w: %v", ErrProcessing, derr))
			return
		}
		if serr := statusErr(m.Status); serr != nil {
			s.eventFailed(pe, serr)
			return
		}
		s.imei = m.DeviceID
		s.evGetSlotMappingStep(pe)
	})
}

func (s *Session) evGetSlotMappingStep(pe *pendingEvent) {
	s.evStep = evGetSlotMapping
	s.transact(mbim.SlotMappingsRequest{}.Encode(s.queue.allocateID()), mbim.MSG_DEVICE_SLOT_MAPPINGS, func(payload []byte, err error) {
		if err != nil {
			s.eventFailed(pe, err)
			return
		}
		m, derr := mbim.DecodeSlotMappingsResponse(payload)
		if derr != nil {
			s.eventFailed(pe, fmt.Errorf("%w: %v", ErrProcessing, derr))
			return
		}
		if serr := statusErr(m.Status); serr != nil {
			s.eventFailed(pe, serr)
			return
		}
		if len(m.Slots) == 0 || !s.slots.valid(int(m.Slots[0])) {
			s.eventFailed(pe, fmt.Errorf("%w: unusable slot mapping %v", ErrProcessing, m.Slots))
			return
		}
		s.slots.setActiveSlot(int(m.Slots[0]))
		// Remember where the radio was so PhaseEnd can put it back.
		s.slots.rememberActive()
		s.evGetSlotInfoStep(pe)
	})
}

func (s *Session) evGetSlotInfoStep(pe *pendingEvent) {
	s.evStep = evGetSlotInfo
	target := pe.event.Slot - 1
	if !s.slots.valid(target) {
		s.eventDone(pe, ResultProcessingError)
		return
	}
	req := mbim.SlotInfoRequest{Slot: uint32(target)}
	s.transact(req.Encode(s.queue.allocateID()), mbim.MSG_SLOT_INFO_STATUS, func(payload []byte, err error) {
		if err != nil {
			s.eventFailed(pe, err)
			return
		}
		m, derr := mbim.DecodeSlotInfoResponse(payload)
		if derr != nil {
			s.eventFailed(pe, fmt.Errorf("%w: %v", ErrProcessing, derr))
			return
		}
		if serr := statusErr(m.Status); serr != nil {
			s.eventFailed(pe, serr)
			return
		}
		s.slots.setState(target, slotStateFromWire(m.State))
		if !s.slots.isEuicc(target) {
			// Card-level condition, not a modem fault; re-initializing would
			// not change it.
			s.eventDone(pe, ResultProcessingError)
			return
		}
		s.evSetSlotMappingStep(pe, target)
	})
}

func (s *Session) evSetSlotMappingStep(pe *pendingEvent, target int) {
	s.evStep = evSetSlotMapping
	if target == s.slots.active() {
		s.evCloseChannelStep(pe)
		return
	}
	req := mbim.SetSlotMappingsRequest{Slots: []uint32{uint32(target)}}
	s.transact(req.Encode(s.queue.allocateID()), mbim.MSG_SET_SLOT_MAPPINGS, func(payload []byte, err error) {
		if err != nil {
			s.eventFailed(pe, err)
			return
		}
		m, derr := mbim.DecodeSlotMappingsResponse(payload)
		if derr != nil {
			s.eventFailed(pe, fmt.Errorf("%w: %v", ErrProcessing, derr))
			return
		}
		if serr := statusErr(m.Status); serr != nil {
			s.eventFailed(pe, serr)
			return
		}
		s.slots.setActiveSlot(target)
		if s.obs != nil {
			s.obs.OnLogicalSlotUpdated(target+1, 0, true)
		}
		s.after(slotSettleDelay, func() {
			s.evCloseChannelStep(pe)
		})
	})
}

func (s *Session) evCloseChannelStep(pe *pendingEvent) {
	s.evStep = evCloseChannel
	req := mbim.CloseChannelRequest{Channel: s.channel, ChannelGroup: channelGroup}
	s.transact(req.Encode(s.queue.allocateID()), mbim.MSG_CLOSE_CHANNEL, func(payload []byte, err error) {
		if err != nil {
			s.eventFailed(pe, err)
			return
		}
		m, derr := mbim.DecodeCloseChannelResponse(payload)
		if derr != nil {
			s.eventFailed(pe, fmt.Errorf("%w: %v", ErrProcessing, derr))
			return
		}
		if m.Status != mbim.STATUS_SUCCESS && m.Status != mbim.STATUS_OPERATION_NOT_ALLOWED {
			s.eventFailed(pe, statusErr(m.Status))
			return
		}
		s.channel = 0
		s.evOpenChannelStep(pe)
	})
}

func (s *Session) evOpenChannelStep(pe *pendingEvent) {
	s.evStep = evOpenChannel
	req := mbim.OpenChannelRequest{AppID: isdrAID, ChannelGroup: channelGroup}
	s.transact(req.Encode(s.queue.allocateID()), mbim.MSG_OPEN_CHANNEL, func(payload []byte, err error) {
		if err != nil {
			s.eventFailed(pe, err)
			return
		}
		m, derr := mbim.DecodeOpenChannelResponse(payload)
		if derr != nil {
			s.eventFailed(pe, fmt.Errorf("%w: %v", ErrProcessing, derr))
			return
		}
		if serr := statusErr(m.Status); serr != nil {
			s.eventFailed(pe, serr)
			return
		}
		s.channel = m.Channel
		s.evGetEidStep(pe)
	})
}

func (s *Session) evGetEidStep(pe *pendingEvent) {
	s.evStep = evGetEid
	s.readEid(func(eid string, err error) {
		if err != nil {
			s.eventFailed(pe, err)
			return
		}
		active := s.slots.active()
		if eid != "" && s.slots.setEID(active, eid) {
			s.notified[active] = true
			if s.obs != nil {
				s.obs.OnEuiccUpdated(active+1, eid)
			}
		}
		s.eventDone(pe, ResultSuccess)
	})
}

// evEndStep closes the working channel and restores the mapping remembered
// at the start of the flow.
func (s *Session) evEndStep(pe *pendingEvent) {
	s.evStep = evCloseChannel
	if s.channel == 0 {
		s.evRestoreMappingStep(pe)
		return
	}
	req := mbim.CloseChannelRequest{Channel: s.channel, ChannelGroup: channelGroup}
	s.transact(req.Encode(s.queue.allocateID()), mbim.MSG_CLOSE_CHANNEL, func(payload []byte, err error) {
		if err != nil {
			s.eventFailed(pe, err)
			return
		}
		m, derr := mbim.DecodeCloseChannelResponse(payload)
		if derr != nil {
			s.eventFailed(pe, fmt.Errorf("%w: %v", ErrProcessing, derr))
			return
		}
		if m.Status != mbim.STATUS_SUCCESS && m.Status != mbim.STATUS_OPERATION_NOT_ALLOWED {
			s.eventFailed(pe, statusErr(m.Status))
			return
		}
		s.channel = 0
		s.evRestoreMappingStep(pe)
	})
}

func (s *Session) evRestoreMappingStep(pe *pendingEvent) {
	s.evStep = evRestoreMapping
	stored, ok := s.slots.stored()
	if !ok || stored == s.slots.active() {
		s.slots.clearStored()
		s.eventDone(pe, ResultSuccess)
		return
	}
	req := mbim.SetSlotMappingsRequest{Slots: []uint32{uint32(stored)}}
	s.transact(req.Encode(s.queue.allocateID()), mbim.MSG_SET_SLOT_MAPPINGS, func(payload []byte, err error) {
		if err != nil {
			s.eventFailed(pe, err)
			return
		}
		m, derr := mbim.DecodeSlotMappingsResponse(payload)
		if derr != nil {
			s.eventFailed(pe, fmt.Errorf("%w: %v", ErrProcessing, derr))
			return
		}
		if serr := statusErr(m.Status); serr != nil {
			s.eventFailed(pe, serr)
			return
		}
		s.slots.setActiveSlot(stored)
		s.slots.clearStored()
		if s.obs != nil {
			s.obs.OnLogicalSlotUpdated(stored+1, 0, true)
		}
		s.after(slotSettleDelay, func() {
			s.eventDone(pe, ResultSuccess)
		})
	})
}
