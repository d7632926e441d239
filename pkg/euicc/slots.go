package euicc

import "github.com/cardside/euicc/pkg/mbim"

// SlotState is the session's view of one physical SIM slot.
type SlotState int

const (
	SlotStateUnknown SlotState = iota
	SlotStateEmpty
	SlotStateInactive
	SlotStateActiveEsim
	SlotStateActiveEsimNoProfiles
)

func (s SlotState) String() string {
	switch s {
	case SlotStateUnknown:
		return "Unknown"
	case SlotStateEmpty:
		return "Empty"
	case SlotStateInactive:
		return "Inactive"
	case SlotStateActiveEsim:
		return "ActiveEsim"
	case SlotStateActiveEsimNoProfiles:
		return "ActiveEsimNoProfiles"
	default:
		return "SlotState(?)"
	}
}

// IsEsim reports whether the state indicates an eUICC in the slot.
func (s SlotState) IsEsim() bool {
	return s == SlotStateActiveEsim || s == SlotStateActiveEsimNoProfiles
}

func slotStateFromWire(s mbim.SlotState) SlotState {
	switch s {
	case mbim.SLOT_STATE_ACTIVE_ESIM:
		return SlotStateActiveEsim
	case mbim.SLOT_STATE_ACTIVE_ESIM_NO_PROFILES:
		return SlotStateActiveEsimNoProfiles
	case mbim.SLOT_STATE_EMPTY, mbim.SLOT_STATE_OFF_EMPTY:
		return SlotStateEmpty
	case mbim.SLOT_STATE_UNKNOWN:
		return SlotStateUnknown
	default:
		return SlotStateInactive
	}
}

// slotTable tracks slot states, cached EIDs, and the active mapping. Slots
// are 0-indexed here; the public API and observer callbacks add 1. An EID is
// only ever recorded for the slot that is currently mapped, because reading
// it requires a channel to that slot's card.
type slotTable struct {
	slotCount  int
	mapCount   int
	states     []SlotState
	eids       []string
	activeSlot int
	storedSlot int
}

func newSlotTable() slotTable {
	return slotTable{activeSlot: -1, storedSlot: -1}
}

// initSlotInfo sizes the table for the discovered hardware. It always yields
// a freshly reset table, so repeating it during a re-initialization is safe.
func (t *slotTable) initSlotInfo(slotCount, mapCount int) {
	t.slotCount = slotCount
	t.mapCount = mapCount
	t.states = make([]SlotState, slotCount)
	t.eids = make([]string, slotCount)
	t.activeSlot = -1
	t.storedSlot = -1
}

func (t *slotTable) reset() {
	t.initSlotInfo(0, 0)
}

func (t *slotTable) valid(slot int) bool {
	return slot >= 0 && slot < t.slotCount
}

func (t *slotTable) setState(slot int, s SlotState) {
	if !t.valid(slot) {
		return
	}
	t.states[slot] = s
	if !s.IsEsim() {
		t.eids[slot] = ""
	}
}

func (t *slotTable) state(slot int) SlotState {
	if !t.valid(slot) {
		return SlotStateUnknown
	}
	return t.states[slot]
}

// setEID records the EID for a slot. It refuses any slot other than the
// active one: an EID can only have been read over a channel to the mapped
// card, so recording it elsewhere would mean the value is stale.
func (t *slotTable) setEID(slot int, eid string) bool {
	if !t.valid(slot) || slot != t.activeSlot {
		return false
	}
	t.eids[slot] = eid
	return true
}

func (t *slotTable) eid(slot int) string {
	if !t.valid(slot) {
		return ""
	}
	return t.eids[slot]
}

func (t *slotTable) isEuicc(slot int) bool {
	return t.state(slot).IsEsim()
}

func (t *slotTable) anyEuicc() bool {
	for _, s := range t.states {
		if s.IsEsim() {
			return true
		}
	}
	return false
}

func (t *slotTable) setActiveSlot(slot int) {
	t.activeSlot = slot
}

func (t *slotTable) active() int {
	return t.activeSlot
}

// rememberActive stores the current mapping so a later restore command can
// switch back. Only one remembered slot is kept.
func (t *slotTable) rememberActive() {
	t.storedSlot = t.activeSlot
}

func (t *slotTable) stored() (int, bool) {
	if t.storedSlot < 0 {
		return 0, false
	}
	return t.storedSlot, true
}

func (t *slotTable) clearStored() {
	t.storedSlot = -1
}
