package euicc

import "github.com/cardside/euicc/pkg/apdu"

// command is the unit of queued work. The two variants are an APDU exchange
// and an active-slot switch; dispatch selects behavior with a type switch.
type command interface {
	// complete delivers the final result of the command's exchange.
	complete(Result)
}

// apduCommand carries one logical APDU. Commands enqueued by the same
// SendApdus call share a batch number so a wire failure can fail the whole
// batch at once.
type apduCommand struct {
	batch int
	cmd   *apdu.Command
	done  func(Result)
}

func (c *apduCommand) complete(r Result) {
	if c.done != nil {
		c.done(r)
	}
}

// switchSlotCommand changes the physical slot mapped to the logical slot.
// physicalSlot is 0-indexed; it is ignored when restore is set, which maps
// back to the slot remembered before the last switch.
type switchSlotCommand struct {
	physicalSlot int
	restore      bool
	done         func(Result)
}

func (c *switchSlotCommand) complete(r Result) {
	if c.done != nil {
		c.done(r)
	}
}

type txEntry struct {
	id  uint16
	cmd command
}

// txQueue is the FIFO of pending commands. Only the head entry may be in
// flight; entries are popped only after their exchange fully resolves, so an
// entry's transaction id stays reserved for its whole lifetime.
type txQueue struct {
	entries []*txEntry
	nextID  uint16
}

// newTxQueue seeds the id counter at 1. Stepping by 2 keeps every id odd,
// so wraparound never yields the reserved id 0 and ids cannot collide while
// a previous allocation is still outstanding.
func newTxQueue() *txQueue {
	return &txQueue{nextID: 1}
}

func (q *txQueue) allocateID() uint16 {
	id := q.nextID
	q.nextID += 2
	return id
}

func (q *txQueue) enqueue(c command) *txEntry {
	e := &txEntry{id: q.allocateID(), cmd: c}
	q.entries = append(q.entries, e)
	return e
}

func (q *txQueue) peek() *txEntry {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}

// popAndComplete removes the head entry and invokes its continuation.
func (q *txQueue) popAndComplete(r Result) {
	if len(q.entries) == 0 {
		return
	}
	head := q.entries[0]
	q.entries[0] = nil
	q.entries = q.entries[1:]
	head.cmd.complete(r)
}

// flush completes every pending entry with the given result, in FIFO order.
func (q *txQueue) flush(r Result) {
	for len(q.entries) > 0 {
		q.popAndComplete(r)
	}
}

func (q *txQueue) len() int {
	return len(q.entries)
}
