package mbim

import (
	"fmt"
	"os"
	"sync"
)

// Device is the control channel to the modem. Exactly one exchange is in
// flight at a time from the session's point of view, but the interface is
// asynchronous: Transact returns immediately and the completion fires once
// the matching reply arrives.
type Device interface {
	// Connect opens the underlying channel. It does not perform the
	// MSG_OPEN handshake; that is a regular Transact exchange.
	Connect() error
	// Transact sends one encoded frame and invokes done with the raw reply
	// frame carrying the same transaction id, or with an error if the
	// channel fails first. done is invoked exactly once.
	Transact(req []byte, done func(resp []byte, err error))
	// Disconnect closes the channel. Pending completions fire with an error.
	Disconnect() error
}

// CdcWdmDevice talks to an MBIM modem through its cdc-wdm character device.
// Each write carries one frame; each read returns one frame. A read pump
// goroutine matches replies to pending transactions by transaction id.
type CdcWdmDevice struct {
	Path string

	mu      sync.Mutex
	f       *os.File
	pending map[uint16]func([]byte, error)
}

// NewCdcWdmDevice creates a device for the given character device path
// (typically /dev/cdc-wdm0).
func NewCdcWdmDevice(path string) *CdcWdmDevice {
	return &CdcWdmDevice{Path: path}
}

// Connect opens the character device and starts the read pump.
func (d *CdcWdmDevice) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f != nil {
		return nil
	}

	f, err := os.OpenFile(d.Path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.Path, err)
	}
	d.f = f
	d.pending = make(map[uint16]func([]byte, error))

	go d.readPump(f)
	return nil
}

// Transact writes the frame and registers the completion under its
// transaction id.
func (d *CdcWdmDevice) Transact(req []byte, done func(resp []byte, err error)) {
	h, err := ParseHeader(req)
	if err != nil {
		done(nil, fmt.Errorf("malformed request: %w", err))
		return
	}

	d.mu.Lock()
	f := d.f
	if f == nil {
		d.mu.Unlock()
		done(nil, fmt.Errorf("device not connected"))
		return
	}
	if _, exists := d.pending[h.TxID]; exists {
		d.mu.Unlock()
		done(nil, fmt.Errorf("transaction id %d already in flight", h.TxID))
		return
	}
	d.pending[h.TxID] = done
	d.mu.Unlock()

	if _, err := f.Write(req); err != nil {
		// Claim the registration back before reporting the error: if the
		// read pump already failed it, done has fired and must not again.
		if cb := d.takePending(h.TxID); cb != nil {
			cb(nil, fmt.Errorf("write %s: %w", d.Path, err))
		}
	}
}

// Disconnect closes the device. The read pump exits on the closed file and
// fails any transactions still pending.
func (d *CdcWdmDevice) Disconnect() error {
	d.mu.Lock()
	f := d.f
	d.f = nil
	d.mu.Unlock()

	if f == nil {
		return nil
	}
	return f.Close()
}

func (d *CdcWdmDevice) readPump(f *os.File) {
	buf := make([]byte, MaxFrameSize)
	for {
		n, err := f.Read(buf)
		if err != nil {
			d.failAll(fmt.Errorf("read %s: %w", d.Path, err))
			return
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])

		h, err := ParseHeader(frame)
		if err != nil {
			// Garbage on the control channel; drop the frame. A pending
			// caller will fail when the channel is torn down.
			continue
		}
		if !h.Type.IsResponse() {
			// Unsolicited indications are not part of this transport.
			continue
		}

		if done := d.takePending(h.TxID); done != nil {
			done(frame, nil)
		}
	}
}

func (d *CdcWdmDevice) takePending(txID uint16) func([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	done := d.pending[txID]
	delete(d.pending, txID)
	return done
}

func (d *CdcWdmDevice) failAll(err error) {
	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[uint16]func([]byte, error))
	d.mu.Unlock()

	for _, done := range pending {
		done(nil, err)
	}
}
