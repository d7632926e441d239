package mbim

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// A write failure completes the transaction exactly once and leaves no
// registration behind.
func TestCdcWdmDevice_WriteErrorCompletesOnce(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "wdm"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.Close() // writes now fail

	d := NewCdcWdmDevice("wdm")
	d.f = f
	d.pending = make(map[uint16]func([]byte, error))

	calls := 0
	d.Transact(SysCapsRequest{}.Encode(9), func(resp []byte, err error) {
		calls++
		if err == nil {
			t.Error("expected a write error")
		}
	})

	if calls != 1 {
		t.Fatalf("completions = %d, want exactly 1", calls)
	}
	if cb := d.takePending(9); cb != nil {
		t.Error("registration left behind after write failure")
	}
}

// If the read pump has already failed the pending set, the write path finds
// no registration and must not fire the completion a second time.
func TestCdcWdmDevice_FailAllDrainsRegistrations(t *testing.T) {
	d := NewCdcWdmDevice("wdm")
	d.pending = make(map[uint16]func([]byte, error))

	calls := 0
	d.pending[7] = func([]byte, error) { calls++ }

	d.failAll(errors.New("read: closed"))
	d.failAll(errors.New("read: closed"))

	if calls != 1 {
		t.Fatalf("completions = %d, want exactly 1", calls)
	}
	if cb := d.takePending(7); cb != nil {
		t.Error("registration survived failAll")
	}
}
