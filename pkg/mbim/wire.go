// Package mbim implements the wire layer of the eUICC transport: framing,
// message encoding and decoding, and the control-channel device.
//
// The framing is deliberately minimal. Every frame is a fixed little-endian
// header followed by a message-specific payload:
//
//	offset 0  u32  message type (response flag in the top bit)
//	offset 4  u32  total frame length, header included
//	offset 8  u16  transaction id (never 0)
//	offset 10 u16  reserved
//
// A response carries the transaction id of the request it answers; the
// device layer uses it to route replies, the session layer to detect stale
// ones. Exact vendor byte layouts are not part of the portability contract;
// only the sequencing and retry semantics built on top of them are.
package mbim

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MessageType identifies a request/response pair. Responses set ResponseFlag.
type MessageType uint32

// ResponseFlag marks a frame as a reply to the request of the same type.
const ResponseFlag MessageType = 0x80000000

// Control-plane message types.
const (
	MSG_OPEN  MessageType = 0x01 // open handshake, negotiates max transfer
	MSG_CLOSE MessageType = 0x02

	MSG_DEVICE_CAPS          MessageType = 0x10
	MSG_SUBSCRIBER_READY     MessageType = 0x11
	MSG_VERSION              MessageType = 0x12
	MSG_SYS_CAPS             MessageType = 0x13
	MSG_DEVICE_SLOT_MAPPINGS MessageType = 0x14
	MSG_SET_SLOT_MAPPINGS    MessageType = 0x15
	MSG_SLOT_INFO_STATUS     MessageType = 0x16
	MSG_OPEN_CHANNEL         MessageType = 0x17
	MSG_CLOSE_CHANNEL        MessageType = 0x18
	MSG_APDU                 MessageType = 0x19
)

// IsResponse reports whether the type carries the response flag.
func (t MessageType) IsResponse() bool {
	return t&ResponseFlag != 0
}

// Request strips the response flag.
func (t MessageType) Request() MessageType {
	return t &^ ResponseFlag
}

// Status is the operation status carried by response payloads.
type Status uint32

const (
	STATUS_SUCCESS               Status = 0
	STATUS_BUSY                  Status = 1
	STATUS_FAILURE               Status = 2
	STATUS_SIM_NOT_INSERTED      Status = 3
	STATUS_BAD_SIM               Status = 4
	STATUS_NO_DEVICE_SUPPORT     Status = 9
	STATUS_OPERATION_NOT_ALLOWED Status = 27
)

func (s Status) String() string {
	switch s {
	case STATUS_SUCCESS:
		return "Success"
	case STATUS_BUSY:
		return "Busy"
	case STATUS_FAILURE:
		return "Failure"
	case STATUS_SIM_NOT_INSERTED:
		return "SimNotInserted"
	case STATUS_BAD_SIM:
		return "BadSim"
	case STATUS_NO_DEVICE_SUPPORT:
		return "NoDeviceSupport"
	case STATUS_OPERATION_NOT_ALLOWED:
		return "OperationNotAllowed"
	default:
		return fmt.Sprintf("Status(%d)", uint32(s))
	}
}

// ReadyState is the subscriber ready state reported by the modem.
type ReadyState uint32

const (
	READY_STATE_NOT_INITIALIZED  ReadyState = 0
	READY_STATE_INITIALIZED      ReadyState = 1
	READY_STATE_SIM_NOT_INSERTED ReadyState = 2
	READY_STATE_BAD_SIM          ReadyState = 3
	READY_STATE_FAILURE          ReadyState = 4
	READY_STATE_NOT_ACTIVATED    ReadyState = 5
	READY_STATE_DEVICE_LOCKED    ReadyState = 6
	READY_STATE_NO_ESIM_PROFILE  ReadyState = 7
)

// SlotState is the physical UICC slot state (MS extension values).
type SlotState uint32

const (
	SLOT_STATE_UNKNOWN                 SlotState = 0
	SLOT_STATE_OFF_EMPTY               SlotState = 1
	SLOT_STATE_OFF                     SlotState = 2
	SLOT_STATE_EMPTY                   SlotState = 3
	SLOT_STATE_NOT_READY               SlotState = 4
	SLOT_STATE_ACTIVE                  SlotState = 5
	SLOT_STATE_ERROR                   SlotState = 6
	SLOT_STATE_ACTIVE_ESIM             SlotState = 7
	SLOT_STATE_ACTIVE_ESIM_NO_PROFILES SlotState = 8
)

// HeaderSize is the fixed frame header length.
const HeaderSize = 12

// MaxFrameSize bounds a single control frame; larger replies are fragmented
// at the APDU layer, never at the framing layer.
const MaxFrameSize = 4096

// Header is the fixed preamble of every frame.
type Header struct {
	Type   MessageType
	Length uint32
	TxID   uint16
}

// ParseHeader decodes a frame header.
func ParseHeader(raw []byte) (Header, error) {
	if len(raw) < HeaderSize {
		return Header{}, fmt.Errorf("frame too short for header: %d bytes", len(raw))
	}
	h := Header{
		Type:   MessageType(binary.LittleEndian.Uint32(raw[0:4])),
		Length: binary.LittleEndian.Uint32(raw[4:8]),
		TxID:   binary.LittleEndian.Uint16(raw[8:10]),
	}
	if h.Length < HeaderSize || h.Length > MaxFrameSize {
		return Header{}, fmt.Errorf("invalid frame length %d", h.Length)
	}
	if h.TxID == 0 {
		return Header{}, fmt.Errorf("invalid transaction id 0")
	}
	return h, nil
}

// ParseFrame validates the header against the raw frame and returns the
// header together with the message payload.
func ParseFrame(raw []byte) (Header, []byte, error) {
	h, err := ParseHeader(raw)
	if err != nil {
		return Header{}, nil, err
	}
	if int(h.Length) != len(raw) {
		return Header{}, nil, fmt.Errorf("frame length mismatch: header says %d, got %d", h.Length, len(raw))
	}
	return h, raw[HeaderSize:], nil
}

// encodeFrame assembles header + payload into one frame.
func encodeFrame(t MessageType, txID uint16, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(t))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(HeaderSize+len(payload)))
	binary.LittleEndian.PutUint16(buf[8:10], txID)
	copy(buf[HeaderSize:], payload)
	return buf
}

// payload writer/reader helpers

type payloadWriter struct {
	buf bytes.Buffer
}

func (w *payloadWriter) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *payloadWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// blob writes a u32 length prefix followed by the raw bytes.
func (w *payloadWriter) blob(data []byte) {
	w.u32(uint32(len(data)))
	w.buf.Write(data)
}

func (w *payloadWriter) bytes() []byte {
	return w.buf.Bytes()
}

type payloadReader struct {
	raw []byte
	off int
	err error
}

func newPayloadReader(raw []byte) *payloadReader {
	return &payloadReader{raw: raw}
}

func (r *payloadReader) fail(what string) {
	if r.err == nil {
		r.err = fmt.Errorf("truncated payload reading %s at offset %d", what, r.off)
	}
}

func (r *payloadReader) u16(what string) uint16 {
	if r.err != nil || r.off+2 > len(r.raw) {
		r.fail(what)
		return 0
	}
	v := binary.LittleEndian.Uint16(r.raw[r.off:])
	r.off += 2
	return v
}

func (r *payloadReader) u32(what string) uint32 {
	if r.err != nil || r.off+4 > len(r.raw) {
		r.fail(what)
		return 0
	}
	v := binary.LittleEndian.Uint32(r.raw[r.off:])
	r.off += 4
	return v
}

func (r *payloadReader) blob(what string) []byte {
	n := int(r.u32(what))
	if r.err != nil || r.off+n > len(r.raw) {
		r.fail(what)
		return nil
	}
	v := make([]byte, n)
	copy(v, r.raw[r.off:r.off+n])
	r.off += n
	return v
}
