package apdu

import (
	"bytes"
	"fmt"
)

// APDU (Application Protocol Data Unit) structures and encodings according to
// ISO/IEC 7816-3 and 7816-4, restricted to the command set an eUICC transport
// needs.
//
// COMMAND APDU (C-APDU):
// A command consists of a mandatory Header (4 bytes) and an optional Body.
//
// 1. Header:
//   - CLA (Class): Chaining, Secure Messaging, Logical Channel.
//   - INS (Instruction): The specific command to execute.
//   - P1, P2 (Parameters): Command modifiers.
//
// 2. Body:
//   - Lc (Length Command): Number of bytes in the data field.
//   - Data: The command payload.
//   - Le (Length Expected): Maximum number of bytes expected in the response.
//
// LENGTH MODES:
//   - Short Length: Lc/Le encoded on 1 byte (Max 255/256).
//   - Extended Length: Lc/Le encoded on multiple bytes (Max 65535/65536).
//     Extended mode is used if Lc > 255, Le > 256, or the command requests it
//     explicitly (the eUICC STORE DATA flow negotiates extended support).
//
// RESPONSE APDU (R-APDU):
// A variable-length data field followed by a mandatory 2-byte Status Word
// trailer (SW1, SW2). 0x9000 indicates success; 0x61XX indicates success with
// XX more bytes held by the card.

// APDU limits according to ISO 7816-3.
const (
	// MaxShortLc is the maximum data length (Nc) encodable in Short Length mode.
	MaxShortLc = 255

	// MaxShortLe is the maximum expected response length (Ne) encodable in
	// Short Length mode. In Short mode, 0x00 encodes 256.
	MaxShortLe = 256

	// MaxExtendedLc is the limit for Lc in Extended mode (16-bit unsigned).
	MaxExtendedLc = 65535

	// MaxExtendedLe is the maximum Ne encodable in Extended Length mode.
	// In Extended mode, 0x0000 encodes 65536.
	MaxExtendedLe = 65536
)

// InsCode is a typed representation of the instruction byte.
type InsCode byte

// Instruction (INS) codes used by the eUICC exchanges.
const (
	INS_SELECT         InsCode = 0xA4
	INS_READ_BINARY    InsCode = 0xB0
	INS_GET_RESPONSE   InsCode = 0xC0
	INS_GET_DATA       InsCode = 0xCA
	INS_STORE_DATA     InsCode = 0xE2
	INS_MANAGE_CHANNEL InsCode = 0x70
)

// Command represents a command sent to the card (C-APDU).
type Command struct {
	Class       Class
	Instruction InsCode
	P1, P2      byte
	Data        []byte
	// Le is the expected response length (0 means none).
	Le int
	// ExtendedLength forces extended Lc/Le encoding even when the lengths
	// would fit the short form. Set when the card advertises extended
	// length support in its ATR.
	ExtendedLength bool
}

// NewCommand creates a basic command.
func NewCommand(cls Class, ins InsCode, p1, p2 byte, data []byte, le int) *Command {
	return &Command{
		Class:       cls,
		Instruction: ins,
		P1:          p1,
		P2:          p2,
		Data:        data,
		Le:          le,
	}
}

// Bytes encodes the Command into its wire representation.
// It selects between Short and Extended encoding based on the length of Data
// (Nc), the expected response length (Ne), and the ExtendedLength flag.
func (c *Command) Bytes() ([]byte, error) {
	buf := new(bytes.Buffer)

	cla, err := c.Class.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode CLA: %w", err)
	}
	buf.WriteByte(cla)
	buf.WriteByte(byte(c.Instruction))
	buf.WriteByte(c.P1)
	buf.WriteByte(c.P2)

	nc := len(c.Data)
	ne := c.Le

	if nc > MaxExtendedLc || ne > MaxExtendedLe {
		return nil, fmt.Errorf("command body too large: Lc=%d Le=%d", nc, ne)
	}

	isExtended := c.ExtendedLength || nc > MaxShortLc || ne > MaxShortLe

	// Lc field and data
	if nc > 0 {
		if !isExtended {
			buf.WriteByte(byte(nc))
		} else {
			// Extended: 00 flag + Lc on 2 bytes
			buf.WriteByte(0x00)
			buf.WriteByte(byte(nc >> 8))
			buf.WriteByte(byte(nc))
		}
		buf.Write(c.Data)
	}

	// Le field
	if ne > 0 {
		if !isExtended {
			if ne == MaxShortLe {
				buf.WriteByte(0x00) // 0x00 represents 256
			} else {
				buf.WriteByte(byte(ne))
			}
		} else {
			// If Lc was absent, a leading 00 distinguishes Le from Lc.
			if nc == 0 {
				buf.WriteByte(0x00)
			}
			if ne == MaxExtendedLe {
				buf.WriteByte(0x00)
				buf.WriteByte(0x00)
			} else {
				buf.WriteByte(byte(ne >> 8))
				buf.WriteByte(byte(ne))
			}
		}
	}

	return buf.Bytes(), nil
}

// String returns a readable representation of the command meta-data.
func (c *Command) String() string {
	return fmt.Sprintf("INS: %02X | P1: %02X, P2: %02X | Lc: %d | Le: %d",
		byte(c.Instruction), c.P1, c.P2, len(c.Data), c.Le)
}

// Response represents the reply from the card (R-APDU).
type Response struct {
	Data []byte
	SW   StatusWord
}

// ParseResponse parses raw bytes received from the card into a Response.
// The input must contain at least the 2-byte trailer (SW1, SW2).
func ParseResponse(raw []byte) (Response, error) {
	if len(raw) < 2 {
		return Response{}, fmt.Errorf("response too short: length %d", len(raw))
	}

	trailer := len(raw) - 2
	return Response{
		Data: raw[:trailer],
		SW:   NewStatusWord(raw[trailer], raw[trailer+1]),
	}, nil
}

// String returns a readable representation of the response.
func (r Response) String() string {
	return fmt.Sprintf("Data (%d bytes) | Status: %s", len(r.Data), r.SW)
}
