package apdu

import (
	"fmt"

	"github.com/cardside/euicc/pkg/bits"
)

// Class Byte (CLA) structure according to ISO/IEC 7816-4.
//
// The CLA byte conveys the command class: secure messaging (SM), command
// chaining, and logical channel selection. The logical channel part matters
// most here: every APDU addressed to the eSIM application must carry the
// channel number returned by the open-channel exchange.
//
// Structure:
// Bit 8: Proprietary (1) or Interindustry (0).
// Bit 7: Type of Interindustry (0=First, 1=Further).
// Bit 5: Command Chaining (0=Last/Only, 1=More follow).
//
// 1. First Interindustry Class (00xx xxxx):
//   - Bits 4-3: Secure Messaging (2 bits, 4 states).
//   - Bits 2-1: Logical Channel number (0-3).
//
// 2. Further Interindustry Class (01xx xxxx):
//   - Bit 6: Secure Messaging (1 bit: No SM or SM active).
//   - Bits 4-1: Logical Channel number minus 4 (channels 4-19).

// SecureMessaging defines the security level applied to the APDU.
type SecureMessaging int

const (
	// SMNone indicates no secure messaging or no indication given.
	SMNone SecureMessaging = 0
	// SMProprietary indicates a proprietary secure messaging format.
	SMProprietary SecureMessaging = 1
	// SMHeaderNoProc indicates ISO SM where the header is not processed.
	SMHeaderNoProc SecureMessaging = 2
	// SMHeaderAuth indicates ISO SM where the header is authenticated.
	SMHeaderAuth SecureMessaging = 3
)

// Class represents the parsed ISO 7816-4 Class byte (CLA).
type Class struct {
	Raw             byte
	IsProprietary   bool
	IsChained       bool
	SecureMessaging SecureMessaging
	Channel         uint8 // Logical channel number (0-19)
}

// NewClass creates a Class object by decoding a raw CLA byte.
func NewClass(cla byte) (Class, error) {
	if cla == 0xFF {
		return Class{}, fmt.Errorf("invalid CLA value: 0xFF is reserved")
	}

	c := Class{Raw: cla}

	// Bit 8 indicates proprietary class
	if bits.IsSet(cla, 8) {
		c.IsProprietary = true
		return c, nil
	}

	// Bit 5 is always Command Chaining
	c.IsChained = bits.IsSet(cla, 5)

	// Bit 7 determines the encoding structure
	if !bits.IsSet(cla, 7) {
		// First Interindustry (00xx xxxx): SM on bits 4-3, channel on bits 2-1
		c.SecureMessaging = SecureMessaging(bits.GetRange(cla, 4, 3))
		c.Channel = bits.GetRange(cla, 2, 1)
	} else {
		// Further Interindustry (01xx xxxx): SM on bit 6, channel-4 on bits 4-1
		if bits.IsSet(cla, 6) {
			c.SecureMessaging = SMHeaderNoProc
		} else {
			c.SecureMessaging = SMNone
		}
		c.Channel = bits.GetRange(cla, 4, 1) + 4
	}

	return c, nil
}

// NewInterindustryClass creates a Class object from parameters.
// It selects First or Further interindustry encoding based on the channel.
func NewInterindustryClass(isChained bool, sm SecureMessaging, channel uint8) (Class, error) {
	if channel > 19 {
		return Class{}, fmt.Errorf("channel %d out of range (max 19)", channel)
	}

	// Further Interindustry (Ch 4-19) only supports 1 bit for SM
	if channel >= 4 && (sm == SMProprietary || sm == SMHeaderAuth) {
		return Class{}, fmt.Errorf("SM indicator %d not supported for further interindustry range (ch 4-19)", sm)
	}

	c := Class{
		IsChained:       isChained,
		SecureMessaging: sm,
		Channel:         channel,
	}

	raw, err := c.Encode()
	if err != nil {
		return Class{}, err
	}
	c.Raw = raw

	return c, nil
}

// WithChannel returns a copy of the class re-addressed to the given logical
// channel. Used after an open-channel exchange assigns the channel number.
func (c Class) WithChannel(channel uint8) (Class, error) {
	return NewInterindustryClass(c.IsChained, c.SecureMessaging, channel)
}

// Encode converts the Class object back to its byte representation.
func (c *Class) Encode() (byte, error) {
	if c.IsProprietary {
		return c.Raw, nil
	}
	if c.Channel > 19 {
		return 0, fmt.Errorf("channel %d out of range (max 19)", c.Channel)
	}

	var res byte

	if c.Channel <= 3 {
		// First Interindustry encoding
		if c.IsChained {
			res = bits.Set(res, 5)
		}
		res |= byte(c.SecureMessaging) << 2
		res |= c.Channel
	} else {
		// Further Interindustry encoding
		res = bits.Set(res, 7)
		if c.IsChained {
			res = bits.Set(res, 5)
		}
		if c.SecureMessaging != SMNone {
			res = bits.Set(res, 6)
		}
		res |= (c.Channel - 4)
	}

	return res, nil
}

// String returns a readable description of the CLA byte configuration.
func (c Class) String() string {
	if c.IsProprietary {
		return fmt.Sprintf("CLA: Proprietary (0x%02X)", c.Raw)
	}

	chaining := ""
	if c.IsChained {
		chaining = " | Chained"
	}
	return fmt.Sprintf("CLA: Interindustry | Channel: %d%s", c.Channel, chaining)
}
