package apdu

import "fmt"

// Status Word (SW1-SW2) handling according to ISO/IEC 7816-4.
//
// Most status words are static 2-byte values (e.g., 0x9000). Two dynamic
// ranges matter to the transport machine:
//
// 1. '61XX' (SW1=0x61): Process completed, response available.
//    XX is the number of extra bytes the card holds. The transport must
//    issue GET RESPONSE on the same logical channel to drain them.
//
// 2. '6CXX' (SW1=0x6C): Wrong length.
//    XX is the correct expected length (Le) for the command.
//
// Everything else is surfaced verbatim to the profile manager; the transport
// never translates card-level status words into its own error taxonomy.

// StatusWord represents the two-byte status trailer (SW1-SW2).
type StatusWord uint16

// NewStatusWord creates a StatusWord instance from two separate bytes.
func NewStatusWord(sw1, sw2 byte) StatusWord {
	return StatusWord(uint16(sw1)<<8 | uint16(sw2))
}

// SW1 returns the first byte (high byte) of the status word.
func (sw StatusWord) SW1() byte {
	return byte(sw >> 8)
}

// SW2 returns the second byte (low byte) of the status word.
func (sw StatusWord) SW2() byte {
	return byte(sw)
}

// IsSuccess returns true if the command was processed successfully (9000) or
// if response data is available (61XX).
func (sw StatusWord) IsSuccess() bool {
	return sw == SW_NO_ERROR || sw.SW1() == 0x61
}

// HasMoreData returns true while the card signals that response bytes remain
// to be fetched (61XX). SW2 carries the pending byte count (0 means 256).
func (sw StatusWord) HasMoreData() bool {
	return sw.SW1() == 0x61
}

// IsWrongLength returns true if the card rejected the expected length (6CXX).
// SW2 carries the correct Le.
func (sw StatusWord) IsWrongLength() bool {
	return sw.SW1() == 0x6C
}

// IsWarning returns true if the status indicates a warning (62XX or 63XX).
func (sw StatusWord) IsWarning() bool {
	sw1 := sw.SW1()
	return sw1 == 0x62 || sw1 == 0x63
}

// IsError returns true if the status indicates an execution or checking
// error (64XX to 6FXX, excluding the dynamic 6CXX length correction).
func (sw StatusWord) IsError() bool {
	sw1 := sw.SW1()
	return sw1 >= 0x64 && sw1 <= 0x6F && sw1 != 0x6C
}

// String returns a readable representation of the status word.
func (sw StatusWord) String() string {
	switch {
	case sw == SW_NO_ERROR:
		return "[9000] OK"
	case sw.HasMoreData():
		return fmt.Sprintf("[%04X] %d bytes available", uint16(sw), sw.SW2())
	case sw.IsWrongLength():
		return fmt.Sprintf("[%04X] wrong length, correct Le is %d", uint16(sw), sw.SW2())
	default:
		return fmt.Sprintf("[%04X]", uint16(sw))
	}
}

// Status Word codes the transport layer inspects, defined in ISO/IEC 7816-4.
const (
	SW_NO_ERROR StatusWord = 0x9000

	SW_ERR_WRONG_LENGTH             StatusWord = 0x6700
	SW_ERR_LOGICAL_CHANNEL_NOT_SUPP StatusWord = 0x6881
	SW_ERR_SECURITY_STATUS_NOT_SAT  StatusWord = 0x6982
	SW_ERR_COND_OF_USE_NOT_SAT      StatusWord = 0x6985
	SW_ERR_FUNC_NOT_SUPPORTED       StatusWord = 0x6A81
	SW_ERR_FILE_NOT_FOUND           StatusWord = 0x6A82
	SW_ERR_REF_DATA_NOT_FOUND       StatusWord = 0x6A88
	SW_ERR_WRONG_P1P2               StatusWord = 0x6B00
	SW_ERR_INS_INVALID              StatusWord = 0x6D00
	SW_ERR_CLA_NOT_SUPPORTED        StatusWord = 0x6E00
	SW_ERR_UNKNOWN                  StatusWord = 0x6F00
)
