package euicc

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/cardside/euicc/pkg/tlv"
)

// eidEnvelope is the GET DATA response for the EID: a BF3E envelope holding
// the raw 16-byte identifier under tag 5A (SGP.02 section 4.2).
type eidEnvelope struct {
	Data struct {
		EID []byte `tlv:"5A"`
	} `tlv:"BF3E"`
}

// parseEID extracts the EID from a GET DATA response body. An all-zero or
// all-FF identifier means the eUICC has never been personalized; that is
// reported as an empty string, not an error, so the caller can distinguish
// "no usable eUICC" from "malformed reply".
func parseEID(data []byte) (string, error) {
	var env eidEnvelope
	if err := tlv.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("parse EID envelope: %w", err)
	}
	eid := env.Data.EID
	if len(eid) != 16 {
		return "", fmt.Errorf("EID is %d bytes, want 16", len(eid))
	}
	if bytes.Equal(eid, bytes.Repeat([]byte{0x00}, 16)) ||
		bytes.Equal(eid, bytes.Repeat([]byte{0xFF}, 16)) {
		return "", nil
	}
	return hex.EncodeToString(eid), nil
}
