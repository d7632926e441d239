package mbim

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseFrame_HeaderFields(t *testing.T) {
	frame := SlotInfoRequest{Slot: 1}.Encode(0x0101)

	h, payload, err := ParseFrame(frame)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if h.Type != MSG_SLOT_INFO_STATUS {
		t.Errorf("Type = 0x%X, want MSG_SLOT_INFO_STATUS", uint32(h.Type))
	}
	if h.TxID != 0x0101 {
		t.Errorf("TxID = %d, want 257", h.TxID)
	}
	if int(h.Length) != len(frame) {
		t.Errorf("Length = %d, frame is %d bytes", h.Length, len(frame))
	}
	if len(payload) != 4 {
		t.Errorf("payload = %d bytes, want 4", len(payload))
	}
}

func TestParseHeader_Invalid(t *testing.T) {
	zeroTx := encodeFrame(MSG_OPEN, 1, nil)
	zeroTx[8] = 0
	zeroTx[9] = 0

	tests := []struct {
		name string
		raw  []byte
	}{
		{"too short", []byte{0x01, 0x00}},
		{"zero transaction id", zeroTx},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseHeader(tt.raw); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestParseFrame_LengthMismatch(t *testing.T) {
	frame := SysCapsRequest{}.Encode(3)
	if _, _, err := ParseFrame(append(frame, 0xFF)); err == nil {
		t.Error("expected error for trailing bytes, got nil")
	}
}

func TestMessageType_ResponseFlag(t *testing.T) {
	resp := MSG_APDU | ResponseFlag
	if !resp.IsResponse() {
		t.Error("flagged type should report IsResponse")
	}
	if resp.Request() != MSG_APDU {
		t.Errorf("Request() = 0x%X, want MSG_APDU", uint32(resp.Request()))
	}
	if MSG_APDU.IsResponse() {
		t.Error("request type should not report IsResponse")
	}
}

// parseResponse is a test helper: validate the frame, check the response
// flag, and hand back the payload.
func parseResponse(t *testing.T, frame []byte, want MessageType) []byte {
	t.Helper()
	h, payload, err := ParseFrame(frame)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if !h.Type.IsResponse() || h.Type.Request() != want {
		t.Fatalf("frame type 0x%X, want response to 0x%X", uint32(h.Type), uint32(want))
	}
	return payload
}

func TestResponses_EncodeDecodeRoundTrip(t *testing.T) {
	t.Run("open", func(t *testing.T) {
		in := OpenResponse{Status: STATUS_SUCCESS, MaxTransfer: 512}
		out, err := DecodeOpenResponse(parseResponse(t, in.Encode(5), MSG_OPEN))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if diff := cmp.Diff(&in, out); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("device caps", func(t *testing.T) {
		in := DeviceCapsResponse{Status: STATUS_SUCCESS, DeviceID: "490154203237518"}
		out, err := DecodeDeviceCapsResponse(parseResponse(t, in.Encode(7), MSG_DEVICE_CAPS))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if diff := cmp.Diff(&in, out); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("subscriber ready", func(t *testing.T) {
		in := SubscriberReadyResponse{Status: STATUS_SUCCESS, ReadyState: READY_STATE_SIM_NOT_INSERTED}
		out, err := DecodeSubscriberReadyResponse(parseResponse(t, in.Encode(9), MSG_SUBSCRIBER_READY))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if diff := cmp.Diff(&in, out); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("version", func(t *testing.T) {
		in := VersionResponse{Status: STATUS_SUCCESS, DeviceVersion: Version20}
		out, err := DecodeVersionResponse(parseResponse(t, in.Encode(11), MSG_VERSION))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if diff := cmp.Diff(&in, out); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("sys caps", func(t *testing.T) {
		in := SysCapsResponse{Status: STATUS_SUCCESS, ExecutorCount: 1, SlotCount: 2}
		out, err := DecodeSysCapsResponse(parseResponse(t, in.Encode(13), MSG_SYS_CAPS))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if diff := cmp.Diff(&in, out); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("slot mappings", func(t *testing.T) {
		in := SlotMappingsResponse{Status: STATUS_SUCCESS, Slots: []uint32{1, 0}}
		frame := in.EncodeFor(MSG_DEVICE_SLOT_MAPPINGS, 15)
		out, err := DecodeSlotMappingsResponse(parseResponse(t, frame, MSG_DEVICE_SLOT_MAPPINGS))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if diff := cmp.Diff(&in, out); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("slot info", func(t *testing.T) {
		in := SlotInfoResponse{Status: STATUS_SUCCESS, Slot: 1, State: SLOT_STATE_ACTIVE_ESIM}
		out, err := DecodeSlotInfoResponse(parseResponse(t, in.Encode(17), MSG_SLOT_INFO_STATUS))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if diff := cmp.Diff(&in, out); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("open channel", func(t *testing.T) {
		in := OpenChannelResponse{Status: STATUS_SUCCESS, Channel: 2, SelectResponse: []byte{0x90, 0x00}}
		out, err := DecodeOpenChannelResponse(parseResponse(t, in.Encode(19), MSG_OPEN_CHANNEL))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if diff := cmp.Diff(&in, out); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("close channel", func(t *testing.T) {
		in := CloseChannelResponse{Status: STATUS_OPERATION_NOT_ALLOWED}
		out, err := DecodeCloseChannelResponse(parseResponse(t, in.Encode(21), MSG_CLOSE_CHANNEL))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if diff := cmp.Diff(&in, out); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("apdu", func(t *testing.T) {
		in := ApduResponse{Status: STATUS_SUCCESS, Payload: []byte{0x01, 0x02, 0x90, 0x00}}
		out, err := DecodeApduResponse(parseResponse(t, in.Encode(23), MSG_APDU))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if diff := cmp.Diff(&in, out); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestDecode_Truncated(t *testing.T) {
	tests := []struct {
		name   string
		decode func([]byte) error
	}{
		{"open", func(p []byte) error { _, err := DecodeOpenResponse(p); return err }},
		{"device caps", func(p []byte) error { _, err := DecodeDeviceCapsResponse(p); return err }},
		{"subscriber ready", func(p []byte) error { _, err := DecodeSubscriberReadyResponse(p); return err }},
		{"sys caps", func(p []byte) error { _, err := DecodeSysCapsResponse(p); return err }},
		{"slot mappings", func(p []byte) error { _, err := DecodeSlotMappingsResponse(p); return err }},
		{"slot info", func(p []byte) error { _, err := DecodeSlotInfoResponse(p); return err }},
		{"open channel", func(p []byte) error { _, err := DecodeOpenChannelResponse(p); return err }},
		{"apdu", func(p []byte) error { _, err := DecodeApduResponse(p); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.decode([]byte{0x00, 0x00}); err == nil {
				t.Error("expected error for truncated payload, got nil")
			}
		})
	}
}

func TestDecodeSlotMappingsResponse_BoundsMapCount(t *testing.T) {
	var w payloadWriter
	w.u32(uint32(STATUS_SUCCESS))
	w.u32(1 << 20) // implausible executor count

	if _, err := DecodeSlotMappingsResponse(w.bytes()); err == nil {
		t.Error("expected error for implausible map count, got nil")
	}
}

func TestDecodeApduResponse_BlobLengthHonest(t *testing.T) {
	var w payloadWriter
	w.u32(uint32(STATUS_SUCCESS))
	w.u32(100) // claims 100 bytes, carries none

	if _, err := DecodeApduResponse(w.bytes()); err == nil {
		t.Error("expected error for lying length prefix, got nil")
	}
}
