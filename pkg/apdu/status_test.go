package apdu

import "testing"

func TestStatusWord_Classification(t *testing.T) {
	tests := []struct {
		sw          StatusWord
		isSuccess   bool
		hasMoreData bool
		isError     bool
	}{
		{SW_NO_ERROR, true, false, false},
		{NewStatusWord(0x61, 0x10), true, true, false}, // Bytes available
		{NewStatusWord(0x61, 0x00), true, true, false}, // 256 bytes available
		{NewStatusWord(0x62, 0x82), false, false, false},
		{SW_ERR_WRONG_LENGTH, false, false, true},
		{SW_ERR_FILE_NOT_FOUND, false, false, true},
		{SW_ERR_COND_OF_USE_NOT_SAT, false, false, true},
		{NewStatusWord(0x6C, 0x14), false, false, false}, // Length correction, not an error
	}

	for _, tt := range tests {
		if got := tt.sw.IsSuccess(); got != tt.isSuccess {
			t.Errorf("SW %04X IsSuccess = %v, want %v", uint16(tt.sw), got, tt.isSuccess)
		}
		if got := tt.sw.HasMoreData(); got != tt.hasMoreData {
			t.Errorf("SW %04X HasMoreData = %v, want %v", uint16(tt.sw), got, tt.hasMoreData)
		}
		if got := tt.sw.IsError(); got != tt.isError {
			t.Errorf("SW %04X IsError = %v, want %v", uint16(tt.sw), got, tt.isError)
		}
	}
}

func TestStatusWord_Bytes(t *testing.T) {
	sw := NewStatusWord(0x61, 0x2A)
	if sw.SW1() != 0x61 || sw.SW2() != 0x2A {
		t.Errorf("SW1/SW2 round trip failed: %02X %02X", sw.SW1(), sw.SW2())
	}
}

func TestStatusWord_WrongLength(t *testing.T) {
	sw := NewStatusWord(0x6C, 0x0F)
	if !sw.IsWrongLength() {
		t.Error("6C0F should report IsWrongLength")
	}
	if sw.SW2() != 0x0F {
		t.Errorf("Correct Le = %d, want 15", sw.SW2())
	}
}
