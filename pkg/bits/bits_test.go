package bits

import "testing"

func TestBit(t *testing.T) {
	tests := []struct {
		n        uint
		expected byte
	}{
		{1, 0b00000001},
		{5, 0b00010000},
		{8, 0b10000000},
		{0, 0}, // Out of range
		{9, 0}, // Out of range
	}

	for _, tt := range tests {
		if got := Bit(tt.n); got != tt.expected {
			t.Errorf("Bit(%d) = %08b, want %08b", tt.n, got, tt.expected)
		}
	}
}

func TestIsSet(t *testing.T) {
	b := byte(0b01010010)

	if !IsSet(b, 2) || !IsSet(b, 5) || !IsSet(b, 7) {
		t.Errorf("expected bits 2, 5 and 7 to be set in %08b", b)
	}
	if IsSet(b, 1) || IsSet(b, 8) {
		t.Errorf("expected bits 1 and 8 to be clear in %08b", b)
	}
}

func TestSetClear(t *testing.T) {
	var b byte

	b = Set(b, 3)
	if b != 0b00000100 {
		t.Errorf("Set bit 3 = %08b, want 00000100", b)
	}

	b = Clear(b, 3)
	if b != 0 {
		t.Errorf("Clear bit 3 = %08b, want 00000000", b)
	}
}

func TestGetRange(t *testing.T) {
	tests := []struct {
		b         byte
		high, low uint
		expected  byte
	}{
		{0b00001100, 4, 3, 0b11},
		{0b11000000, 8, 7, 0b11},
		{0b00010110, 3, 1, 0b110},
		{0b11111111, 8, 1, 0xFF},
		{0b11111111, 1, 4, 0}, // Inverted range
	}

	for _, tt := range tests {
		if got := GetRange(tt.b, tt.high, tt.low); got != tt.expected {
			t.Errorf("GetRange(%08b, %d, %d) = %b, want %b", tt.b, tt.high, tt.low, got, tt.expected)
		}
	}
}
