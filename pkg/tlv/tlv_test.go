package tlv

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type eidObject struct {
	Value []byte `tlv:"5A"`
}

type eidEnvelope struct {
	EID eidObject `tlv:"BF3E"`
}

func TestUnmarshal_EIDEnvelope(t *testing.T) {
	// BF3E 12 5A 10 <16-byte EID>
	eid := Hex("89 01 23 01 23 45 67 89 01 23 45 67 89 01 23 45")
	data := append(Hex("BF3E125A10"), eid...)

	var env eidEnvelope
	if err := Unmarshal(data, &env); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if !bytes.Equal(env.EID.Value, eid) {
		t.Errorf("EID value mismatch:\ngot  % X\nwant % X", env.EID.Value, eid)
	}
}

func TestUnmarshal_StringAsHex(t *testing.T) {
	type obj struct {
		Serial string `tlv:"5A"`
	}

	var o obj
	if err := Unmarshal(Hex("5A03AABBCC"), &o); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if o.Serial != "aabbcc" {
		t.Errorf("Serial = %q, want aabbcc", o.Serial)
	}
}

func TestUnmarshal_RepeatedTags(t *testing.T) {
	type entry struct {
		ID []byte `tlv:"4F"`
	}
	type dir struct {
		Entries []entry `tlv:"61"`
	}

	data := Hex("61 04 4F 02 AA 01", "61 04 4F 02 BB 02")

	var d dir
	if err := Unmarshal(data, &d); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	want := dir{Entries: []entry{
		{ID: Hex("AA01")},
		{ID: Hex("BB02")},
	}}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("repeated tag mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshal_RejectsNonPointer(t *testing.T) {
	var o eidObject
	if err := Unmarshal(Hex("5A01AA"), o); err == nil {
		t.Error("expected error for non-pointer target")
	}
}

func TestGetValue(t *testing.T) {
	data := Hex("5A 03 01 02 03")

	v, err := GetValue(data, "5a")
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if !bytes.Equal(v, Hex("010203")) {
		t.Errorf("GetValue = % X", v)
	}

	if _, err := GetValue(data, "BF3E"); err == nil {
		t.Error("expected error for missing tag")
	}
}
