// Package tlv maps BER-TLV (Basic Encoding Rules - Tag-Length-Value) data
// into Go structures using struct tags. The eUICC data objects read over the
// transport (EID, ISD-R selection responses) are BER-TLV encoded.
package tlv

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// Unmarshal parses raw BER-TLV data and maps it into a target Go struct.
//
// Field mapping is driven by the `tlv` struct tag holding the hex tag value:
//
//	type EIDObject struct {
//	    Value []byte `tlv:"5A"`
//	}
//
// Supported field kinds: []byte (raw value), string (hex of the value),
// nested structs and pointers to structs (constructed TLVs), and slices of
// structs (repeated tags).
func Unmarshal(data []byte, target interface{}) error {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return fmt.Errorf("bertlv decode failed: %w", err)
	}
	return UnmarshalFromPackets(packets, target)
}

// UnmarshalFromPackets maps pre-decoded bertlv.TLV objects to a target struct.
func UnmarshalFromPackets(packets []bertlv.TLV, target interface{}) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("target must be a non-nil pointer")
	}
	v = v.Elem()
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		tagConfig := t.Field(i).Tag.Get("tlv")
		if tagConfig == "" {
			continue
		}
		tagHex := strings.ToUpper(strings.Split(tagConfig, ",")[0])

		for _, packet := range packets {
			if strings.ToUpper(packet.Tag) == tagHex {
				if err := mapPacketToField(packet, v.Field(i)); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// GetValue scans the raw data for a specific tag and returns its payload.
func GetValue(data []byte, tag string) ([]byte, error) {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, err
	}

	targetTag := strings.ToUpper(tag)
	for _, p := range packets {
		if strings.ToUpper(p.Tag) == targetTag {
			return packetRawData(p), nil
		}
	}
	return nil, fmt.Errorf("tag %s not found", targetTag)
}

// mapPacketToField dispatches the TLV data to the appropriate decoding logic.
func mapPacketToField(packet bertlv.TLV, field reflect.Value) error {
	// Slices of structs grow by one element per matching tag occurrence.
	if field.Kind() == reflect.Slice && !isByteSlice(field) {
		elem := reflect.New(field.Type().Elem()).Elem()
		if err := decodeToValue(packet, elem); err != nil {
			return err
		}
		field.Set(reflect.Append(field, elem))
		return nil
	}

	return decodeToValue(packet, field)
}

func decodeToValue(packet bertlv.TLV, field reflect.Value) error {
	if isByteSlice(field) {
		field.SetBytes(packetRawData(packet))
		return nil
	}

	if field.Kind() == reflect.String {
		field.SetString(hex.EncodeToString(packet.Value))
		return nil
	}

	if isStructOrPtrToStruct(field) {
		target := structTarget(field)
		if len(packet.TLVs) > 0 {
			return UnmarshalFromPackets(packet.TLVs, target.Interface())
		}
		return Unmarshal(packet.Value, target.Interface())
	}

	return fmt.Errorf("unsupported field kind %s for tag %s", field.Kind(), packet.Tag)
}

// packetRawData returns the value of a packet, re-encoding nested TLVs when
// the packet is constructed.
func packetRawData(p bertlv.TLV) []byte {
	if len(p.TLVs) > 0 {
		if enc, err := bertlv.Encode(p.TLVs); err == nil {
			return enc
		}
	}
	return p.Value
}

func isByteSlice(v reflect.Value) bool {
	return v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8
}

func isStructOrPtrToStruct(v reflect.Value) bool {
	if v.Kind() == reflect.Struct {
		return true
	}
	return v.Kind() == reflect.Ptr && v.Type().Elem().Kind() == reflect.Struct
}

func structTarget(field reflect.Value) reflect.Value {
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return field
	}
	return field.Addr()
}
