package mbim

import "fmt"

// Request and response payloads, one pair per message type. Requests encode
// into a full frame given a transaction id; responses decode from the frame
// payload returned by ParseFrame.

// OpenRequest starts the control-channel handshake. MaxTransfer advertises
// the largest frame the host accepts; the reply carries the negotiated value,
// which becomes the APDU fragmentation MTU.
type OpenRequest struct {
	MaxTransfer uint32
}

func (m OpenRequest) Encode(txID uint16) []byte {
	var w payloadWriter
	w.u32(m.MaxTransfer)
	return encodeFrame(MSG_OPEN, txID, w.bytes())
}

type OpenResponse struct {
	Status      Status
	MaxTransfer uint32
}

func DecodeOpenResponse(payload []byte) (*OpenResponse, error) {
	r := newPayloadReader(payload)
	m := &OpenResponse{
		Status:      Status(r.u32("status")),
		MaxTransfer: r.u32("max transfer"),
	}
	return m, r.err
}

// CloseRequest releases the control channel.
type CloseRequest struct{}

func (CloseRequest) Encode(txID uint16) []byte {
	return encodeFrame(MSG_CLOSE, txID, nil)
}

type CloseResponse struct {
	Status Status
}

func DecodeCloseResponse(payload []byte) (*CloseResponse, error) {
	r := newPayloadReader(payload)
	m := &CloseResponse{Status: Status(r.u32("status"))}
	return m, r.err
}

// DeviceCapsRequest queries static device capabilities.
type DeviceCapsRequest struct{}

func (DeviceCapsRequest) Encode(txID uint16) []byte {
	return encodeFrame(MSG_DEVICE_CAPS, txID, nil)
}

// DeviceCapsResponse carries the device identity. DeviceID is the IMEI.
type DeviceCapsResponse struct {
	Status   Status
	DeviceID string
}

func DecodeDeviceCapsResponse(payload []byte) (*DeviceCapsResponse, error) {
	r := newPayloadReader(payload)
	m := &DeviceCapsResponse{Status: Status(r.u32("status"))}
	m.DeviceID = string(r.blob("device id"))
	return m, r.err
}

// SubscriberReadyRequest queries the subscriber ready state.
type SubscriberReadyRequest struct{}

func (SubscriberReadyRequest) Encode(txID uint16) []byte {
	return encodeFrame(MSG_SUBSCRIBER_READY, txID, nil)
}

type SubscriberReadyResponse struct {
	Status     Status
	ReadyState ReadyState
}

func DecodeSubscriberReadyResponse(payload []byte) (*SubscriberReadyResponse, error) {
	r := newPayloadReader(payload)
	m := &SubscriberReadyResponse{
		Status:     Status(r.u32("status")),
		ReadyState: ReadyState(r.u32("ready state")),
	}
	return m, r.err
}

// VersionRequest is the extension-version exchange. A device answering with
// a version below 2.0 does not support multi-SIM queries.
type VersionRequest struct {
	HostVersion uint16
}

// Version20 is the threshold for multi-SIM capable devices (BCD 2.0).
const Version20 uint16 = 0x0200

func (m VersionRequest) Encode(txID uint16) []byte {
	var w payloadWriter
	w.u16(m.HostVersion)
	return encodeFrame(MSG_VERSION, txID, w.bytes())
}

type VersionResponse struct {
	Status        Status
	DeviceVersion uint16
}

func DecodeVersionResponse(payload []byte) (*VersionResponse, error) {
	r := newPayloadReader(payload)
	m := &VersionResponse{Status: Status(r.u32("status"))}
	m.DeviceVersion = r.u16("device version")
	return m, r.err
}

// SysCapsRequest queries executor and slot counts.
type SysCapsRequest struct{}

func (SysCapsRequest) Encode(txID uint16) []byte {
	return encodeFrame(MSG_SYS_CAPS, txID, nil)
}

type SysCapsResponse struct {
	Status        Status
	ExecutorCount uint32
	SlotCount     uint32
}

func DecodeSysCapsResponse(payload []byte) (*SysCapsResponse, error) {
	r := newPayloadReader(payload)
	m := &SysCapsResponse{
		Status:        Status(r.u32("status")),
		ExecutorCount: r.u32("executor count"),
		SlotCount:     r.u32("slot count"),
	}
	return m, r.err
}

// SlotMappingsRequest queries the executor-to-slot mapping.
type SlotMappingsRequest struct{}

func (SlotMappingsRequest) Encode(txID uint16) []byte {
	return encodeFrame(MSG_DEVICE_SLOT_MAPPINGS, txID, nil)
}

// SetSlotMappingsRequest maps executor 0 to the given physical slot.
type SetSlotMappingsRequest struct {
	Slots []uint32
}

func (m SetSlotMappingsRequest) Encode(txID uint16) []byte {
	var w payloadWriter
	w.u32(uint32(len(m.Slots)))
	for _, s := range m.Slots {
		w.u32(s)
	}
	return encodeFrame(MSG_SET_SLOT_MAPPINGS, txID, w.bytes())
}

// SlotMappingsResponse answers both the query and the set request: one entry
// per executor, each value a physical slot index.
type SlotMappingsResponse struct {
	Status Status
	Slots  []uint32
}

func DecodeSlotMappingsResponse(payload []byte) (*SlotMappingsResponse, error) {
	r := newPayloadReader(payload)
	m := &SlotMappingsResponse{Status: Status(r.u32("status"))}
	count := r.u32("map count")
	if r.err != nil {
		return m, r.err
	}
	if count > 16 {
		return nil, fmt.Errorf("implausible executor count %d", count)
	}
	for i := uint32(0); i < count; i++ {
		m.Slots = append(m.Slots, r.u32("slot index"))
	}
	return m, r.err
}

// SlotInfoRequest queries the state of one physical slot.
type SlotInfoRequest struct {
	Slot uint32
}

func (m SlotInfoRequest) Encode(txID uint16) []byte {
	var w payloadWriter
	w.u32(m.Slot)
	return encodeFrame(MSG_SLOT_INFO_STATUS, txID, w.bytes())
}

type SlotInfoResponse struct {
	Status Status
	Slot   uint32
	State  SlotState
}

func DecodeSlotInfoResponse(payload []byte) (*SlotInfoResponse, error) {
	r := newPayloadReader(payload)
	m := &SlotInfoResponse{
		Status: Status(r.u32("status")),
		Slot:   r.u32("slot"),
		State:  SlotState(r.u32("slot state")),
	}
	return m, r.err
}

// OpenChannelRequest opens a logical channel to the application named by
// AppID (the ISD-R AID for eUICC management).
type OpenChannelRequest struct {
	AppID        []byte
	ChannelGroup uint32
}

func (m OpenChannelRequest) Encode(txID uint16) []byte {
	var w payloadWriter
	w.u32(m.ChannelGroup)
	w.blob(m.AppID)
	return encodeFrame(MSG_OPEN_CHANNEL, txID, w.bytes())
}

type OpenChannelResponse struct {
	Status         Status
	Channel        uint32
	SelectResponse []byte
}

func DecodeOpenChannelResponse(payload []byte) (*OpenChannelResponse, error) {
	r := newPayloadReader(payload)
	m := &OpenChannelResponse{
		Status:  Status(r.u32("status")),
		Channel: r.u32("channel"),
	}
	m.SelectResponse = r.blob("select response")
	return m, r.err
}

// CloseChannelRequest releases a logical channel.
type CloseChannelRequest struct {
	Channel      uint32
	ChannelGroup uint32
}

func (m CloseChannelRequest) Encode(txID uint16) []byte {
	var w payloadWriter
	w.u32(m.Channel)
	w.u32(m.ChannelGroup)
	return encodeFrame(MSG_CLOSE_CHANNEL, txID, w.bytes())
}

type CloseChannelResponse struct {
	Status Status
}

func DecodeCloseChannelResponse(payload []byte) (*CloseChannelResponse, error) {
	r := newPayloadReader(payload)
	m := &CloseChannelResponse{Status: Status(r.u32("status"))}
	return m, r.err
}

// ApduRequest transfers one wire chunk of an APDU on an open channel.
type ApduRequest struct {
	Channel uint32
	Data    []byte
}

func (m ApduRequest) Encode(txID uint16) []byte {
	var w payloadWriter
	w.u32(m.Channel)
	w.blob(m.Data)
	return encodeFrame(MSG_APDU, txID, w.bytes())
}

// ApduResponse carries the card's reply. For intermediate command fragments
// the payload is empty and only Status matters; for the final fragment the
// payload ends with the two status-word bytes.
type ApduResponse struct {
	Status  Status
	Payload []byte
}

func DecodeApduResponse(payload []byte) (*ApduResponse, error) {
	r := newPayloadReader(payload)
	m := &ApduResponse{Status: Status(r.u32("status"))}
	m.Payload = r.blob("apdu payload")
	return m, r.err
}
