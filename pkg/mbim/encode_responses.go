package mbim

// Response encoders. The modem side of the protocol is not implemented by
// this module, but response frames are needed by device emulators and test
// doubles, and keeping them next to the decoders keeps the layouts honest.

func (m OpenResponse) Encode(txID uint16) []byte {
	var w payloadWriter
	w.u32(uint32(m.Status))
	w.u32(m.MaxTransfer)
	return encodeFrame(MSG_OPEN|ResponseFlag, txID, w.bytes())
}

func (m CloseResponse) Encode(txID uint16) []byte {
	var w payloadWriter
	w.u32(uint32(m.Status))
	return encodeFrame(MSG_CLOSE|ResponseFlag, txID, w.bytes())
}

func (m DeviceCapsResponse) Encode(txID uint16) []byte {
	var w payloadWriter
	w.u32(uint32(m.Status))
	w.blob([]byte(m.DeviceID))
	return encodeFrame(MSG_DEVICE_CAPS|ResponseFlag, txID, w.bytes())
}

func (m SubscriberReadyResponse) Encode(txID uint16) []byte {
	var w payloadWriter
	w.u32(uint32(m.Status))
	w.u32(uint32(m.ReadyState))
	return encodeFrame(MSG_SUBSCRIBER_READY|ResponseFlag, txID, w.bytes())
}

func (m VersionResponse) Encode(txID uint16) []byte {
	var w payloadWriter
	w.u32(uint32(m.Status))
	w.u16(m.DeviceVersion)
	return encodeFrame(MSG_VERSION|ResponseFlag, txID, w.bytes())
}

func (m SysCapsResponse) Encode(txID uint16) []byte {
	var w payloadWriter
	w.u32(uint32(m.Status))
	w.u32(m.ExecutorCount)
	w.u32(m.SlotCount)
	return encodeFrame(MSG_SYS_CAPS|ResponseFlag, txID, w.bytes())
}

// EncodeFor lets the mappings response answer either the query or the set
// request, which share a payload layout but not a message type.
func (m SlotMappingsResponse) EncodeFor(t MessageType, txID uint16) []byte {
	var w payloadWriter
	w.u32(uint32(m.Status))
	w.u32(uint32(len(m.Slots)))
	for _, s := range m.Slots {
		w.u32(s)
	}
	return encodeFrame(t|ResponseFlag, txID, w.bytes())
}

func (m SlotInfoResponse) Encode(txID uint16) []byte {
	var w payloadWriter
	w.u32(uint32(m.Status))
	w.u32(m.Slot)
	w.u32(uint32(m.State))
	return encodeFrame(MSG_SLOT_INFO_STATUS|ResponseFlag, txID, w.bytes())
}

func (m OpenChannelResponse) Encode(txID uint16) []byte {
	var w payloadWriter
	w.u32(uint32(m.Status))
	w.u32(m.Channel)
	w.blob(m.SelectResponse)
	return encodeFrame(MSG_OPEN_CHANNEL|ResponseFlag, txID, w.bytes())
}

func (m CloseChannelResponse) Encode(txID uint16) []byte {
	var w payloadWriter
	w.u32(uint32(m.Status))
	return encodeFrame(MSG_CLOSE_CHANNEL|ResponseFlag, txID, w.bytes())
}

func (m ApduResponse) Encode(txID uint16) []byte {
	var w payloadWriter
	w.u32(uint32(m.Status))
	w.blob(m.Payload)
	return encodeFrame(MSG_APDU|ResponseFlag, txID, w.bytes())
}
