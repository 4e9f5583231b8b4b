package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeAnnounce builds an announce packet for the named object.
// Names longer than 63 bytes are rejected so the field stays null-terminated.
func EncodeAnnounce(objectID uint32, kind uint8, name string, timestamp uint32) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("object name cannot be empty")
	}
	if len(name) >= NameSize {
		return nil, fmt.Errorf("object name too long: %d bytes (maximum %d)", len(name), NameSize-1)
	}
	if !IsValidKind(kind) {
		return nil, fmt.Errorf("invalid object kind: 0x%02x", kind)
	}

	buf := make([]byte, HeaderSize+AnnouncePayloadSize)
	putHeader(buf, PacketTypeAnnounce, objectID, kind)
	copy(buf[HeaderSize:HeaderSize+NameSize], name)
	binary.BigEndian.PutUint32(buf[HeaderSize+NameSize:], timestamp)

	return buf, nil
}

// EncodeTransform builds a transform packet
func EncodeTransform(objectID uint32, payload *TransformPayload) []byte {
	buf := make([]byte, HeaderSize+TransformPayloadSize)
	putHeader(buf, PacketTypeTransform, objectID, 0)

	binary.BigEndian.PutUint32(buf[HeaderSize:], payload.Sequence)

	offset := HeaderSize + 4
	for _, v := range payload.Location {
		binary.BigEndian.PutUint32(buf[offset:], math.Float32bits(v))
		offset += 4
	}
	for _, v := range payload.Rotation {
		binary.BigEndian.PutUint32(buf[offset:], math.Float32bits(v))
		offset += 4
	}
	for _, v := range payload.Scale {
		binary.BigEndian.PutUint32(buf[offset:], math.Float32bits(v))
		offset += 4
	}

	return buf
}

// EncodeRetire builds a retire packet
func EncodeRetire(objectID uint32) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, PacketTypeRetire, objectID, 0)
	return buf
}

func putHeader(buf []byte, packetType uint8, objectID uint32, kind uint8) {
	buf[0] = packetType
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], objectID)
	buf[7] = kind
}
