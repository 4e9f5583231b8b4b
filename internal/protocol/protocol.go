package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Protocol constants
const (
	// Packet types
	PacketTypeAnnounce  = 0x01
	PacketTypeTransform = 0x02
	PacketTypeRetire    = 0x03

	// Object kinds
	KindTransform = 0x01 // Plain transform (null, bone, mesh)
	KindCamera    = 0x02
	KindLight     = 0x03
	KindCharacter = 0x04

	// Packet structure sizes
	HeaderSize           = 8  // 1 + 2 + 4 + 1 bytes
	AnnouncePayloadSize  = 68 // 64 + 4 bytes
	TransformPayloadSize = 44 // 4 + 3*4 + 4*4 + 3*4 bytes
	RetirePayloadSize    = 0

	// Field sizes
	NameSize      = 64
	TimestampSize = 4
)

// Header represents the 8-byte packet header
// Layout: [PacketType:1][PacketLen:2][ObjectID:4][Kind:1]
type Header struct {
	PacketType uint8  // 0x01=Announce, 0x02=Transform, 0x03=Retire
	PacketLen  uint16 // Total packet size (header + payload)
	ObjectID   uint32 // Host-side object identifier
	Kind       uint8  // Object kind, required on Announce
}

// AnnouncePayload represents the 68-byte announce payload
// Layout: [Name:64][Timestamp:4]
type AnnouncePayload struct {
	Name      [NameSize]byte // Null-terminated string (64 bytes)
	Timestamp uint32         // Unix timestamp (4 bytes)
}

// TransformPayload represents the 44-byte transform payload
// Layout: [Sequence:4][Location:12][Rotation:16][Scale:12]
type TransformPayload struct {
	Sequence uint32
	Location [3]float32
	Rotation [4]float32 // Quaternion x, y, z, w
	Scale    [3]float32
}

// ParsedPacket represents a fully parsed packet
type ParsedPacket struct {
	Header    *Header
	Announce  *AnnouncePayload  // Only set for announce packets
	Transform *TransformPayload // Only set for transform packets
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		ObjectID:   binary.BigEndian.Uint32(data[3:7]),
		Kind:       data[7],
	}

	return header, nil
}

// ParseAnnouncePayload parses the 68-byte announce payload
func ParseAnnouncePayload(data []byte) (*AnnouncePayload, error) {
	if len(data) < AnnouncePayloadSize {
		return nil, fmt.Errorf("announce payload too short: expected %d bytes, got %d",
			AnnouncePayloadSize, len(data))
	}

	payload := &AnnouncePayload{}
	copy(payload.Name[:], data[0:NameSize])
	payload.Timestamp = binary.BigEndian.Uint32(data[NameSize : NameSize+TimestampSize])

	return payload, nil
}

// ParseTransformPayload parses the 44-byte transform payload
func ParseTransformPayload(data []byte) (*TransformPayload, error) {
	if len(data) < TransformPayloadSize {
		return nil, fmt.Errorf("transform payload too short: expected %d bytes, got %d",
			TransformPayloadSize, len(data))
	}

	payload := &TransformPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}

	offset := 4
	for i := range payload.Location {
		payload.Location[i] = readFloat32(data[offset:])
		offset += 4
	}
	for i := range payload.Rotation {
		payload.Rotation[i] = readFloat32(data[offset:])
		offset += 4
	}
	for i := range payload.Scale {
		payload.Scale[i] = readFloat32(data[offset:])
		offset += 4
	}

	return payload, nil
}

// ParsePacket parses a complete packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeAnnounce:
		payload, err := ParseAnnouncePayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse announce payload: %w", err)
		}
		if payload.GetName() == "" {
			return nil, fmt.Errorf("announce packet has empty object name")
		}
		packet.Announce = payload

	case PacketTypeTransform:
		payload, err := ParseTransformPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse transform payload: %w", err)
		}
		packet.Transform = payload

	case PacketTypeRetire:
		// No payload

	default:
		return nil, fmt.Errorf("unknown packet type: 0x%02x", header.PacketType)
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeAnnounce:
		if !IsValidKind(header.Kind) {
			return fmt.Errorf("invalid object kind: 0x%02x", header.Kind)
		}
		if payloadSize != AnnouncePayloadSize {
			return fmt.Errorf("announce packet payload size mismatch: expected %d, got %d",
				AnnouncePayloadSize, payloadSize)
		}
	case PacketTypeTransform:
		if payloadSize != TransformPayloadSize {
			return fmt.Errorf("transform packet payload size mismatch: expected %d, got %d",
				TransformPayloadSize, payloadSize)
		}
	case PacketTypeRetire:
		if payloadSize != RetirePayloadSize {
			return fmt.Errorf("retire packet must not carry a payload, got %d bytes", payloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeAnnounce || ptype == PacketTypeTransform || ptype == PacketTypeRetire
}

// IsValidKind checks if the object kind is valid
func IsValidKind(kind uint8) bool {
	return kind >= KindTransform && kind <= KindCharacter
}

// KindString returns the lower-case name of an object kind
func KindString(kind uint8) string {
	switch kind {
	case KindTransform:
		return "transform"
	case KindCamera:
		return "camera"
	case KindLight:
		return "light"
	case KindCharacter:
		return "character"
	default:
		return fmt.Sprintf("unknown(0x%02x)", kind)
	}
}

// ExtractString extracts a null-terminated string from a fixed-size byte array
func ExtractString(buf []byte) string {
	nullPos := len(buf)
	for i, b := range buf {
		if b == 0 {
			nullPos = i
			break
		}
	}
	return string(buf[:nullPos])
}

// GetName extracts the object name as a string
func (a *AnnouncePayload) GetName() string {
	return ExtractString(a.Name[:])
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string

	switch h.PacketType {
	case PacketTypeAnnounce:
		packetType = "Announce"
	case PacketTypeTransform:
		packetType = "Transform"
	case PacketTypeRetire:
		packetType = "Retire"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, ObjectID:%d, Kind:%s}",
		packetType, h.PacketLen, h.ObjectID, KindString(h.Kind))
}

// String returns a human-readable representation of the announce payload
func (a *AnnouncePayload) String() string {
	return fmt.Sprintf("AnnouncePayload{Name:%q, Timestamp:%d}", a.GetName(), a.Timestamp)
}

// String returns a human-readable representation of the transform payload
func (t *TransformPayload) String() string {
	return fmt.Sprintf("TransformPayload{Sequence:%d, Location:%v, Rotation:%v, Scale:%v}",
		t.Sequence, t.Location, t.Rotation, t.Scale)
}

func readFloat32(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}
