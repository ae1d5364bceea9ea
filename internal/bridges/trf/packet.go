package trf

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Wire layout constants. Offsets are fixed by the hub firmware.
const (
	// PacketSize is the encoded length of every packet.
	PacketSize = 15

	// ProtocolVersion is the only version hubs currently speak.
	ProtocolVersion uint8 = 1

	offVersion   = 0
	offTimestamp = 1
	offType      = 9
	offAddress   = 10
	offData      = 11
)

// PacketType identifies the purpose of a packet. Values are part of the wire
// contract and must never be renumbered.
type PacketType uint8

// Packet types.
const (
	Heartbeat PacketType = 0
	PingPong  PacketType = 1
	Report    PacketType = 2
	Command   PacketType = 3
	GetParam  PacketType = 4
	SetParam  PacketType = 5
)

var packetTypeNames = map[PacketType]string{
	Heartbeat: "HEARTBEAT",
	PingPong:  "PING_PONG",
	Report:    "REPORT",
	Command:   "COMMAND",
	GetParam:  "GET_PARAM",
	SetParam:  "SET_PARAM",
}

func (t PacketType) String() string {
	if name, ok := packetTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PacketType(%d)", uint8(t))
}

// CommandType is the address of a COMMAND packet.
type CommandType uint8

// Hub commands.
const (
	CommandResetParam CommandType = 0
	CommandOTA        CommandType = 1
)

func (c CommandType) String() string {
	switch c {
	case CommandResetParam:
		return "RESET_PARAM"
	case CommandOTA:
		return "OTA"
	default:
		return fmt.Sprintf("CommandType(%d)", uint8(c))
	}
}

// Packet is the 15-byte unit exchanged with hubs.
type Packet struct {
	Version   uint8
	Timestamp int64 // microseconds since the Unix epoch, producer assigned
	Type      PacketType
	Address   uint8
	Data      int32
}

// NewPacket builds a version-1 packet stamped with now.
func NewPacket(t PacketType, address uint8, data int32, now time.Time) Packet {
	return Packet{
		Version:   ProtocolVersion,
		Timestamp: now.UnixMicro(),
		Type:      t,
		Address:   address,
		Data:      data,
	}
}

// Time converts the producer timestamp to a time.Time.
func (p Packet) Time() time.Time {
	return time.UnixMicro(p.Timestamp)
}

// EmbeddedSeconds returns the timestamp as fractional seconds.
func (p Packet) EmbeddedSeconds() float64 {
	return float64(p.Timestamp) / 1e6
}

// Encode serialises p into exactly PacketSize little-endian bytes.
func Encode(p Packet) []byte {
	b := make([]byte, PacketSize)
	b[offVersion] = p.Version
	binary.LittleEndian.PutUint64(b[offTimestamp:offType], uint64(p.Timestamp))
	b[offType] = byte(p.Type)
	b[offAddress] = p.Address
	binary.LittleEndian.PutUint32(b[offData:], uint32(p.Data))
	return b
}

// Decode parses exactly PacketSize bytes. Field values are not interpreted.
func Decode(b []byte) (Packet, error) {
	if len(b) != PacketSize {
		return Packet{}, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedPacket, len(b), PacketSize)
	}
	return Packet{
		Version:   b[offVersion],
		Timestamp: int64(binary.LittleEndian.Uint64(b[offTimestamp:offType])),
		Type:      PacketType(b[offType]),
		Address:   b[offAddress],
		Data:      int32(binary.LittleEndian.Uint32(b[offData:])),
	}, nil
}

// Fields is an encoding request assembled from untrusted input, where any
// field may be absent.
type Fields struct {
	Version   *uint8
	Timestamp *int64
	Type      *PacketType
	Address   *uint8
	Data      *int32
}

// Packet converts f into a Packet, failing on the first absent field.
func (f Fields) Packet() (Packet, error) {
	switch {
	case f.Version == nil:
		return Packet{}, fmt.Errorf("%w: missing version", ErrMalformedPacket)
	case f.Timestamp == nil:
		return Packet{}, fmt.Errorf("%w: missing timestamp", ErrMalformedPacket)
	case f.Type == nil:
		return Packet{}, fmt.Errorf("%w: missing packet_type", ErrMalformedPacket)
	case f.Address == nil:
		return Packet{}, fmt.Errorf("%w: missing address", ErrMalformedPacket)
	case f.Data == nil:
		return Packet{}, fmt.Errorf("%w: missing data", ErrMalformedPacket)
	}
	return Packet{
		Version:   *f.Version,
		Timestamp: *f.Timestamp,
		Type:      *f.Type,
		Address:   *f.Address,
		Data:      *f.Data,
	}, nil
}

// EncodeFields encodes a possibly incomplete request.
func EncodeFields(f Fields) ([]byte, error) {
	p, err := f.Packet()
	if err != nil {
		return nil, err
	}
	return Encode(p), nil
}
