// Package protocol implements the Engine.IO v4 / Socket.IO v4 text framing spoken by the
// companion chat backend, plus the event names and payloads of the chat protocol itself.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyPacket   = errors.New("protocol: empty packet")
	ErrUnknownPacket = errors.New("protocol: unknown packet type")
	ErrMalformed     = errors.New("protocol: malformed frame")
)

// PacketType is the Engine.IO packet type, encoded as a single ASCII digit.
type PacketType byte

const (
	PacketOpen    PacketType = '0'
	PacketClose   PacketType = '1'
	PacketPing    PacketType = '2'
	PacketPong    PacketType = '3'
	PacketMessage PacketType = '4'
	PacketUpgrade PacketType = '5'
	PacketNoop    PacketType = '6'
)

// String returns the Engine.IO name of the packet type.
func (t PacketType) String() string {
	switch t {
	case PacketOpen:
		return "open"
	case PacketClose:
		return "close"
	case PacketPing:
		return "ping"
	case PacketPong:
		return "pong"
	case PacketMessage:
		return "message"
	case PacketUpgrade:
		return "upgrade"
	case PacketNoop:
		return "noop"
	default:
		return "unknown"
	}
}

// recordSeparator delimits packets inside a long-polling payload.
const recordSeparator = 0x1e

// Packet is one Engine.IO packet.
type Packet struct {
	Type PacketType
	Data []byte
}

// Encode returns the text form of the packet.
func (p Packet) Encode() []byte {
	out := make([]byte, 0, len(p.Data)+1)
	out = append(out, byte(p.Type))
	return append(out, p.Data...)
}

// DecodePacket parses the text form of a single packet.
func DecodePacket(data []byte) (Packet, error) {
	if len(data) == 0 {
		return Packet{}, ErrEmptyPacket
	}
	t := PacketType(data[0])
	if t < PacketOpen || t > PacketNoop {
		return Packet{}, fmt.Errorf("%w: %q", ErrUnknownPacket, data[0])
	}
	return Packet{Type: t, Data: append([]byte(nil), data[1:]...)}, nil
}

// EncodePayload joins packets for the long-polling transport.
func EncodePayload(packets ...Packet) []byte {
	encoded := make([][]byte, 0, len(packets))
	for _, p := range packets {
		encoded = append(encoded, p.Encode())
	}
	return bytes.Join(encoded, []byte{recordSeparator})
}

// DecodePayload splits a long-polling payload into packets.
func DecodePayload(data []byte) ([]Packet, error) {
	if len(data) == 0 {
		return nil, nil
	}
	parts := bytes.Split(data, []byte{recordSeparator})
	packets := make([]Packet, 0, len(parts))
	for _, part := range parts {
		p, err := DecodePacket(part)
		if err != nil {
			return nil, err
		}
		packets = append(packets, p)
	}
	return packets, nil
}

// Handshake is the JSON body of the open packet.
type Handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// Liveness is how long a client may go without hearing from the server
// before it considers the connection dead. Zero means no bound.
func (h Handshake) Liveness() time.Duration {
	if h.PingInterval <= 0 {
		return 0
	}
	return time.Duration(h.PingInterval+h.PingTimeout) * time.Millisecond
}

// OpenPacket builds the server's open packet.
func OpenPacket(h Handshake) (Packet, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return Packet{}, fmt.Errorf("encode handshake: %w", err)
	}
	return Packet{Type: PacketOpen, Data: data}, nil
}

// PingPacket and PongPacket carry an optional probe payload.
func PingPacket() Packet { return Packet{Type: PacketPing} }

func PongPacket(data []byte) Packet { return Packet{Type: PacketPong, Data: data} }

// ClosePacket asks the peer to close the Engine.IO session.
func ClosePacket() Packet { return Packet{Type: PacketClose} }
