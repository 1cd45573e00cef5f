package protocol

import (
	"encoding/json"
	"fmt"
)

// FrameType is the Socket.IO packet type carried inside an Engine.IO message packet.
type FrameType byte

const (
	FrameConnect      FrameType = '0'
	FrameDisconnect   FrameType = '1'
	FrameEvent        FrameType = '2'
	FrameAck          FrameType = '3'
	FrameConnectError FrameType = '4'
)

// Frame is a decoded Socket.IO packet. Only the default namespace is used by
// the chat protocol, so Namespace is normally empty.
type Frame struct {
	Type      FrameType
	Namespace string
	Data      json.RawMessage
}

// Event is a named Socket.IO event with its raw JSON payload.
type Event struct {
	Name    string
	Payload json.RawMessage
}

// ConnectError is the payload of a connect error frame.
type ConnectError struct {
	Message string `json:"message"`
}

// DecodeFrame parses the data of an Engine.IO message packet.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	f := Frame{Type: FrameType(data[0])}
	if f.Type < FrameConnect || f.Type > FrameConnectError {
		return Frame{}, fmt.Errorf("%w: unknown frame type %q", ErrMalformed, data[0])
	}
	rest := data[1:]

	if len(rest) > 0 && rest[0] == '/' {
		end := 0
		for end < len(rest) && rest[end] != ',' {
			end++
		}
		f.Namespace = string(rest[:end])
		if end < len(rest) {
			end++
		}
		rest = rest[end:]
	}

	// ack id
	for len(rest) > 0 && rest[0] >= '0' && rest[0] <= '9' {
		rest = rest[1:]
	}

	if len(rest) > 0 {
		if !json.Valid(rest) {
			return Frame{}, fmt.Errorf("%w: invalid json body", ErrMalformed)
		}
		f.Data = append(json.RawMessage(nil), rest...)
	}
	return f, nil
}

// Event extracts the event name and first argument of an event frame.
func (f Frame) Event() (Event, error) {
	if f.Type != FrameEvent {
		return Event{}, fmt.Errorf("%w: frame type %q is not an event", ErrMalformed, f.Type)
	}
	var args []json.RawMessage
	if err := json.Unmarshal(f.Data, &args); err != nil {
		return Event{}, fmt.Errorf("%w: event body: %v", ErrMalformed, err)
	}
	if len(args) == 0 {
		return Event{}, fmt.Errorf("%w: event without a name", ErrMalformed)
	}
	var ev Event
	if err := json.Unmarshal(args[0], &ev.Name); err != nil {
		return Event{}, fmt.Errorf("%w: event name: %v", ErrMalformed, err)
	}
	if len(args) > 1 {
		ev.Payload = args[1]
	} else {
		ev.Payload = json.RawMessage("{}")
	}
	return ev, nil
}

// EncodeEvent builds the message packet for an outbound event.
func EncodeEvent(name string, payload any) (Packet, error) {
	args := []any{name}
	if payload != nil {
		args = append(args, payload)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return Packet{}, fmt.Errorf("encode event %s: %w", name, err)
	}
	data := make([]byte, 0, len(body)+1)
	data = append(data, byte(FrameEvent))
	data = append(data, body...)
	return Packet{Type: PacketMessage, Data: data}, nil
}

// ConnectPacket asks the server to join the default namespace.
func ConnectPacket() Packet {
	return Packet{Type: PacketMessage, Data: []byte{byte(FrameConnect)}}
}

// ConnectAckPacket is the server's reply to ConnectPacket.
func ConnectAckPacket(sid string) (Packet, error) {
	body, err := json.Marshal(map[string]string{"sid": sid})
	if err != nil {
		return Packet{}, err
	}
	return Packet{Type: PacketMessage, Data: append([]byte{byte(FrameConnect)}, body...)}, nil
}

// ConnectErrorPacket refuses a namespace connection.
func ConnectErrorPacket(message string) (Packet, error) {
	body, err := json.Marshal(ConnectError{Message: message})
	if err != nil {
		return Packet{}, err
	}
	return Packet{Type: PacketMessage, Data: append([]byte{byte(FrameConnectError)}, body...)}, nil
}

// DisconnectPacket leaves the default namespace.
func DisconnectPacket() Packet {
	return Packet{Type: PacketMessage, Data: []byte{byte(FrameDisconnect)}}
}
