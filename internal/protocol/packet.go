package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/udisondev/relay/internal/symbol"
)

const (
	// MagicHeader opens every message on every service. A frame that
	// does not start with it means the stream desynced.
	MagicHeader uint64 = 0xBB8CE7A278BB40F6

	// HeaderSize is magic + type symbol + body length.
	HeaderSize = 24

	// MaxMessageBody caps a single message body.
	MaxMessageBody = 1 << 20
)

// Message is one framed unit of the relay protocol. Implementations
// register themselves in the catalog so the decoder can produce typed
// values.
type Message interface {
	// Name is the wire name the type symbol is derived from.
	Name() string
	MarshalBody() ([]byte, error)
	UnmarshalBody(data []byte) error
}

// Packet is an ordered sequence of messages delivered together.
type Packet []Message

// TypeSymbolOf returns the wire type symbol for a message.
func TypeSymbolOf(m Message) symbol.Symbol {
	if u, ok := m.(*Unknown); ok {
		return u.TypeSymbol
	}
	return symbol.Of(m.Name())
}

// Unknown holds a message whose type symbol is not in the catalog.
// Decoding it is not an error: the dispatcher logs and drops it.
type Unknown struct {
	TypeSymbol symbol.Symbol
	Payload    []byte
}

func (m *Unknown) Name() string { return "Unknown" }

func (m *Unknown) MarshalBody() ([]byte, error) {
	return m.Payload, nil
}

func (m *Unknown) UnmarshalBody(data []byte) error {
	m.Payload = append([]byte(nil), data...)
	return nil
}

var catalog = map[symbol.Symbol]func() Message{}

// register adds a message constructor to the decode catalog.
func register(newFn func() Message) {
	m := newFn()
	catalog[symbol.Of(m.Name())] = newFn
}

// MarshalPacket encodes one or more messages into a single frame.
func MarshalPacket(msgs ...Message) ([]byte, error) {
	var out []byte
	for _, m := range msgs {
		body, err := m.MarshalBody()
		if err != nil {
			return nil, fmt.Errorf("marshaling %s: %w", m.Name(), err)
		}
		if len(body) > MaxMessageBody {
			return nil, fmt.Errorf("marshaling %s: body %d exceeds cap", m.Name(), len(body))
		}
		var hdr [HeaderSize]byte
		binary.LittleEndian.PutUint64(hdr[0:8], MagicHeader)
		binary.LittleEndian.PutUint64(hdr[8:16], uint64(TypeSymbolOf(m)))
		binary.LittleEndian.PutUint64(hdr[16:24], uint64(len(body)))
		out = append(out, hdr[:]...)
		out = append(out, body...)
	}
	return out, nil
}

// UnmarshalPacket decodes a frame into its messages. Any framing fault
// (bad magic, oversized body, truncation) is fatal for the connection.
func UnmarshalPacket(data []byte) (Packet, error) {
	var pkt Packet
	for len(data) > 0 {
		if len(data) < HeaderSize {
			return nil, fmt.Errorf("truncated header: %d bytes", len(data))
		}
		if magic := binary.LittleEndian.Uint64(data[0:8]); magic != MagicHeader {
			return nil, fmt.Errorf("bad magic 0x%016x", magic)
		}
		typeSym := symbol.Symbol(binary.LittleEndian.Uint64(data[8:16]))
		bodyLen := binary.LittleEndian.Uint64(data[16:24])
		if bodyLen > MaxMessageBody {
			return nil, fmt.Errorf("message body %d exceeds cap", bodyLen)
		}
		if uint64(len(data)-HeaderSize) < bodyLen {
			return nil, fmt.Errorf("truncated body: want %d, have %d", bodyLen, len(data)-HeaderSize)
		}
		body := data[HeaderSize : HeaderSize+int(bodyLen)]

		var msg Message
		if newFn, ok := catalog[typeSym]; ok {
			msg = newFn()
		} else {
			msg = &Unknown{TypeSymbol: typeSym}
		}
		if err := msg.UnmarshalBody(body); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", msg.Name(), err)
		}
		pkt = append(pkt, msg)
		data = data[HeaderSize+int(bodyLen):]
	}
	if len(pkt) == 0 {
		return nil, fmt.Errorf("empty packet")
	}
	return pkt, nil
}
