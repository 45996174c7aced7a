// ABOUTME: RAOP timing packet codec
// ABOUTME: Converts between wall-clock time and 64-bit NTP timestamps
package ntp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// PacketSize is the length of a timing request or response
	PacketSize = 32

	// TypeRequest marks a timing request
	TypeRequest byte = 0xd2
	// TypeResponse marks a timing response
	TypeResponse byte = 0xd3

	header byte = 0x80

	// seconds between 1900-01-01 and 1970-01-01
	epochOffset = 2208988800
)

// ErrMalformed is returned for packets that are not RAOP timing packets
var ErrMalformed = errors.New("malformed timing packet")

// Timestamp is a 64-bit NTP timestamp: seconds since 1900 in the high word,
// fractional seconds in the low word
type Timestamp uint64

// FromTime converts t to an NTP timestamp
func FromTime(t time.Time) Timestamp {
	secs := uint64(t.Unix() + epochOffset)
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return Timestamp(secs<<32 | frac)
}

// Time converts ts back to wall-clock time
func (ts Timestamp) Time() time.Time {
	secs := int64(ts>>32) - epochOffset
	nanos := (uint64(ts&0xffffffff) * uint64(time.Second)) >> 32
	return time.Unix(secs, int64(nanos))
}

// Micros returns ts as Unix microseconds
func (ts Timestamp) Micros() int64 {
	return ts.Time().UnixMicro()
}

// Packet is a decoded timing request or response
type Packet struct {
	Type     byte
	Sequence uint16
	// Origin is the requester's transmit time echoed back in a response
	Origin Timestamp
	// Receive is when the responder received the request
	Receive Timestamp
	// Transmit is when the packet was sent
	Transmit Timestamp
}

// Marshal encodes p into a PacketSize buffer
func (p Packet) Marshal() []byte {
	b := make([]byte, PacketSize)
	b[0] = header
	b[1] = p.Type
	binary.BigEndian.PutUint16(b[2:4], p.Sequence)
	binary.BigEndian.PutUint64(b[8:16], uint64(p.Origin))
	binary.BigEndian.PutUint64(b[16:24], uint64(p.Receive))
	binary.BigEndian.PutUint64(b[24:32], uint64(p.Transmit))
	return b
}

// Unmarshal decodes a timing packet
func Unmarshal(b []byte) (Packet, error) {
	if len(b) < PacketSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrMalformed, len(b))
	}
	if b[1] != TypeRequest && b[1] != TypeResponse {
		return Packet{}, fmt.Errorf("%w: type 0x%02x", ErrMalformed, b[1])
	}
	return Packet{
		Type:     b[1],
		Sequence: binary.BigEndian.Uint16(b[2:4]),
		Origin:   Timestamp(binary.BigEndian.Uint64(b[8:16])),
		Receive:  Timestamp(binary.BigEndian.Uint64(b[16:24])),
		Transmit: Timestamp(binary.BigEndian.Uint64(b[24:32])),
	}, nil
}

// Reply builds the response to request received at recv and sent at now
func Reply(request Packet, recv, now time.Time) Packet {
	return Packet{
		Type:     TypeResponse,
		Sequence: request.Sequence,
		Origin:   request.Transmit,
		Receive:  FromTime(recv),
		Transmit: FromTime(now),
	}
}
