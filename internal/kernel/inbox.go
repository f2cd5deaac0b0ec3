package kernel

import (
	"encoding/binary"

	"github.com/jstz-dev/jstz-core/pkg/jstzerr"
)

// Inbox message tags (spec.md §6). Any other tag is ignored.
const (
	TagOperation      byte = 0x01
	TagOracleResponse byte = 0x02
)

// Message is one inbox message after framing: the rollup address it was
// sent to and the tagged payload. Payload[0] is the tag; the rest is
// the tag-specific body.
type Message struct {
	RollupAddress string
	Payload       []byte
}

// Tag returns the message's tag byte, or 0 for an empty payload.
func (m Message) Tag() byte {
	if len(m.Payload) == 0 {
		return 0
	}

	return m.Payload[0]
}

// Body returns the payload after the tag byte.
func (m Message) Body() []byte {
	if len(m.Payload) == 0 {
		return nil
	}

	return m.Payload[1:]
}

// DecodeInbox parses a level's raw inbox: a sequence of length-prefixed
// frames, each [addr-len u8][rollup address][payload]. A truncated
// stream fails as a whole — the host either delivers a level intact or
// not at all, so partial decoding would hide corruption.
func DecodeInbox(raw []byte) ([]Message, error) {
	var msgs []Message

	pos := 0
	for pos < len(raw) {
		if pos+4 > len(raw) {
			return nil, jstzerr.New(jstzerr.KindMalformed, "inbox stream truncated at frame length")
		}

		frameLen := int(binary.BigEndian.Uint32(raw[pos:]))
		pos += 4

		if frameLen < 1 || pos+frameLen > len(raw) {
			return nil, jstzerr.New(jstzerr.KindMalformed, "inbox frame of %d bytes overruns stream", frameLen)
		}

		frame := raw[pos : pos+frameLen]
		pos += frameLen

		addrLen := int(frame[0])
		if 1+addrLen > len(frame) {
			return nil, jstzerr.New(jstzerr.KindMalformed, "inbox frame address overruns frame")
		}

		msgs = append(msgs, Message{
			RollupAddress: string(frame[1 : 1+addrLen]),
			Payload:       frame[1+addrLen:],
		})
	}

	return msgs, nil
}

// EncodeInbox is DecodeInbox's inverse, used by tests and injectors.
func EncodeInbox(msgs []Message) []byte {
	var out []byte

	for _, m := range msgs {
		frame := make([]byte, 0, 1+len(m.RollupAddress)+len(m.Payload))
		frame = append(frame, byte(len(m.RollupAddress)))
		frame = append(frame, m.RollupAddress...)
		frame = append(frame, m.Payload...)

		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(frame)))
		out = append(out, l[:]...)
		out = append(out, frame...)
	}

	return out
}
