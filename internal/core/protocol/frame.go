package protocol

import (
	"github.com/pkg/errors"
)

const (
	flagCompressed = 0x80
	codecMask      = 0x0f
	headerLen      = 2

	// DefaultCompressAbove is the body size from which frames are lz4
	// compressed.
	DefaultCompressAbove = 1024
	// MaxBodySize bounds a decoded body, compressed or not.
	MaxBodySize = 4 << 20
)

// Framer encodes messages as [flags][type][body].
type Framer struct {
	codec         Codec
	compressAbove int
}

// NewFramer returns a Framer for codec. compressAbove <= 0 disables
// compression.
func NewFramer(id CodecID, compressAbove int) (*Framer, error) {
	c, err := codecFor(id)
	if err != nil {
		return nil, err
	}
	return &Framer{codec: c, compressAbove: compressAbove}, nil
}

func (f *Framer) Codec() CodecID { return f.codec.ID() }

func (f *Framer) Encode(m Message) ([]byte, error) {
	body, err := f.codec.Marshal(m)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", m.Type())
	}
	flags := byte(f.codec.ID())
	if f.compressAbove > 0 && len(body) >= f.compressAbove {
		packed, err := compress(body)
		if err != nil {
			return nil, err
		}
		if len(packed) < len(body) {
			body = packed
			flags |= flagCompressed
		}
	}
	out := make([]byte, headerLen+len(body))
	out[0] = flags
	out[1] = byte(m.Type())
	copy(out[headerLen:], body)
	return out, nil
}

// Decode parses and validates one frame. It reports the codec the sender
// used so a reply can be framed the same way.
func Decode(frame []byte) (Message, CodecID, error) {
	if len(frame) < headerLen {
		return nil, 0, ErrShortFrame
	}
	id := CodecID(frame[0] & codecMask)
	codec, err := codecFor(id)
	if err != nil {
		return nil, 0, err
	}
	typ := Type(frame[1])
	msg, ok := newMessage(typ)
	if !ok {
		return nil, id, errors.Wrapf(ErrUnknownType, "type %d", frame[1])
	}

	body := frame[headerLen:]
	if frame[0]&flagCompressed != 0 {
		if body, err = decompress(body, MaxBodySize); err != nil {
			return nil, id, err
		}
	} else if len(body) > MaxBodySize {
		return nil, id, ErrFrameTooLarge
	}

	if err := codec.Unmarshal(body, msg); err != nil {
		return nil, id, malformed(err)
	}
	if err := msg.Validate(); err != nil {
		return nil, id, err
	}
	return msg, id, nil
}
