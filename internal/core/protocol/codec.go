package protocol

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/zeusync/blobarena/pkg/generic"
)

// CodecID occupies the low nibble of a frame's flag byte.
type CodecID uint8

const (
	CodecJSON    CodecID = 1
	CodecMsgpack CodecID = 2
)

func (c CodecID) String() string {
	switch c {
	case CodecJSON:
		return "json"
	case CodecMsgpack:
		return "msgpack"
	default:
		return "unknown"
	}
}

// ParseCodec maps a config name to its id.
func ParseCodec(name string) (CodecID, error) {
	switch name {
	case "json", "":
		return CodecJSON, nil
	case "msgpack":
		return CodecMsgpack, nil
	default:
		return 0, errors.Wrapf(ErrUnknownCodec, "codec %q", name)
	}
}

// Codec serialises message bodies.
type Codec interface {
	ID() CodecID
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type JSONCodec struct{}

func (JSONCodec) ID() CodecID                        { return CodecJSON }
func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type MsgpackCodec struct{}

func (MsgpackCodec) ID() CodecID                        { return CodecMsgpack }
func (MsgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (MsgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

func codecFor(id CodecID) (Codec, error) {
	switch id {
	case CodecJSON:
		return JSONCodec{}, nil
	case CodecMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, ErrUnknownCodec
	}
}

var (
	writers = generic.NewPool(func() *lz4.Writer { return lz4.NewWriter(nil) }, func(zw *lz4.Writer) { zw.Reset(nil) })
	readers = generic.NewPool(func() *lz4.Reader { return lz4.NewReader(nil) }, func(zr *lz4.Reader) { zr.Reset(nil) })
)

func compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := writers.Get()
	defer writers.Put(zw)
	zw.Reset(&buf)
	if _, err := zw.Write(src); err != nil {
		return nil, errors.Wrap(err, "lz4 write")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "lz4 close")
	}
	return buf.Bytes(), nil
}

func decompress(src []byte, limit int) ([]byte, error) {
	zr := readers.Get()
	defer readers.Put(zr)
	zr.Reset(bytes.NewReader(src))
	out, err := io.ReadAll(io.LimitReader(zr, int64(limit)+1))
	if err != nil {
		return nil, errors.Wrap(err, "lz4 read")
	}
	if len(out) > limit {
		return nil, ErrFrameTooLarge
	}
	return out, nil
}
