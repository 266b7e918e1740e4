package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/rudransh-shrivastava/blind-pairing/internal/wire"
)

var (
	ErrUnknownMessage = errors.New("unknown message type")
	ErrFrameTooLarge  = errors.New("frame too large")
)

// Codec frames messages as a 2 byte type, a 4 byte body length and a
// protobuf-encoded body.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) Encode(w io.Writer, msg Message) error {
	frame, err := c.EncodeToBytes(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

func (c *Codec) Decode(r io.Reader) (Message, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	typ := MessageType(binary.BigEndian.Uint16(header[0:2]))
	size := binary.BigEndian.Uint32(header[2:6])
	if size > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	msg := newMessage(typ)
	if msg == nil {
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnknownMessage, uint16(typ))
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	rec, err := wire.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", typ, err)
	}
	msg.unmarshal(rec)
	return msg, nil
}

func (c *Codec) EncodeToBytes(msg Message) ([]byte, error) {
	body := msg.marshal()
	if len(body) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, headerSize, headerSize+len(body))
	binary.BigEndian.PutUint16(frame[0:2], uint16(msg.Type()))
	binary.BigEndian.PutUint32(frame[2:6], uint32(len(body)))
	return append(frame, body...), nil
}

func (c *Codec) DecodeFromBytes(data []byte) (Message, error) {
	return c.Decode(bytes.NewReader(data))
}
