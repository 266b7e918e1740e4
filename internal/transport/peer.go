package transport

import (
	"context"
	"io"

	"github.com/quic-go/quic-go"
	"github.com/rudransh-shrivastava/blind-pairing/internal/protocol"
)

type Peer struct {
	codec *protocol.Codec
	conn  *quic.Conn
}

func NewPeer(conn *quic.Conn) *Peer {
	return &Peer{
		codec: protocol.NewCodec(),
		conn:  conn,
	}
}

// AcceptStream waits for the remote side to open a request stream.
func (p *Peer) AcceptStream(ctx context.Context) (*quic.Stream, error) {
	return p.conn.AcceptStream(ctx)
}

func (p *Peer) Close() error {
	return p.conn.CloseWithError(0, "")
}

// Done is closed once the connection is gone.
func (p *Peer) Done() <-chan struct{} {
	return p.conn.Context().Done()
}

// Request sends msg on a fresh stream and reads the single reply.
func (p *Peer) Request(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	stream, err := p.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.CancelRead(0)

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}
	if err := p.codec.Encode(stream, msg); err != nil {
		return nil, err
	}
	if err := stream.Close(); err != nil {
		return nil, err
	}
	return p.codec.Decode(stream)
}

func (p *Peer) ReceiveFromStream(stream io.Reader) (protocol.Message, error) {
	return p.codec.Decode(stream)
}

func (p *Peer) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}

// Reply answers a request stream and closes its write side.
func (p *Peer) Reply(stream *quic.Stream, msg protocol.Message) error {
	if err := p.codec.Encode(stream, msg); err != nil {
		return err
	}
	return stream.Close()
}
