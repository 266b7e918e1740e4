// Package transport carries DHT RPCs over QUIC. Every request gets its own
// bidirectional stream.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"
)

type Transport struct {
	conn     *net.UDPConn
	tr       *quic.Transport
	cert     tls.Certificate
	listener *quic.Listener
}

// NewTransport binds a UDP socket on addr. The same socket both accepts and
// dials.
func NewTransport(addr string) (*Transport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	cert, err := GenerateCert()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	tr := &quic.Transport{Conn: conn}
	ln, err := tr.Listen(serverTLSConfig(cert), quicConfig())
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Transport{
		conn:     conn,
		tr:       tr,
		cert:     cert,
		listener: ln,
	}, nil
}

func (t *Transport) Accept(ctx context.Context) (*Peer, error) {
	conn, err := t.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return NewPeer(conn), nil
}

// Fingerprint is the pin clients use to recognize this transport.
func (t *Transport) Fingerprint() []byte {
	return Fingerprint(t.cert.Certificate[0])
}

// Dial connects to addr. A non-empty pin must match the remote certificate's
// fingerprint.
func (t *Transport) Dial(ctx context.Context, addr string, pin []byte) (*Peer, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", addr, err)
	}
	conn, err := t.tr.Dial(ctx, udpAddr, clientTLSConfig(pin), quicConfig())
	if err != nil {
		return nil, err
	}
	return NewPeer(conn), nil
}

func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *Transport) Close() error {
	_ = t.listener.Close()
	err := t.tr.Close()
	_ = t.conn.Close()
	return err
}
