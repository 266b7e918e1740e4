package dht

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/blind-pairing/internal/crypto"
	"github.com/rudransh-shrivastava/blind-pairing/internal/protocol"
	"github.com/rudransh-shrivastava/blind-pairing/internal/transport"
)

var ErrUnexpectedReply = errors.New("unexpected reply")

type ClientConfig struct {
	// Addr is the local bind address.
	Addr       string
	ServerAddr string
	// ServerPin is the server's certificate fingerprint. Empty trusts any
	// server at ServerAddr.
	ServerPin  []byte
	Logger     *slog.Logger
}

// Client is a DHT backed by a remote Server. Records and announcements are
// signed locally, secret keys are never sent.
type Client struct {
	config    ClientConfig
	logger    *slog.Logger
	transport *transport.Transport

	mu     sync.Mutex
	server *transport.Peer
	closed bool
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Addr == "" {
		cfg.Addr = ":0"
	}
	tr, err := transport.NewTransport(cfg.Addr)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config:    cfg,
		logger:    logger,
		transport: tr,
	}, nil
}

func (c *Client) Addr() string {
	return c.transport.LocalAddr().String()
}

func (c *Client) Connect(ctx context.Context) error {
	_, err := c.peer(ctx)
	return err
}

func (c *Client) Ping(ctx context.Context) error {
	res, err := c.request(ctx, &protocol.Ping{RequestID: newRequestID()})
	if err != nil {
		return err
	}
	if _, ok := res.(*protocol.Pong); !ok {
		return fmt.Errorf("%w: %s", ErrUnexpectedReply, res.Type())
	}
	return nil
}

func (c *Client) Lookup(ctx context.Context, topic []byte) ([]Peer, error) {
	res, err := c.request(ctx, &protocol.LookupReq{RequestID: newRequestID(), Topic: topic})
	if err != nil {
		return nil, err
	}
	lr, ok := res.(*protocol.LookupRes)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedReply, res.Type())
	}
	peers := make([]Peer, len(lr.Peers))
	for i, k := range lr.Peers {
		peers[i] = Peer{PublicKey: k}
	}
	return peers, nil
}

func (c *Client) MutableGet(ctx context.Context, publicKey []byte, opts GetOptions) (*Record, error) {
	res, err := c.request(ctx, &protocol.MutableGetReq{
		RequestID: newRequestID(),
		PublicKey: publicKey,
		Latest:    opts.Latest,
	})
	if err != nil {
		return nil, err
	}
	gr, ok := res.(*protocol.MutableGetRes)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedReply, res.Type())
	}
	if !gr.Found {
		return nil, nil
	}

	rec := &Record{
		PublicKey: publicKey,
		Value:     gr.Value,
		Seq:       gr.Seq,
		Signature: gr.Signature,
	}
	if !rec.Verify() {
		return nil, ErrBadSignature
	}
	return rec, nil
}

func (c *Client) MutablePut(ctx context.Context, kp crypto.KeyPair, value []byte) error {
	rec := SignRecord(kp, 0, value)
	return c.expectAck(ctx, &protocol.MutablePutReq{
		RequestID: newRequestID(),
		PublicKey: rec.PublicKey,
		Value:     rec.Value,
		Seq:       rec.Seq,
		Signature: rec.Signature,
	})
}

func (c *Client) Announce(ctx context.Context, topic []byte, kp crypto.KeyPair) error {
	return c.expectAck(ctx, &protocol.AnnounceReq{
		RequestID: newRequestID(),
		Topic:     topic,
		PublicKey: kp.PublicKey,
		Signature: SignAnnounce(kp, topic),
	})
}

func (c *Client) Unannounce(ctx context.Context, topic []byte, kp crypto.KeyPair) error {
	return c.expectAck(ctx, &protocol.UnannounceReq{
		RequestID: newRequestID(),
		Topic:     topic,
		PublicKey: kp.PublicKey,
		Signature: SignUnannounce(kp, topic),
	})
}

func (c *Client) Shutdown() error {
	c.logger.Debug("Shutting down DHT client")

	c.mu.Lock()
	c.closed = true
	if c.server != nil {
		_ = c.server.Close()
		c.server = nil
	}
	c.mu.Unlock()

	return c.transport.Close()
}

func (c *Client) expectAck(ctx context.Context, msg protocol.Message) error {
	res, err := c.request(ctx, msg)
	if err != nil {
		return err
	}
	if _, ok := res.(*protocol.Ack); !ok {
		return fmt.Errorf("%w: %s", ErrUnexpectedReply, res.Type())
	}
	return nil
}

func (c *Client) request(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	server, err := c.peer(ctx)
	if err != nil {
		return nil, err
	}

	res, err := server.Request(ctx, msg)
	if err != nil {
		c.logger.Debug("Request failed", "type", msg.Type().String(), "error", err)
		return nil, err
	}
	if res.ID() != msg.ID() {
		return nil, fmt.Errorf("%w: request id %s, got %s", ErrUnexpectedReply, msg.ID(), res.ID())
	}
	if e, ok := res.(*protocol.Error); ok {
		return nil, remoteError(e)
	}
	return res, nil
}

// peer returns the server connection, dialing again if the last one died.
func (c *Client) peer(ctx context.Context) (*transport.Peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.server != nil {
		select {
		case <-c.server.Done():
			c.server = nil
		default:
			return c.server, nil
		}
	}

	c.logger.Debug("Connecting to DHT server", "server", c.config.ServerAddr)
	server, err := c.transport.Dial(ctx, c.config.ServerAddr, c.config.ServerPin)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", c.config.ServerAddr, err)
	}
	c.server = server
	return server, nil
}

func remoteError(e *protocol.Error) error {
	switch e.Code {
	case protocol.ErrBadSignature:
		return ErrBadSignature
	case protocol.ErrSeqReused:
		return ErrSeqReused
	case protocol.ErrSeqTooLow:
		return ErrSeqTooLow
	default:
		return e
	}
}

func newRequestID() string {
	return uuid.NewString()
}
