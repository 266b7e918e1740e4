package dht

import (
	"context"
	"errors"
	"log/slog"

	"github.com/quic-go/quic-go"
	"github.com/rudransh-shrivastava/blind-pairing/internal/protocol"
	"github.com/rudransh-shrivastava/blind-pairing/internal/transport"
)

type ServerConfig struct {
	Addr   string
	Logger *slog.Logger
	// Store defaults to a MemoryStore.
	Store Store
}

// Server answers DHT RPCs for a local Node. Each request arrives on its own
// stream.
type Server struct {
	config    ServerConfig
	logger    *slog.Logger
	node      *Node
	transport *transport.Transport
}

func NewServer(cfg ServerConfig) (*Server, error) {
	tr, err := transport.NewTransport(cfg.Addr)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}

	return &Server{
		config:    cfg,
		logger:    logger,
		node:      NewNode(store, logger.With("component", "node")),
		transport: tr,
	}, nil
}

func (s *Server) Addr() string {
	return s.transport.LocalAddr().String()
}

// Fingerprint is the pin clients pass as ClientConfig.ServerPin.
func (s *Server) Fingerprint() []byte {
	return s.transport.Fingerprint()
}

func (s *Server) Node() *Node {
	return s.node
}

func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down DHT server")
	err := s.transport.Close()
	if cerr := s.node.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("DHT server started", "addr", s.Addr())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			peer, err := s.transport.Accept(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, quic.ErrServerClosed) {
					return err
				}
				s.logger.Error("Failed to accept connection", "error", err)
				continue
			}

			go s.handlePeer(ctx, peer)
		}
	}
}

func (s *Server) handlePeer(ctx context.Context, peer *transport.Peer) {
	remoteAddr := peer.RemoteAddr()
	s.logger.Debug("Peer connected", "peer", remoteAddr)
	defer func() {
		_ = peer.Close()
		s.logger.Debug("Peer disconnected", "peer", remoteAddr)
	}()

	for {
		stream, err := peer.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Debug("Failed to accept stream", "error", err)
			}
			return
		}
		go s.handleStream(ctx, peer, stream)
	}
}

func (s *Server) handleStream(ctx context.Context, peer *transport.Peer, stream *quic.Stream) {
	msg, err := peer.ReceiveFromStream(stream)
	if err != nil {
		s.logger.Debug("Failed to receive message", "peer", peer.RemoteAddr(), "error", err)
		stream.CancelRead(0)
		_ = peer.Reply(stream, &protocol.Error{Code: protocol.ErrInvalidMsg, Message: err.Error()})
		return
	}

	res := s.handleMessage(ctx, msg)
	if err := peer.Reply(stream, res); err != nil {
		s.logger.Debug("Failed to send reply", "type", res.Type().String(), "error", err)
	}
}

func (s *Server) handleMessage(ctx context.Context, msg protocol.Message) protocol.Message {
	id := msg.ID()

	switch m := msg.(type) {
	case *protocol.Ping:
		return &protocol.Pong{RequestID: id}
	case *protocol.LookupReq:
		peers, err := s.node.Lookup(ctx, m.Topic)
		if err != nil {
			return errorMessage(id, err)
		}
		res := &protocol.LookupRes{RequestID: id}
		for _, p := range peers {
			res.Peers = append(res.Peers, p.PublicKey)
		}
		return res
	case *protocol.MutableGetReq:
		rec, err := s.node.Get(ctx, m.PublicKey)
		if err != nil {
			return errorMessage(id, err)
		}
		if rec == nil {
			return &protocol.MutableGetRes{RequestID: id}
		}
		return &protocol.MutableGetRes{
			RequestID: id,
			Found:     true,
			Value:     rec.Value,
			Seq:       rec.Seq,
			Signature: rec.Signature,
		}
	case *protocol.MutablePutReq:
		err := s.node.Put(ctx, &Record{
			PublicKey: m.PublicKey,
			Value:     m.Value,
			Seq:       m.Seq,
			Signature: m.Signature,
		})
		if err != nil {
			return errorMessage(id, err)
		}
		return &protocol.Ack{RequestID: id}
	case *protocol.AnnounceReq:
		if err := s.node.AddAnnouncement(ctx, m.Topic, m.PublicKey, m.Signature); err != nil {
			return errorMessage(id, err)
		}
		return &protocol.Ack{RequestID: id}
	case *protocol.UnannounceReq:
		if err := s.node.RemoveAnnouncement(ctx, m.Topic, m.PublicKey, m.Signature); err != nil {
			return errorMessage(id, err)
		}
		return &protocol.Ack{RequestID: id}
	default:
		s.logger.Warn("Unhandled message type", "type", msg.Type().String())
		return &protocol.Error{RequestID: id, Code: protocol.ErrInvalidMsg, Message: msg.Type().String()}
	}
}

func errorMessage(id string, err error) *protocol.Error {
	code := protocol.ErrInternal
	switch {
	case errors.Is(err, ErrBadSignature):
		code = protocol.ErrBadSignature
	case errors.Is(err, ErrSeqReused):
		code = protocol.ErrSeqReused
	case errors.Is(err, ErrSeqTooLow):
		code = protocol.ErrSeqTooLow
	case errors.Is(err, ErrValueTooLarge):
		code = protocol.ErrInvalidMsg
	}
	return &protocol.Error{RequestID: id, Code: code, Message: err.Error()}
}
