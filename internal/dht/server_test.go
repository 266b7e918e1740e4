package dht

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/blind-pairing/internal/logger"
)

func setupServerClient(t *testing.T) (*Server, *Client) {
	t.Helper()

	server, err := NewServer(ServerConfig{Addr: "127.0.0.1:0", Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = server.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = server.Shutdown()
	})

	client, err := NewClient(ClientConfig{
		Addr:       "127.0.0.1:0",
		ServerAddr: server.Addr(),
		ServerPin:  server.Fingerprint(),
		Logger:     logger.Discard(),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Shutdown() })

	return server, client
}

func TestServerClientPing(t *testing.T) {
	_, client := setupServerClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestServerClientDHT(t *testing.T) {
	server, client := setupServerClient(t)

	exerciseDHT(t, client)

	// the client only ever sent signed data, the server node holds the result
	peers, err := server.Node().Lookup(context.Background(), []byte("unrelated"))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(peers) != 0 {
		t.Errorf("Expected no peers, got %d", len(peers))
	}
}

func TestClientShutdown(t *testing.T) {
	_, client := setupServerClient(t)

	if err := client.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := client.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestClientRejectsWrongServerPin(t *testing.T) {
	server, _ := setupServerClient(t)

	client, err := NewClient(ClientConfig{
		Addr:       "127.0.0.1:0",
		ServerAddr: server.Addr(),
		ServerPin:  make([]byte, 32),
		Logger:     logger.Discard(),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer func() { _ = client.Shutdown() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err == nil {
		t.Error("Expected connect with a wrong pin to fail")
	}
}
