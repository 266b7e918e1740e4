package swarm

import (
	"context"
	"testing"
	"time"
)

const testProtocol = "test/1"

func waitConn(t *testing.T, ch <-chan *Conn) *Conn {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for connection")
		return nil
	}
}

func TestJoinConnectsComplementaryRoles(t *testing.T) {
	hub := NewHub()
	a, b, c := hub.NewNode(), hub.NewNode(), hub.NewNode()
	defer a.Destroy()
	defer b.Destroy()
	defer c.Destroy()

	topic := []byte("topic")
	a.Join(topic, JoinOptions{Server: true})
	b.Join(topic, JoinOptions{Server: true})
	c.Join(topic, JoinOptions{Client: true})

	if len(a.Connections()) != 1 || len(b.Connections()) != 1 {
		t.Errorf("Expected servers to connect to the client only, got %d and %d", len(a.Connections()), len(b.Connections()))
	}
	if len(c.Connections()) != 2 {
		t.Errorf("Expected client to connect to both servers, got %d", len(c.Connections()))
	}
}

func TestDiscoveryDestroy(t *testing.T) {
	hub := NewHub()
	a, b := hub.NewNode(), hub.NewNode()
	defer a.Destroy()
	defer b.Destroy()

	topic := []byte("topic")
	d := a.Join(topic, JoinOptions{Server: true})
	if err := d.Flushed(context.Background()); err != nil {
		t.Fatalf("Flushed failed: %v", err)
	}
	d.Destroy()
	d.Destroy()

	b.Join(topic, JoinOptions{Client: true})
	if len(b.Connections()) != 0 {
		t.Errorf("Expected no connection after leaving, got %d", len(b.Connections()))
	}
}

func TestOnConnection(t *testing.T) {
	hub := NewHub()
	a, b := hub.NewNode(), hub.NewNode()
	defer a.Destroy()
	defer b.Destroy()

	conns := make(chan *Conn, 1)
	b.OnConnection(func(c *Conn) { conns <- c })

	a.Connect(b)
	c := waitConn(t, conns)
	if c.RemoteID() != a.ID {
		t.Errorf("Expected remote %s, got %s", a.ID, c.RemoteID())
	}

	if again := a.Connect(b); again == nil {
		t.Error("Expected existing connection to be returned")
	}
	if len(a.Connections()) != 1 {
		t.Errorf("Expected a single connection, got %d", len(a.Connections()))
	}
}

func TestChannelMessages(t *testing.T) {
	hub := NewHub()
	a, b := hub.NewNode(), hub.NewNode()
	defer a.Destroy()
	defer b.Destroy()

	ca := a.Connect(b)
	cb := b.Connections()[0]
	id := []byte("id")

	got := make(chan string, 4)
	sender := ca.Mux().CreateChannel(ChannelOptions{Protocol: testProtocol, ID: id})
	sender.Open()
	// queued until the other end opens
	if err := sender.Send(0, []byte("early")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	receiver := cb.Mux().CreateChannel(ChannelOptions{
		Protocol: testProtocol,
		ID:       id,
		Messages: []func(*Channel, []byte){
			func(_ *Channel, data []byte) { got <- "0:" + string(data) },
			func(_ *Channel, data []byte) { got <- "1:" + string(data) },
		},
	})
	if cb.Mux().CreateChannel(ChannelOptions{Protocol: testProtocol, ID: id}) != nil {
		t.Error("Expected duplicate channel to be refused")
	}
	receiver.Open()

	select {
	case <-receiver.Opened():
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for channel to open")
	}

	if err := sender.Send(1, []byte("late")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	for _, want := range []string{"0:early", "1:late"} {
		select {
		case msg := <-got:
			if msg != want {
				t.Errorf("Expected %s, got %s", want, msg)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("Timeout waiting for %s", want)
		}
	}
}

func TestPairCreatesChannelOnRemoteOpen(t *testing.T) {
	hub := NewHub()
	a, b := hub.NewNode(), hub.NewNode()
	defer a.Destroy()
	defer b.Destroy()

	ca := a.Connect(b)
	cb := b.Connections()[0]
	id := []byte("paired")

	opened := make(chan struct{})
	cb.Mux().Pair(testProtocol, id, func(m *Mux) {
		ch := m.CreateChannel(ChannelOptions{
			Protocol: testProtocol,
			ID:       id,
			OnOpen:   func(*Channel) { close(opened) },
		})
		if ch != nil {
			ch.Open()
		}
	})

	ch := ca.Mux().CreateChannel(ChannelOptions{Protocol: testProtocol, ID: id})
	ch.Open()

	select {
	case <-opened:
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for paired channel")
	}
	if !cb.Mux().Opened(testProtocol, id) {
		t.Error("Expected remote open to be visible")
	}
}

func TestChannelCloseClosesBothEnds(t *testing.T) {
	hub := NewHub()
	a, b := hub.NewNode(), hub.NewNode()
	defer a.Destroy()
	defer b.Destroy()

	ca := a.Connect(b)
	cb := b.Connections()[0]
	id := []byte("closing")

	closed := make(chan struct{})
	x := ca.Mux().CreateChannel(ChannelOptions{Protocol: testProtocol, ID: id})
	y := cb.Mux().CreateChannel(ChannelOptions{
		Protocol: testProtocol,
		ID:       id,
		OnClose:  func(*Channel) { close(closed) },
	})
	x.Open()
	y.Open()
	<-y.Opened()

	x.Close()
	x.Close()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for remote close")
	}
	if err := y.Send(0, nil); err != ErrChannelClosed {
		t.Errorf("Expected ErrChannelClosed, got %v", err)
	}
	if ca.Mux().CreateChannel(ChannelOptions{Protocol: testProtocol, ID: id}) == nil {
		t.Error("Expected channel to be creatable again after close")
	}
}

func TestConnCloseClosesChannels(t *testing.T) {
	hub := NewHub()
	a, b := hub.NewNode(), hub.NewNode()
	defer a.Destroy()
	defer b.Destroy()

	ca := a.Connect(b)
	ch := ca.Mux().CreateChannel(ChannelOptions{Protocol: testProtocol, ID: []byte("x")})

	ca.Close()

	select {
	case <-ch.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Expected channel to close with its connection")
	}
	if len(a.Connections()) != 0 || len(b.Connections()) != 0 {
		t.Error("Expected connection to be dropped on both nodes")
	}
}
