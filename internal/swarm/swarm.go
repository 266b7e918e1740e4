// Package swarm is an in-process peer swarm. Nodes join topics as servers
// or clients, matching nodes get connected, and every connection carries a
// Mux of named message channels.
package swarm

import (
	"context"
	"encoding/hex"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrChannelClosed = errors.New("channel closed")
	ErrBackpressure  = errors.New("channel inbox full")
)

type JoinOptions struct {
	Server bool
	Client bool
}

// Hub is the shared medium nodes discover each other through.
type Hub struct {
	mu     sync.Mutex
	topics map[string][]*Discovery
}

func NewHub() *Hub {
	return &Hub{
		topics: make(map[string][]*Discovery),
	}
}

func (h *Hub) NewNode() *Node {
	return &Node{
		ID:    uuid.NewString(),
		hub:   h,
		conns: make(map[*Node]*Conn),
	}
}

type Node struct {
	ID string

	hub       *Hub
	mu        sync.Mutex
	conns     map[*Node]*Conn
	handlers  []func(*Conn)
	joined    []*Discovery
	destroyed bool
}

// OnConnection registers fn for every future connection. fn runs on its own
// goroutine.
func (n *Node) OnConnection(fn func(*Conn)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, fn)
}

func (n *Node) Connections() []*Conn {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]*Conn, 0, len(n.conns))
	for _, c := range n.conns {
		out = append(out, c)
	}
	return out
}

// Join announces n on topic and connects it to every node already there
// whose role complements opts.
func (n *Node) Join(topic []byte, opts JoinOptions) *Discovery {
	d := &Discovery{node: n, topic: hex.EncodeToString(topic), opts: opts}

	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		d.destroyed = true
		return d
	}
	n.joined = append(n.joined, d)
	n.mu.Unlock()

	h := n.hub
	h.mu.Lock()
	var matches []*Node
	for _, other := range h.topics[d.topic] {
		if other.node == n {
			continue
		}
		if (opts.Client && other.opts.Server) || (opts.Server && other.opts.Client) {
			matches = append(matches, other.node)
		}
	}
	h.topics[d.topic] = append(h.topics[d.topic], d)
	h.mu.Unlock()

	for _, other := range matches {
		n.Connect(other)
	}
	return d
}

// Connect links n and other directly. It is a no-op if they are already
// connected.
func (n *Node) Connect(other *Node) *Conn {
	if n == other {
		return nil
	}
	first, second := n, other
	if first.ID > second.ID {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()

	if c, ok := n.conns[other]; ok {
		second.mu.Unlock()
		first.mu.Unlock()
		return c
	}
	if n.destroyed || other.destroyed {
		second.mu.Unlock()
		first.mu.Unlock()
		return nil
	}

	local, remote := newConnPair(n, other)
	n.conns[other] = local
	other.conns[n] = remote
	localHandlers := slices.Clone(n.handlers)
	remoteHandlers := slices.Clone(other.handlers)

	second.mu.Unlock()
	first.mu.Unlock()

	for _, h := range localHandlers {
		go h(local)
	}
	for _, h := range remoteHandlers {
		go h(remote)
	}
	return local
}

// Destroy leaves every topic and closes every connection.
func (n *Node) Destroy() {
	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return
	}
	n.destroyed = true
	joined := n.joined
	n.joined = nil
	n.mu.Unlock()

	for _, d := range joined {
		d.Destroy()
	}
	for _, c := range n.Connections() {
		c.Close()
	}
}

func (n *Node) dropConn(remote *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.conns, remote)
}

// Discovery is one topic membership.
type Discovery struct {
	node      *Node
	topic     string
	opts      JoinOptions
	mu        sync.Mutex
	destroyed bool
}

// Flushed returns once the join has connected to every matching node.
// Joining is synchronous here, so it only honours ctx.
func (d *Discovery) Flushed(ctx context.Context) error {
	return ctx.Err()
}

// Destroy leaves the topic. Existing connections stay up.
func (d *Discovery) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	d.mu.Unlock()

	h := d.node.hub
	h.mu.Lock()
	h.topics[d.topic] = slices.DeleteFunc(h.topics[d.topic], func(o *Discovery) bool { return o == d })
	if len(h.topics[d.topic]) == 0 {
		delete(h.topics, d.topic)
	}
	h.mu.Unlock()

	n := d.node
	n.mu.Lock()
	n.joined = slices.DeleteFunc(n.joined, func(o *Discovery) bool { return o == d })
	n.mu.Unlock()
}

// Conn is one end of a connection between two nodes.
type Conn struct {
	local  *Node
	remote *Node
	mux    *Mux
	peer   *Conn
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newConnPair(a, b *Node) (*Conn, *Conn) {
	l := &link{}
	ca := &Conn{local: a, remote: b, done: make(chan struct{})}
	cb := &Conn{local: b, remote: a, done: make(chan struct{})}
	ca.peer, cb.peer = cb, ca
	ca.mux = newMux(l, ca)
	cb.mux = newMux(l, cb)
	l.sides = [2]*Mux{ca.mux, cb.mux}
	return ca, cb
}

func (c *Conn) Mux() *Mux {
	return c.mux
}

// RemoteID is the id of the node on the other end.
func (c *Conn) RemoteID() string {
	return c.remote.ID
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close tears down both ends and every channel on them.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.mux.closeAll()
	c.local.dropConn(c.remote)
	c.peer.Close()
}
