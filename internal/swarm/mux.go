package swarm

import (
	"log/slog"
	"slices"
	"sync"
)

const inboxSize = 64

// link is the state shared by the two muxes of one connection. A single
// lock covers both sides so opening and closing pairs of channels is atomic.
type link struct {
	mu    sync.Mutex
	sides [2]*Mux
}

func (l *link) other(m *Mux) *Mux {
	if l.sides[0] == m {
		return l.sides[1]
	}
	return l.sides[0]
}

type ChannelOptions struct {
	Protocol string
	ID       []byte
	// Messages are indexed by message type. Each runs on the channel's
	// delivery goroutine, in order.
	Messages []func(ch *Channel, data []byte)
	OnOpen   func(ch *Channel)
	OnClose  func(ch *Channel)
}

// Mux multiplexes channels over one connection. A channel is live once both
// ends have opened a channel with the same protocol and id.
type Mux struct {
	link *link
	conn *Conn

	channels   map[string]*Channel
	pairs      map[string]func(*Mux)
	remoteOpen map[string]bool
}

func newMux(l *link, c *Conn) *Mux {
	return &Mux{
		link:       l,
		conn:       c,
		channels:   make(map[string]*Channel),
		pairs:      make(map[string]func(*Mux)),
		remoteOpen: make(map[string]bool),
	}
}

func channelKey(protocol string, id []byte) string {
	return protocol + "\x00" + string(id)
}

func (m *Mux) Conn() *Conn {
	return m.conn
}

// CreateChannel returns nil if a channel with the same protocol and id is
// already on this mux.
func (m *Mux) CreateChannel(opts ChannelOptions) *Channel {
	key := channelKey(opts.Protocol, opts.ID)

	m.link.mu.Lock()
	defer m.link.mu.Unlock()

	if _, ok := m.channels[key]; ok {
		return nil
	}
	if m.conn.isClosed() {
		return nil
	}

	ch := &Channel{
		mux:    m,
		key:    key,
		opts:   opts,
		inbox:  make(chan frame, inboxSize),
		done:   make(chan struct{}),
		opened: make(chan struct{}),
	}
	m.channels[key] = ch
	go ch.deliver()
	return ch
}

// Opened reports whether the remote end has opened protocol/id.
func (m *Mux) Opened(protocol string, id []byte) bool {
	m.link.mu.Lock()
	defer m.link.mu.Unlock()
	return m.remoteOpen[channelKey(protocol, id)]
}

// Pair calls onMatch whenever the remote end opens protocol/id and no local
// channel exists for it yet.
func (m *Mux) Pair(protocol string, id []byte, onMatch func(*Mux)) {
	key := channelKey(protocol, id)

	m.link.mu.Lock()
	m.pairs[key] = onMatch
	fire := m.remoteOpen[key] && m.channels[key] == nil
	m.link.mu.Unlock()

	if fire {
		go onMatch(m)
	}
}

func (m *Mux) Unpair(protocol string, id []byte) {
	m.link.mu.Lock()
	defer m.link.mu.Unlock()
	delete(m.pairs, channelKey(protocol, id))
}

func (m *Mux) closeAll() {
	m.link.mu.Lock()
	chans := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		chans = append(chans, ch)
	}
	m.link.mu.Unlock()

	for _, ch := range chans {
		ch.Close()
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type frame struct {
	typ  int
	data []byte
}

// Channel is one end of a logical message channel.
type Channel struct {
	mux  *Mux
	key  string
	opts ChannelOptions

	localOpen bool
	active    bool
	closed    bool
	peer      *Channel
	queue     []frame

	inbox  chan frame
	done   chan struct{}
	opened chan struct{}
}

func (ch *Channel) Protocol() string {
	return ch.opts.Protocol
}

func (ch *Channel) ID() []byte {
	return ch.opts.ID
}

func (ch *Channel) Mux() *Mux {
	return ch.mux
}

// Opened is closed once both ends have opened the channel.
func (ch *Channel) Opened() <-chan struct{} {
	return ch.opened
}

func (ch *Channel) Done() <-chan struct{} {
	return ch.done
}

// Open announces the channel to the remote end.
func (ch *Channel) Open() {
	l := ch.mux.link
	l.mu.Lock()

	if ch.closed || ch.localOpen {
		l.mu.Unlock()
		return
	}
	ch.localOpen = true

	remote := l.other(ch.mux)
	remote.remoteOpen[ch.key] = true

	if rc := remote.channels[ch.key]; rc != nil && rc.localOpen && !rc.closed {
		ch.activateLocked(rc)
		l.mu.Unlock()
		ch.fireOpen()
		rc.fireOpen()
		return
	}

	var onMatch func(*Mux)
	if remote.channels[ch.key] == nil {
		onMatch = remote.pairs[ch.key]
	}
	l.mu.Unlock()

	if onMatch != nil {
		go onMatch(remote)
	}
}

func (ch *Channel) activateLocked(rc *Channel) {
	ch.peer, rc.peer = rc, ch
	ch.active, rc.active = true, true
	close(ch.opened)
	close(rc.opened)

	for _, f := range ch.queue {
		rc.push(f)
	}
	for _, f := range rc.queue {
		ch.push(f)
	}
	ch.queue, rc.queue = nil, nil
}

// Send delivers data as message type typ. Sends before the remote end
// opens are queued.
func (ch *Channel) Send(typ int, data []byte) error {
	l := ch.mux.link
	l.mu.Lock()
	defer l.mu.Unlock()

	if ch.closed {
		return ErrChannelClosed
	}
	f := frame{typ: typ, data: slices.Clone(data)}
	if !ch.active {
		ch.queue = append(ch.queue, f)
		return nil
	}
	if !ch.peer.push(f) {
		return ErrBackpressure
	}
	return nil
}

// push must be called with the link lock held.
func (ch *Channel) push(f frame) bool {
	if ch.closed {
		return false
	}
	select {
	case ch.inbox <- f:
		return true
	default:
		slog.Debug("Dropping message on full channel", "protocol", ch.opts.Protocol)
		return false
	}
}

// Close closes both ends.
func (ch *Channel) Close() {
	l := ch.mux.link
	l.mu.Lock()
	closed := ch.closeLocked()
	var peerClosed bool
	if ch.peer != nil {
		peerClosed = ch.peer.closeLocked()
	}
	peer := ch.peer
	l.mu.Unlock()

	if closed {
		ch.fireClose()
	}
	if peerClosed {
		peer.fireClose()
	}
}

func (ch *Channel) closeLocked() bool {
	if ch.closed {
		return false
	}
	ch.closed = true
	if ch.mux.channels[ch.key] == ch {
		delete(ch.mux.channels, ch.key)
	}
	if ch.localOpen {
		delete(ch.mux.link.other(ch.mux).remoteOpen, ch.key)
	}
	ch.queue = nil
	close(ch.done)
	return true
}

func (ch *Channel) fireOpen() {
	if ch.opts.OnOpen != nil {
		go ch.opts.OnOpen(ch)
	}
}

func (ch *Channel) fireClose() {
	if ch.opts.OnClose != nil {
		go ch.opts.OnClose(ch)
	}
}

func (ch *Channel) deliver() {
	for {
		select {
		case f := <-ch.inbox:
			if f.typ >= 0 && f.typ < len(ch.opts.Messages) && ch.opts.Messages[f.typ] != nil {
				ch.opts.Messages[f.typ](ch, f.data)
			}
		case <-ch.done:
			return
		}
	}
}
