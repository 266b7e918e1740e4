// Package pairing runs blind-pairing members and candidates. A Pairing owns
// one session per discovery key, keeps the swarm topic joined in the right
// roles, and wires a request/response channel onto every connection.
package pairing

import (
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/blind-pairing/internal/core"
	"github.com/rudransh-shrivastava/blind-pairing/internal/crypto"
	"github.com/rudransh-shrivastava/blind-pairing/internal/dht"
	"github.com/rudransh-shrivastava/blind-pairing/internal/swarm"
)

// Protocol names the pairing channel on a connection mux.
const Protocol = "blind-pairing/1"

const (
	msgRequest  = 0
	msgResponse = 1
)

const DefaultPoll = 5 * time.Second

type Config struct {
	Logger *slog.Logger
	// Poll is the base DHT polling interval. Defaults to DefaultPoll.
	Poll time.Duration
}

type session struct {
	key          string
	discoveryKey []byte
	member       *Member
	candidate    *Candidate
	channels     map[*swarm.Channel]struct{}
	muxes        map[*swarm.Mux]struct{}
	discovery    *swarm.Discovery
	server       bool
	client       bool
}

type Pairing struct {
	swarm  *swarm.Node
	dht    dht.DHT
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

func New(sw *swarm.Node, d dht.DHT, cfg Config) *Pairing {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Poll <= 0 {
		cfg.Poll = DefaultPoll
	}

	p := &Pairing{
		swarm:    sw,
		dht:      d,
		config:   cfg,
		logger:   logger,
		sessions: make(map[string]*session),
	}
	sw.OnConnection(p.onConnection)
	return p
}

// AddMember starts answering requests for opts.DiscoveryKey.
func (p *Pairing) AddMember(opts MemberOptions) (*Member, error) {
	if len(opts.DiscoveryKey) == 0 {
		return nil, ErrNoDiscoveryKey
	}
	if len(opts.DiscoveryKey) != crypto.HashSize {
		return nil, ErrBadDiscoveryKey
	}
	key := hex.EncodeToString(opts.DiscoveryKey)
	topic := shortHex(opts.DiscoveryKey)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	s := p.sessionLocked(key, opts.DiscoveryKey)
	if s.member != nil {
		return nil, ErrMemberExists
	}

	var m *Member
	m = newMember(p.dht, opts, p.config.Poll, p.logger.With("role", "member", "topic", topic), func() {
		p.release(key, func(s *session) {
			if s.member == m {
				s.member = nil
			}
		})
	})
	s.member = m
	p.updateLocked(s)
	m.start()

	p.logger.Debug("Member added", "topic", topic)
	return m, nil
}

// AddCandidate starts a pairing attempt with opts.Invite.
func (p *Pairing) AddCandidate(opts CandidateOptions) (*Candidate, error) {
	if opts.Invite == nil {
		return nil, core.ErrInvalidInvite
	}
	if len(opts.Invite.DiscoveryKey) != crypto.HashSize {
		return nil, ErrBadDiscoveryKey
	}

	c, err := newCandidate(p.dht, opts, p.config.Poll, p.logger)
	if err != nil {
		return nil, err
	}
	key := hex.EncodeToString(c.discoveryKey)
	topic := shortHex(c.discoveryKey)
	c.logger = p.logger.With("role", "candidate", "topic", topic)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		c.discard()
		return nil, ErrClosed
	}
	s := p.sessionLocked(key, c.discoveryKey)
	if s.candidate != nil {
		c.discard()
		return nil, ErrCandidateExists
	}

	c.release = func() {
		p.release(key, func(s *session) {
			if s.candidate == c {
				s.candidate = nil
			}
		})
	}
	c.channels = func() []*swarm.Channel {
		return p.channels(key)
	}
	s.candidate = c
	p.updateLocked(s)
	c.start()

	p.logger.Debug("Candidate added", "topic", topic)
	return c, nil
}

// Sessions is the number of discovery keys with an active role.
func (p *Pairing) Sessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Close closes every member and candidate.
func (p *Pairing) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var members []*Member
	var candidates []*Candidate
	for _, s := range p.sessions {
		if s.member != nil {
			members = append(members, s.member)
		}
		if s.candidate != nil {
			candidates = append(candidates, s.candidate)
		}
	}
	p.mu.Unlock()

	for _, m := range members {
		_ = m.Close()
	}
	for _, c := range candidates {
		_ = c.Close()
	}
	return nil
}

func (p *Pairing) sessionLocked(key string, discoveryKey []byte) *session {
	if s, ok := p.sessions[key]; ok {
		return s
	}
	s := &session{
		key:          key,
		discoveryKey: append([]byte(nil), discoveryKey...),
		channels:     make(map[*swarm.Channel]struct{}),
		muxes:        make(map[*swarm.Mux]struct{}),
	}
	p.sessions[key] = s
	return s
}

// updateLocked brings the topic membership in line with the active roles
// and makes sure every connection carries the session's channel.
func (p *Pairing) updateLocked(s *session) {
	server := s.member != nil
	client := s.candidate != nil

	if server != s.server || client != s.client {
		if s.discovery != nil {
			s.discovery.Destroy()
			s.discovery = nil
		}
		s.server, s.client = server, client
		if server || client {
			s.discovery = p.swarm.Join(s.discoveryKey, swarm.JoinOptions{Server: server, Client: client})
		}
	}

	for _, conn := range p.swarm.Connections() {
		p.attachLocked(s, conn.Mux())
	}
}

func (p *Pairing) release(key string, clear func(*session)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[key]
	if !ok {
		return
	}
	clear(s)

	if s.member != nil || s.candidate != nil {
		p.updateLocked(s)
		return
	}

	delete(p.sessions, key)
	for ch := range s.channels {
		ch.Close()
	}
	for mux := range s.muxes {
		mux.Unpair(Protocol, s.discoveryKey)
	}
	if s.discovery != nil {
		s.discovery.Destroy()
	}
	p.logger.Debug("Session closed", "topic", shortHex(s.discoveryKey))
}

func (p *Pairing) channels(key string) []*swarm.Channel {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[key]
	if !ok {
		return nil
	}
	out := make([]*swarm.Channel, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

func (p *Pairing) onConnection(conn *swarm.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	for _, s := range p.sessions {
		p.attachLocked(s, conn.Mux())
	}
}

func (p *Pairing) attachLocked(s *session, mux *swarm.Mux) {
	if _, ok := s.muxes[mux]; ok {
		return
	}
	s.muxes[mux] = struct{}{}

	key := s.key
	mux.Pair(Protocol, s.discoveryKey, func(m *swarm.Mux) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if s, ok := p.sessions[key]; ok {
			p.openChannelLocked(s, m)
		}
	})
	p.openChannelLocked(s, mux)
}

func (p *Pairing) openChannelLocked(s *session, mux *swarm.Mux) {
	key := s.key
	ch := mux.CreateChannel(swarm.ChannelOptions{
		Protocol: Protocol,
		ID:       s.discoveryKey,
		Messages: []func(*swarm.Channel, []byte){
			msgRequest: func(ch *swarm.Channel, data []byte) {
				if m := p.member(key); m != nil {
					m.handleChannel(ch, data)
				}
			},
			msgResponse: func(_ *swarm.Channel, data []byte) {
				if c := p.candidate(key); c != nil {
					c.handleResponse(data)
				}
			},
		},
		OnOpen: func(ch *swarm.Channel) {
			if c := p.candidate(key); c != nil {
				c.sendRequest(ch)
			}
		},
		OnClose: func(ch *swarm.Channel) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if s, ok := p.sessions[key]; ok {
				delete(s.channels, ch)
			}
		},
	})
	if ch == nil {
		return
	}
	s.channels[ch] = struct{}{}
	ch.Open()
}

func (p *Pairing) member(key string) *Member {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[key]; ok {
		return s.member
	}
	return nil
}

func (p *Pairing) candidate(key string) *Candidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[key]; ok {
		return s.candidate
	}
	return nil
}
