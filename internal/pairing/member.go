package pairing

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/blind-pairing/internal/core"
	"github.com/rudransh-shrivastava/blind-pairing/internal/dht"
	"github.com/rudransh-shrivastava/blind-pairing/internal/rendezvous"
	"github.com/rudransh-shrivastava/blind-pairing/internal/swarm"
	"github.com/rudransh-shrivastava/blind-pairing/internal/timer"
)

const (
	recentPeersSize = 512
	answeredSize    = 512
	replyTimeout    = 10 * time.Second
)

// MemberHandler decides on one request. It grants by returning the
// Decision from OpenedRequest.Confirm; core.Deny or an error drops the
// request without an answer.
type MemberHandler func(ctx context.Context, req *core.MemberRequest) (core.Decision, error)

type MemberOptions struct {
	DiscoveryKey []byte
	OnAdd        MemberHandler
}

// pendingDecision is shared by every delivery of one session while the
// handler runs.
type pendingDecision struct {
	done     chan struct{}
	decision core.Decision
}

// Member answers pairing requests for one discovery key. It polls the DHT
// for announced requests and also takes requests straight off channels.
type Member struct {
	dht          dht.DHT
	discoveryKey []byte
	onAdd        MemberHandler
	logger       *slog.Logger
	timer        *timer.Timer
	release      func()

	recent   *lru[struct{}]
	answered *lru[core.Decision]

	mu      sync.Mutex
	pending map[string]*pendingDecision
	closing bool

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	flushed   chan struct{}
	flushOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

func newMember(d dht.DHT, opts MemberOptions, poll time.Duration, logger *slog.Logger, release func()) *Member {
	ctx, cancel := context.WithCancel(context.Background())
	return &Member{
		dht:          d,
		discoveryKey: opts.DiscoveryKey,
		onAdd:        opts.OnAdd,
		logger:       logger,
		timer:        timer.New(poll, timer.Options{}),
		release:      release,
		recent:       newLRU[struct{}](recentPeersSize),
		answered:     newLRU[core.Decision](answeredSize),
		pending:      make(map[string]*pendingDecision),
		ctx:          ctx,
		cancel:       cancel,
		flushed:      make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (m *Member) DiscoveryKey() []byte {
	return m.discoveryKey
}

func (m *Member) start() {
	go m.run()
}

func (m *Member) run() {
	defer close(m.done)

	for m.ctx.Err() == nil {
		m.poll(m.ctx)
		m.flushOnce.Do(func() { close(m.flushed) })

		if !m.timer.Sleep(m.ctx) && m.ctx.Err() != nil {
			return
		}
	}
}

// Flushed returns after the first full DHT poll.
func (m *Member) Flushed(ctx context.Context) error {
	select {
	case <-m.flushed:
		return nil
	default:
	}
	select {
	case <-m.flushed:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Member) poll(ctx context.Context) {
	peers, err := rendezvous.Candidates(ctx, m.dht, m.discoveryKey)
	if err != nil {
		m.logger.Debug("Lookup failed", "error", err)
		return
	}

	for _, peer := range peers {
		if ctx.Err() != nil {
			return
		}
		id := hex.EncodeToString(peer.PublicKey)
		short := shortHex(peer.PublicKey)
		if m.recent.has(id) {
			continue
		}

		raw, found, err := rendezvous.FetchRequest(ctx, m.dht, peer.PublicKey, m.discoveryKey)
		if err != nil {
			m.logger.Debug("Failed to fetch request", "peer", short, "error", err)
			continue
		}
		if !found {
			continue
		}
		m.recent.put(id, struct{}{})

		req, err := core.DecodeMemberRequest(raw)
		if err != nil {
			m.logger.Debug("Dropping undecodable request", "peer", short, "error", err)
			continue
		}

		decision := m.decide(ctx, req)
		if !decision.Granted() || ctx.Err() != nil {
			continue
		}
		if err := m.reply(decision); err != nil {
			if errors.Is(err, dht.ErrSeqReused) {
				m.logger.Debug("Request already answered", "session", shortHex(req.Session))
				continue
			}
			m.logger.Warn("Failed to write reply", "session", shortHex(req.Session), "error", err)
		}
	}
}

func (m *Member) reply(decision core.Decision) error {
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()
	return rendezvous.Reply(ctx, m.dht, decision)
}

// handleChannel answers a request that arrived on ch.
func (m *Member) handleChannel(ch *swarm.Channel, data []byte) {
	req, err := core.DecodeMemberRequest(data)
	if err != nil {
		m.logger.Debug("Dropping undecodable channel request", "error", err)
		return
	}
	if !m.track() {
		return
	}

	go func() {
		defer m.wg.Done()

		decision := m.decide(m.ctx, req)
		if !decision.Granted() || m.ctx.Err() != nil {
			return
		}
		if err := ch.Send(msgResponse, decision.Response); err != nil {
			m.logger.Debug("Failed to send response", "session", shortHex(req.Session), "error", err)
		}
	}()
}

// track registers background work with Close. It fails once Close has
// started.
func (m *Member) track() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return false
	}
	m.wg.Add(1)
	return true
}

// decide runs the handler at most once per session at a time. Concurrent
// deliveries of a session share the running call, and a granted session is
// answered from cache afterwards. The handler runs on its own goroutine, so
// a caller stops waiting when ctx ends and a handler may close its own
// member.
func (m *Member) decide(ctx context.Context, req *core.MemberRequest) core.Decision {
	key := hex.EncodeToString(req.Session)

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return core.Deny
	}
	if d, ok := m.answered.get(key); ok {
		m.mu.Unlock()
		return d
	}
	p, ok := m.pending[key]
	if !ok {
		p = &pendingDecision{done: make(chan struct{})}
		m.pending[key] = p
		go m.resolve(key, p, req)
	}
	m.mu.Unlock()

	select {
	case <-p.done:
		return p.decision
	case <-ctx.Done():
		return core.Deny
	}
}

func (m *Member) resolve(key string, p *pendingDecision, req *core.MemberRequest) {
	p.decision = m.invoke(m.ctx, req)

	m.mu.Lock()
	delete(m.pending, key)
	if p.decision.Granted() {
		m.answered.put(key, p.decision)
	}
	m.mu.Unlock()
	close(p.done)
}

func (m *Member) invoke(ctx context.Context, req *core.MemberRequest) (decision core.Decision) {
	if m.onAdd == nil {
		return core.Deny
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("Member handler panicked", "session", shortHex(req.Session), "panic", fmt.Sprint(r))
			decision = core.Deny
		}
	}()

	d, err := m.onAdd(ctx, req)
	if err != nil {
		m.logger.Debug("Member handler denied request", "session", shortHex(req.Session), "error", err)
		return core.Deny
	}
	return d
}

// Close stops polling and waits for the poll loop and pending channel
// replies. No handler starts once Close has begun, and the decision of a
// handler still running is dropped. It is safe to call more than once,
// including from a handler.
func (m *Member) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closing = true
		m.mu.Unlock()

		m.cancel()
		m.timer.Destroy()
		<-m.done
		m.wg.Wait()
		if m.release != nil {
			m.release()
		}
	})
	return nil
}

func shortHex(b []byte) string {
	if len(b) > 4 {
		b = b[:4]
	}
	return hex.EncodeToString(b)
}
