package pairing

import (
	"context"
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

const unannounceTimeout = 10 * time.Second

type CandidateHandler func(ctx context.Context, res *core.Result) error

type CandidateOptions struct {
	Invite   *core.Invite
	UserData []byte
	// Seed resumes an earlier attempt. Random when empty.
	Seed  []byte
	OnAdd CandidateHandler
}

// Candidate asks to be let in with an invite. It pushes its request over
// open channels and publishes it on the DHT, and finishes on the first valid
// response from either.
type Candidate struct {
	dht          dht.DHT
	request      *core.CandidateRequest
	discoveryKey []byte
	onAdd        CandidateHandler
	logger       *slog.Logger
	timer        *timer.Timer
	release      func()
	channels     func() []*swarm.Channel

	mu              sync.Mutex
	announced       bool
	paired          bool
	result          *core.Result
	unannouncing    bool
	announcedSignal chan struct{}
	pairedSignal    chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

func newCandidate(d dht.DHT, opts CandidateOptions, poll time.Duration, logger *slog.Logger) (*Candidate, error) {
	req, err := core.NewCandidateRequest(opts.Invite, opts.UserData, core.RequestOptions{Seed: opts.Seed})
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Candidate{
		dht:             d,
		request:         req,
		discoveryKey:    opts.Invite.DiscoveryKey,
		onAdd:           opts.OnAdd,
		logger:          logger,
		timer:           timer.New(poll, timer.Options{}),
		announcedSignal: make(chan struct{}),
		pairedSignal:    make(chan struct{}),
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}, nil
}

func (c *Candidate) DiscoveryKey() []byte {
	return c.discoveryKey
}

// Request is the attempt this candidate runs.
func (c *Candidate) Request() *core.CandidateRequest {
	return c.request
}

// discard releases a candidate that was never started.
func (c *Candidate) discard() {
	c.cancel()
	c.timer.Destroy()
}

func (c *Candidate) start() {
	go c.run()
}

func (c *Candidate) run() {
	defer close(c.done)

	if c.channels != nil {
		for _, ch := range c.channels() {
			select {
			case <-ch.Opened():
				c.sendRequest(ch)
			default:
			}
		}
	}

	for c.ctx.Err() == nil && !c.Paired() {
		res, err := rendezvous.FetchReply(c.ctx, c.dht, c.request)
		if err != nil {
			c.logger.Debug("Failed to fetch reply", "error", err)
		} else if res != nil {
			c.pair(res)
			return
		}

		if !c.isAnnounced() && !c.Paired() {
			c.announce()
		}

		if !c.timer.Sleep(c.ctx) && c.ctx.Err() != nil {
			return
		}
	}
}

func (c *Candidate) announce() {
	if err := rendezvous.Announce(c.ctx, c.dht, c.request, c.discoveryKey); err != nil {
		c.logger.Debug("Failed to announce request", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.announced {
		c.announced = true
		close(c.announcedSignal)
	}
}

func (c *Candidate) sendRequest(ch *swarm.Channel) {
	if c.Paired() {
		return
	}
	if err := ch.Send(msgRequest, c.request.Encode()); err != nil {
		c.logger.Debug("Failed to send request", "error", err)
	}
}

func (c *Candidate) handleResponse(data []byte) {
	res, err := c.request.HandleResponse(data)
	if err != nil {
		c.logger.Debug("Ignoring invalid response", "error", err)
		return
	}
	c.pair(res)
}

// pair settles the candidate on res. Only the first call before Close has
// any effect. The handler runs on its own goroutine so it may close the
// candidate or the coordinator.
func (c *Candidate) pair(res *core.Result) {
	c.mu.Lock()
	if c.paired || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.paired = true
	c.result = res
	c.retractLocked()
	c.mu.Unlock()

	c.logger.Debug("Paired", "session", shortHex(c.request.Session))
	go c.finish(res)
}

func (c *Candidate) finish(res *core.Result) {
	if c.onAdd != nil {
		if err := c.onAdd(c.ctx, res); err != nil {
			c.logger.Warn("Candidate handler failed", "error", err)
		}
	}
	close(c.pairedSignal)

	_ = c.Close()
}

// retractLocked removes the DHT announcement in the background. Close waits
// for it; its error is dropped.
func (c *Candidate) retractLocked() {
	if !c.announced || c.unannouncing {
		return
	}
	c.unannouncing = true
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), unannounceTimeout)
		defer cancel()
		if err := rendezvous.Unannounce(ctx, c.dht, c.request, c.discoveryKey); err != nil {
			c.logger.Debug("Failed to unannounce", "error", err)
		}
	}()
}

func (c *Candidate) isAnnounced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.announced
}

// Announced is closed once the request is on the DHT.
func (c *Candidate) Announced() <-chan struct{} {
	return c.announcedSignal
}

func (c *Candidate) Paired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paired
}

// Done is closed after the handler has seen the result.
func (c *Candidate) Done() <-chan struct{} {
	return c.pairedSignal
}

func (c *Candidate) Result() *core.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Wait blocks until the candidate pairs, closes, or ctx ends.
func (c *Candidate) Wait(ctx context.Context) (*core.Result, error) {
	select {
	case <-c.pairedSignal:
		return c.Result(), nil
	case <-c.done:
		select {
		case <-c.pairedSignal:
			return c.Result(), nil
		default:
		}
		if c.Paired() {
			// pairing won but the handler is still running
			select {
			case <-c.pairedSignal:
				return c.Result(), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the attempt, retracts the DHT announcement and waits for
// background work. A response arriving after Close has begun is ignored. It
// is safe to call more than once, including from the handler.
func (c *Candidate) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.cancel()
		c.mu.Unlock()
		c.timer.Destroy()
		<-c.done
		c.mu.Lock()
		c.retractLocked()
		c.mu.Unlock()
		c.wg.Wait()
		if c.release != nil {
			c.release()
		}
	})
	return nil
}
