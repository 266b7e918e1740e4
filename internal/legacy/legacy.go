// Package legacy speaks the first invite protocol, which predates request
// encoding. A candidate proves it holds the invite secret by signing its own
// key, and the inviter answers with a secret blinded for that key.
package legacy

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/blind-pairing/internal/crypto"
	"github.com/rudransh-shrivastava/blind-pairing/internal/dht"
	"github.com/rudransh-shrivastava/blind-pairing/internal/keys"
	"github.com/rudransh-shrivastava/blind-pairing/internal/rendezvous"
	"github.com/rudransh-shrivastava/blind-pairing/internal/timer"
)

const (
	Version     = 1
	DefaultPoll = 5 * time.Second

	proofSize = crypto.SeedSize + crypto.SignatureSize
)

var (
	ErrBadProof  = errors.New("malformed proof")
	ErrBadInvite = errors.New("invite is not an ed25519 secret key")
	ErrClosed    = errors.New("closed")
)

// Invite is the secret handed to a candidate. ID is its public half and is
// what the inviter keeps.
type Invite struct {
	Version uint64
	Secret  ed25519.PrivateKey
	ID      []byte
}

func GenerateInvite() (*Invite, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Invite{
		Version: Version,
		Secret:  kp.SecretKey,
		ID:      kp.PublicKey,
	}, nil
}

// InviteID recovers the ID from an invite secret.
func InviteID(secret []byte) ([]byte, error) {
	if len(secret) != crypto.SecretKeySize {
		return nil, ErrBadInvite
	}
	return ed25519.PrivateKey(secret).Public().(ed25519.PublicKey), nil
}

// Proof is a candidate key signed with the invite secret.
type Proof struct {
	Key       []byte
	Signature []byte
}

func (p Proof) Encode() []byte {
	out := make([]byte, 0, proofSize)
	out = append(out, p.Key...)
	return append(out, p.Signature...)
}

func DecodeProof(b []byte) (Proof, error) {
	if len(b) != proofSize {
		return Proof{}, ErrBadProof
	}
	return Proof{
		Key:       append([]byte(nil), b[:crypto.SeedSize]...),
		Signature: append([]byte(nil), b[crypto.SeedSize:]...),
	}, nil
}

// Verify checks the proof against the invite ID.
func (p Proof) Verify(id []byte) bool {
	return crypto.Verify(id, p.Key, p.Signature)
}

// loop is the polling skeleton shared by both roles.
type loop struct {
	timer  *timer.Timer
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newLoop(poll time.Duration) *loop {
	if poll <= 0 {
		poll = DefaultPoll
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &loop{
		timer:  timer.New(poll, timer.Options{Simple: true}),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (l *loop) stop() {
	l.once.Do(func() {
		l.cancel()
		l.timer.Destroy()
		<-l.done
	})
}

// InviterHandler returns the secret to hand to a candidate key. An empty
// secret or an error declines.
type InviterHandler func(ctx context.Context, key []byte) ([]byte, error)

type InviterOptions struct {
	// ID is the invite's public half. Derived from Invite when empty.
	ID     []byte
	Invite []byte
	Poll   time.Duration
	OnAdd  InviterHandler
	Logger *slog.Logger
}

// Inviter polls the invite topic and answers every candidate that proves
// it holds the invite.
type Inviter struct {
	dht         dht.DHT
	id          []byte
	topic       []byte
	blindingKey []byte
	onAdd       InviterHandler
	logger      *slog.Logger
	*loop

	mu       sync.Mutex
	answered map[string]struct{}
	started  bool
}

func NewInviter(d dht.DHT, opts InviterOptions) (*Inviter, error) {
	id := opts.ID
	if len(id) == 0 {
		var err error
		if id, err = InviteID(opts.Invite); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Inviter{
		dht:         d,
		id:          id,
		topic:       keys.Topic(id),
		blindingKey: keys.BlindingKey(id),
		onAdd:       opts.OnAdd,
		logger:      logger,
		loop:        newLoop(opts.Poll),
		answered:    make(map[string]struct{}),
	}, nil
}

// Start runs the poll loop in the background. Repeated calls do nothing.
func (i *Inviter) Start() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.started {
		return
	}
	i.started = true
	go i.run()
}

func (i *Inviter) run() {
	defer close(i.done)

	for i.ctx.Err() == nil {
		i.poll(i.ctx)
		if !i.timer.Sleep(i.ctx) && i.ctx.Err() != nil {
			return
		}
	}
}

func (i *Inviter) poll(ctx context.Context) {
	peers, err := i.dht.Lookup(ctx, i.topic)
	if err != nil {
		i.logger.Debug("Lookup failed", "error", err)
		return
	}

	visited := make(map[string]struct{}, len(peers))
	for _, peer := range peers {
		id := hex.EncodeToString(peer.PublicKey)
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}

		if _, err := i.add(ctx, peer.PublicKey); err != nil {
			i.logger.Debug("Failed to answer candidate", "peer", shortHex(peer.PublicKey), "error", err)
		}
	}
}

// add answers the candidate whose proof sits at publicKey. It reports
// whether a reply was written.
func (i *Inviter) add(ctx context.Context, publicKey []byte) (bool, error) {
	rec, err := i.dht.MutableGet(ctx, publicKey, dht.GetOptions{})
	if err != nil || rec == nil {
		return false, err
	}

	msg, err := rendezvous.BlindThrowaway(rec.Value, i.blindingKey, publicKey)
	if err != nil {
		return false, err
	}
	proof, err := DecodeProof(msg)
	if err != nil {
		return false, err
	}
	if !proof.Verify(i.id) {
		return false, nil
	}

	key := hex.EncodeToString(proof.Key)
	i.mu.Lock()
	_, done := i.answered[key]
	i.mu.Unlock()
	if done {
		return false, nil
	}

	if i.onAdd == nil {
		return false, nil
	}
	secret, err := i.onAdd(ctx, proof.Key)
	if err != nil || len(secret) == 0 {
		return false, err
	}

	blob, err := rendezvous.Blind(secret, keys.LegacyReplyBlindingKey(i.id, proof.Key))
	if err != nil {
		return false, err
	}
	if err := i.dht.MutablePut(ctx, keys.LegacyReplyKeyPair(i.id, proof.Key), blob); err != nil {
		return false, err
	}

	i.mu.Lock()
	i.answered[key] = struct{}{}
	i.mu.Unlock()
	return true, nil
}

// Close stops polling. It is safe to call more than once.
func (i *Inviter) Close() error {
	i.mu.Lock()
	if !i.started {
		i.started = true
		close(i.done)
	}
	i.mu.Unlock()
	i.stop()
	return nil
}

type CandidateHandler func(ctx context.Context, secret []byte) error

type CandidateOptions struct {
	// Key seeds the candidate's slot. Random when empty.
	Key    []byte
	Invite []byte
	Poll   time.Duration
	OnAdd  CandidateHandler
	Logger *slog.Logger
}

// Candidate announces a signed proof under the invite topic and polls for
// the inviter's blinded reply.
type Candidate struct {
	dht    dht.DHT
	key    []byte
	secret ed25519.PrivateKey
	id     []byte
	onAdd  CandidateHandler
	logger *slog.Logger
	*loop

	mu      sync.Mutex
	started bool
	reply   []byte
	paired  chan struct{}
}

func NewCandidate(d dht.DHT, opts CandidateOptions) (*Candidate, error) {
	id, err := InviteID(opts.Invite)
	if err != nil {
		return nil, err
	}
	key := opts.Key
	if len(key) == 0 {
		key = crypto.RandomBytes(crypto.SeedSize)
	}
	if len(key) != crypto.SeedSize {
		return nil, ErrBadProof
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Candidate{
		dht:    d,
		key:    append([]byte(nil), key...),
		secret: ed25519.PrivateKey(opts.Invite),
		id:     id,
		onAdd:  opts.OnAdd,
		logger: logger,
		loop:   newLoop(opts.Poll),
		paired: make(chan struct{}),
	}, nil
}

func (c *Candidate) Key() []byte {
	return c.key
}

func (c *Candidate) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	go c.run()
}

func (c *Candidate) run() {
	defer close(c.done)

	announced := false
	for c.ctx.Err() == nil {
		if !announced {
			if err := c.announce(c.ctx); err != nil {
				c.logger.Debug("Failed to announce", "error", err)
			} else {
				announced = true
			}
		}

		if announced {
			reply, err := c.poll(c.ctx)
			if err != nil {
				c.logger.Debug("Failed to poll reply", "error", err)
			} else if reply != nil {
				c.finish(reply)
				return
			}
		}

		if !c.timer.Sleep(c.ctx) && c.ctx.Err() != nil {
			return
		}
	}
}

func (c *Candidate) announce(ctx context.Context) error {
	eph := crypto.KeyPairFromSeed(c.key)
	proof := Proof{Key: c.key, Signature: crypto.Sign(c.secret, c.key)}

	blob, err := rendezvous.BlindThrowaway(proof.Encode(), keys.BlindingKey(c.id), eph.PublicKey)
	if err != nil {
		return err
	}
	if err := c.dht.MutablePut(ctx, eph, blob); err != nil {
		return err
	}
	return c.dht.Announce(ctx, keys.Topic(c.id), eph)
}

func (c *Candidate) poll(ctx context.Context) ([]byte, error) {
	reply := keys.LegacyReplyKeyPair(c.id, c.key)
	rec, err := c.dht.MutableGet(ctx, reply.PublicKey, dht.GetOptions{})
	if err != nil || rec == nil {
		return nil, err
	}
	return rendezvous.Unblind(rec.Value, keys.LegacyReplyBlindingKey(c.id, c.key))
}

func (c *Candidate) finish(secret []byte) {
	if c.onAdd != nil {
		if err := c.onAdd(c.ctx, secret); err != nil {
			c.logger.Warn("Candidate handler failed", "error", err)
		}
	}

	c.mu.Lock()
	c.reply = secret
	c.mu.Unlock()
	close(c.paired)
}

// Wait returns the inviter's secret once it arrives.
func (c *Candidate) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-c.paired:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.reply, nil
	case <-c.done:
		select {
		case <-c.paired:
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.reply, nil
		default:
		}
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops polling and removes the announcement. It is safe to call
// more than once.
func (c *Candidate) Close() error {
	c.mu.Lock()
	if !c.started {
		c.started = true
		close(c.done)
	}
	c.mu.Unlock()
	c.stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.dht.Unannounce(ctx, keys.Topic(c.id), crypto.KeyPairFromSeed(c.key)); err != nil {
		c.logger.Debug("Failed to unannounce", "error", err)
	}
	return nil
}

func shortHex(b []byte) string {
	if len(b) > 4 {
		b = b[:4]
	}
	return hex.EncodeToString(b)
}
