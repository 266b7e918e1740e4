package legacy

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/blind-pairing/internal/crypto"
	"github.com/rudransh-shrivastava/blind-pairing/internal/dht"
	"github.com/rudransh-shrivastava/blind-pairing/internal/keys"
	"github.com/rudransh-shrivastava/blind-pairing/internal/logger"
)

const testPoll = 10 * time.Millisecond

func TestGenerateInvite(t *testing.T) {
	inv, err := GenerateInvite()
	if err != nil {
		t.Fatalf("GenerateInvite failed: %v", err)
	}
	if inv.Version != Version {
		t.Errorf("Expected version %d, got %d", Version, inv.Version)
	}

	id, err := InviteID(inv.Secret)
	if err != nil {
		t.Fatalf("InviteID failed: %v", err)
	}
	if !bytes.Equal(id, inv.ID) {
		t.Error("Expected ID to be the public half of the invite")
	}

	if _, err := InviteID([]byte("short")); !errors.Is(err, ErrBadInvite) {
		t.Errorf("Expected ErrBadInvite, got %v", err)
	}
}

func TestProof(t *testing.T) {
	inv, _ := GenerateInvite()
	key := crypto.RandomBytes(crypto.SeedSize)

	proof := Proof{Key: key, Signature: crypto.Sign(inv.Secret, key)}
	decoded, err := DecodeProof(proof.Encode())
	if err != nil {
		t.Fatalf("DecodeProof failed: %v", err)
	}
	if !decoded.Verify(inv.ID) {
		t.Error("Expected proof to verify")
	}

	other, _ := GenerateInvite()
	if decoded.Verify(other.ID) {
		t.Error("Expected proof to fail against another invite")
	}

	if _, err := DecodeProof(proof.Encode()[1:]); !errors.Is(err, ErrBadProof) {
		t.Errorf("Expected ErrBadProof, got %v", err)
	}
}

func TestThrowawayIsSymmetric(t *testing.T) {
	inv, _ := GenerateInvite()
	eph := crypto.KeyPairFromSeed(crypto.RandomBytes(crypto.SeedSize))
	msg := []byte("proof bytes")

	blinded, err := blindFor(inv.ID, eph.PublicKey, msg)
	if err != nil {
		t.Fatalf("blind failed: %v", err)
	}
	if bytes.Equal(blinded, msg) {
		t.Fatal("Expected blinded bytes to differ")
	}
	back, err := blindFor(inv.ID, eph.PublicKey, blinded)
	if err != nil {
		t.Fatalf("unblind failed: %v", err)
	}
	if !bytes.Equal(back, msg) {
		t.Errorf("Expected %q, got %q", msg, back)
	}
}

func blindFor(id, publicKey, msg []byte) ([]byte, error) {
	return crypto.StreamXOR(msg, publicKey, keys.BlindingKey(id))
}

func TestInviterAnswersCandidate(t *testing.T) {
	d := dht.NewMemory()
	inv, _ := GenerateInvite()
	secret := []byte("group secret")

	seen := make(chan []byte, 4)
	inviter, err := NewInviter(d, InviterOptions{
		ID:   inv.ID,
		Poll: testPoll,
		OnAdd: func(_ context.Context, key []byte) ([]byte, error) {
			seen <- key
			return secret, nil
		},
		Logger: logger.Discard(),
	})
	if err != nil {
		t.Fatalf("NewInviter failed: %v", err)
	}
	inviter.Start()
	defer inviter.Close()

	cand, err := NewCandidate(d, CandidateOptions{Invite: inv.Secret, Poll: testPoll, Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("NewCandidate failed: %v", err)
	}
	cand.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := cand.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Errorf("Expected %q, got %q", secret, got)
	}

	select {
	case key := <-seen:
		if !bytes.Equal(key, cand.Key()) {
			t.Error("Expected inviter to see the candidate key")
		}
	default:
		t.Error("Expected inviter handler to run")
	}

	if err := cand.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	peers, _ := d.Lookup(context.Background(), keys.Topic(inv.ID))
	if len(peers) != 0 {
		t.Errorf("Expected announcement removed, got %d peers", len(peers))
	}
}

func TestInviterIgnoresWrongInvite(t *testing.T) {
	d := dht.NewMemory()
	inv, _ := GenerateInvite()
	forged, _ := GenerateInvite()

	inviter, err := NewInviter(d, InviterOptions{
		Invite: inv.Secret,
		Poll:   testPoll,
		OnAdd: func(context.Context, []byte) ([]byte, error) {
			return []byte("nope"), nil
		},
		Logger: logger.Discard(),
	})
	if err != nil {
		t.Fatalf("NewInviter failed: %v", err)
	}

	// a proof signed by another invite, announced under this invite's topic
	key := crypto.RandomBytes(crypto.SeedSize)
	eph := crypto.KeyPairFromSeed(key)
	proof := Proof{Key: key, Signature: crypto.Sign(forged.Secret, key)}
	blob, _ := blindFor(inv.ID, eph.PublicKey, proof.Encode())
	ctx := context.Background()
	if err := d.MutablePut(ctx, eph, blob); err != nil {
		t.Fatalf("MutablePut failed: %v", err)
	}
	if err := d.Announce(ctx, keys.Topic(inv.ID), eph); err != nil {
		t.Fatalf("Announce failed: %v", err)
	}

	ok, err := inviter.add(ctx, eph.PublicKey)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if ok {
		t.Error("Expected forged proof to be ignored")
	}
	rec, _ := d.MutableGet(ctx, keys.LegacyReplyKeyPair(inv.ID, key).PublicKey, dht.GetOptions{})
	if rec != nil {
		t.Error("Expected no reply for a forged proof")
	}
	_ = inviter.Close()
}

func TestInviterDecline(t *testing.T) {
	d := dht.NewMemory()
	inv, _ := GenerateInvite()

	inviter, _ := NewInviter(d, InviterOptions{
		ID:   inv.ID,
		Poll: testPoll,
		OnAdd: func(context.Context, []byte) ([]byte, error) {
			return nil, nil
		},
		Logger: logger.Discard(),
	})
	inviter.Start()
	defer inviter.Close()

	cand, _ := NewCandidate(d, CandidateOptions{Invite: inv.Secret, Poll: testPoll, Logger: logger.Discard()})
	cand.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 10*testPoll)
	defer cancel()
	if _, err := cand.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected no reply, got %v", err)
	}

	_ = cand.Close()
	if _, err := cand.Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestCloseBeforeStart(t *testing.T) {
	d := dht.NewMemory()
	inv, _ := GenerateInvite()

	inviter, _ := NewInviter(d, InviterOptions{ID: inv.ID, Logger: logger.Discard()})
	if err := inviter.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := inviter.Close(); err != nil {
		t.Errorf("Expected second Close to succeed, got %v", err)
	}

	cand, _ := NewCandidate(d, CandidateOptions{Invite: inv.Secret, Logger: logger.Discard()})
	if err := cand.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestCandidateCloseIgnoresUnannounceFailure(t *testing.T) {
	d := dht.NewMemory()
	inv, _ := GenerateInvite()

	cand, err := NewCandidate(d, CandidateOptions{Invite: inv.Secret, Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("NewCandidate failed: %v", err)
	}
	_ = d.Close()

	if err := cand.Close(); err != nil {
		t.Errorf("Expected Close to succeed on a closed DHT, got %v", err)
	}
}

func TestInviterSkipsShortPeerKey(t *testing.T) {
	inv, _ := GenerateInvite()
	d := &shortKeyDHT{DHT: dht.NewMemory(), looked: make(chan struct{})}

	inviter, err := NewInviter(d, InviterOptions{ID: inv.ID, Poll: 10 * time.Millisecond, Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("NewInviter failed: %v", err)
	}
	t.Cleanup(func() { _ = inviter.Close() })
	inviter.Start()

	// the second lookup means the first poll finished
	for range 2 {
		select {
		case <-d.looked:
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for lookup")
		}
	}
}

// shortKeyDHT reports a single peer with a truncated key whose record
// cannot be read.
type shortKeyDHT struct {
	dht.DHT
	looked chan struct{}
}

func (d *shortKeyDHT) Lookup(ctx context.Context, topic []byte) ([]dht.Peer, error) {
	select {
	case d.looked <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []dht.Peer{{PublicKey: []byte{1, 2}}}, nil
}

func (d *shortKeyDHT) MutableGet(ctx context.Context, publicKey []byte, opts dht.GetOptions) (*dht.Record, error) {
	return nil, errors.New("bad key")
}
