// Package rendezvous is the announce, poll and reply exchange over DHT
// mutable slots. A candidate writes its request to a slot only it can
// derive, announces that slot under the pairing topic, and polls a reply
// slot only the answering member can derive from the request.
package rendezvous

import (
	"context"
	"errors"
	"fmt"

	"github.com/rudransh-shrivastava/blind-pairing/internal/core"
	"github.com/rudransh-shrivastava/blind-pairing/internal/crypto"
	"github.com/rudransh-shrivastava/blind-pairing/internal/dht"
	"github.com/rudransh-shrivastava/blind-pairing/internal/keys"
)

var ErrShortBlob = errors.New("blob too short")

// BlindThrowaway xors data with a keystream keyed by blindingKey. The nonce
// is the recipient slot's public key, so the same call unblinds.
func BlindThrowaway(data, blindingKey, publicKey []byte) ([]byte, error) {
	return crypto.StreamXOR(data, publicKey, blindingKey)
}

// Blind xors data under a fresh random nonce and prepends the nonce.
func Blind(data, blindingKey []byte) ([]byte, error) {
	nonce := crypto.RandomBytes(crypto.StreamNonceSize)
	out, err := crypto.StreamXOR(data, nonce, blindingKey)
	if err != nil {
		return nil, err
	}
	return append(nonce, out...), nil
}

func Unblind(blob, blindingKey []byte) ([]byte, error) {
	if len(blob) < crypto.StreamNonceSize {
		return nil, ErrShortBlob
	}
	return crypto.StreamXOR(blob[crypto.StreamNonceSize:], blob[:crypto.StreamNonceSize], blindingKey)
}

// Announce publishes req in its ephemeral slot and announces the slot under
// the pairing topic for discoveryKey. It derives everything from the token,
// so repeating it rewrites the same slot.
func Announce(ctx context.Context, d dht.DHT, req *core.CandidateRequest, discoveryKey []byte) error {
	eph := keys.EphemeralKeyPair(req.Token)
	blob, err := BlindThrowaway(req.Encode(), keys.BlindingKey(discoveryKey), eph.PublicKey)
	if err != nil {
		return err
	}
	if err := d.MutablePut(ctx, eph, blob); err != nil {
		return fmt.Errorf("storing request: %w", err)
	}
	if err := d.Announce(ctx, keys.PairingTopic(discoveryKey), eph); err != nil {
		return fmt.Errorf("announcing request: %w", err)
	}
	return nil
}

func Unannounce(ctx context.Context, d dht.DHT, req *core.CandidateRequest, discoveryKey []byte) error {
	return d.Unannounce(ctx, keys.PairingTopic(discoveryKey), keys.EphemeralKeyPair(req.Token))
}

// FetchReply looks for a member's response. A missing or unreadable reply
// gives a nil result and no error.
func FetchReply(ctx context.Context, d dht.DHT, req *core.CandidateRequest) (*core.Result, error) {
	rec, err := d.MutableGet(ctx, keys.ReplyKeyPair(req.Token).PublicKey, dht.GetOptions{Latest: true})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	res, err := req.HandleResponse(rec.Value)
	if err != nil {
		return nil, nil
	}
	return res, nil
}

// Candidates lists the slots announced under the pairing topic.
func Candidates(ctx context.Context, d dht.DHT, discoveryKey []byte) ([]dht.Peer, error) {
	return d.Lookup(ctx, keys.PairingTopic(discoveryKey))
}

// FetchRequest reads and unblinds the request stored at publicKey. found is
// false when the slot is still empty.
func FetchRequest(ctx context.Context, d dht.DHT, publicKey, discoveryKey []byte) (req []byte, found bool, err error) {
	rec, err := d.MutableGet(ctx, publicKey, dht.GetOptions{})
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}
	req, err = BlindThrowaway(rec.Value, keys.BlindingKey(discoveryKey), publicKey)
	if err != nil {
		return nil, true, err
	}
	return req, true, nil
}

// Reply writes a granted decision to the reply slot of its token.
func Reply(ctx context.Context, d dht.DHT, decision core.Decision) error {
	if !decision.Granted() {
		return nil
	}
	return d.MutablePut(ctx, keys.ReplyKeyPair(decision.Token), decision.Response)
}
