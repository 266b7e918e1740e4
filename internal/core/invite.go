// Package core holds the pairing codec: invites, the request a candidate
// publishes, and the response a member hands back.
package core

import (
	"fmt"
	"time"

	"github.com/rudransh-shrivastava/blind-pairing/internal/crypto"
	"github.com/rudransh-shrivastava/blind-pairing/internal/keys"
	"github.com/rudransh-shrivastava/blind-pairing/internal/wire"
)

const Version = 1

const (
	inviteFieldVersion      = 1
	inviteFieldSeed         = 2
	inviteFieldDiscoveryKey = 3
	inviteFieldExpires      = 4
)

// Invite is the out-of-band secret. Seed and PublicKey never leave the
// inviter and the invitee; ID and DiscoveryKey are safe to publish.
type Invite struct {
	Version      uint64
	Seed         []byte
	PublicKey    []byte
	ID           []byte
	DiscoveryKey []byte
	// Expires is zero for invites that never expire.
	Expires time.Time
}

type InviteOptions struct {
	// Seed fixes the invite secret. Random when empty.
	Seed []byte
	// DiscoveryKey binds the invite to an application topic. Derived from the
	// invite id when empty.
	DiscoveryKey []byte
	Expires      time.Time
}

func CreateInvite(opts InviteOptions) (*Invite, error) {
	seed := opts.Seed
	if len(seed) == 0 {
		seed = crypto.RandomBytes(crypto.SeedSize)
	}
	if len(seed) != crypto.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes", ErrInvalidInvite, crypto.SeedSize)
	}
	if len(opts.DiscoveryKey) != 0 && len(opts.DiscoveryKey) != crypto.HashSize {
		return nil, fmt.Errorf("%w: discovery key must be %d bytes", ErrInvalidInvite, crypto.HashSize)
	}
	return newInvite(Version, seed, opts.DiscoveryKey, opts.Expires), nil
}

func newInvite(version uint64, seed, discoveryKey []byte, expires time.Time) *Invite {
	kp := crypto.KeyPairFromSeed(seed)
	id := keys.InviteID(kp.PublicKey)
	if len(discoveryKey) == 0 {
		discoveryKey = keys.InviteDiscoveryKey(id)
	}
	return &Invite{
		Version:      version,
		Seed:         append([]byte(nil), seed...),
		PublicKey:    kp.PublicKey,
		ID:           id,
		DiscoveryKey: append([]byte(nil), discoveryKey...),
		Expires:      expires,
	}
}

func (i *Invite) keyPair() crypto.KeyPair {
	return crypto.KeyPairFromSeed(i.Seed)
}

func (i *Invite) Expired(now time.Time) bool {
	return !i.Expires.IsZero() && !now.Before(i.Expires)
}

func (i *Invite) Encode() []byte {
	var b []byte
	b = wire.AppendUint(b, inviteFieldVersion, i.Version)
	b = wire.AppendBytes(b, inviteFieldSeed, i.Seed)
	b = wire.AppendBytes(b, inviteFieldDiscoveryKey, i.DiscoveryKey)
	if !i.Expires.IsZero() {
		b = wire.AppendUint(b, inviteFieldExpires, uint64(i.Expires.UnixMilli()))
	}
	return b
}

func DecodeInvite(b []byte) (*Invite, error) {
	r, err := wire.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInvite, err)
	}

	version := r.Uint(inviteFieldVersion)
	if version == 0 || version > Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidInvite, version)
	}
	seed, ok := r.Fixed(inviteFieldSeed, crypto.SeedSize)
	if !ok {
		return nil, fmt.Errorf("%w: missing seed", ErrInvalidInvite)
	}
	var dk []byte
	if r.Has(inviteFieldDiscoveryKey) {
		if dk, ok = r.Fixed(inviteFieldDiscoveryKey, crypto.HashSize); !ok {
			return nil, fmt.Errorf("%w: bad discovery key", ErrInvalidInvite)
		}
	}
	var expires time.Time
	if r.Has(inviteFieldExpires) {
		expires = time.UnixMilli(int64(r.Uint(inviteFieldExpires)))
	}
	return newInvite(version, seed, dk, expires), nil
}
