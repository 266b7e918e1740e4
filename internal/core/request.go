package core

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/blind-pairing/internal/crypto"
	"github.com/rudransh-shrivastava/blind-pairing/internal/keys"
	"github.com/rudransh-shrivastava/blind-pairing/internal/wire"
)

const (
	requestFieldVersion  = 1
	requestFieldInviteID = 2
	requestFieldSession  = 3
	requestFieldPayload  = 4

	payloadFieldToken     = 1
	payloadFieldUserData  = 2
	payloadFieldSignature = 3

	responseFieldKey           = 1
	responseFieldEncryptionKey = 2
)

// Result is what an accepted candidate receives.
type Result struct {
	Key           []byte
	EncryptionKey []byte
}

type RequestOptions struct {
	// Seed fixes the attempt. Reusing a seed resumes the same attempt.
	Seed []byte
	Now  func() time.Time
}

// CandidateRequest is one pairing attempt for an invite.
type CandidateRequest struct {
	Invite   *Invite
	UserData []byte
	Seed     []byte
	Token    []byte
	Session  []byte

	once    sync.Once
	encoded []byte
}

func NewCandidateRequest(invite *Invite, userData []byte, opts RequestOptions) (*CandidateRequest, error) {
	if invite == nil || len(invite.Seed) != crypto.SeedSize {
		return nil, ErrInvalidInvite
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	if invite.Expired(now()) {
		return nil, ErrInviteExpired
	}

	seed := opts.Seed
	if len(seed) == 0 {
		seed = crypto.RandomBytes(crypto.SeedSize)
	}
	token := keys.Token(invite.ID, seed)

	return &CandidateRequest{
		Invite:   invite,
		UserData: append([]byte(nil), userData...),
		Seed:     append([]byte(nil), seed...),
		Token:    token,
		Session:  keys.Session(token),
	}, nil
}

// Encode returns the wire form. The output is a pure function of the
// invite, seed and user data.
func (r *CandidateRequest) Encode() []byte {
	r.once.Do(r.encode)
	return r.encoded
}

func (r *CandidateRequest) encode() {
	sig := crypto.Sign(r.Invite.keyPair().SecretKey, signable(r.Session, r.Token, r.UserData))

	var payload []byte
	payload = wire.AppendBytes(payload, payloadFieldToken, r.Token)
	payload = wire.AppendOptional(payload, payloadFieldUserData, r.UserData)
	payload = wire.AppendBytes(payload, payloadFieldSignature, sig)

	nonce := keys.RequestNonce(r.Token)
	sealed, err := crypto.Seal(keys.RequestKey(r.Invite.PublicKey), nonce, payload, r.Session)
	if err != nil {
		// key and nonce sizes are fixed by construction
		panic(err)
	}

	var b []byte
	b = wire.AppendUint(b, requestFieldVersion, Version)
	b = wire.AppendBytes(b, requestFieldInviteID, r.Invite.ID)
	b = wire.AppendBytes(b, requestFieldSession, r.Session)
	b = wire.AppendBytes(b, requestFieldPayload, append(nonce, sealed...))

	r.encoded = b
}

// HandleResponse decrypts a member's reply. Any failure means the bytes were
// not a response to this request.
func (r *CandidateRequest) HandleResponse(b []byte) (*Result, error) {
	if len(b) < crypto.SealNonceSize+crypto.SealOverhead {
		return nil, ErrInvalidResponse
	}
	plain, err := crypto.Open(keys.ResponseKey(r.Invite.PublicKey, r.Token), b[:crypto.SealNonceSize], b[crypto.SealNonceSize:], r.Session)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	rec, err := wire.Parse(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	key := rec.Bytes(responseFieldKey)
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: missing key", ErrInvalidResponse)
	}
	return &Result{
		Key:           key,
		EncryptionKey: rec.Bytes(responseFieldEncryptionKey),
	}, nil
}

func signable(session, token, userData []byte) []byte {
	return crypto.Hash([]byte("blind-pairing-request"), session, token, userData)
}

// MemberRequest is a decoded but still sealed candidate submission.
type MemberRequest struct {
	Version  uint64
	InviteID []byte
	Session  []byte

	sealed []byte
}

func DecodeMemberRequest(b []byte) (*MemberRequest, error) {
	rec, err := wire.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	version := rec.Uint(requestFieldVersion)
	if version == 0 || version > Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidRequest, version)
	}
	id, ok := rec.Fixed(requestFieldInviteID, crypto.HashSize)
	if !ok {
		return nil, fmt.Errorf("%w: bad invite id", ErrInvalidRequest)
	}
	session, ok := rec.Fixed(requestFieldSession, crypto.HashSize)
	if !ok {
		return nil, fmt.Errorf("%w: bad session", ErrInvalidRequest)
	}
	sealed := rec.Bytes(requestFieldPayload)
	if len(sealed) < crypto.SealNonceSize+crypto.SealOverhead {
		return nil, fmt.Errorf("%w: short payload", ErrInvalidRequest)
	}
	return &MemberRequest{
		Version:  version,
		InviteID: id,
		Session:  session,
		sealed:   sealed,
	}, nil
}

// OpenedRequest is a request whose payload was decrypted and whose signature
// checked out against the invite.
type OpenedRequest struct {
	InviteID  []byte
	PublicKey []byte
	UserData  []byte
	Token     []byte
	Session   []byte
}

func (r *MemberRequest) Open(publicKey []byte) (*OpenedRequest, error) {
	if len(publicKey) != crypto.PublicKeySize || !bytes.Equal(keys.InviteID(publicKey), r.InviteID) {
		return nil, ErrInviteMismatch
	}

	plain, err := crypto.Open(keys.RequestKey(publicKey), r.sealed[:crypto.SealNonceSize], r.sealed[crypto.SealNonceSize:], r.Session)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	rec, err := wire.Parse(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	token, ok := rec.Fixed(payloadFieldToken, crypto.HashSize)
	if !ok || !bytes.Equal(keys.Session(token), r.Session) {
		return nil, fmt.Errorf("%w: token does not match session", ErrInvalidRequest)
	}
	userData := rec.Bytes(payloadFieldUserData)
	if !crypto.Verify(publicKey, signable(r.Session, token, userData), rec.Bytes(payloadFieldSignature)) {
		return nil, ErrBadSignature
	}

	return &OpenedRequest{
		InviteID:  r.InviteID,
		PublicKey: append([]byte(nil), publicKey...),
		UserData:  userData,
		Token:     token,
		Session:   r.Session,
	}, nil
}

// OpenInvite is Open that also refuses expired invites.
func (r *MemberRequest) OpenInvite(invite *Invite, now time.Time) (*OpenedRequest, error) {
	if invite.Expired(now) {
		return nil, ErrInviteExpired
	}
	return r.Open(invite.PublicKey)
}

// Decision is a member's answer to one request. The zero value denies.
type Decision struct {
	Response []byte
	Token    []byte
	Session  []byte
}

// Deny drops the request without telling the candidate.
var Deny = Decision{}

func (d Decision) Granted() bool {
	return len(d.Response) > 0
}

// Confirm grants the request, sealing res so only this attempt can read it.
func (o *OpenedRequest) Confirm(res Result) (Decision, error) {
	if len(res.Key) == 0 {
		return Deny, fmt.Errorf("%w: empty key", ErrInvalidResponse)
	}
	var plain []byte
	plain = wire.AppendBytes(plain, responseFieldKey, res.Key)
	plain = wire.AppendOptional(plain, responseFieldEncryptionKey, res.EncryptionKey)

	nonce := crypto.RandomBytes(crypto.SealNonceSize)
	sealed, err := crypto.Seal(keys.ResponseKey(o.PublicKey, o.Token), nonce, plain, o.Session)
	if err != nil {
		return Deny, err
	}
	return Decision{
		Response: append(nonce, sealed...),
		Token:    o.Token,
		Session:  o.Session,
	}, nil
}
