// Package keys derives every topic and key pair used by the pairing protocol.
//
// All derivations are pure. Both roles compute the same addresses from the
// invite and the per-attempt token without talking to each other, and a
// candidate that restarts with the same token lands on the same DHT slots.
// Token-based derivations are namespaced so the resulting keys cannot be
// linked to other uses of the same hash.
package keys

import (
	"github.com/rudransh-shrivastava/blind-pairing/internal/crypto"
)

const (
	nsDiscovery = iota
	nsEphemeral
	nsReply
	nsToken
	nsSession
	nsRequest
	nsResponse
	nsInviteID
	nsInviteDiscovery
	nsRequestNonce
	nsCount
)

var ns = crypto.Namespace("blind-pairing", nsCount)

// PairingTopic is the DHT topic candidates announce under. It is distinct from
// the discovery key so DHT presence does not reveal swarm membership.
func PairingTopic(discoveryKey []byte) []byte {
	return crypto.Hash(ns[nsDiscovery], discoveryKey)
}

// EphemeralKeyPair addresses the slot holding a candidate's request.
func EphemeralKeyPair(token []byte) crypto.KeyPair {
	return crypto.KeyPairFromSeed(crypto.Hash(ns[nsEphemeral], token))
}

// ReplyKeyPair addresses the slot holding the member's response.
func ReplyKeyPair(token []byte) crypto.KeyPair {
	return crypto.KeyPairFromSeed(crypto.Hash(ns[nsReply], token))
}

func Token(inviteID, seed []byte) []byte {
	return crypto.Hash(ns[nsToken], inviteID, seed)
}

// Session is the public handle of an attempt. It does not reveal the token.
func Session(token []byte) []byte {
	return crypto.Hash(ns[nsSession], token)
}

func RequestKey(invitePublicKey []byte) []byte {
	return crypto.Hash(ns[nsRequest], invitePublicKey)
}

func RequestNonce(token []byte) []byte {
	return crypto.Hash(ns[nsRequestNonce], token)[:crypto.SealNonceSize]
}

func ResponseKey(invitePublicKey, token []byte) []byte {
	return crypto.Hash(ns[nsResponse], invitePublicKey, token)
}

func InviteID(invitePublicKey []byte) []byte {
	return crypto.Hash(ns[nsInviteID], invitePublicKey)
}

func InviteDiscoveryKey(inviteID []byte) []byte {
	return crypto.Hash(ns[nsInviteDiscovery], inviteID)
}

// Topic is the legacy inviter topic.
func Topic(inviteID []byte) []byte {
	return crypto.Hash(inviteID, []byte("invite-topic"))
}

// BlindingKey keys the throwaway keystream over DHT-stored requests.
func BlindingKey(id []byte) []byte {
	return crypto.Hash(id, []byte("invite-encryption-key"))
}

func LegacyReplyKeyPair(inviteID, memberKey []byte) crypto.KeyPair {
	return crypto.KeyPairFromSeed(crypto.Hash(inviteID, memberKey, []byte("invite-reply")))
}

func LegacyReplyBlindingKey(inviteID, memberKey []byte) []byte {
	return crypto.Hash(inviteID, memberKey, []byte("invite-reply-blinding-key"))
}
