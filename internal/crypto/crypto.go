// Package crypto wraps the primitives the pairing protocol is built from:
// BLAKE2b hashing, Ed25519 key pairs derived from 32-byte seeds, an XSalsa20
// keystream used for blinding, and XChaCha20-Poly1305 sealing.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/salsa20"
)

const (
	HashSize      = blake2b.Size256
	SeedSize      = ed25519.SeedSize
	PublicKeySize = ed25519.PublicKeySize
	SecretKeySize = ed25519.PrivateKeySize
	SignatureSize = ed25519.SignatureSize

	// StreamNonceSize is the XSalsa20 nonce length.
	StreamNonceSize = 24
	KeySize         = chacha20poly1305.KeySize
	SealNonceSize   = chacha20poly1305.NonceSizeX
	SealOverhead    = chacha20poly1305.Overhead
)

var ErrBadKeySize = errors.New("bad key size")

type KeyPair struct {
	PublicKey ed25519.PublicKey
	SecretKey ed25519.PrivateKey
}

// Hash is BLAKE2b-256 over the concatenation of parts.
func Hash(parts ...[]byte) []byte {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// Namespace returns count domain-separation tags derived from name.
func Namespace(name string, count int) [][]byte {
	root := Hash([]byte(name))
	out := make([][]byte, count)
	for i := range out {
		out[i] = Hash(root, []byte{byte(i)})
	}
	return out
}

// DiscoveryKey is a keyed hash of key, safe to publish without revealing key.
func DiscoveryKey(key []byte) []byte {
	h, err := blake2b.New256(key)
	if err != nil {
		return Hash([]byte("discovery-key"), key)
	}
	h.Write([]byte("blind-pairing"))
	return h.Sum(nil)
}

func KeyPairFromSeed(seed []byte) KeyPair {
	if len(seed) != SeedSize {
		seed = Hash(seed)
	}
	sk := ed25519.NewKeyFromSeed(seed)
	return KeyPair{
		PublicKey: sk.Public().(ed25519.PublicKey),
		SecretKey: sk,
	}
}

func GenerateKeyPair() (KeyPair, error) {
	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{PublicKey: pk, SecretKey: sk}, nil
}

func Sign(secretKey ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(secretKey, msg)
}

func Verify(publicKey, msg, sig []byte) bool {
	if len(publicKey) != PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), msg, sig)
}

func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Errorf("reading random bytes: %w", err))
	}
	return b
}

// StreamXOR xors msg with the XSalsa20 keystream for (nonce, key). The same
// call reverses it. Nonces longer than StreamNonceSize are truncated.
func StreamXOR(msg, nonce, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrBadKeySize
	}
	if len(nonce) < StreamNonceSize {
		return nil, fmt.Errorf("stream nonce: need %d bytes, got %d", StreamNonceSize, len(nonce))
	}
	var k [32]byte
	copy(k[:], key)
	out := make([]byte, len(msg))
	salsa20.XORKeyStream(out, msg, nonce[:StreamNonceSize], &k)
	return out, nil
}

// Seal encrypts and authenticates plaintext with XChaCha20-Poly1305.
func Seal(key, nonce, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != SealNonceSize {
		return nil, fmt.Errorf("seal nonce: need %d bytes, got %d", SealNonceSize, len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, ad), nil
}

func Open(key, nonce, ciphertext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != SealNonceSize {
		return nil, fmt.Errorf("open nonce: need %d bytes, got %d", SealNonceSize, len(nonce))
	}
	return aead.Open(nil, nonce, ciphertext, ad)
}
