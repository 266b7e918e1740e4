package transport

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rudransh-shrivastava/blind-pairing/internal/crypto"
)

const (
	alpn         = "blind-pairing-dht"
	certLifetime = 30 * 24 * time.Hour

	// maxRequestStreams bounds concurrent RPCs per connection.
	maxRequestStreams = 256
)

var (
	ErrNoCertificate = errors.New("server sent no certificate")
	ErrPinMismatch   = errors.New("server certificate does not match pin")
)

func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:    10 * time.Second,
		MaxIdleTimeout:     30 * time.Second,
		MaxIncomingStreams: maxRequestStreams,
	}
}

// serverTLSConfig presents cert to dialing DHT clients.
func serverTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{alpn},
	}
}

// clientTLSConfig carries no certificate of its own. The server's
// certificate is self-signed, so chain verification is replaced by a check
// of its fingerprint against pin. An empty pin accepts any server.
func clientTLSConfig(pin []byte) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS13,
		NextProtos:         []string{alpn},
		VerifyPeerCertificate: func(raw [][]byte, _ [][]*x509.Certificate) error {
			if len(raw) == 0 {
				return ErrNoCertificate
			}
			if len(pin) == 0 {
				return nil
			}
			if !bytes.Equal(Fingerprint(raw[0]), pin) {
				return ErrPinMismatch
			}
			return nil
		},
	}
}

// Fingerprint identifies a DER certificate for pinning.
func Fingerprint(der []byte) []byte {
	return crypto.Hash([]byte("blind-pairing-dht-cert"), der)
}

// GenerateCert makes a short-lived self-signed ed25519 certificate for a
// DHT server.
func GenerateCert() (tls.Certificate, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	now := time.Now()
	template := x509.Certificate{
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		NotAfter:     now.Add(certLifetime),
		NotBefore:    now.Add(-time.Minute),
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "blind-pairing dht"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, pub, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
		Leaf:        leaf,
	}, nil
}
