// Package tlscert generates an ephemeral self-signed TLS certificate for
// development deployments where no cert/key path is configured, adapted
// from the teacher's tls.go (generateTLSConfig): same ECDSA P256 key,
// SHA-256 fingerprint logging, and validity window, but advertising the
// gateway's configured ALPN token via tls.Config.NextProtos instead of the
// teacher's bare HTTPS/WebSocket config.
package tlscert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// GenerateEphemeral creates a self-signed TLS certificate valid for
// validity, with hostname (or "vp-gateway" if empty) as the common name and
// "localhost" plus hostname as DNS SANs. Returns the tls.Config (NextProtos unset — callers set ALPN) and
// the certificate's SHA-256 fingerprint for operator-visible logging.
func GenerateEphemeral(validity time.Duration, hostname string) (*tls.Config, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("tlscert: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, "", fmt.Errorf("tlscert: generate serial: %w", err)
	}

	cn := "vp-gateway"
	if hostname != "" {
		cn = hostname
	}
	sans := []string{"localhost"}
	if hostname != "" && hostname != "localhost" {
		sans = append(sans, hostname)
	}

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validity),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              sans,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, "", fmt.Errorf("tlscert: create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, "", fmt.Errorf("tlscert: parse certificate: %w", err)
	}

	fp := sha256.Sum256(certDER)
	fingerprint := hex.EncodeToString(fp[:])

	tlsCert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        cert,
	}

	return &tls.Config{Certificates: []tls.Certificate{tlsCert}}, fingerprint, nil
}

// LoadFromFiles loads an operator-provided certificate/key pair for
// production deployments, where TLS provisioning is an external
// collaborator's concern (spec.md §1) — this just wires the pair into a
// tls.Config the same way GenerateEphemeral does.
func LoadFromFiles(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("tlscert: load keypair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
