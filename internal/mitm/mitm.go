// Package mitm implements the default ports.MitmManager: an in-memory CA
// that signs a fresh leaf certificate per CONNECT target the first time it
// is seen, caching leaves by host. No repo in the teacher pack performs
// TLS interception (it is outside every example's domain - reverse
// proxying, not a MITM forward proxy), so this is grounded directly in
// crypto/x509's documented certificate-authority pattern rather than a pack
// example; see DESIGN.md for the standard-library justification.
package mitm

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// CA holds the root certificate and key used to sign per-host leaves.
type CA struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// NewCA generates a fresh, self-signed root CA suitable for development and
// testing. This package has no loader for a CA stored on disk; a CA is
// either generated here or built by the caller as a CA value.
func NewCA(commonName string) (*CA, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("mitm: generate CA key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("mitm: create CA cert: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &CA{Cert: cert, Key: key}, nil
}

// Manager is the default ports.MitmManager: it signs a leaf certificate for
// each distinct host on first use and reuses it for subsequent CONNECTs to
// the same host (spec section 4.3's HandshakingTLS transition).
type Manager struct {
	ca *CA

	mu     sync.Mutex
	leaves map[string]*tls.Certificate

	// ClientTLSConfig is used to dial the real origin once the client leg
	// is terminated; InsecureSkipVerify defaults to false.
	ClientTLSConfig *tls.Config
}

func NewManager(ca *CA) *Manager {
	return &Manager{ca: ca, leaves: make(map[string]*tls.Certificate)}
}

func (m *Manager) ServerEngine(host string, port int) (*tls.Config, error) {
	leaf, err := m.leafFor(host)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{*leaf}}, nil
}

func (m *Manager) ClientEngineFor(host string, port int, serverSession *tls.ConnectionState) (*tls.Config, error) {
	if m.ClientTLSConfig != nil {
		cfg := m.ClientTLSConfig.Clone()
		cfg.ServerName = host
		return cfg, nil
	}
	return &tls.Config{ServerName: host}, nil
}

func (m *Manager) leafFor(host string) (*tls.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if leaf, ok := m.leaves[host]; ok {
		return leaf, nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("mitm: generate leaf key for %s: %w", host, err)
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, m.ca.Cert, &key.PublicKey, m.ca.Key)
	if err != nil {
		return nil, fmt.Errorf("mitm: sign leaf for %s: %w", host, err)
	}
	leaf := &tls.Certificate{
		Certificate: [][]byte{der, m.ca.Cert.Raw},
		PrivateKey:  key,
	}
	m.leaves[host] = leaf
	return leaf, nil
}
