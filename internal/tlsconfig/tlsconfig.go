// Package tlsconfig loads an optional loopback TLS certificate pair.
// Certificate issuance is an external, platform-specific concern (see
// SPEC_FULL.md); this package only loads whatever PEM pair is already
// on disk and falls back to plain HTTP when none is configured.
package tlsconfig

import (
	"crypto/tls"
	"fmt"
)

// Provider loads the server's TLS configuration.
type Provider interface {
	// Load returns a *tls.Config when a cert/key pair is configured
	// and loads successfully. ok is false when no cert is configured
	// (not an error: the caller falls back to HTTP).
	Load() (*tls.Config, bool, error)
}

// FileProvider loads a cert/key pair from disk paths, typically
// populated by an external issuance flow.
type FileProvider struct {
	CertFile string
	KeyFile  string
}

func (p FileProvider) Load() (*tls.Config, bool, error) {
	if p.CertFile == "" || p.KeyFile == "" {
		return nil, false, nil
	}

	cert, err := tls.LoadX509KeyPair(p.CertFile, p.KeyFile)
	if err != nil {
		return nil, false, fmt.Errorf("load TLS certificate: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
	return cfg, true, nil
}

var _ Provider = FileProvider{}
