// Package httpserver assembles the CardDAV protocol handler, the
// logging router, and an optional TLS listener into one process-level
// server.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cybercypher/setu-carddav/internal/auth"
	"github.com/cybercypher/setu-carddav/internal/config"
	"github.com/cybercypher/setu-carddav/internal/dav/carddav"
	"github.com/cybercypher/setu-carddav/internal/router"
	"github.com/cybercypher/setu-carddav/internal/storage"
	"github.com/cybercypher/setu-carddav/internal/tlsconfig"
	"github.com/cybercypher/setu-carddav/internal/upstream"
	"github.com/cybercypher/setu-carddav/internal/vault"
)

type Server struct {
	http   *http.Server
	useTLS bool
	logger zerolog.Logger
}

// NewServer wires the protocol surface. up may be nil when no
// upstream credentials are configured yet; the reactive lookup then
// never escalates past the local cache.
func NewServer(cfg *config.Config, store storage.Store, up upstream.API, v vault.Vault, logger zerolog.Logger) (*Server, error) {
	authn := &auth.BasicAuth{Vault: v}
	davHandler := carddav.New(store, up, authn, logger)
	mux := router.New(davHandler, logger)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.ServerPort)

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	useTLS := false
	if cfg.UseTLS {
		tlsProv := tlsconfig.FileProvider{CertFile: cfg.TLSCertFile, KeyFile: cfg.TLSKeyFile}
		tlsCfg, ok, err := tlsProv.Load()
		if err != nil {
			return nil, err
		}
		if ok {
			srv.TLSConfig = tlsCfg
			useTLS = true
		} else {
			logger.Warn().Msg("httpserver: TLS requested but no certificate configured, falling back to plain HTTP")
		}
	}

	logger.Info().Str("addr", addr).Bool("tls", useTLS).Msg("httpserver: listening")
	return &Server{http: srv, useTLS: useTLS, logger: logger}, nil
}

func (s *Server) Start() error {
	if s.useTLS {
		return s.http.ListenAndServeTLS("", "")
	}
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
