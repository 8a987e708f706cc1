// Command setu-carddav runs the CardDAV bridge: a sync loop replicating
// an upstream contact collection into a local encrypted cache, and a
// read-only CardDAV server in front of that cache.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cybercypher/setu-carddav/internal/config"
	"github.com/cybercypher/setu-carddav/internal/httpserver"
	"github.com/cybercypher/setu-carddav/internal/logging"
	"github.com/cybercypher/setu-carddav/internal/storage/sqlite"
	"github.com/cybercypher/setu-carddav/internal/sync"
	"github.com/cybercypher/setu-carddav/internal/upstream"
	"github.com/cybercypher/setu-carddav/internal/vault"
)

func main() {
	var (
		headless     bool
		settings     bool
		showPassword bool
		install      bool
		uninstall    bool
		restart      bool
		configPath   string
		vaultPath    string
		dbPath       string
	)
	flag.BoolVar(&headless, "headless", false, "run without any UI surface")
	flag.BoolVar(&settings, "settings", false, "open settings (external)")
	flag.BoolVar(&showPassword, "show-carddav-password", false, "print the vault CardDAV password to stderr and exit")
	flag.BoolVar(&install, "install", false, "install as a platform service (external)")
	flag.BoolVar(&uninstall, "uninstall", false, "uninstall the platform service (external)")
	flag.BoolVar(&restart, "restart", false, "sleep briefly then start (used by the restart flow)")
	flag.StringVar(&configPath, "config", "", "override the default config.json path")
	flag.StringVar(&vaultPath, "vault", "", "override the default vault.json path")
	flag.StringVar(&dbPath, "db", "", "override the default contacts database path")
	flag.Parse()

	if restart {
		time.Sleep(1 * time.Second)
	}

	if install || uninstall || settings {
		fmt.Fprintln(os.Stderr, "platform service management and settings UI are external to this build")
		os.Exit(0)
	}

	if configPath == "" {
		p, err := config.Path()
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		configPath = p
	}
	if vaultPath == "" {
		vaultPath = filepath.Join(filepath.Dir(configPath), "vault.json")
	}
	if dbPath == "" {
		dbPath = filepath.Join(filepath.Dir(configPath), "contacts.db")
	}

	v := vault.NewFileVault(vaultPath)

	if showPassword {
		pw, err := v.GetOrInit(vault.KeyCardDAVPassword, vault.GenerateCardDAVPassword)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vault: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, pw)
		os.Exit(0)
	}

	cfg, err := config.LoadAndMigrate(configPath, v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(config.LogLevel())
	if headless {
		logger = logger.With().Bool("headless", true).Logger()
	}

	if _, err := v.GetOrInit(vault.KeyCardDAVPassword, vault.GenerateCardDAVPassword); err != nil {
		logger.Fatal().Err(err).Msg("vault: failed to provision CardDAV password")
	}
	if _, err := v.GetOrInit(vault.KeyDBKey, vault.GenerateHexKey256); err != nil {
		logger.Fatal().Err(err).Msg("vault: failed to provision database encryption key")
	}
	dbKey, _, err := v.Get(vault.KeyDBKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("vault: failed to read database encryption key")
	}

	store, err := sqlite.New(dbPath, dbKey, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage: failed to open contact store")
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var up upstream.API
	if config.HasCredentials(cfg, v) {
		clientSecret, _, _ := v.Get(vault.KeyGoogleClientSecret)
		ts, err := upstream.TokenSource(ctx, v, cfg.GoogleClientID, clientSecret)
		if err != nil {
			logger.Warn().Err(err).Msg("upstream: no usable OAuth token yet, sync stays idle")
		} else {
			up = upstream.New(ctx, ts, logger)
		}
	} else {
		logger.Info().Msg("upstream: no credentials configured yet, sync stays idle")
	}

	interval := time.Duration(cfg.SyncIntervalS) * time.Second
	engine := sync.New(store, up, v, logger, interval)
	go engine.Run(ctx)

	srv, err := httpserver.NewServer(cfg, store, up, v, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("httpserver: init failed")
	}

	go func() {
		if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
			logger.Fatal().Err(err).Msg("httpserver: stopped with error")
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
