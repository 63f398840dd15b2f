package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/relay/internal/admin"
	"github.com/udisondev/relay/internal/config"
	"github.com/udisondev/relay/internal/content"
	"github.com/udisondev/relay/internal/gameserver"
	"github.com/udisondev/relay/internal/login"
	"github.com/udisondev/relay/internal/matching"
	"github.com/udisondev/relay/internal/relay"
	"github.com/udisondev/relay/internal/serverdb"
	"github.com/udisondev/relay/internal/storage"
	"github.com/udisondev/relay/internal/symbol"
	"github.com/udisondev/relay/internal/transaction"
)

const ConfigPath = "config/relayserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Configure slog
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	slog.Info("relay server starting")

	// Load config
	cfgPath := ConfigPath
	if p := os.Getenv("RELAY_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadRelay(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	slog.Info("config loaded",
		"bind", cfg.BindAddress, "port", cfg.Port,
		"storage", cfg.Storage.Backend, "auto_create", cfg.AutoCreateAccounts)

	// Open storage
	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()
	slog.Info("storage opened", "backend", cfg.Storage.Backend)

	// Load the symbol cache
	symbols, err := symbol.Load(cfg.SymbolsPath)
	if err != nil {
		return fmt.Errorf("loading symbol cache: %w", err)
	}
	slog.Info("symbol cache loaded", "symbols", symbols.Len())

	// Load the access control list
	acl, err := relay.LoadACL(ctx, store)
	if err != nil {
		return fmt.Errorf("loading access control list: %w", err)
	}

	// Game server registry with UDP endpoint validation
	var validator gameserver.Validator
	if cfg.ServerDB.ValidateEndpoint {
		validator = gameserver.NewUDPValidator(time.Duration(cfg.ServerDB.ValidateTimeoutMS) * time.Millisecond)
	}
	registry := gameserver.NewRegistry(symbols, validator)

	// Login sessions
	sessions := login.NewSessionCache(
		time.Duration(cfg.Session.TTLHours)*time.Hour,
		time.Duration(cfg.Session.DisconnectedTimeoutMinutes)*time.Minute,
	)

	// Services routed by the session server
	engine := matching.NewEngine(registry, cfg.Matching)
	services := []*relay.Service{
		login.NewService(login.Options{
			Store:              store,
			Sessions:           sessions,
			ACL:                acl,
			Symbols:            symbols,
			AutoCreateAccounts: cfg.AutoCreateAccounts,
		}),
		content.NewConfigService(store, symbols),
		content.NewDocumentService(store, symbols),
		matching.NewService(engine),
		serverdb.NewService(registry),
		transaction.NewService(),
	}

	server := relay.NewServer(cfg, acl, services...)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting session server")
		if err := server.Run(gctx); err != nil {
			return fmt.Errorf("session server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := sessions.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("session sweeper: %w", err)
		}
		return nil
	})

	if cfg.Admin.Enabled {
		adminServer := admin.NewServer(cfg.Admin, server, registry)
		g.Go(func() error {
			slog.Info("starting admin server")
			if err := adminServer.Run(gctx); err != nil {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	var store storage.Storage
	switch cfg.Backend {
	case "postgres":
		store = storage.NewPostgres(cfg.Database.DSN())
	default:
		store = storage.NewFilesystem(cfg.Root, cfg.DisableCache)
	}
	if err := store.Open(ctx); err != nil {
		return nil, err
	}
	return store, nil
}
