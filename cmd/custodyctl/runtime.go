package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/better-wallet/custody/internal/app"
	"github.com/better-wallet/custody/internal/chainclient"
	"github.com/better-wallet/custody/internal/chains"
	"github.com/better-wallet/custody/internal/config"
	"github.com/better-wallet/custody/internal/custody"
	"github.com/better-wallet/custody/internal/keyshare"
	"github.com/better-wallet/custody/internal/storage"
	"github.com/better-wallet/custody/internal/tokencache"
	"github.com/better-wallet/custody/internal/wallet"
)

// runtime holds the wired service and everything that must be closed with it
type runtime struct {
	cfg     *config.Config
	store   *storage.Store
	clients *chainclient.Registry
	wallets *app.WalletService
}

func newRuntime(ctx context.Context, envFile string) (*runtime, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	store, err := storage.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	slog.Debug("connected to database")

	src, err := keyshare.NewSecretSource(ctx, cfg.KeyShareSource())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize key share secret source: %w", err)
	}
	vault, err := keyshare.OpenVault(ctx, src)
	if err != nil {
		store.Close()
		return nil, err
	}
	slog.Debug("opened key share vault", "source", src.Source())

	chainRegistry, err := chains.NewDefaultRegistry(cfg.ChainOptions())
	if err != nil {
		store.Close()
		return nil, err
	}

	clients := chainclient.NewRegistry(chainRegistry, custody.NewHandle(cfg.Custody()),
		chainclient.WithSolanaOptions(chainclient.SolanaOptions{ConfirmTimeout: cfg.SolanaConfirmTimeout}),
	)

	tokens := tokencache.New(storage.NewTokenMetadataRepository(store.DB()), clients)
	wallets := wallet.NewService(storage.NewWalletRepository(store.DB()), vault, clients)

	return &runtime{
		cfg:     cfg,
		store:   store,
		clients: clients,
		wallets: app.NewWalletService(wallets, clients, tokens),
	}, nil
}

func (r *runtime) Close() {
	r.clients.Close()
	r.store.Close()
}
