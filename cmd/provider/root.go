package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sunvim/ethprovider/pkg/config"
	"github.com/sunvim/ethprovider/pkg/filter"
	"github.com/sunvim/ethprovider/pkg/logger"
	"github.com/sunvim/ethprovider/pkg/provider"
	"github.com/sunvim/ethprovider/pkg/relay"
	"github.com/sunvim/ethprovider/pkg/storage"
	"github.com/sunvim/ethprovider/pkg/worker"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "provider",
		Short:         "Ethereum provider backed by a signing relay and a remote node",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	root.AddCommand(newServeCmd(&configPath), newCallCmd(&configPath))
	return root
}

// app bundles everything a command needs and releases it in reverse order.
type app struct {
	cfg      *config.Config
	provider *provider.Provider
	log      *zap.Logger
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func setup(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, log: logger.Get()}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	store, err := initStorage(ctx, cfg, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	keyRelay, err := initRelay(ctx, cfg, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	filters, err := filter.Dial(ctx, cfg.Provider.RPCURL, a.log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, filters.Close)

	p, err := provider.New(ctx, provider.Config{
		AppName:            cfg.Provider.AppName,
		ChainID:            cfg.Provider.ChainID,
		RPCURL:             cfg.Provider.RPCURL,
		DisablePersistence: !cfg.Provider.PersistAddresses,
		Storage:            store,
		Relay:              keyRelay,
		Filters:            filters,
		HTTPClient:         &http.Client{Timeout: 30 * time.Second},
		PoolConfig: worker.PoolConfig{
			Name:            "provider",
			WorkerCount:     cfg.Worker.WorkerCount,
			QueueSize:       cfg.Worker.QueueSize,
			ShutdownTimeout: 10 * time.Second,
		},
		Logger: a.log,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	a.provider = p
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.Close(ctx); err != nil {
			a.log.Warn("provider close failed", zap.Error(err))
		}
	})
	return a, nil
}

func initStorage(ctx context.Context, cfg *config.Config, a *app) (storage.Storage, error) {
	if cfg.Storage.Backend != config.BackendRedis {
		a.log.Info("using in-memory address storage")
		return storage.NewMemory(), nil
	}

	redisCfg := storage.DefaultRedisConfig()
	redisCfg.Address = cfg.Storage.Redis.Addr
	redisCfg.Password = cfg.Storage.Redis.Password
	redisCfg.DB = cfg.Storage.Redis.DB
	if cfg.Storage.Redis.PoolSize > 0 {
		redisCfg.PoolSize = cfg.Storage.Redis.PoolSize
	}

	st, err := storage.NewRedis(ctx, redisCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis storage: %w", err)
	}
	a.closers = append(a.closers, func() { _ = st.Close() })
	a.log.Info("redis storage initialized", zap.String("addr", redisCfg.Address))
	return st, nil
}

func initRelay(ctx context.Context, cfg *config.Config, a *app) (*relay.KeyRelay, error) {
	nodeURL := cfg.Relay.NodeURL
	if nodeURL == "" {
		nodeURL = cfg.Provider.RPCURL
	}
	client, err := ethclient.DialContext(ctx, nodeURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay node: %w", err)
	}
	a.closers = append(a.closers, client.Close)

	r, err := relay.New(relay.Config{
		PrivateKeys: cfg.Relay.PrivateKeys,
		Client:      client,
		Approve:     relay.AutoApprove,
		Logger:      a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize relay: %w", err)
	}
	for _, account := range r.Accounts() {
		a.log.Info("relay account loaded", zap.String("address", account.Hex()))
	}
	return r, nil
}
