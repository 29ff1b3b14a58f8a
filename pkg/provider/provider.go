// Package provider implements an injected Ethereum provider on top of a
// signing relay, a filter subsystem and a remote JSON-RPC node. Requests
// arrive through several calling conventions, are classified by method and
// dispatched to the synchronous table, the filter delegate, the relay
// delegate or the remote endpoint.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"

	"github.com/sunvim/ethprovider/pkg/accounts"
	"github.com/sunvim/ethprovider/pkg/jsonrpc"
	"github.com/sunvim/ethprovider/pkg/logger"
	"github.com/sunvim/ethprovider/pkg/metrics"
	"github.com/sunvim/ethprovider/pkg/rawtx"
	"github.com/sunvim/ethprovider/pkg/storage"
	"github.com/sunvim/ethprovider/pkg/worker"
)

// Remote forwards a request to a JSON-RPC endpoint. *jsonrpc.Client
// satisfies it.
type Remote interface {
	Call(ctx context.Context, req jsonrpc.Request) (*jsonrpc.Response, error)
}

// Config configures a Provider.
type Config struct {
	AppName string
	ChainID uint64
	RPCURL  string

	// DisablePersistence keeps a newly authorized list in memory only. By
	// default it is written to Storage and restored on the next start.
	DisablePersistence bool

	// Storage is optional; without it nothing is restored or persisted.
	Storage storage.Storage

	Relay   RelayDelegate
	Filters FilterDelegate

	// Remote overrides the HTTP client built from RPCURL and HTTPClient.
	Remote     Remote
	HTTPClient *http.Client

	// RestoreFocus is invoked after a linking window is closed.
	RestoreFocus func()

	// Pool runs the callback surface; one is created from PoolConfig when nil.
	Pool       *worker.Pool
	PoolConfig worker.PoolConfig

	Logger *zap.Logger
}

// Provider dispatches JSON-RPC requests. It is safe for concurrent use.
type Provider struct {
	appName string
	chainID uint64
	persist bool

	store     *accounts.Store
	relay     RelayDelegate
	filters   FilterDelegate
	remote    Remote
	validator *rawtx.Validator

	pool     *worker.Pool
	ownsPool bool

	restoreFocus func()

	linkMu  sync.Mutex
	window  LinkWindow
	linkers int

	nextID atomic.Int64
	closed atomic.Bool

	logger *zap.Logger
}

// New creates a provider and restores previously authorized addresses.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ChainID == 0 {
		return nil, errors.New("chain id must be positive")
	}
	if cfg.Relay == nil {
		return nil, errors.New("relay delegate is required")
	}

	log := logger.Or(cfg.Logger).With(zap.String("component", "provider"))

	remote := cfg.Remote
	if remote == nil {
		client, err := jsonrpc.NewClient(cfg.RPCURL, cfg.HTTPClient, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create remote client: %w", err)
		}
		remote = client
		log.Debug("remote client created", zap.String("endpoint", client.Endpoint()))
	}

	identity := Identity(cfg.AppName, cfg.ChainID, cfg.RPCURL)
	store := accounts.NewStore(ctx, cfg.Storage, AddressesKey(identity), log)

	p := &Provider{
		appName:      cfg.AppName,
		chainID:      cfg.ChainID,
		store:        store,
		relay:        cfg.Relay,
		filters:      cfg.Filters,
		remote:       remote,
		validator:    rawtx.NewValidator(cfg.ChainID, log),
		pool:         cfg.Pool,
		restoreFocus: cfg.RestoreFocus,
		persist:      !cfg.DisablePersistence,
		logger:       log,
	}

	if p.pool == nil {
		poolCfg := cfg.PoolConfig
		if poolCfg.WorkerCount == 0 {
			poolCfg = worker.DefaultPoolConfig()
		}
		if poolCfg.Logger == nil {
			poolCfg.Logger = log
		}
		pool, err := worker.NewPool(poolCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create worker pool: %w", err)
		}
		pool.Start(context.Background())
		p.pool = pool
		p.ownsPool = true
	}

	metrics.AuthorizedAccounts.Set(float64(store.Len()))

	log.Info("provider created",
		zap.String("app", cfg.AppName),
		zap.Uint64("chain_id", cfg.ChainID),
		zap.String("identity", identity),
		zap.Int("restored_accounts", store.Len()),
	)
	return p, nil
}

// Close stops the callback worker pool when the provider created it.
func (p *Provider) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !p.ownsPool {
		return nil
	}
	if err := p.pool.Shutdown(ctx); err != nil && !errors.Is(err, worker.ErrPoolClosed) {
		return fmt.Errorf("failed to stop worker pool: %w", err)
	}
	return nil
}

// SelectedAddress returns the first authorized address, or "" when none.
func (p *Provider) SelectedAddress() string {
	return p.store.Selected()
}

// Addresses returns a copy of the authorized addresses.
func (p *Provider) Addresses() []string {
	return p.store.Addresses()
}

// NetworkVersion is the decimal chain id.
func (p *Provider) NetworkVersion() string {
	return strconv.FormatUint(p.chainID, 10)
}

// ChainID returns the configured chain id.
func (p *Provider) ChainID() uint64 {
	return p.chainID
}

// IsConnected always reports true; connectivity is checked per request.
func (p *Provider) IsConnected() bool {
	return true
}

// IsRelayProvider identifies this provider kind to page scripts.
func (p *Provider) IsRelayProvider() bool {
	return true
}

// SubscribeAccountsChanged delivers every replacement of the authorized
// list to ch. Sends are synchronous, so ch must be drained.
func (p *Provider) SubscribeAccountsChanged(ch chan<- []string) event.Subscription {
	return p.store.Subscribe(ch)
}

// Health is a point-in-time view of the provider used by readiness checks.
type Health struct {
	AuthState        AuthState
	NetworkVersion   string
	SelectedAddress  string
	Accounts         int
	InstalledFilters int
	Pool             worker.PoolStats
	Ready            bool
}

// Health reports authorization, filter and worker pool state. Ready is false
// once the provider is closed or its pool stopped accepting work.
func (p *Provider) Health() Health {
	h := Health{
		AuthState:       p.AuthState(),
		NetworkVersion:  p.NetworkVersion(),
		SelectedAddress: p.store.Selected(),
		Accounts:        p.store.Len(),
		Pool:            p.pool.Stats(),
		Ready:           !p.closed.Load() && p.pool.IsRunning(),
	}
	if counter, ok := p.filters.(interface{ Installed() int }); ok {
		h.InstalledFilters = counter.Installed()
	}
	return h
}

func (p *Provider) newID() int64 {
	return p.nextID.Add(1)
}
