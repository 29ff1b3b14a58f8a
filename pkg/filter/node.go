// Package filter provides a filter delegate backed by the stateful filters of
// an Ethereum node.
package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/sunvim/ethprovider/pkg/logger"
)

// DefaultUninstallTimeout bounds the synchronous uninstall round trip.
const DefaultUninstallTimeout = 5 * time.Second

// NodeFilters installs and polls filters on a node over JSON-RPC.
type NodeFilters struct {
	client           *rpc.Client
	uninstallTimeout time.Duration
	logger           *zap.Logger

	mu        sync.Mutex
	installed map[string]string
}

// Dial connects to the node at url.
func Dial(ctx context.Context, url string, log *zap.Logger) (*NodeFilters, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial filter node: %w", err)
	}
	return New(client, log), nil
}

// New wraps an existing client.
func New(client *rpc.Client, log *zap.Logger) *NodeFilters {
	return &NodeFilters{
		client:           client,
		uninstallTimeout: DefaultUninstallTimeout,
		logger:           logger.Or(log).With(zap.String("component", "filter")),
		installed:        make(map[string]string),
	}
}

// InstallFilter creates a log filter from the caller's options object.
func (f *NodeFilters) InstallFilter(ctx context.Context, options json.RawMessage) (string, error) {
	return f.install(ctx, "eth_newFilter", options)
}

// InstallBlockFilter creates a new-block filter.
func (f *NodeFilters) InstallBlockFilter(ctx context.Context) (string, error) {
	return f.install(ctx, "eth_newBlockFilter")
}

// InstallPendingTransactionFilter creates a pending-transaction filter.
func (f *NodeFilters) InstallPendingTransactionFilter(ctx context.Context) (string, error) {
	return f.install(ctx, "eth_newPendingTransactionFilter")
}

func (f *NodeFilters) install(ctx context.Context, method string, args ...any) (string, error) {
	var id string
	if err := f.client.CallContext(ctx, &id, method, args...); err != nil {
		return "", err
	}

	f.mu.Lock()
	f.installed[id] = method
	f.mu.Unlock()

	f.logger.Debug("filter installed", zap.String("id", id), zap.String("method", method))
	return id, nil
}

// UninstallFilter removes the filter on the node. The call is bounded by the
// uninstall timeout as well as ctx; failures are reported as false.
func (f *NodeFilters) UninstallFilter(ctx context.Context, id string) bool {
	ctx, cancel := context.WithTimeout(ctx, f.uninstallTimeout)
	defer cancel()

	f.mu.Lock()
	delete(f.installed, id)
	f.mu.Unlock()

	var ok bool
	if err := f.client.CallContext(ctx, &ok, "eth_uninstallFilter", id); err != nil {
		f.logger.Warn("failed to uninstall filter", zap.String("id", id), zap.Error(err))
		return false
	}
	return ok
}

// GetFilterChanges polls a filter. Block and pending-transaction filters
// yield hashes, log filters yield logs, so the node's result is returned raw.
func (f *NodeFilters) GetFilterChanges(ctx context.Context, id string) (any, error) {
	var changes json.RawMessage
	if err := f.client.CallContext(ctx, &changes, "eth_getFilterChanges", id); err != nil {
		return nil, err
	}
	return changes, nil
}

// GetFilterLogs returns every log matching a log filter.
func (f *NodeFilters) GetFilterLogs(ctx context.Context, id string) (any, error) {
	var logs []types.Log
	if err := f.client.CallContext(ctx, &logs, "eth_getFilterLogs", id); err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []types.Log{}
	}
	return logs, nil
}

// Installed returns the number of filters installed through this delegate
// and not yet uninstalled.
func (f *NodeFilters) Installed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.installed)
}

// Close releases the node connection.
func (f *NodeFilters) Close() {
	f.client.Close()
}
