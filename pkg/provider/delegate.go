package provider

import (
	"context"
	"encoding/json"

	"github.com/sunvim/ethprovider/pkg/txparams"
)

// LinkWindow is a handle to an externally opened linking surface. The
// provider only signals focus and close; it does not own its lifecycle.
type LinkWindow interface {
	Focus() error
	Close()
	IsOpen() bool
}

// RelayDelegate authorizes accounts and signs on the user's behalf. Results
// are the relay's string results (addresses, signatures, hashes).
type RelayDelegate interface {
	OpenLinkingWindow(ctx context.Context) (LinkWindow, error)
	RequestAccounts(ctx context.Context, appName string) ([]string, error)
	SignMessage(ctx context.Context, message []byte, address string, addPrefix bool) (string, error)
	RecoverAddress(ctx context.Context, message, signature []byte, addPrefix bool) (string, error)
	SignTransaction(ctx context.Context, tx *txparams.Params) (string, error)
	SubmitRawTransaction(ctx context.Context, raw []byte, chainID uint64) (string, error)
	SignAndSubmitTransaction(ctx context.Context, tx *txparams.Params) (string, error)
	ScanCode(ctx context.Context, pattern string) (string, error)
	DenyPendingLinking(ctx context.Context) error
}

// FilterDelegate owns filter state and polling. UninstallFilter backs the
// synchronous table, so implementations must bound it and report failures as
// false; everything else may block until ctx is done.
type FilterDelegate interface {
	InstallFilter(ctx context.Context, options json.RawMessage) (string, error)
	InstallBlockFilter(ctx context.Context) (string, error)
	InstallPendingTransactionFilter(ctx context.Context) (string, error)
	UninstallFilter(ctx context.Context, id string) bool
	GetFilterChanges(ctx context.Context, id string) (any, error)
	GetFilterLogs(ctx context.Context, id string) (any, error)
}
