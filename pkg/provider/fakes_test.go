package provider

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sunvim/ethprovider/pkg/jsonrpc"
	"github.com/sunvim/ethprovider/pkg/storage"
	"github.com/sunvim/ethprovider/pkg/txparams"
	"github.com/sunvim/ethprovider/pkg/worker"
)

const (
	testChainID = 137
	testAppName = "test-dapp"
	testRPCURL  = "http://127.0.0.1:8545"

	addrA = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	addrB = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

var (
	lowerA = strings.ToLower(addrA)
	lowerB = strings.ToLower(addrB)
)

type fakeWindow struct {
	mu     sync.Mutex
	open   bool
	focus  int
	closes int
}

func (w *fakeWindow) Focus() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.focus++
	return nil
}

func (w *fakeWindow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.open = false
	w.closes++
}

func (w *fakeWindow) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

type signCall struct {
	message   []byte
	address   string
	addPrefix bool
}

type fakeRelay struct {
	mu sync.Mutex

	accounts    []string
	accountsErr error
	// onRequest runs inside RequestAccounts before it returns
	onRequest func()
	err       error

	windows      []*fakeWindow
	requestCalls int
	denyCalls    int
	signCalls    []signCall
	recovered    []bool
	txs          []*txparams.Params
	raws         [][]byte
	scanPatterns []string
}

func (r *fakeRelay) OpenLinkingWindow(context.Context) (LinkWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := &fakeWindow{open: true}
	r.windows = append(r.windows, w)
	return w, nil
}

func (r *fakeRelay) RequestAccounts(_ context.Context, appName string) ([]string, error) {
	r.mu.Lock()
	r.requestCalls++
	hook := r.onRequest
	r.mu.Unlock()

	if hook != nil {
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.accountsErr != nil {
		return nil, r.accountsErr
	}
	return r.accounts, nil
}

func (r *fakeRelay) SignMessage(_ context.Context, message []byte, address string, addPrefix bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signCalls = append(r.signCalls, signCall{message: message, address: address, addPrefix: addPrefix})
	if r.err != nil {
		return "", r.err
	}
	return "0xsignature", nil
}

func (r *fakeRelay) RecoverAddress(_ context.Context, _, _ []byte, addPrefix bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recovered = append(r.recovered, addPrefix)
	if r.err != nil {
		return "", r.err
	}
	return lowerA, nil
}

func (r *fakeRelay) SignTransaction(_ context.Context, tx *txparams.Params) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = append(r.txs, tx)
	if r.err != nil {
		return "", r.err
	}
	return "0xsignedtx", nil
}

func (r *fakeRelay) SubmitRawTransaction(_ context.Context, raw []byte, _ uint64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raws = append(r.raws, raw)
	if r.err != nil {
		return "", r.err
	}
	return "0xhash", nil
}

func (r *fakeRelay) SignAndSubmitTransaction(_ context.Context, tx *txparams.Params) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = append(r.txs, tx)
	if r.err != nil {
		return "", r.err
	}
	return "0xhash", nil
}

func (r *fakeRelay) ScanCode(_ context.Context, pattern string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanPatterns = append(r.scanPatterns, pattern)
	if r.err != nil {
		return "", r.err
	}
	return "scanned:" + pattern, nil
}

func (r *fakeRelay) DenyPendingLinking(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denyCalls++
	return nil
}

func (r *fakeRelay) requests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requestCalls
}

type fakeFilters struct {
	mu          sync.Mutex
	installed   map[string]json.RawMessage
	uninstalled []string
	nextID      int
}

func newFakeFilters() *fakeFilters {
	return &fakeFilters{installed: make(map[string]json.RawMessage)}
}

func (f *fakeFilters) install(options json.RawMessage) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := hexutil.EncodeUint64(uint64(f.nextID))
	f.installed[id] = options
	return id
}

func (f *fakeFilters) InstallFilter(_ context.Context, options json.RawMessage) (string, error) {
	return f.install(options), nil
}

func (f *fakeFilters) InstallBlockFilter(context.Context) (string, error) {
	return f.install(nil), nil
}

func (f *fakeFilters) InstallPendingTransactionFilter(context.Context) (string, error) {
	return f.install(nil), nil
}

func (f *fakeFilters) UninstallFilter(_ context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.installed[id]
	delete(f.installed, id)
	f.uninstalled = append(f.uninstalled, id)
	return ok
}

func (f *fakeFilters) Installed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.installed)
}

func (f *fakeFilters) GetFilterChanges(_ context.Context, id string) (any, error) {
	return []string{"change:" + id}, nil
}

func (f *fakeFilters) GetFilterLogs(_ context.Context, id string) (any, error) {
	return []string{"log:" + id}, nil
}

type fakeRemote struct {
	mu    sync.Mutex
	calls []jsonrpc.Request
	reply func(req jsonrpc.Request) (*jsonrpc.Response, error)
}

func (f *fakeRemote) Call(_ context.Context, req jsonrpc.Request) (*jsonrpc.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	reply := f.reply
	f.mu.Unlock()
	if reply != nil {
		return reply(req)
	}
	return &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID, Result: json.RawMessage(`"0x10"`)}, nil
}

type testEnv struct {
	provider *Provider
	relay    *fakeRelay
	filters  *fakeFilters
	remote   *fakeRemote
	storage  *storage.Memory
	focus    *int
}

type envOption func(cfg *Config)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	focus := 0
	env := &testEnv{
		relay:   &fakeRelay{accounts: []string{addrA, addrB}},
		filters: newFakeFilters(),
		remote:  &fakeRemote{},
		storage: storage.NewMemory(),
		focus:   &focus,
	}
	cfg := Config{
		AppName:      testAppName,
		ChainID:      testChainID,
		RPCURL:       testRPCURL,
		Storage:      env.storage,
		Relay:        env.relay,
		Filters:      env.filters,
		Remote:       env.remote,
		RestoreFocus: func() { focus++ },
		PoolConfig: worker.PoolConfig{
			Name:        "provider-test",
			WorkerCount: 4,
			QueueSize:   16,
		},
		Logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	p, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	env.provider = p
	return env
}

func (e *testEnv) authorize(t *testing.T) {
	t.Helper()
	addrs, err := e.provider.Enable(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, addrs)
}

func newReq(t *testing.T, id int64, method string, params ...any) jsonrpc.Request {
	t.Helper()
	req, err := jsonrpc.NewRequest(id, method, params...)
	require.NoError(t, err)
	return req
}

func signedRawTx(t *testing.T, chainID int64) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := common.HexToAddress(addrB)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(chainID),
		Nonce:     3,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(5),
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(chainID)), key)
	require.NoError(t, err)
	raw, err := signed.MarshalBinary()
	require.NoError(t, err)
	return hexutil.Encode(raw)
}
