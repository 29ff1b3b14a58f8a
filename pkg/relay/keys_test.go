package relay

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sunvim/ethprovider/pkg/txparams"
)

// well-known development keys
const (
	keyA = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	keyB = "8a1f9a8f95be41cd7ccb6168179afb4504aefe388d1e14474d32c45c72ce7b7a"
)

type fakeChain struct {
	mu       sync.Mutex
	nonce    uint64
	gasPrice *big.Int
	gas      uint64
	sent     []*types.Transaction
	sendErr  error
}

func (c *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return c.nonce, nil
}

func (c *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return c.gasPrice, nil
}

func (c *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return c.gas, nil
}

func (c *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, tx)
	return nil
}

func newTestRelay(t *testing.T, cfg Config) *KeyRelay {
	t.Helper()
	if cfg.PrivateKeys == nil {
		cfg.PrivateKeys = []string{keyA, "0x" + keyB, keyA}
	}
	cfg.Logger = zap.NewNop()
	r, err := New(cfg)
	require.NoError(t, err)
	return r
}

func addressOf(t *testing.T, hexKey string) common.Address {
	t.Helper()
	key, err := crypto.HexToECDSA(hexKey)
	require.NoError(t, err)
	return crypto.PubkeyToAddress(key.PublicKey)
}

func TestNewRejectsBadKeys(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{PrivateKeys: []string{"zz"}, Logger: zap.NewNop()})
	require.Error(t, err)
}

func TestRequestAccounts(t *testing.T) {
	r := newTestRelay(t, Config{})

	accounts, err := r.RequestAccounts(context.Background(), "dapp")
	require.NoError(t, err)
	// duplicates are dropped, order is kept
	require.Equal(t, []string{addressOf(t, keyA).Hex(), addressOf(t, keyB).Hex()}, accounts)
	require.Len(t, r.Accounts(), 2)
}

func TestRequestAccountsDenied(t *testing.T) {
	var asked []Approval
	r := newTestRelay(t, Config{Approve: func(_ context.Context, a Approval) bool {
		asked = append(asked, a)
		return false
	}})

	_, err := r.RequestAccounts(context.Background(), "dapp")
	require.ErrorIs(t, err, ErrDenied)
	require.Contains(t, strings.ToLower(err.Error()), "denied")
	require.Equal(t, []Approval{{Kind: ApproveAccounts, AppName: "dapp"}}, asked)
}

func TestDenyPendingLinking(t *testing.T) {
	r := newTestRelay(t, Config{})
	ctx := context.Background()

	w, err := r.OpenLinkingWindow(ctx)
	require.NoError(t, err)
	require.True(t, w.IsOpen())
	require.NoError(t, w.Focus())

	require.NoError(t, r.DenyPendingLinking(ctx))
	require.False(t, w.IsOpen())
	require.Error(t, w.Focus())

	_, err = r.RequestAccounts(ctx, "dapp")
	require.ErrorIs(t, err, ErrDenied)

	// a fresh window clears the denial
	_, err = r.OpenLinkingWindow(ctx)
	require.NoError(t, err)
	_, err = r.RequestAccounts(ctx, "dapp")
	require.NoError(t, err)
}

func TestSignAndRecoverMessage(t *testing.T) {
	r := newTestRelay(t, Config{})
	ctx := context.Background()
	addr := addressOf(t, keyB)
	msg := []byte("hello relay")

	for _, prefix := range []bool{false, true} {
		sigHex, err := r.SignMessage(ctx, msg, strings.ToLower(addr.Hex()), prefix)
		require.NoError(t, err)

		sig, err := hexutil.Decode(sigHex)
		require.NoError(t, err)
		require.Len(t, sig, crypto.SignatureLength)
		require.Contains(t, []byte{27, 28}, sig[crypto.RecoveryIDOffset])

		recovered, err := r.RecoverAddress(ctx, msg, sig, prefix)
		require.NoError(t, err)
		require.Equal(t, strings.ToLower(addr.Hex()), recovered)

		// the other hashing mode yields a different signer
		other, err := r.RecoverAddress(ctx, msg, sig, !prefix)
		require.NoError(t, err)
		require.NotEqual(t, strings.ToLower(addr.Hex()), other)
	}

	_, err := r.RecoverAddress(ctx, msg, []byte{1, 2, 3}, true)
	require.Error(t, err)
}

func TestSignMessageUnknownAccount(t *testing.T) {
	r := newTestRelay(t, Config{})
	_, err := r.SignMessage(context.Background(), []byte("x"), "0x1111111111111111111111111111111111111111", true)
	require.ErrorIs(t, err, ErrUnknownAccount)
}

func TestSignMessageDenied(t *testing.T) {
	r := newTestRelay(t, Config{Approve: func(_ context.Context, a Approval) bool {
		return a.Kind != ApproveMessage
	}})
	_, err := r.SignMessage(context.Background(), []byte("x"), addressOf(t, keyA).Hex(), true)
	require.ErrorIs(t, err, ErrDenied)
}

func TestSignTransactionWithExplicitFields(t *testing.T) {
	r := newTestRelay(t, Config{})
	from := addressOf(t, keyA)
	to := addressOf(t, keyB)
	nonce := uint64(7)

	raw, err := r.SignTransaction(context.Background(), &txparams.Params{
		From:     from,
		To:       &to,
		Value:    big.NewInt(5),
		Data:     []byte{},
		Nonce:    &nonce,
		GasPrice: big.NewInt(1_000_000_000),
		ChainID:  137,
	})
	require.NoError(t, err)

	b, err := hexutil.Decode(raw)
	require.NoError(t, err)
	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(b))
	require.Equal(t, nonce, tx.Nonce())
	require.Equal(t, uint64(defaultTransferGas), tx.Gas())
	require.Equal(t, big.NewInt(137), tx.ChainId())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(137)), tx)
	require.NoError(t, err)
	require.Equal(t, from, sender)
}

func TestSignTransactionNeedsNodeForMissingFields(t *testing.T) {
	r := newTestRelay(t, Config{})
	to := addressOf(t, keyB)

	_, err := r.SignTransaction(context.Background(), &txparams.Params{
		From:    addressOf(t, keyA),
		To:      &to,
		Value:   big.NewInt(0),
		ChainID: 1,
	})
	require.ErrorIs(t, err, ErrNoNode)
}

func TestSignAndSubmitFillsFromNode(t *testing.T) {
	chain := &fakeChain{nonce: 42, gasPrice: big.NewInt(3), gas: 50_000}
	r := newTestRelay(t, Config{Client: chain})
	to := addressOf(t, keyB)

	hash, err := r.SignAndSubmitTransaction(context.Background(), &txparams.Params{
		From:    addressOf(t, keyA),
		To:      &to,
		Value:   big.NewInt(1),
		Data:    []byte{0x01},
		ChainID: 56,
	})
	require.NoError(t, err)

	require.Len(t, chain.sent, 1)
	tx := chain.sent[0]
	require.Equal(t, tx.Hash().Hex(), hash)
	require.Equal(t, uint64(42), tx.Nonce())
	require.Equal(t, uint64(50_000), tx.Gas())
	require.Equal(t, big.NewInt(3), tx.GasPrice())
}

func TestSubmitRawTransaction(t *testing.T) {
	chain := &fakeChain{}
	r := newTestRelay(t, Config{Client: chain})
	to := addressOf(t, keyB)
	nonce := uint64(0)

	raw, err := r.SignTransaction(context.Background(), &txparams.Params{
		From: addressOf(t, keyA), To: &to, Value: big.NewInt(0), Nonce: &nonce,
		GasPrice: big.NewInt(1), ChainID: 10,
	})
	require.NoError(t, err)
	b, err := hexutil.Decode(raw)
	require.NoError(t, err)

	_, err = r.SubmitRawTransaction(context.Background(), b, 1)
	require.Error(t, err)

	hash, err := r.SubmitRawTransaction(context.Background(), b, 10)
	require.NoError(t, err)
	require.Equal(t, chain.sent[0].Hash().Hex(), hash)

	chain.sendErr = errors.New("nonce too low")
	_, err = r.SubmitRawTransaction(context.Background(), b, 10)
	require.EqualError(t, err, "nonce too low")
}

func TestSubmitWithoutNode(t *testing.T) {
	r := newTestRelay(t, Config{})
	_, err := r.SubmitRawTransaction(context.Background(), []byte{0x01}, 1)
	require.ErrorIs(t, err, ErrNoNode)

	_, err = r.ScanCode(context.Background(), ".*")
	require.ErrorIs(t, err, ErrScanUnsupported)
}
