// Package relay implements a development relay delegate that signs with
// locally held private keys and submits through an Ethereum node.
package relay

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/sunvim/ethprovider/pkg/logger"
	"github.com/sunvim/ethprovider/pkg/provider"
	"github.com/sunvim/ethprovider/pkg/txparams"
)

var (
	// ErrDenied is returned when the approver declines a request.
	ErrDenied = errors.New("user denied the request")

	// ErrUnknownAccount is returned for addresses without a local key.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrNoNode is returned when an operation needs a node and none is configured.
	ErrNoNode = errors.New("no node configured for relay")

	// ErrScanUnsupported is returned by ScanCode.
	ErrScanUnsupported = errors.New("code scanning is not supported by the local key relay")

	errWindowClosed = errors.New("linking window is closed")
)

const defaultTransferGas = 21000

// ChainClient is the node surface the relay needs. *ethclient.Client
// satisfies it.
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// ApprovalKind names what the user is asked to approve.
type ApprovalKind string

const (
	ApproveAccounts    ApprovalKind = "accounts"
	ApproveMessage     ApprovalKind = "message"
	ApproveTransaction ApprovalKind = "transaction"
)

// Approval describes a pending user decision.
type Approval struct {
	Kind    ApprovalKind
	AppName string
	Address common.Address
	Message []byte
	Tx      *txparams.Params
}

// Approver decides on a request; false denies it.
type Approver func(ctx context.Context, a Approval) bool

// AutoApprove accepts everything.
func AutoApprove(context.Context, Approval) bool { return true }

// Config configures a KeyRelay.
type Config struct {
	// PrivateKeys are hex encoded secp256k1 keys; the first one is the
	// selected account.
	PrivateKeys []string

	// Client fills missing nonce and gas and submits transactions.
	Client ChainClient

	// Approve defaults to AutoApprove.
	Approve Approver

	Logger *zap.Logger
}

// KeyRelay is a provider.RelayDelegate over local keys.
type KeyRelay struct {
	keys    map[common.Address]*ecdsa.PrivateKey
	order   []common.Address
	client  ChainClient
	approve Approver
	logger  *zap.Logger

	mu     sync.Mutex
	window *Window
	denied bool
}

var _ provider.RelayDelegate = (*KeyRelay)(nil)

// New parses the configured keys.
func New(cfg Config) (*KeyRelay, error) {
	if len(cfg.PrivateKeys) == 0 {
		return nil, errors.New("at least one private key is required")
	}

	r := &KeyRelay{
		keys:    make(map[common.Address]*ecdsa.PrivateKey, len(cfg.PrivateKeys)),
		client:  cfg.Client,
		approve: cfg.Approve,
		logger:  logger.Or(cfg.Logger).With(zap.String("component", "relay")),
	}
	if r.approve == nil {
		r.approve = AutoApprove
	}

	for i, hexKey := range cfg.PrivateKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key %d: %w", i, err)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if _, dup := r.keys[addr]; dup {
			continue
		}
		r.keys[addr] = key
		r.order = append(r.order, addr)
	}

	r.logger.Info("key relay ready", zap.Int("accounts", len(r.order)))
	return r, nil
}

// OpenLinkingWindow opens an in-process window and clears any earlier
// pending denial.
func (r *KeyRelay) OpenLinkingWindow(context.Context) (provider.LinkWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := newWindow()
	r.window = w
	r.denied = false
	return w, nil
}

// RequestAccounts returns the local addresses once approved.
func (r *KeyRelay) RequestAccounts(ctx context.Context, appName string) ([]string, error) {
	r.mu.Lock()
	denied := r.denied
	r.denied = false
	r.mu.Unlock()

	if denied || !r.approve(ctx, Approval{Kind: ApproveAccounts, AppName: appName}) {
		return nil, ErrDenied
	}

	out := make([]string, len(r.order))
	for i, addr := range r.order {
		out[i] = addr.Hex()
	}
	return out, nil
}

// DenyPendingLinking makes the pending account request fail as denied and
// closes the tracked window.
func (r *KeyRelay) DenyPendingLinking(context.Context) error {
	r.mu.Lock()
	w := r.window
	r.window = nil
	r.denied = true
	r.mu.Unlock()

	if w != nil {
		w.Close()
	}
	r.logger.Info("pending linking denied")
	return nil
}

// SignMessage signs keccak256(message), or the EIP-191 text hash when
// addPrefix is set. The signature's V is 27 or 28.
func (r *KeyRelay) SignMessage(ctx context.Context, message []byte, address string, addPrefix bool) (string, error) {
	key, addr, err := r.key(address)
	if err != nil {
		return "", err
	}
	if !r.approve(ctx, Approval{Kind: ApproveMessage, Address: addr, Message: message}) {
		return "", ErrDenied
	}

	sig, err := crypto.Sign(messageHash(message, addPrefix), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	// Ethereum uses 27/28, crypto.Sign returns 0/1
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// RecoverAddress returns the lowercase address that produced signature.
func (r *KeyRelay) RecoverAddress(_ context.Context, message, signature []byte, addPrefix bool) (string, error) {
	if len(signature) != crypto.SignatureLength {
		return "", fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(signature))
	}
	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(messageHash(message, addPrefix), sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover signer: %w", err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// SignTransaction returns the signed transaction encoding as hex.
func (r *KeyRelay) SignTransaction(ctx context.Context, p *txparams.Params) (string, error) {
	tx, err := r.sign(ctx, p)
	if err != nil {
		return "", err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction: %w", err)
	}
	return hexutil.Encode(raw), nil
}

// SignAndSubmitTransaction signs p and broadcasts it, returning the hash.
func (r *KeyRelay) SignAndSubmitTransaction(ctx context.Context, p *txparams.Params) (string, error) {
	if r.client == nil {
		return "", ErrNoNode
	}
	tx, err := r.sign(ctx, p)
	if err != nil {
		return "", err
	}
	return r.submit(ctx, tx)
}

// SubmitRawTransaction broadcasts an already signed transaction.
func (r *KeyRelay) SubmitRawTransaction(ctx context.Context, raw []byte, chainID uint64) (string, error) {
	if r.client == nil {
		return "", ErrNoNode
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", fmt.Errorf("failed to decode transaction: %w", err)
	}
	if tx.Protected() && tx.ChainId().Uint64() != chainID {
		return "", fmt.Errorf("transaction chain id %s does not match %d", tx.ChainId(), chainID)
	}
	return r.submit(ctx, tx)
}

// ScanCode is not available without a camera-equipped wallet.
func (r *KeyRelay) ScanCode(context.Context, string) (string, error) {
	return "", ErrScanUnsupported
}

// Accounts returns the local addresses in selection order.
func (r *KeyRelay) Accounts() []common.Address {
	return append([]common.Address(nil), r.order...)
}

func (r *KeyRelay) submit(ctx context.Context, tx *types.Transaction) (string, error) {
	if err := r.client.SendTransaction(ctx, tx); err != nil {
		return "", err
	}
	r.logger.Info("transaction submitted",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Uint64("nonce", tx.Nonce()),
	)
	return tx.Hash().Hex(), nil
}

func (r *KeyRelay) key(address string) (*ecdsa.PrivateKey, common.Address, error) {
	if !common.IsHexAddress(address) {
		return nil, common.Address{}, fmt.Errorf("%w: %s", ErrUnknownAccount, address)
	}
	addr := common.HexToAddress(address)
	key, ok := r.keys[addr]
	if !ok {
		return nil, common.Address{}, fmt.Errorf("%w: %s", ErrUnknownAccount, address)
	}
	return key, addr, nil
}

func (r *KeyRelay) sign(ctx context.Context, p *txparams.Params) (*types.Transaction, error) {
	key, addr, err := r.key(p.From.Hex())
	if err != nil {
		return nil, err
	}
	if !r.approve(ctx, Approval{Kind: ApproveTransaction, Address: addr, Tx: p}) {
		return nil, ErrDenied
	}

	tx, err := r.build(ctx, p)
	if err != nil {
		return nil, err
	}
	chainID := new(big.Int).SetUint64(p.ChainID)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// build fills nonce, gas price and gas limit from the node when the caller
// left them out.
func (r *KeyRelay) build(ctx context.Context, p *txparams.Params) (*types.Transaction, error) {
	var nonce uint64
	switch {
	case p.Nonce != nil:
		nonce = *p.Nonce
	case r.client != nil:
		n, err := r.client.PendingNonceAt(ctx, p.From)
		if err != nil {
			return nil, fmt.Errorf("failed to get nonce: %w", err)
		}
		nonce = n
	default:
		return nil, fmt.Errorf("nonce required: %w", ErrNoNode)
	}

	gasPrice := p.GasPrice
	if gasPrice == nil {
		if r.client == nil {
			return nil, fmt.Errorf("gas price required: %w", ErrNoNode)
		}
		price, err := r.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to suggest gas price: %w", err)
		}
		gasPrice = price
	}

	var gas uint64
	switch {
	case p.GasLimit != nil:
		if !p.GasLimit.IsUint64() {
			return nil, fmt.Errorf("gas limit %s out of range", p.GasLimit)
		}
		gas = p.GasLimit.Uint64()
	case r.client != nil:
		estimated, err := r.client.EstimateGas(ctx, ethereum.CallMsg{
			From:     p.From,
			To:       p.To,
			GasPrice: gasPrice,
			Value:    p.Value,
			Data:     p.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
		gas = estimated
	case len(p.Data) == 0 && p.To != nil:
		gas = defaultTransferGas
	default:
		return nil, fmt.Errorf("gas limit required: %w", ErrNoNode)
	}

	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       p.To,
		Value:    p.Value,
		Data:     p.Data,
	}), nil
}

func messageHash(message []byte, addPrefix bool) []byte {
	if addPrefix {
		return accounts.TextHash(message)
	}
	return crypto.Keccak256(message)
}
