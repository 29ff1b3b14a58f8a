// Package rawtx decodes and sanity-checks signed transactions before they are
// handed to the relay for submission.
package rawtx

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/sunvim/ethprovider/pkg/jsonrpc"
	"github.com/sunvim/ethprovider/pkg/logger"
)

const (
	// MaxTransactionSize is the maximum accepted encoded size (128KB)
	MaxTransactionSize = 128 * 1024
)

var (
	// ErrEmpty is returned for a zero-length payload
	ErrEmpty = errors.New("empty transaction payload")

	// ErrMalformed is returned when the payload does not decode
	ErrMalformed = errors.New("malformed transaction encoding")

	// ErrTxTooLarge is returned when the payload exceeds MaxTransactionSize
	ErrTxTooLarge = errors.New("transaction size exceeds limit")

	// ErrZeroGas is returned when the transaction has no gas limit
	ErrZeroGas = errors.New("gas limit cannot be zero")

	// ErrChainIDMismatch is returned when a replay-protected transaction
	// targets another chain
	ErrChainIDMismatch = errors.New("chain ID mismatch")

	// ErrInvalidSignature is returned when the sender cannot be recovered
	ErrInvalidSignature = errors.New("invalid transaction signature")
)

// Validator checks raw signed transactions against the provider's chain.
type Validator struct {
	chainID *big.Int
	signer  types.Signer
	logger  *zap.Logger
}

// NewValidator creates a validator for chainID.
func NewValidator(chainID uint64, log *zap.Logger) *Validator {
	id := new(big.Int).SetUint64(chainID)
	return &Validator{
		chainID: id,
		signer:  types.LatestSignerForChainID(id),
		logger:  logger.Or(log).With(zap.String("component", "rawtx")),
	}
}

// Validate decodes raw and returns the transaction with its recovered sender.
// Every failure is an invalid-input error wrapping one of the sentinels above.
func (v *Validator) Validate(raw []byte) (*types.Transaction, common.Address, error) {
	tx, err := v.decode(raw)
	if err != nil {
		return nil, common.Address{}, jsonrpc.WrapInvalidInput(err)
	}
	if err := v.check(tx); err != nil {
		return nil, common.Address{}, jsonrpc.WrapInvalidInput(err)
	}
	from, err := v.sender(tx)
	if err != nil {
		return nil, common.Address{}, jsonrpc.WrapInvalidInput(err)
	}

	v.logger.Debug("raw transaction validated",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.String("from", from.Hex()),
		zap.Uint64("nonce", tx.Nonce()),
		zap.Uint8("type", tx.Type()),
	)
	return tx, from, nil
}

func (v *Validator) decode(raw []byte) (*types.Transaction, error) {
	if len(raw) == 0 {
		return nil, ErrEmpty
	}
	if len(raw) > MaxTransactionSize {
		v.logger.Warn("raw transaction too large",
			zap.Int("size", len(raw)),
			zap.Int("max_size", MaxTransactionSize),
		)
		return nil, ErrTxTooLarge
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return tx, nil
}

func (v *Validator) check(tx *types.Transaction) error {
	if tx.Gas() == 0 {
		return ErrZeroGas
	}
	// unprotected legacy transactions carry no chain id
	if !tx.Protected() {
		return nil
	}
	if txChainID := tx.ChainId(); txChainID.Cmp(v.chainID) != 0 {
		v.logger.Warn("chain ID mismatch",
			zap.String("tx_hash", tx.Hash().Hex()),
			zap.String("tx_chain_id", txChainID.String()),
			zap.String("provider_chain_id", v.chainID.String()),
		)
		return fmt.Errorf("%w: transaction for chain %s, provider on %s", ErrChainIDMismatch, txChainID, v.chainID)
	}
	return nil
}

func (v *Validator) sender(tx *types.Transaction) (common.Address, error) {
	from, err := types.Sender(v.signer, tx)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if from == (common.Address{}) {
		return common.Address{}, ErrInvalidSignature
	}
	return from, nil
}
