// Package txparams turns loosely typed transaction objects, as sent by dapps,
// into a canonical transaction request.
package txparams

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gmath "github.com/ethereum/go-ethereum/common/math"

	"github.com/sunvim/ethprovider/pkg/accounts"
	"github.com/sunvim/ethprovider/pkg/jsonrpc"
)

// Params is a validated transaction request. Optional numeric fields are nil
// when the caller left them for the signer to fill in.
type Params struct {
	From     common.Address
	To       *common.Address
	Value    *big.Int
	Data     []byte
	Nonce    *uint64
	GasPrice *big.Int
	GasLimit *big.Int
	ChainID  uint64
}

type paramsJSON struct {
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to,omitempty"`
	Value    *hexutil.Big    `json:"value"`
	Data     hexutil.Bytes   `json:"data"`
	Nonce    *hexutil.Uint64 `json:"nonce,omitempty"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
	GasLimit *hexutil.Big    `json:"gas,omitempty"`
	ChainID  hexutil.Uint64  `json:"chainId"`
}

// MarshalJSON renders the params with Ethereum hex quantities.
func (p *Params) MarshalJSON() ([]byte, error) {
	return json.Marshal(paramsJSON{
		From:     p.From,
		To:       p.To,
		Value:    (*hexutil.Big)(p.Value),
		Data:     p.Data,
		Nonce:    (*hexutil.Uint64)(p.Nonce),
		GasPrice: (*hexutil.Big)(p.GasPrice),
		GasLimit: (*hexutil.Big)(p.GasLimit),
		ChainID:  hexutil.Uint64(p.ChainID),
	})
}

// Normalize validates raw and fills defaults. The from address is the
// explicit "from" field or, failing that, selected; it must appear in
// authorized. Numeric fields accept 0x-hex strings, decimal strings and JSON
// numbers. Normalize has no side effects.
func Normalize(raw map[string]any, selected string, authorized []string, chainID uint64) (*Params, error) {
	fromStr, err := optionalString(raw, "from")
	if err != nil {
		return nil, err
	}
	if fromStr == "" {
		fromStr = selected
	}
	if fromStr == "" {
		return nil, jsonrpc.MissingField("transaction has no from address and no account is selected")
	}
	from, err := accounts.Normalize(fromStr)
	if err != nil {
		return nil, jsonrpc.InvalidInput("invalid from address: %q", fromStr)
	}
	if !slices.Contains(authorized, from) {
		return nil, jsonrpc.UnauthorizedAddress(from)
	}

	p := &Params{
		From:    common.HexToAddress(from),
		Value:   new(big.Int),
		Data:    []byte{},
		ChainID: chainID,
	}

	toStr, err := optionalString(raw, "to")
	if err != nil {
		return nil, err
	}
	if toStr != "" {
		to, err := accounts.Normalize(toStr)
		if err != nil {
			return nil, jsonrpc.InvalidInput("invalid to address: %q", toStr)
		}
		addr := common.HexToAddress(to)
		p.To = &addr
	}

	if v, ok, err := optionalBig(raw, "value"); err != nil {
		return nil, err
	} else if ok {
		p.Value = v
	}

	dataStr, err := optionalString(raw, "data")
	if err != nil {
		return nil, err
	}
	if dataStr != "" {
		if p.Data, err = DecodeHex(dataStr); err != nil {
			return nil, jsonrpc.InvalidInput("invalid data: %v", err)
		}
	}

	if n, ok, err := optionalBig(raw, "nonce"); err != nil {
		return nil, err
	} else if ok {
		if !n.IsUint64() {
			return nil, jsonrpc.InvalidInput("nonce out of range: %s", n)
		}
		nonce := n.Uint64()
		p.Nonce = &nonce
	}

	if p.GasPrice, _, err = optionalBig(raw, "gasPrice"); err != nil {
		return nil, err
	}

	// "gas" is the JSON-RPC name, "gasLimit" the one many libraries use.
	gasKey := "gas"
	if _, ok := raw[gasKey]; !ok {
		gasKey = "gasLimit"
	}
	if p.GasLimit, _, err = optionalBig(raw, gasKey); err != nil {
		return nil, err
	}

	return p, nil
}

// ParseQuantity parses a non-negative integer given as a 0x-hex string, a
// decimal string or a number.
func ParseQuantity(v any) (*big.Int, error) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, fmt.Errorf("empty quantity")
		}
		n, ok := gmath.ParseBig256(s)
		if !ok {
			return nil, fmt.Errorf("malformed quantity %q", x)
		}
		return nonNegative(n)
	case json.Number:
		return ParseQuantity(string(x))
	case float64:
		if x < 0 || x != math.Trunc(x) || math.IsInf(x, 0) || x > (1<<53) {
			return nil, fmt.Errorf("quantity %v is not a non-negative safe integer", x)
		}
		return new(big.Int).SetUint64(uint64(x)), nil
	case int:
		return nonNegative(big.NewInt(int64(x)))
	case int64:
		return nonNegative(big.NewInt(x))
	case uint64:
		return new(big.Int).SetUint64(x), nil
	case *big.Int:
		if x == nil {
			return nil, fmt.Errorf("nil quantity")
		}
		return nonNegative(new(big.Int).Set(x))
	default:
		return nil, fmt.Errorf("unsupported quantity type %T", v)
	}
}

// DecodeHex decodes a hex byte string with or without the 0x prefix; odd
// lengths are left-padded with a zero nibble.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hexutil.Decode("0x" + s)
}

func nonNegative(n *big.Int) (*big.Int, error) {
	if n.Sign() < 0 {
		return nil, fmt.Errorf("negative quantity %s", n)
	}
	return n, nil
}

func optionalString(raw map[string]any, key string) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", jsonrpc.InvalidInput("field %s must be a string, got %T", key, v)
	}
	return strings.TrimSpace(s), nil
}

func optionalBig(raw map[string]any, key string) (*big.Int, bool, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, false, nil
	}
	n, err := ParseQuantity(v)
	if err != nil {
		return nil, false, jsonrpc.InvalidInput("invalid %s: %v", key, err)
	}
	return n, true, nil
}
