package accounts

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sunvim/ethprovider/pkg/jsonrpc"
)

// Normalize validates an account address and returns its canonical form:
// 0x-prefixed lowercase hex. Addresses written in mixed case must carry a
// valid EIP-55 checksum.
func Normalize(addr string) (string, error) {
	s := strings.TrimSpace(addr)
	if !common.IsHexAddress(s) {
		return "", jsonrpc.InvalidInput("invalid Ethereum address: %q", addr)
	}
	if !has0xPrefix(s) {
		s = "0x" + s
	}
	body := s[2:]
	if strings.ToLower(body) != body && strings.ToUpper(body) != body {
		mixed, err := common.NewMixedcaseAddressFromString(s)
		if err != nil || !mixed.ValidChecksum() {
			return "", jsonrpc.InvalidInput("invalid address checksum: %q", addr)
		}
	}
	return strings.ToLower(s), nil
}

// NormalizeAll normalizes every address, failing on the first invalid one.
func NormalizeAll(addrs []string) ([]string, error) {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		n, err := Normalize(a)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
