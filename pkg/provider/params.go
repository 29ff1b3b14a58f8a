package provider

import (
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/sunvim/ethprovider/pkg/accounts"
	"github.com/sunvim/ethprovider/pkg/jsonrpc"
)

func stringParam(req jsonrpc.Request, i int, name string) (string, error) {
	raw := req.Param(i)
	if raw == nil {
		return "", jsonrpc.InvalidInput("%s: missing %s parameter", req.Method, name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", jsonrpc.InvalidInput("%s: %s must be a string", req.Method, name)
	}
	return s, nil
}

func addressParam(req jsonrpc.Request, i int) (string, error) {
	s, err := stringParam(req, i, "address")
	if err != nil {
		return "", err
	}
	return accounts.Normalize(s)
}

// messageParam accepts 0x-prefixed hex or plain UTF-8 text.
func messageParam(req jsonrpc.Request, i int) ([]byte, error) {
	s, err := stringParam(req, i, "message")
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, err := hexutil.Decode("0x" + s[2:])
		if err == nil {
			return b, nil
		}
	}
	return []byte(s), nil
}

func hexParam(req jsonrpc.Request, i int, name string) ([]byte, error) {
	s, err := stringParam(req, i, name)
	if err != nil {
		return nil, err
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, jsonrpc.InvalidInput("%s: %s is not valid hex: %v", req.Method, name, err)
	}
	return b, nil
}

func objectParam(req jsonrpc.Request, i int) (map[string]any, error) {
	raw := req.Param(i)
	if raw == nil {
		return nil, jsonrpc.InvalidInput("%s: missing transaction object", req.Method)
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, jsonrpc.InvalidInput("%s: transaction must be an object", req.Method)
	}
	return obj, nil
}
