package provider

import (
	"encoding/hex"
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	storageKeyPrefix = "ethprovider"
	identityLength   = 16
)

// Identity derives the short, stable namespace of a provider instance from
// its application name, chain id and remote endpoint.
func Identity(appName string, chainID uint64, rpcURL string) string {
	digest := crypto.Keccak256([]byte(appName), []byte(strconv.FormatUint(chainID, 10)), []byte(rpcURL))
	return hex.EncodeToString(digest)[:identityLength]
}

// AddressesKey is the storage key the authorized addresses are persisted under.
func AddressesKey(identity string) string {
	return storageKeyPrefix + ":" + identity + ":addresses"
}
