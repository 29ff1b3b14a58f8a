package provider

// Method names handled locally.
const (
	MethodAccounts        = "eth_accounts"
	MethodCoinbase        = "eth_coinbase"
	MethodNetVersion      = "net_version"
	MethodUninstallFilter = "eth_uninstallFilter"
	MethodChainID         = "eth_chainId"

	MethodNewFilter                   = "eth_newFilter"
	MethodNewBlockFilter              = "eth_newBlockFilter"
	MethodNewPendingTransactionFilter = "eth_newPendingTransactionFilter"
	MethodGetFilterChanges            = "eth_getFilterChanges"
	MethodGetFilterLogs               = "eth_getFilterLogs"

	MethodRequestAccounts    = "eth_requestAccounts"
	MethodSign               = "eth_sign"
	MethodEcRecover          = "eth_ecRecover"
	MethodPersonalSign       = "personal_sign"
	MethodPersonalEcRecover  = "personal_ecRecover"
	MethodSignTransaction    = "eth_signTransaction"
	MethodSendRawTransaction = "eth_sendRawTransaction"
	MethodSendTransaction    = "eth_sendTransaction"
)

// Route is the handler a method is dispatched to.
type Route int

const (
	RouteRemote Route = iota
	RouteSync
	RouteFilter
	RouteRelay
)

func (r Route) String() string {
	switch r {
	case RouteSync:
		return "sync"
	case RouteFilter:
		return "filter"
	case RouteRelay:
		return "relay"
	default:
		return "remote"
	}
}

var (
	syncMethods   map[string]handler
	filterMethods map[string]handler
	relayMethods  map[string]handler
)

// The tables are filled in init because handlers reach back into dispatch.
func init() {
	syncMethods = map[string]handler{
		MethodAccounts:        (*Provider).ethAccounts,
		MethodCoinbase:        (*Provider).ethCoinbase,
		MethodNetVersion:      (*Provider).netVersion,
		MethodUninstallFilter: (*Provider).ethUninstallFilter,
		MethodChainID:         (*Provider).ethChainID,
	}

	filterMethods = map[string]handler{
		MethodNewFilter:                   (*Provider).newFilter,
		MethodNewBlockFilter:              (*Provider).newBlockFilter,
		MethodNewPendingTransactionFilter: (*Provider).newPendingTransactionFilter,
		MethodGetFilterChanges:            (*Provider).getFilterChanges,
		MethodGetFilterLogs:               (*Provider).getFilterLogs,
	}

	relayMethods = map[string]handler{
		MethodRequestAccounts:    (*Provider).requestAccountsMethod,
		MethodSign:               (*Provider).ethSign,
		MethodEcRecover:          (*Provider).ecRecover,
		MethodPersonalSign:       (*Provider).personalSign,
		MethodPersonalEcRecover:  (*Provider).personalEcRecover,
		MethodSignTransaction:    (*Provider).signTransaction,
		MethodSendRawTransaction: (*Provider).sendRawTransaction,
		MethodSendTransaction:    (*Provider).sendTransaction,
	}
}

// Classify returns the route a method is dispatched to. Methods in none of
// the local tables are forwarded to the remote endpoint.
func Classify(method string) Route {
	if _, ok := syncMethods[method]; ok {
		return RouteSync
	}
	if _, ok := filterMethods[method]; ok {
		return RouteFilter
	}
	if _, ok := relayMethods[method]; ok {
		return RouteRelay
	}
	return RouteRemote
}
