package provider

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/sunvim/ethprovider/pkg/jsonrpc"
	"github.com/sunvim/ethprovider/pkg/metrics"
	"github.com/sunvim/ethprovider/pkg/txparams"
)

// handler serves one method. Synchronous-table handlers never wait on a
// collaborator beyond the bound of ctx.
type handler func(p *Provider, ctx context.Context, req jsonrpc.Request) (any, error)

// dispatchSync runs req through the synchronous table only.
func (p *Provider) dispatchSync(ctx context.Context, req jsonrpc.Request) (any, error) {
	h, ok := syncMethods[req.Method]
	if !ok {
		metrics.SynchronousRejectedTotal.Inc()
		return nil, jsonrpc.SynchronousUnsupported(req.Method)
	}
	start := time.Now()
	result, err := h(p, ctx, req)
	metrics.ObserveRequest(RouteSync.String(), err, time.Since(start))
	return result, err
}

// dispatch runs req through the synchronous, filter and relay tables in that
// order and forwards everything else to the remote endpoint.
func (p *Provider) dispatch(ctx context.Context, req jsonrpc.Request) (*jsonrpc.Response, error) {
	route := Classify(req.Method)
	start := time.Now()

	p.logger.Debug("dispatching request",
		zap.String("method", req.Method),
		zap.Int64("id", req.ID),
		zap.Stringer("route", route),
	)

	var (
		result any
		err    error
	)
	switch route {
	case RouteSync:
		result, err = syncMethods[req.Method](p, ctx, req)
	case RouteFilter:
		result, err = filterMethods[req.Method](p, ctx, req)
	case RouteRelay:
		result, err = relayMethods[req.Method](p, ctx, req)
	default:
		var resp *jsonrpc.Response
		resp, err = p.forward(ctx, req)
		if err == nil {
			result = resp.Result
		}
	}

	metrics.ObserveRequest(route.String(), err, time.Since(start))
	if err != nil {
		p.logger.Debug("request failed",
			zap.String("method", req.Method),
			zap.Int64("id", req.ID),
			zap.Error(err),
		)
		return nil, err
	}
	return jsonrpc.NewResult(req.ID, result), nil
}

func (p *Provider) forward(ctx context.Context, req jsonrpc.Request) (*jsonrpc.Response, error) {
	if req.JSONRPC == "" {
		req.JSONRPC = jsonrpc.Version
	}
	return p.remote.Call(ctx, req)
}

// Synchronous table

func (p *Provider) ethAccounts(context.Context, jsonrpc.Request) (any, error) {
	return p.store.Addresses(), nil
}

// ethCoinbase yields null when nothing is selected; null is still a result.
func (p *Provider) ethCoinbase(context.Context, jsonrpc.Request) (any, error) {
	if selected := p.store.Selected(); selected != "" {
		return selected, nil
	}
	return nil, nil
}

func (p *Provider) netVersion(context.Context, jsonrpc.Request) (any, error) {
	return p.NetworkVersion(), nil
}

func (p *Provider) ethChainID(context.Context, jsonrpc.Request) (any, error) {
	return hexutil.Uint64(p.chainID).String(), nil
}

func (p *Provider) ethUninstallFilter(ctx context.Context, req jsonrpc.Request) (any, error) {
	id, err := stringParam(req, 0, "filter id")
	if err != nil {
		return nil, err
	}
	if p.filters == nil {
		return false, nil
	}
	return p.filters.UninstallFilter(ctx, id), nil
}

// Filter table

func (p *Provider) requireFilters(method string) error {
	if p.filters == nil {
		return jsonrpc.Internal("%s: no filter delegate configured", method)
	}
	return nil
}

func (p *Provider) newFilter(ctx context.Context, req jsonrpc.Request) (any, error) {
	if err := p.requireFilters(req.Method); err != nil {
		return nil, err
	}
	options := req.Param(0)
	if options == nil {
		return nil, jsonrpc.InvalidInput("%s: missing filter options", req.Method)
	}
	return p.filters.InstallFilter(ctx, options)
}

func (p *Provider) newBlockFilter(ctx context.Context, req jsonrpc.Request) (any, error) {
	if err := p.requireFilters(req.Method); err != nil {
		return nil, err
	}
	return p.filters.InstallBlockFilter(ctx)
}

func (p *Provider) newPendingTransactionFilter(ctx context.Context, req jsonrpc.Request) (any, error) {
	if err := p.requireFilters(req.Method); err != nil {
		return nil, err
	}
	return p.filters.InstallPendingTransactionFilter(ctx)
}

func (p *Provider) getFilterChanges(ctx context.Context, req jsonrpc.Request) (any, error) {
	if err := p.requireFilters(req.Method); err != nil {
		return nil, err
	}
	id, err := stringParam(req, 0, "filter id")
	if err != nil {
		return nil, err
	}
	return p.filters.GetFilterChanges(ctx, id)
}

func (p *Provider) getFilterLogs(ctx context.Context, req jsonrpc.Request) (any, error) {
	if err := p.requireFilters(req.Method); err != nil {
		return nil, err
	}
	id, err := stringParam(req, 0, "filter id")
	if err != nil {
		return nil, err
	}
	return p.filters.GetFilterLogs(ctx, id)
}

// Relay table

func (p *Provider) requestAccountsMethod(ctx context.Context, _ jsonrpc.Request) (any, error) {
	return p.requestAccounts(ctx)
}

// ethSign takes (address, message).
func (p *Provider) ethSign(ctx context.Context, req jsonrpc.Request) (any, error) {
	return p.signMessage(ctx, req, 0, 1, false)
}

// personalSign takes (message, address).
func (p *Provider) personalSign(ctx context.Context, req jsonrpc.Request) (any, error) {
	return p.signMessage(ctx, req, 1, 0, true)
}

func (p *Provider) signMessage(ctx context.Context, req jsonrpc.Request, addrIdx, msgIdx int, addPrefix bool) (any, error) {
	if err := p.requireAuthorized(); err != nil {
		return nil, err
	}
	address, err := addressParam(req, addrIdx)
	if err != nil {
		return nil, err
	}
	if !p.store.Contains(address) {
		return nil, jsonrpc.UnauthorizedAddress(address)
	}
	message, err := messageParam(req, msgIdx)
	if err != nil {
		return nil, err
	}
	sig, err := p.relay.SignMessage(ctx, message, address, addPrefix)
	if err != nil {
		return nil, p.remapSignature(req.Method, err)
	}
	return sig, nil
}

func (p *Provider) ecRecover(ctx context.Context, req jsonrpc.Request) (any, error) {
	return p.recoverAddress(ctx, req, false)
}

func (p *Provider) personalEcRecover(ctx context.Context, req jsonrpc.Request) (any, error) {
	return p.recoverAddress(ctx, req, true)
}

func (p *Provider) recoverAddress(ctx context.Context, req jsonrpc.Request, addPrefix bool) (any, error) {
	message, err := messageParam(req, 0)
	if err != nil {
		return nil, err
	}
	signature, err := hexParam(req, 1, "signature")
	if err != nil {
		return nil, err
	}
	return p.relay.RecoverAddress(ctx, message, signature, addPrefix)
}

func (p *Provider) transactionParams(req jsonrpc.Request) (*txparams.Params, error) {
	if err := p.requireAuthorized(); err != nil {
		return nil, err
	}
	raw, err := objectParam(req, 0)
	if err != nil {
		return nil, err
	}
	return txparams.Normalize(raw, p.store.Selected(), p.store.Addresses(), p.chainID)
}

func (p *Provider) signTransaction(ctx context.Context, req jsonrpc.Request) (any, error) {
	tx, err := p.transactionParams(req)
	if err != nil {
		return nil, err
	}
	signed, err := p.relay.SignTransaction(ctx, tx)
	if err != nil {
		return nil, p.remapSignature(req.Method, err)
	}
	return signed, nil
}

func (p *Provider) sendTransaction(ctx context.Context, req jsonrpc.Request) (any, error) {
	tx, err := p.transactionParams(req)
	if err != nil {
		return nil, err
	}
	hash, err := p.relay.SignAndSubmitTransaction(ctx, tx)
	if err != nil {
		return nil, p.remapSignature(req.Method, err)
	}
	return hash, nil
}

// sendRawTransaction needs no authorization; the bytes are checked against
// the provider's chain before they reach the relay.
func (p *Provider) sendRawTransaction(ctx context.Context, req jsonrpc.Request) (any, error) {
	raw, err := hexParam(req, 0, "signed transaction")
	if err != nil {
		return nil, err
	}
	if _, _, err := p.validator.Validate(raw); err != nil {
		return nil, err
	}
	hash, err := p.relay.SubmitRawTransaction(ctx, raw, p.chainID)
	if err != nil {
		return nil, p.remapSignature(req.Method, err)
	}
	return hash, nil
}
