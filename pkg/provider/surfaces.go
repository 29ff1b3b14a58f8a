package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sunvim/ethprovider/pkg/jsonrpc"
	"github.com/sunvim/ethprovider/pkg/worker"
)

// Callback receives the outcome of SendAsync. Exactly one of resp and err
// is non-nil.
type Callback func(resp *jsonrpc.Response, err error)

// BatchCallback receives the outcome of SendAsyncBatch: every response in
// input order, or the first error and a nil list.
type BatchCallback func(resps []*jsonrpc.Response, err error)

// Send completes req immediately. Only the synchronous table is consulted;
// every other method fails with SynchronousUnsupported.
func (p *Provider) Send(req jsonrpc.Request) (*jsonrpc.Response, error) {
	result, err := p.dispatchSync(context.Background(), req)
	if err != nil {
		return nil, err
	}
	return jsonrpc.NewResult(req.ID, result), nil
}

// SendBatch applies Send to every element independently. resps[i] is set
// exactly when errs[i] is nil.
func (p *Provider) SendBatch(reqs []jsonrpc.Request) ([]*jsonrpc.Response, []error) {
	resps := make([]*jsonrpc.Response, len(reqs))
	errs := make([]error, len(reqs))
	for i, req := range reqs {
		resps[i], errs[i] = p.Send(req)
	}
	return resps, errs
}

// SendContext dispatches req through the full asynchronous path and waits
// for the outcome.
func (p *Provider) SendContext(ctx context.Context, req jsonrpc.Request) (*jsonrpc.Response, error) {
	return p.dispatch(ctx, req)
}

// SendBatchContext runs every element concurrently. It returns all responses
// in input order, or the first error, in which case the remaining elements
// see a cancelled context.
func (p *Provider) SendBatchContext(ctx context.Context, reqs []jsonrpc.Request) ([]*jsonrpc.Response, error) {
	resps := make([]*jsonrpc.Response, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := p.dispatch(gctx, req)
			if err != nil {
				return err
			}
			resps[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resps, nil
}

// SendAsync dispatches req on the worker pool and reports the outcome to cb,
// which always runs on a pool worker. When the pool queue is full SendAsync
// waits for a free slot until ctx is done; the returned error only reports a
// failure to schedule the call, in which case cb is never invoked.
func (p *Provider) SendAsync(ctx context.Context, req jsonrpc.Request, cb Callback) error {
	task := worker.NewFuncTask(req.Method, func(taskCtx context.Context) error {
		callCtx, cancel := mergeCancel(ctx, taskCtx)
		defer cancel()
		resp, err := p.dispatch(callCtx, req)
		cb(resp, err)
		return err
	})
	return p.submit(ctx, task)
}

// SendAsyncBatch dispatches every element and invokes cb once after all of
// them resolve. A single failure yields cb(nil, err). Scheduling waits for
// queue space the same way SendAsync does.
func (p *Provider) SendAsyncBatch(ctx context.Context, reqs []jsonrpc.Request, cb BatchCallback) error {
	name := "batch[" + lo.Reduce(reqs, func(acc string, r jsonrpc.Request, i int) string {
		if i > 0 {
			acc += ","
		}
		return acc + r.Method
	}, "") + "]"

	task := worker.NewFuncTask(name, func(taskCtx context.Context) error {
		callCtx, cancel := mergeCancel(ctx, taskCtx)
		defer cancel()
		resps, err := p.SendBatchContext(callCtx, reqs)
		cb(resps, err)
		return err
	}).WithOnFailure(func(err error) {
		p.logger.Debug("async batch failed", zap.Int("size", len(reqs)), zap.Error(err))
	})
	return p.submit(ctx, task)
}

func (p *Provider) submit(ctx context.Context, task worker.Task) error {
	if p.closed.Load() {
		return worker.ErrPoolClosed
	}
	if err := p.pool.Submit(ctx, task); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", task.Name(), err)
	}
	return nil
}

// Request builds a canonical request with a fresh id, dispatches it and
// returns only the result.
func (p *Provider) Request(ctx context.Context, method string, params ...any) (any, error) {
	req, err := jsonrpc.NewRequest(p.newID(), method, params...)
	if err != nil {
		return nil, err
	}
	resp, err := p.dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Enable requests account access and returns the authorized addresses.
func (p *Provider) Enable(ctx context.Context) ([]string, error) {
	return p.requestAccounts(ctx)
}

// ScanQRCode asks the relay to scan a code matching pattern. It requires an
// authorized account; relay errors are returned unchanged.
func (p *Provider) ScanQRCode(ctx context.Context, pattern string) (string, error) {
	if err := p.requireAuthorized(); err != nil {
		return "", err
	}
	return p.relay.ScanCode(ctx, pattern)
}

// DecodeResult unmarshals a result into out. Remote results arrive as raw
// JSON, local ones as Go values.
func DecodeResult(result any, out any) error {
	raw, ok := result.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		raw = b
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// mergeCancel returns a context carrying parent's values that is also
// cancelled when other is.
func mergeCancel(parent, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(other, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
