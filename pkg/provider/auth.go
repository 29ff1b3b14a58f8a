package provider

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/sunvim/ethprovider/pkg/jsonrpc"
	"github.com/sunvim/ethprovider/pkg/metrics"
)

// AuthState is the provider's authorization state.
type AuthState int

const (
	Unauthorized AuthState = iota
	Linking
	Authorized
)

func (s AuthState) String() string {
	switch s {
	case Linking:
		return "linking"
	case Authorized:
		return "authorized"
	default:
		return "unauthorized"
	}
}

var denialPattern = regexp.MustCompile(`(?i)denied|rejected`)

// isDenial reports whether a relay rejection means the user said no.
func isDenial(err error) bool {
	return err != nil && denialPattern.MatchString(err.Error())
}

// AuthState reports Authorized whenever addresses are cached, Linking while a
// linking window is in use, Unauthorized otherwise.
func (p *Provider) AuthState() AuthState {
	if p.store.Len() > 0 {
		return Authorized
	}
	p.linkMu.Lock()
	defer p.linkMu.Unlock()
	if p.linkers > 0 {
		return Linking
	}
	return Unauthorized
}

// requestAccounts returns the cached addresses or runs the linking flow.
func (p *Provider) requestAccounts(ctx context.Context) ([]string, error) {
	if addrs := p.store.Addresses(); len(addrs) > 0 {
		return addrs, nil
	}

	if err := p.acquireLinkWindow(ctx); err != nil {
		return nil, err
	}
	defer p.releaseLinkWindow()

	addrs, err := p.relay.RequestAccounts(ctx, p.appName)
	if err != nil {
		if isDenial(err) {
			metrics.UserDenialsTotal.WithLabelValues("account_access").Inc()
			p.logger.Info("account access denied", zap.Error(err))
			return nil, jsonrpc.UserDeniedAccountAccess(err)
		}
		p.logger.Warn("account request failed", zap.Error(err))
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, jsonrpc.Internal("accounts received is empty")
	}

	if err := p.store.SetAddresses(ctx, addrs, p.persist); err != nil {
		return nil, err
	}
	metrics.AuthorizedAccounts.Set(float64(p.store.Len()))

	p.logger.Info("accounts authorized",
		zap.Int("count", p.store.Len()),
		zap.String("selected", p.store.Selected()),
	)
	return p.store.Addresses(), nil
}

// acquireLinkWindow refocuses the tracked window if it is still open and
// opens a new one otherwise. At most one window is tracked.
func (p *Provider) acquireLinkWindow(ctx context.Context) error {
	p.linkMu.Lock()
	defer p.linkMu.Unlock()

	if p.window != nil && p.window.IsOpen() {
		if err := p.window.Focus(); err == nil {
			p.linkers++
			return nil
		}
		p.logger.Debug("linking window lost focus control, reopening")
	}

	window, err := p.relay.OpenLinkingWindow(ctx)
	if err != nil {
		return err
	}
	metrics.LinkingWindowsOpened.Inc()
	p.window = window
	p.linkers++
	p.logger.Info("linking window opened")
	return nil
}

// releaseLinkWindow closes the window once its last user is done and hands
// focus back.
func (p *Provider) releaseLinkWindow() {
	p.linkMu.Lock()
	p.linkers--
	if p.linkers > 0 {
		p.linkMu.Unlock()
		return
	}
	window := p.window
	p.window = nil
	p.linkMu.Unlock()

	// CancelLinking already closed the window and restored focus.
	if window == nil {
		return
	}
	window.Close()
	if p.restoreFocus != nil {
		p.restoreFocus()
	}
}

// CancelLinking asks the relay to deny the pending link and closes the
// tracked linking window. It is a no-op when no window is tracked.
func (p *Provider) CancelLinking(ctx context.Context) error {
	p.linkMu.Lock()
	window := p.window
	p.window = nil
	p.linkMu.Unlock()

	if window == nil {
		return nil
	}

	err := p.relay.DenyPendingLinking(ctx)
	window.Close()
	if p.restoreFocus != nil {
		p.restoreFocus()
	}
	if err != nil {
		return err
	}
	p.logger.Info("linking cancelled")
	return nil
}

// requireAuthorized fails with Unauthorized when no account is cached.
func (p *Provider) requireAuthorized() error {
	if p.store.Len() == 0 {
		return jsonrpc.Unauthorized()
	}
	return nil
}

// remapSignature turns a denial-pattern rejection into UserDeniedSignature
// and passes every other error through unchanged.
func (p *Provider) remapSignature(method string, err error) error {
	if !isDenial(err) {
		return err
	}
	metrics.UserDenialsTotal.WithLabelValues("signature").Inc()
	p.logger.Info("signature denied", zap.String("method", method), zap.Error(err))
	return jsonrpc.UserDeniedSignature(err)
}
