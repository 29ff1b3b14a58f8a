// Package server exposes a provider as a JSON-RPC endpoint over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sunvim/ethprovider/pkg/jsonrpc"
	"github.com/sunvim/ethprovider/pkg/logger"
	"github.com/sunvim/ethprovider/pkg/metrics"
	"github.com/sunvim/ethprovider/pkg/provider"
)

const (
	defaultBodyLimit = "1M"
	maxBatchSize     = 100
)

// Dispatcher is the provider surface the endpoint needs.
type Dispatcher interface {
	SendContext(ctx context.Context, req jsonrpc.Request) (*jsonrpc.Response, error)
	Health() provider.Health
}

// Config configures the endpoint.
type Config struct {
	ListenAddr     string
	EnableMetrics  bool
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server serves POST / for single and batch JSON-RPC calls, GET /health and,
// when enabled, GET /metrics.
type Server struct {
	echo     *echo.Echo
	dispatch Dispatcher
	config   Config
	logger   *zap.Logger
}

// New builds the endpoint around d.
func New(d Dispatcher, cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	s := &Server{
		echo:     echo.New(),
		dispatch: d,
		config:   cfg,
		logger:   logger.Or(cfg.Logger).With(zap.String("component", "server")),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(defaultBodyLimit))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))

	e.POST("/", s.handleRPC)
	e.GET("/health", s.handleHealth)
	if cfg.EnableMetrics {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}
	return s
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting JSON-RPC endpoint", zap.String("addr", s.config.ListenAddr))
	if err := s.echo.Start(s.config.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	h := s.dispatch.Health()
	status, code := "healthy", http.StatusOK
	if !h.Ready {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]any{
		"status":            status,
		"auth_state":        h.AuthState.String(),
		"network_version":   h.NetworkVersion,
		"selected":          h.SelectedAddress,
		"accounts":          h.Accounts,
		"installed_filters": h.InstalledFilters,
		"pool": map[string]any{
			"state":     h.Pool.State,
			"workers":   h.Pool.WorkerCount,
			"active":    h.Pool.ActiveWorkers,
			"queued":    h.Pool.QueuedTasks,
			"completed": h.Pool.CompletedTasks,
			"failed":    h.Pool.FailedTasks,
		},
	})
}

func (s *Server) handleRPC(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusOK, errorResponse(0, jsonrpc.CodeParseError, "failed to read request body"))
	}
	body = bytes.TrimSpace(body)

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.RequestTimeout)
	defer cancel()

	if len(body) > 0 && body[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(body, &batch); err != nil {
			return c.JSON(http.StatusOK, errorResponse(0, jsonrpc.CodeParseError, "parse error"))
		}
		if len(batch) == 0 {
			return c.JSON(http.StatusOK, errorResponse(0, jsonrpc.CodeInvalidRequest, "empty batch"))
		}
		if len(batch) > maxBatchSize {
			return c.JSON(http.StatusOK, errorResponse(0, jsonrpc.CodeInvalidRequest, "batch too large"))
		}
		return c.JSON(http.StatusOK, s.serveBatch(ctx, batch))
	}

	return c.JSON(http.StatusOK, s.serveOne(ctx, body))
}

// serveBatch resolves every element independently and keeps input order.
func (s *Server) serveBatch(ctx context.Context, batch []json.RawMessage) []*jsonrpc.Response {
	out := make([]*jsonrpc.Response, len(batch))
	var g errgroup.Group
	for i, raw := range batch {
		g.Go(func() error {
			out[i] = s.serveOne(ctx, raw)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Server) serveOne(ctx context.Context, raw []byte) *jsonrpc.Response {
	var req jsonrpc.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(0, jsonrpc.CodeInvalidRequest, "invalid request")
	}
	if req.Method == "" {
		return errorResponse(req.ID, jsonrpc.CodeInvalidRequest, "missing method")
	}

	resp, err := s.dispatch.SendContext(ctx, req)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, err)
	}
	return resp
}

func errorResponse(id int64, code int, message string) *jsonrpc.Response {
	return &jsonrpc.Response{
		JSONRPC: jsonrpc.Version,
		ID:      id,
		Error:   &jsonrpc.Error{Code: code, Message: message},
	}
}
