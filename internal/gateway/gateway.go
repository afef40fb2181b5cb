// ABOUTME: Gateway wires the store, vault, provider and stream manager behind one HTTP server
// ABOUTME: Owns process lifecycle: listen, serve, and ordered graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/entropy-chat/internal/config"
	"github.com/2389/entropy-chat/internal/conversation"
	"github.com/2389/entropy-chat/internal/dedupe"
	"github.com/2389/entropy-chat/internal/provider"
	"github.com/2389/entropy-chat/internal/store"
	"github.com/2389/entropy-chat/internal/transcript"
	"github.com/2389/entropy-chat/internal/vault"
)

const shutdownTimeout = 10 * time.Second

// Gateway is the entropy-chat server
type Gateway struct {
	config      *config.Config
	store       *store.SQLiteStore
	vault       *vault.Vault
	manager     *conversation.Manager
	broadcaster *conversation.EventBroadcaster
	dedupe      *dedupe.Cache
	exporter    *transcript.Exporter
	httpServer  *http.Server
	logger      *slog.Logger
}

type options struct {
	provider provider.Provider
	clock    func() time.Time
}

// Option customises New
type Option func(*options)

// WithProvider replaces the OpenAI client built from config
func WithProvider(p provider.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithClock sets the store clock
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// New opens the database (running migrations), the credential vault and the
// provider client, and builds the HTTP server.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	storeOpts := []store.Option{store.WithLogger(logger)}
	if o.clock != nil {
		storeOpts = append(storeOpts, store.WithClock(o.clock))
	}
	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	v, err := vault.New(vault.Config{KeyFile: cfg.Vault.KeyFile}, sqlStore, logger)
	if err != nil {
		_ = sqlStore.Close()
		return nil, fmt.Errorf("opening vault: %w", err)
	}

	prov := o.provider
	if prov == nil {
		prov = provider.NewOpenAI(provider.OpenAIConfig{
			BaseURL:           cfg.Provider.BaseURL,
			HeaderTimeout:     cfg.Provider.RequestTimeout,
			RequestsPerSecond: cfg.Provider.RequestsPerSecond,
			Burst:             cfg.Provider.Burst,
		}, logger)
	}

	gw := &Gateway{
		config:      cfg,
		store:       sqlStore,
		vault:       v,
		manager:     conversation.NewManager(sqlStore, v, prov, conversation.Config{DefaultModel: cfg.Provider.DefaultModel}, logger),
		broadcaster: conversation.NewEventBroadcaster(logger),
		dedupe:      dedupe.New(cfg.API.IdempotencyTTL, cfg.API.IdempotencyMaxEntries),
		exporter:    transcript.NewExporter(sqlStore),
		logger:      logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the HTTP routes
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	g.registerAPIRoutes(mux)

	return mux
}

// Run listens on the configured address and serves until ctx is cancelled or
// the server fails, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		return g.gracefulShutdown()
	})

	return group.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, cancels running streams and waits for
// them to persist, then releases resources. The store closes last.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "stream shutdown", g.manager.Shutdown(ctx))

	g.broadcaster.Close()
	g.dedupe.Close()

	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the database answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.DB().PingContext(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d active streams)", g.manager.Active())
}
