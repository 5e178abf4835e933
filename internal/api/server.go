// Package api exposes the ledger engine to host applications as JSON over
// HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/pointsledger/internal/middleware"
	"github.com/mmynk/pointsledger/internal/service"
	"github.com/mmynk/pointsledger/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// Server routes HTTP requests to the settlement and ledger services.
type Server struct {
	settlement *service.SettlementService
	ledger     *service.LedgerService
	store      storage.Store
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
	mux        *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a Server and registers its routes.
func NewServer(settlement *service.SettlementService, ledger *service.LedgerService, store storage.Store, opts ...Option) *Server {
	s := &Server{
		settlement: settlement,
		ledger:     ledger,
		store:      store,
		gatherer:   prometheus.DefaultGatherer,
		logger:     slog.Default(),
		mux:        http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /accounts/{account}/debts", s.handleGetDebts)
	s.mux.HandleFunc("POST /accounts/{account}/debts/{entry}/settle", s.handleSettle)
	s.mux.HandleFunc("POST /accounts/{account}/debts/{entry}/cancel", s.handleCancel)
	s.mux.HandleFunc("POST /accounts/{account}/settle-mandatory", s.handleSettleMandatory)
	s.mux.HandleFunc("POST /accounts/{account}/reconcile", s.handleReconcile)
	s.mux.HandleFunc("POST /accounts/{account}/credits", s.handleCredit)
	s.mux.HandleFunc("POST /accounts/{account}/debits", s.handleDebit)
	s.mux.HandleFunc("POST /accounts/{account}/recharges", s.handleRecharge)
	s.mux.HandleFunc("POST /accounts/{account}/negative-entries", s.handleCreateEntry)
	s.mux.HandleFunc("POST /categories", s.handleCreateCategory)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// Handler returns the routed handler with logging and actor middleware,
// wrapped for HTTP/2 without TLS.
func (s *Server) Handler() http.Handler {
	return h2c.NewHandler(middleware.Logging(middleware.Actor(s.mux)), &http2.Server{})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Ledger server starting", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Ledger server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
