// Package api serves the auction over HTTP.
//
// Caller identity comes from the X-Sender header. The service is expected to sit
// behind a host that authenticates callers and sets it.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/cloudx-io/cipherbid/auction"
	"github.com/cloudx-io/cipherbid/core"
	"github.com/cloudx-io/cipherbid/escrow"
	"github.com/cloudx-io/cipherbid/metrics"
)

// SenderHeader carries the authenticated caller address.
const SenderHeader = "X-Sender"

// HistoryReader reads archived rounds.
type HistoryReader interface {
	Get(round uint64) (*core.RoundRecord, error)
	List() ([]core.RoundRecord, error)
}

// DecryptionSource returns co-processor decryption results, attestation included.
type DecryptionSource interface {
	DecryptionResult(ctx context.Context, requestID string) (*core.Decryption, error)
}

// Server routes HTTP requests to an auction.
type Server struct {
	auction     *auction.Auction
	history     HistoryReader
	decryptions DecryptionSource
	escrow      *escrow.Escrow
	metrics     *metrics.Recorder
	health      *HealthChecker
	log         zerolog.Logger
}

type Option func(*Server)

func WithHistory(h HistoryReader) Option {
	return func(s *Server) { s.history = h }
}

func WithDecryptions(d DecryptionSource) Option {
	return func(s *Server) { s.decryptions = d }
}

func WithEscrow(e *escrow.Escrow) Option {
	return func(s *Server) { s.escrow = e }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Server) { s.metrics = m }
}

func WithHealthChecker(h *HealthChecker) Option {
	return func(s *Server) { s.health = h }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) { s.log = log.With().Str("component", "api").Logger() }
}

func New(a *auction.Auction, opts ...Option) *Server {
	s := &Server{
		auction: a,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = NewHealthChecker("")
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Get("/healthz", s.healthz)
	r.Route("/auction", s.RegisterRoutes)
	if s.history != nil {
		r.Get("/history", s.listHistory)
		r.Get("/history/{round}", s.getHistory)
	}
	if s.escrow != nil {
		r.Route("/escrow", s.registerEscrowRoutes)
	}
	return r
}

// RegisterRoutes mounts the auction operations on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/", s.status)
	r.Get("/owner", s.owner)
	r.Get("/total-bids", s.totalBids)
	r.Get("/claimed", s.claimed)
	r.Get("/ended", s.ended)
	r.Get("/time-remaining", s.timeRemaining)
	r.Get("/highest-bid", s.highestBid)
	r.Get("/bids", s.listBids)

	r.Post("/bids", s.bid)
	r.Post("/claim", s.claim)
	r.Post("/rounds", s.startRound)
	r.Post("/decryptions", s.deliverDecryption)
	if s.decryptions != nil {
		r.Get("/decryptions/{requestID}", s.getDecryption)
	}
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	s.log.Info().Msg("HTTP server stopped")
	return nil
}
