// Package api exposes the trace service over HTTP: signed event
// ingestion, bundle signing and verification, key distribution, and the
// operator admin surface.
package api

import (
	"context"
	"crypto/ed25519"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/originaryx/trace/internal/admission"
	"github.com/originaryx/trace/internal/auth"
	"github.com/originaryx/trace/internal/bundle"
	"github.com/originaryx/trace/internal/dedup"
	"github.com/originaryx/trace/internal/footprint"
	"github.com/originaryx/trace/internal/replay"
	"github.com/originaryx/trace/internal/secrets"
	"github.com/originaryx/trace/internal/storage"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr string
	AdminToken string

	// Admission profiles. Zero values fall back to production defaults.
	SignedCapacity  int64
	SignedWindow    time.Duration
	BrowserCapacity int64
	BrowserWindow   time.Duration
}

func (c *Config) applyDefaults() {
	if c.SignedCapacity == 0 {
		c.SignedCapacity = 1000
	}
	if c.SignedWindow == 0 {
		c.SignedWindow = time.Minute
	}
	if c.BrowserCapacity == 0 {
		c.BrowserCapacity = 2000
	}
	if c.BrowserWindow == 0 {
		c.BrowserWindow = time.Minute
	}
}

// Server is the API server.
type Server struct {
	store          storage.StorageBackend
	secrets        *secrets.Store
	authn          *auth.Authenticator
	signedLimiter  *admission.Limiter
	browserLimiter *admission.Limiter
	tracker        *dedup.Tracker
	signer         *bundle.Signer
	verifier       *bundle.Verifier
	keys           bundle.KeySet
	cfg            Config
	httpSrv        *http.Server
}

// NewServer wires the full ingestion and bundle pipeline. The nonce and
// counter stores are pluggable so multi-instance deployments can share
// them through Redis.
func NewServer(store storage.StorageBackend, secretStore *secrets.Store,
	nonces replay.NonceStore, counters admission.CounterStore,
	signingKey ed25519.PrivateKey, cfg Config) *Server {

	cfg.applyDefaults()

	aggregator := footprint.NewAggregator(store)
	keys := bundle.NewKeySet(signingKey.Public().(ed25519.PublicKey))

	s := &Server{
		store:          store,
		secrets:        secretStore,
		authn:          auth.NewAuthenticator(secretStore, nonces),
		signedLimiter:  admission.NewLimiter(counters, "signed", cfg.SignedCapacity, cfg.SignedWindow),
		browserLimiter: admission.NewLimiter(counters, "browser", cfg.BrowserCapacity, cfg.BrowserWindow),
		tracker:        dedup.NewTracker(store, dedupDroppedTotal.Inc),
		signer:         bundle.NewSigner(store, aggregator, signingKey),
		verifier:       bundle.NewVerifierFromKeySet(keys),
		keys:           keys,
		cfg:            cfg,
	}
	// Built here, not in Start, so a concurrent Shutdown never observes a
	// half-initialized server.
	s.httpSrv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.BuildRouter(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)

	r.Handle("/metrics", MetricsHandler())

	// Public routes
	r.Group(func(r chi.Router) {
		r.Get("/v1/sys/health", s.HealthHandler)
		r.Get("/.well-known/jwks.json", s.JWKSHandler)
		r.Post("/v1/verify", s.VerifyHandler)
	})

	// Tenant routes, authenticated per request via signed headers
	r.Group(func(r chi.Router) {
		r.Post("/v1/events", s.EventsHandler)
		r.Post("/v1/events/browser", s.BrowserEventsHandler)
		r.Post("/v1/compliance/bundle/{year}/{month}", s.BundleHandler)
		r.Get("/v1/compliance/bundle", s.BundleMonthsHandler)
	})

	// Operator surface
	r.Group(func(r chi.Router) {
		r.Use(adminAuthMiddleware(s.cfg.AdminToken))

		r.Post("/v1/admin/tenants", s.TenantCreateHandler)
		r.Delete("/v1/admin/tenants/{id}", s.TenantDeleteHandler)
		r.Post("/v1/admin/keys/{id}/rotate", s.KeyRotateHandler)
		r.Post("/v1/admin/policy", s.PolicyAppendHandler)
	})

	return r
}

// Start begins listening on the configured address. On graceful shutdown
// it returns http.ErrServerClosed.
func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server and drains the resource tracking
// queue.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	s.tracker.Close()
	return err
}
