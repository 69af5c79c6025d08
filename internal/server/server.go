// Package server exposes the HTTP surface: account creation, the provider
// webhook, the manual reconciliation trigger, and the usual health and
// metrics endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"family-custody/internal/health"
	"family-custody/internal/interfaces"
	"family-custody/internal/models"
	"family-custody/internal/saga"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// AccountCreator runs the account creation saga.
type AccountCreator interface {
	Run(ctx context.Context, req saga.Request) (*models.AccountResult, error)
}

// VerificationChecker runs one reconciliation pass.
type VerificationChecker interface {
	CheckVerifications(ctx context.Context) (*models.ReconcileResult, error)
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	creator       AccountCreator
	checker       VerificationChecker
	accounts      interfaces.AccountStore
	emitter       interfaces.EventEmitter
	webhookSecret []byte
	logger        *zerolog.Logger

	srv *http.Server
}

// New builds the server and its router.
func New(creator AccountCreator, checker VerificationChecker,
	accounts interfaces.AccountStore, emitter interfaces.EventEmitter,
	webhookSecret string, port string, timeout time.Duration,
	logger *zerolog.Logger) *Server {
	s := &Server{
		creator:       creator,
		checker:       checker,
		accounts:      accounts,
		emitter:       emitter,
		webhookSecret: []byte(webhookSecret),
		logger:        logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.homeHandler).Methods("GET")
	r.HandleFunc("/health", health.LivenessHandler).Methods("GET")
	r.HandleFunc("/health/ready", health.ReadinessHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/api/child-account/create", s.createAccountHandler).Methods("POST")
	r.HandleFunc("/api/webhooks/privy", s.privyWebhookHandler).Methods("POST")
	r.HandleFunc("/api/webhooks/celo/check", s.checkVerificationsHandler).Methods("GET", "POST")

	s.srv = &http.Server{
		Handler:      r,
		Addr:         ":" + port,
		WriteTimeout: timeout,
		ReadTimeout:  timeout,
	}

	return s
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.srv.Handler
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
