package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"welth/internal/auth"
	"welth/internal/core"
	"welth/internal/log"
	"welth/internal/middleware/ratelimit"
	"welth/internal/middleware/security"
	"welth/internal/middleware/trace"
	"welth/internal/receipt"
	"welth/internal/services"
)

// Ledger is the set of operations the API exposes. *services.LedgerService
// implements it.
type Ledger interface {
	GetUserAccounts(ctx context.Context, subject string) []core.Account
	CreateAccount(ctx context.Context, subject string, in services.AccountInput) (core.Account, error)
	SetDefaultAccount(ctx context.Context, subject, accountID string) (core.Account, error)
	GetAccountWithTransactions(ctx context.Context, subject, accountID string) (services.AccountDetail, error)
	CreateTransaction(ctx context.Context, subject string, in services.TransactionInput) (core.Transaction, error)
	GetTransaction(ctx context.Context, subject, id string) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, subject, id string, in services.TransactionInput) (core.Transaction, error)
	ListTransactions(ctx context.Context, subject, accountID string) ([]core.Transaction, error)
	DeleteTransactions(ctx context.Context, subject string, ids []string) (int, error)
	GetDashboardData(ctx context.Context, subject string) (services.Dashboard, error)
	GetCurrentBudget(ctx context.Context, subject string) (core.BudgetProgress, error)
	UpdateBudget(ctx context.Context, subject string, amount core.Money) (core.Budget, error)
	ScanReceipt(ctx context.Context, subject string, image []byte, mimeType string) (receipt.Result, error)
}

// IdentityHandler applies identity-provider webhook payloads.
type IdentityHandler interface {
	HandleEvent(ctx context.Context, payload []byte) error
}

// WebhookVerifier checks the signature headers of a webhook delivery.
type WebhookVerifier interface {
	Verify(h http.Header, body []byte) error
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires a Server. Ledger and Auth are required for /api routes;
// a nil Webhooks verifier makes the webhook answer 500.
type Options struct {
	Ledger   Ledger
	Identity IdentityHandler
	Webhooks WebhookVerifier
	Auth     *auth.Authenticator
	DB       Pinger
	Limiter  *ratelimit.Limiter
	Detector *security.Detector
	Logger   *log.Logger
}

type Server struct {
	http.Server
	ledger   Ledger
	identity IdentityHandler
	webhooks WebhookVerifier
	db       Pinger
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	logger   *log.Logger
	events   *log.StructuredLogger

	shutdownOnce sync.Once
}

func NewServer(addr string, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	detector := opts.Detector
	if detector == nil {
		detector = security.NewDetector()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLimiter(ratelimit.DefaultConfig())
	}

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      90 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		ledger:   opts.Ledger,
		identity: opts.Identity,
		webhooks: opts.Webhooks,
		db:       opts.DB,
		limiter:  limiter,
		detector: detector,
		tracer:   trace.NewMiddleware(detector.ClientIP, logger),
		logger:   logger,
		events:   log.NewStructuredLogger(logger.WithComponent(log.ComponentLedger)),
	}

	api := http.NewServeMux()
	api.HandleFunc("GET /api/accounts", s.handleListAccounts)
	api.HandleFunc("POST /api/accounts", s.handleCreateAccount)
	api.HandleFunc("GET /api/accounts/{id}", s.handleGetAccount)
	api.HandleFunc("PUT /api/accounts/{id}/default", s.handleSetDefaultAccount)
	api.HandleFunc("GET /api/transactions", s.handleListTransactions)
	api.HandleFunc("POST /api/transactions", s.handleCreateTransaction)
	api.HandleFunc("POST /api/transactions/delete", s.handleDeleteTransactions)
	api.HandleFunc("GET /api/transactions/{id}", s.handleGetTransaction)
	api.HandleFunc("PUT /api/transactions/{id}", s.handleUpdateTransaction)
	api.HandleFunc("GET /api/dashboard", s.handleDashboard)
	api.HandleFunc("GET /api/budget", s.handleGetBudget)
	api.HandleFunc("PUT /api/budget", s.handleUpdateBudget)
	api.HandleFunc("POST /api/receipts/scan", s.handleScanReceipt)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("POST /api/webhooks/clerk", s.handleClerkWebhook)
	mux.Handle("/api/", s.protect(opts.Auth, api))

	s.Handler = s.middleware(mux)
	return s
}

// middleware wraps h, outermost first: tracing, context logger, security
// headers, scanner detection and rate limiting of writes.
func (s *Server) middleware(h http.Handler) http.Handler {
	h = s.limiter.Middleware(s.detector.ClientIP, ratelimit.MutatingMethods,
		func(w http.ResponseWriter, r *http.Request) {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
				log.FieldClientIP, s.detector.ClientIP(r),
				log.FieldPath, r.URL.Path)
			TooManyRequestsError().Write(w)
		})(h)
	h = s.flagSuspicious(h)
	h = security.NewHeadersMiddleware(security.APIHeadersConfig()).Middleware(h)
	h = log.RequestIDMiddleware(trace.RequestID)(h)
	h = log.Middleware(s.logger)(h)
	return s.tracer.Middleware(h)
}

func (s *Server) flagSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.Suspicious(r) {
			log.FromContext(r.Context()).WithComponent(log.ComponentSecurity).WarnContext(r.Context(),
				"Suspicious request",
				log.FieldClientIP, s.detector.ClientIP(r),
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldUserAgent, r.UserAgent())
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) protect(a *auth.Authenticator, next http.Handler) http.Handler {
	if a == nil || s.ledger == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ErrorResponse(http.StatusServiceUnavailable, "API not configured").Write(w)
		})
	}
	return a.Middleware(next)
}

// Shutdown stops the rate limiter and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Metrics returns the request counters of the tracing middleware.
func (s *Server) Metrics() trace.Metrics {
	return s.tracer.GetMetrics()
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ListenAndServe is http.Server.ListenAndServe without the error on a
// graceful shutdown.
func (s *Server) ListenAndServe() error {
	if err := s.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
