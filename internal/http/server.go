package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"homebuh/internal/log"
	"homebuh/internal/services"
)

// Services are the application services the API exposes. Ready is optional
// and backs /readyz; a nil Ready always reports ready.
type Services struct {
	Accounts  *services.AccountService
	Transfers *services.TransferService
	Query     *services.QueryService
	Catalog   *services.CatalogService
	Ready     func(ctx context.Context) error
}

// Options tune the server. Zero values take the defaults.
type Options struct {
	// RateLimit is the number of mutating requests one client may send per
	// RateWindow.
	RateLimit  int
	RateWindow time.Duration
}

type Server struct {
	http.Server
	svc         Services
	logger      *log.Logger
	rateLimiter *rateLimiter
	metrics     *securityMetrics
	now         func() time.Time

	shutdownOnce sync.Once
}

func NewServer(addr string, svc Services, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		svc:         svc,
		logger:      logger,
		rateLimiter: newRateLimiter(opts.RateLimit, opts.RateWindow),
		metrics:     &securityMetrics{},
		now:         time.Now,
	}

	mux := http.NewServeMux()
	s.routes(mux)

	var h http.Handler = mux
	h = s.withSecurity(h)
	h = log.ComponentMiddleware(log.ComponentHTTP)(h)
	h = log.RequestIDMiddleware(func(r *http.Request) string { return requestIDFrom(r.Context()) })(h)
	h = withRequestID(h)
	h = log.Middleware(logger)(h)
	s.Handler = h

	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /api/health", s.handleAPIHealth)

	mux.HandleFunc("POST /api/accounts", s.handleCreateAccount)
	mux.HandleFunc("GET /api/accounts", s.handleListAccounts)
	mux.HandleFunc("GET /api/accounts/{id}", s.handleGetAccount)
	mux.HandleFunc("GET /api/accounts/{id}/transactions", s.handleAccountTransactions)
	mux.HandleFunc("GET /api/accounts/{id}/statement", s.handleStatement)

	mux.HandleFunc("POST /api/transfer", s.handleTransfer)

	mux.HandleFunc("POST /api/transactions", s.handleCreateTransaction)
	mux.HandleFunc("GET /api/transactions", s.handleListTransactions)

	mux.HandleFunc("POST /api/categories", s.handleCreateCategory)
	mux.HandleFunc("GET /api/categories", s.handleListCategories)
	mux.HandleFunc("GET /api/categories/{id}/descendants", s.handleDescendants)

	mux.HandleFunc("POST /api/budgets", s.handleCreateBudget)
	mux.HandleFunc("GET /api/budgets", s.handleListBudgets)

	mux.HandleFunc("POST /api/planned", s.handleCreatePlanned)
	mux.HandleFunc("GET /api/planned", s.handleListPlanned)
	mux.HandleFunc("GET /api/planned/due", s.handleDuePlanned)

	mux.HandleFunc("POST /api/report", s.handleReport)
	mux.HandleFunc("GET /api/reports/overview", s.handleMonthOverview)
	mux.HandleFunc("GET /api/reports/budget", s.handleBudgetReport)
}

// Shutdown stops background goroutines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(s.rateLimiter.stop)
	return s.Server.Shutdown(ctx)
}

// withSecurity adds security headers, rate limiting of mutating requests
// and request logging.
func (s *Server) withSecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		logger := log.FromContext(ctx)
		sl := log.NewStructuredLogger(logger)
		clientIP := extractClientIP(r)

		sl.LogHTTPStart(ctx, r, clientIP)

		if reason := detectSuspiciousRequest(r, s.metrics); reason != "" {
			logger.WarnContext(ctx, "Suspicious request", log.FieldClientIP, clientIP, "reason", reason)
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP, s.metrics) {
			logger.WarnContext(ctx, "Rate limit exceeded", log.FieldClientIP, clientIP, log.FieldPath, r.URL.Path)
			TooManyRequestsError("60").Write(rw)
		} else {
			next.ServeHTTP(rw, r)
		}

		sl.LogHTTPEnd(ctx, r, rw.statusCode, time.Since(start).Milliseconds(), clientIP)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.svc.Ready(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleAPIHealth(w http.ResponseWriter, _ *http.Request) {
	NewJSONResponse().Data(map[string]any{
		"status":   "ok",
		"security": s.metrics.snapshot(),
	}).Write(w)
}
