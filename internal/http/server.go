// Package http serves the ledger API the paired devices talk to. The
// surface is JSON throughout; payer values arrive in the device-relative
// vocabulary and are resolved against the configured role before anything
// is stored.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"coupleledger/internal/ai"
	"coupleledger/internal/core"
	"coupleledger/internal/ledger"
	"coupleledger/internal/report"
)

// LedgerService is the transaction surface the handlers call.
type LedgerService interface {
	Add(ctx context.Context, t core.Transaction) (core.Transaction, error)
	Get(ctx context.Context, id int64) (core.Transaction, error)
	Update(ctx context.Context, id int64, t core.Transaction) (core.Transaction, error)
	Delete(ctx context.Context, id int64) error
	DeleteSet(ctx context.Context, ids []int64) error
	ListMonth(ctx context.Context, m core.Month) ([]core.Transaction, error)
	List(ctx context.Context) ([]core.Transaction, error)
	MonthSummary(ctx context.Context, m core.Month) (ledger.Summary, error)
	Calendar(ctx context.Context, m core.Month) ([]ledger.CalendarDay, error)
	PayerLabeler(ctx context.Context) (func(core.Payer) string, error)
}

// ReportController drives the monthly report lifecycle.
type ReportController interface {
	State(ctx context.Context, m core.Month) (report.State, error)
	Generate(ctx context.Context, m core.Month) (report.State, error)
	Archive(ctx context.Context, m core.Month) (report.State, error)
}

// ReceiptScanner extracts a transaction draft from a receipt image.
type ReceiptScanner interface {
	ParseReceipt(ctx context.Context, image []byte, mimeType string) (ai.ReceiptDraft, error)
}

// SettingsStore is the device settings surface.
type SettingsStore interface {
	DeviceRole(ctx context.Context) (core.Payer, error)
	SetDeviceRole(ctx context.Context, role core.Payer) error
	Aliases(ctx context.Context) (me, you string, err error)
	SetSetting(ctx context.Context, key, value string) error
	MonthlyBudget(ctx context.Context) (int64, error)
	SetMonthlyBudget(ctx context.Context, budget int64) error
}

// Env is the client bootstrap payload served on /api/env.
type Env struct {
	SupabaseURL     string `json:"supabaseUrl"`
	SupabaseAnonKey string `json:"supabaseAnonKey"`
}

type Server struct {
	http.Server
	ledger      LedgerService
	reports     ReportController
	scanner     ReceiptScanner
	settings    SettingsStore
	env         Env
	storeReady  bool
	rateLimiter *rateLimiter

	shutdownOnce sync.Once
}

// Options carries everything the server needs beyond its dependencies.
type Options struct {
	Addr string
	Env  Env
	// StoreReady reports whether the hosted store is configured; /readyz
	// exposes it.
	StoreReady bool
}

// NewServer configures routes and middleware, returning a ready-to-run
// server. Scanner may be nil when no model key is configured.
func NewServer(opts Options, svc LedgerService, reports ReportController, scanner ReceiptScanner, settings SettingsStore) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    opts.Addr,
			Handler: mux,
		},
		ledger:      svc,
		reports:     reports,
		scanner:     scanner,
		settings:    settings,
		env:         opts.Env,
		storeReady:  opts.StoreReady,
		rateLimiter: newRateLimiter(),
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /api/env", s.withMiddleware(s.handleEnv))

	mux.HandleFunc("GET /api/transactions", s.withMiddleware(s.handleListTransactions))
	mux.HandleFunc("POST /api/transactions", s.withMiddleware(s.handleCreateTransaction))
	mux.HandleFunc("DELETE /api/transactions", s.withMiddleware(s.handleDeleteTransactionSet))
	mux.HandleFunc("GET /api/transactions/{id}", s.withMiddleware(s.handleGetTransaction))
	mux.HandleFunc("PUT /api/transactions/{id}", s.withMiddleware(s.handleUpdateTransaction))
	mux.HandleFunc("DELETE /api/transactions/{id}", s.withMiddleware(s.handleDeleteTransaction))

	mux.HandleFunc("POST /api/receipts/scan", s.withMiddleware(s.handleScanReceipt))

	mux.HandleFunc("GET /api/reports/{month}", s.withMiddleware(s.handleReportState))
	mux.HandleFunc("POST /api/reports/{month}/generate", s.withMiddleware(s.handleGenerateReport))
	mux.HandleFunc("POST /api/reports/{month}/archive", s.withMiddleware(s.handleArchiveReport))

	mux.HandleFunc("GET /api/settings", s.withMiddleware(s.handleGetSettings))
	mux.HandleFunc("PUT /api/settings", s.withMiddleware(s.handleUpdateSettings))

	mux.HandleFunc("GET /api/summary", s.withMiddleware(s.handleSummary))
	mux.HandleFunc("GET /api/calendar", s.withMiddleware(s.handleCalendar))

	return s
}

// Shutdown stops the server and the rate limiter cleanup goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// withMiddleware adds security headers, rate limiting on writes, and
// request logging.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded",
				"client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP)
	}
}

type requestIDKey struct{}

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

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if s.storeReady {
		_, _ = w.Write([]byte("ready"))
		return
	}
	_, _ = w.Write([]byte("ready (hosted store not configured)"))
}

// Simple in-memory rate limiter keyed by client IP.
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]

	if !exists {
		rl.clients[clientIP] = &clientInfo{lastRequest: now, requests: 1}
		return true
	}

	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	// Up to 60 write requests per minute.
	client.requests++
	client.lastRequest = now
	return client.requests <= 60
}
