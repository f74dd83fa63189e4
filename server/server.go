// Package server exposes the facilitator over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vitwit/x402-facilitator/analytics"
	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/ratelimit"
	"github.com/vitwit/x402-facilitator/types"
)

// Facilitator is the payment core served by the HTTP layer.
type Facilitator interface {
	Verify(ctx context.Context, payload *types.PaymentPayload) (*types.VerifyResult, error)
	Settle(ctx context.Context, payload *types.PaymentPayload) (*types.SettleResult, error)
	Supported() *types.SupportedResponse
	FeePayer() common.Address
	Network() types.Network
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Facilitator Facilitator
	RPCURL      string
	CORS        CORSConfig

	// TrustProxyHeaders honours CF-Connecting-IP, X-Forwarded-For and
	// X-Real-IP from any peer. Otherwise they are read only when the peer
	// matches an entry of TrustedProxies (IPs or CIDRs).
	TrustProxyHeaders bool
	TrustedProxies    []string

	// IPLimiter guards every route; AddressLimiter is consulted when
	// /verify rejects a malformed transaction.
	IPLimiter      *ratelimit.Gate
	AddressLimiter *ratelimit.Gate

	Analytics *analytics.Tracker
	Logger    logger.Logger

	// Registry receives the HTTP collectors; MetricsHandler serves /metrics.
	Registry       prometheus.Registerer
	MetricsHandler http.Handler

	Now func() time.Time
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	fac       Facilitator
	rpcURL    string
	addrGate  *ratelimit.Gate
	proxies   *proxyTrust
	analytics *analytics.Tracker
	logger    logger.Logger
	now       func() time.Time

	router http.Handler
}

func New(cfg Config) *Server {
	s := &Server{
		fac:       cfg.Facilitator,
		rpcURL:    cfg.RPCURL,
		addrGate:  cfg.AddressLimiter,
		analytics: cfg.Analytics,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if s.logger == nil {
		s.logger = logger.NoopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.proxies = newProxyTrust(cfg.TrustProxyHeaders, cfg.TrustedProxies, s.logger)
	s.router = s.buildRouter(cfg)
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.Recoverer)
	r.Use(cors(cfg.CORS))
	r.Use(newObservability(cfg.Registry).middleware)
	r.Use(rateLimit(cfg.IPLimiter, s.proxies))

	r.With(limitBody).Post("/verify", s.handleVerify)
	r.With(limitBody).Post("/settle", s.handleSettle)
	r.Get("/supported", s.handleSupported)
	r.Get("/health", s.handleHealth)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

// requestLogger tags every entry with the request id.
func (s *Server) requestLogger(r *http.Request) logger.Logger {
	return logger.With(s.logger, map[string]any{"requestId": RequestIDFromContext(r.Context())})
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: RequestIDFromContext(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
