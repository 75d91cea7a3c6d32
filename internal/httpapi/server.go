// Package httpapi exposes purchase verification over HTTP with gin.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/railverify/internal/metrics"
	"github.com/roach88/railverify/internal/purchase"
	"github.com/roach88/railverify/internal/store"
	"github.com/roach88/railverify/internal/verify"
)

// DefaultBuyerHeader carries the authenticated buyer identity, set by the
// fronting auth proxy.
const DefaultBuyerHeader = "X-Buyer-Address"

// PurchaseVerifier runs the synchronous verify flow. *purchase.Service
// implements it.
type PurchaseVerifier interface {
	Verify(ctx context.Context, in purchase.Input) (purchase.Result, error)
}

// Store is the read and admin surface the API needs. *store.Store
// implements it.
type Store interface {
	Ping(ctx context.Context) error
	GetPurchase(ctx context.Context, id string) (store.Purchase, error)
	ListPurchasesByBuyer(ctx context.Context, buyer string) ([]store.Purchase, error)
	GetRail(ctx context.Context, rail verify.Rail, chainID *int64) (verify.RailConfig, error)
	ListRails(ctx context.Context) ([]verify.RailConfig, error)
	UpsertRail(ctx context.Context, cfg verify.RailConfig) error
	SetRailEnabled(ctx context.Context, rail verify.Rail, chainID *int64, enabled bool) error
}

// Server holds the HTTP handlers.
type Server struct {
	verifier    PurchaseVerifier
	store       Store
	logger      *slog.Logger
	buyerHeader string
	engine      *gin.Engine
}

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithBuyerHeader sets the header the buyer identity is read from.
func WithBuyerHeader(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.buyerHeader = name
		}
	}
}

// New builds the router.
func New(v PurchaseVerifier, st Store, opts ...Option) *Server {
	s := &Server{
		verifier:    v,
		store:       st,
		logger:      slog.Default(),
		buyerHeader: DefaultBuyerHeader,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	// ClientIP must come from the socket, not from forwarding headers, or
	// LocalOnly could be bypassed.
	_ = r.SetTrustedProxies(nil)
	r.Use(gin.Recovery(), s.observe())

	r.GET("/healthz", s.healthz)
	r.GET("/readyz", s.readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	market := r.Group("/marketplace")
	market.POST("/purchase/verify", s.verifyPurchase)
	market.GET("/purchases", s.listPurchases)
	market.GET("/purchases/:id", s.getPurchase)

	admin := r.Group("/admin", LocalOnly())
	admin.GET("/payment-rails", s.listRails)
	admin.POST("/payment-rails/upsert", s.upsertRail)
	admin.POST("/payment-rails/enabled", s.setRailEnabled)

	s.engine = r
	return s
}

// Handler returns the http.Handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// observe records request metrics and a debug log line per request.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(elapsed.Seconds())

		s.logger.Debug("http request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
		)
	}
}
