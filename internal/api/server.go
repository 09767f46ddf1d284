package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/billix-app/swaprules/internal/domain"
	"github.com/billix-app/swaprules/internal/engine"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, svc *engine.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Server {
	handler := NewHandler(svc, repo, cache, bus, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Open endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Get("/lifecycle", handler.Lifecycle)
	router.Handle("/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(AuthMiddleware)

		r.Post("/bills", handler.CreateBill)
		r.Get("/bills/{id}", handler.GetBill)
		r.Delete("/bills/{id}", handler.RemoveBill)
		r.Get("/bills/{id}/matches", handler.Matches)

		r.Post("/fees/quote", handler.QuoteFees)

		r.Post("/swaps", handler.ProposeSwap)
		r.Route("/swaps/{id}", func(r chi.Router) {
			r.Get("/", handler.GetSwap)
			r.Post("/respond", handler.RespondToSwap)
			r.Post("/cancel", handler.CancelSwap)
			r.Post("/fees", handler.PayFee)
			r.Get("/deals", handler.ListDeals)
			r.Post("/proofs", handler.SubmitProof)
			r.Get("/proofs", handler.ListProofs)
			r.Post("/disputes", handler.FileDispute)
			r.Get("/disputes", handler.ListDisputes)
			r.Post("/extensions", handler.RequestExtension)
			r.Get("/extensions", handler.ListExtensions)
		})

		r.Post("/proofs/{id}/review", handler.ReviewProof)
		r.Post("/proofs/{id}/resubmit", handler.ResubmitProof)

		r.Post("/disputes/{id}/investigate", handler.InvestigateDispute)
		r.Post("/disputes/{id}/resolve", handler.ResolveDispute)

		r.Post("/extensions/{id}/decide", handler.DecideExtension)

		r.Get("/users/{id}/trust", handler.Trust)
		r.Get("/users/{id}/points", handler.Points)
		r.Post("/users/{id}/points", handler.GrantPoints)
		r.Post("/users/{id}/verify", handler.SetIDVerified)

		r.Get("/rules", handler.ListRules)
		r.Post("/rules", handler.SaveRule)
		r.Post("/rules/reload", handler.ReloadRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
