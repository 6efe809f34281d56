// Package server exposes a lending deployment over HTTP.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fixedlend/core/events"
	"fixedlend/sim"
)

const (
	moduleName   = "lendingd"
	requestLimit = 1 << 20 // 1 MiB
)

// Config captures the authentication and throttling policy of the server.
type Config struct {
	APITokens   []string
	AdminTokens []string
	RateLimit   RateLimit
	// Events backs GET /events. Nil disables the route.
	Events *events.Ring
	// Now overrides the wall clock used by the rate limiter.
	Now func() time.Time
}

// Server serves reads, account actions and admin controls for one
// deployment.
type Server struct {
	env     *sim.Environment
	logger  *slog.Logger
	auth    *authenticator
	limiter *rateLimiter
	events  *events.Ring
	router  http.Handler
}

// New wires the router for env.
func New(env *sim.Environment, cfg Config, logger *slog.Logger) (*Server, error) {
	if env == nil {
		return nil, fmt.Errorf("lending environment required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	auth, err := newAuthenticator(cfg.APITokens, cfg.AdminTokens, logger)
	if err != nil {
		return nil, err
	}
	srv := &Server{
		env:     env,
		logger:  logger,
		auth:    auth,
		limiter: newRateLimiter(cfg.RateLimit, cfg.Now, auth.known),
		events:  cfg.Events,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(api chi.Router) {
		api.Use(s.limiter.middleware)
		api.Use(s.auth.middleware)

		api.Get("/markets", s.listMarkets)
		api.Get("/markets/{symbol}", s.getMarket)
		api.Get("/markets/{symbol}/pools/{maturity}", s.getPool)
		api.Post("/markets/{symbol}/{action}", s.marketAction)
		api.Get("/accounts/{address}", s.getAccount)
		api.Post("/accounts/{address}/claim", s.claimRewards)
		if s.events != nil {
			api.Get("/events", s.recentEvents)
		}

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(requireAdmin)
			admin.Post("/clock", s.advanceClock)
			admin.Post("/fund", s.fundAccount)
			admin.Post("/markets/{symbol}/price", s.setPrice)
			admin.Post("/markets/{symbol}/penalty-rate", s.setPenaltyRate)
		})
	})
	return r
}

const maxEvents = 500

func (s *Server) recentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, fmt.Errorf("%w: invalid limit %q", errBadRequest, raw))
			return
		}
		limit = min(parsed, maxEvents)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  s.events.Total(),
		"events": s.events.Recent(limit),
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.env.Clock.Now(),
	})
}
