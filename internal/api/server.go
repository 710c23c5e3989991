// Package api serves the corporate-actions HTTP API.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/corpaction-cli/internal/admin"
	"github.com/sells-group/corpaction-cli/internal/auth"
	"github.com/sells-group/corpaction-cli/internal/config"
	"github.com/sells-group/corpaction-cli/internal/ingest"
	"github.com/sells-group/corpaction-cli/internal/lookup"
	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/monitoring"
	"github.com/sells-group/corpaction-cli/internal/reconcile"
	"github.com/sells-group/corpaction-cli/internal/store"
)

// Deps are the services the handlers call.
type Deps struct {
	Store     store.Store
	Resolver  *lookup.Resolver
	Reconcile *reconcile.Service
	Detector  *reconcile.Detector
	Syncer    *ingest.Syncer
	Collector *monitoring.Collector
	Admin     *admin.Service
	Auth      *auth.Service
	Calls     *monitoring.RequestCounter

	// LookbackHours is the dashboard metrics window.
	LookbackHours int
}

type server struct {
	Deps
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps, cfg config.ServerConfig) http.Handler {
	if d.Auth == nil {
		d.Auth = auth.NewService("", 0)
	}
	if d.Calls == nil {
		d.Calls = monitoring.NewRequestCounter()
	}
	s := &server{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	if cfg.RateLimitRPS > 0 {
		r.Use(rateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}
	r.Use(s.count)

	r.Get("/health", s.health)

	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Middleware)

		r.Get("/lookup/{identifier}", s.lookup)

		r.Route("/securities", func(r chi.Router) {
			r.Get("/", s.listSecurities)
			r.Get("/exchanges", s.listExchanges)
			r.Get("/{id}", s.getSecurity)
			r.Get("/{id}/actions", s.securityActions)
		})

		r.Route("/actions", func(r chi.Router) {
			r.Get("/", s.listActions)
			r.Get("/{id}", s.getAction)
			r.With(auth.RequireRole(model.RoleSeniorAnalyst)).Patch("/{id}/status", s.setActionStatus)
		})

		r.Route("/conflicts", func(r chi.Router) {
			r.Get("/", s.listConflicts)
			r.With(auth.RequireRole(model.RoleSeniorAnalyst)).Post("/detect", s.detectConflicts)
			r.Get("/{id}", s.getConflict)
			r.Get("/{id}/suggestion", s.suggestConflict)
			r.With(auth.RequireRole(model.RoleSeniorAnalyst)).Post("/{id}/resolve", s.resolveConflict)
			r.With(auth.RequireRole(model.RoleSeniorAnalyst)).Post("/{id}/archive", s.archiveConflict)
		})

		r.Get("/sources", s.listSources)
		r.With(auth.RequireRole(model.RoleSeniorAnalyst)).Post("/sources/{name}/sync", s.syncSource)

		r.Get("/dashboard", s.dashboard)
		r.Get("/activity", s.activity)
		r.Get("/export/actions.xlsx", s.exportActions)

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(model.RoleAdmin))
			r.Get("/settings", s.getSettings)
			r.Put("/settings", s.putSettings)
			r.Get("/users", s.listUsers)
			r.Get("/audit", s.listAudit)
			r.Post("/archive", s.archiveActions)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Calls.Inc()
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request with zap once it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("remote", r.RemoteAddr),
		)
	})
}

// rateLimit rejects requests beyond rps sustained with the given burst.
func rateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if burst <= 0 {
		burst = int(rps) + 1
	}
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lim.Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
