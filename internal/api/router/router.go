package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/healme-core/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/healme-core/internal/http/middleware"
	"github.com/wolfman30/healme-core/internal/observability/metrics"
	"github.com/wolfman30/healme-core/internal/session"
	"github.com/wolfman30/healme-core/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Metrics            *metrics.SchedulingMetrics
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Verifier validates bearer tokens on every /v1 route.
	Verifier httpmiddleware.TokenVerifier
	// Roles derives the caller role for role-gated routes.
	Roles httpmiddleware.RoleDeriver

	// Per-caller rate limit; zero disables it.
	RateLimitRPS   float64
	RateLimitBurst int

	Session       *handlers.SessionHandler
	Requesters    *handlers.RequesterHandler
	Scheduling    *handlers.SchedulingHandler
	Providers     *handlers.ProviderHandler
	Handoffs      *handlers.HandoffHandler
	Prescriptions *handlers.PrescriptionHandler
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger, cfg.Metrics))

	r.Group(func(public chi.Router) {
		public.Get("/health", health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(httpmiddleware.Authenticate(cfg.Verifier))
		if cfg.RateLimitRPS > 0 {
			v1.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
		}
		requesterOnly := httpmiddleware.RequireRole(cfg.Roles, session.RoleRequester)
		providerOnly := httpmiddleware.RequireRole(cfg.Roles, session.RoleProvider)
		anyRole := httpmiddleware.RequireRole(cfg.Roles, session.RoleRequester, session.RoleProvider)

		if cfg.Session != nil {
			v1.Get("/session", cfg.Session.Get)
			v1.Post("/session/signout", cfg.Session.SignOut)
		}

		if cfg.Requesters != nil {
			v1.Route("/requesters", func(req chi.Router) {
				req.Use(requesterOnly)
				req.Post("/", cfg.Requesters.Register)
				req.Put("/me/intake", cfg.Requesters.SubmitIntake)
				req.Get("/me/appointments", cfg.Requesters.Appointments)
				req.Get("/me/prescriptions", cfg.Requesters.Prescriptions)
				req.Get("/me/notifications", cfg.Requesters.Notifications)
			})
		}

		if cfg.Scheduling != nil {
			v1.With(requesterOnly).Get("/availability", cfg.Scheduling.Availability)
			v1.With(requesterOnly).Post("/appointments", cfg.Scheduling.Book)
			v1.With(requesterOnly).Post("/appointments/confirm", cfg.Scheduling.Confirm)
			v1.With(providerOnly).Post("/providers/me/booking-tokens", cfg.Scheduling.IssueToken)
		}

		if cfg.Providers != nil {
			v1.With(providerOnly).Get("/providers/me", cfg.Providers.Me)
			v1.With(providerOnly).Get("/providers/me/appointments", cfg.Providers.Appointments)
		}

		if cfg.Handoffs != nil {
			v1.Route("/handoffs", func(h chi.Router) {
				h.Use(anyRole)
				h.Post("/", cfg.Handoffs.Publish)
				h.Get("/lookup", cfg.Handoffs.Lookup)
				h.Delete("/{channelId}", cfg.Handoffs.Retire)
			})
		}

		if cfg.Prescriptions != nil {
			v1.With(providerOnly).Post("/prescriptions", cfg.Prescriptions.Issue)
		}
	})

	return r
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
