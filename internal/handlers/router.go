package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/ieraasyl/PsoriScan/internal/middleware"
)

// Router holds everything the companion API routes to. RateLimiter is
// optional; without it no route is limited.
type Router struct {
	Auth        *AuthHandler
	Assessment  *AssessmentHandler
	Results     *ResultsHandler
	Health      *HealthHandler
	Sessions    middleware.SessionSource
	RateLimiter *middleware.RateLimiter

	AllowedOrigins []string
	// RequestTimeout bounds non-upload routes. Analyze is bounded by the
	// backend client's upload timeout instead.
	RequestTimeout time.Duration
}

// Handler builds the chi router.
//
// Routes:
//
//	GET    /health, /ready, /metrics
//	POST   /api/v1/auth/{signin,signup,confirm,resend,signout,external}
//	GET    /api/v1/auth/session
//	GET    /api/v1/assessment
//	PATCH  /api/v1/assessment/{section}
//	DELETE /api/v1/assessment
//	POST   /api/v1/analyze
//	GET    /api/v1/results/{key}
//	GET    /api/v1/history, /api/v1/history/{timestamp}
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(rt.AllowedOrigins))

	r.Get("/health", rt.Health.Health)
	r.Get("/ready", rt.Health.Ready)
	r.Handle("/metrics", middleware.MetricsHandler())

	timeout := rt.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Compress(5))
			r.Use(chimiddleware.Timeout(timeout))

			r.Route("/auth", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					rt.limit(r, "auth")
					r.Post("/signin", rt.Auth.SignIn)
					r.Post("/signup", rt.Auth.SignUp)
					r.Post("/confirm", rt.Auth.ConfirmSignUp)
					r.Post("/resend", rt.Auth.ResendCode)
					r.Post("/external", rt.Auth.External)
				})
				r.Post("/signout", rt.Auth.SignOut)
				r.Get("/session", rt.Auth.Session)
			})

			r.Route("/assessment", func(r chi.Router) {
				r.Get("/", rt.Assessment.Get)
				r.Delete("/", rt.Assessment.Reset)
				r.Patch("/{section}", rt.Assessment.UpdateSection)
			})

			r.Get("/results/{key}", rt.Results.Result)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireSession(rt.Sessions))
				r.Get("/history", rt.Results.History)
				r.Get("/history/{timestamp}", rt.Results.HistoryResult)
			})
		})

		r.Group(func(r chi.Router) {
			rt.limit(r, "analyze")
			r.Post("/analyze", rt.Results.Analyze)
		})
	})

	return r
}

func (rt *Router) limit(r chi.Router, endpoint string) {
	if rt.RateLimiter != nil {
		r.Use(rt.RateLimiter.Limit(endpoint))
	}
}
