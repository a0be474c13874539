package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jason-s-yu/clickrace/internal/middleware"
)

// RouterOptions configures the HTTP surface around an API.
type RouterOptions struct {
	AllowedOrigins []string
	// RateLimiter, when set, throttles every /api request per client IP.
	RateLimiter *middleware.RateLimiter
}

// NewRouter mounts the lobby service routes.
func NewRouter(a *API, opts RouterOptions) http.Handler {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.LogMiddleware(a.log()))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/healthz"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Middleware)
		}
		r.Get("/race/lobby", a.QueryLobby)
		r.Post("/race/lobby", a.LobbyAction)
		r.Get("/race/lobby/ws/{id}", a.LobbyWS(origins))
		r.Get("/race/results", a.RecentResults)

		if a.Presence != nil {
			r.Get("/presence", a.ListPresence)
			r.Post("/presence", a.Heartbeat)
		}

		r.Get("/total", a.Total)
	})
	return r
}
