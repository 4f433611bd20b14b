package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	CORSAllowedOrigins   []string
	APIRateLimitRequests int
}

func NewRouter(h *APIHandler, cfg RouterConfig, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Logging(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Correlation-ID"},
		ExposedHeaders:   []string{"Retry-After", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Guarded by the answer limiter inside the relay.
		r.Post("/answer", h.Answer)

		r.Group(func(r chi.Router) {
			r.Use(APIRateLimit(cfg.APIRateLimitRequests))

			r.Post("/rephrase", h.Rephrase)
			r.Post("/transform", h.Transform)

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", h.ListConversations)
				r.Post("/", h.CreateConversation)
				r.Delete("/clear", h.ClearConversations)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetConversation)
					r.Delete("/", h.DeleteConversation)
					r.Post("/messages", h.AppendMessage)
				})
			})
		})
	})

	return r
}
