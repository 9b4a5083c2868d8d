package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/trainingorchestrator/internal/api/handlers"
	"github.com/nikhilbhutani/trainingorchestrator/internal/api/middleware"
	"github.com/nikhilbhutani/trainingorchestrator/internal/auth"
)

// Deps are the services the HTTP surface exposes.
type Deps struct {
	Training     handlers.TrainingService
	History      handlers.JobHistory
	Datasets     handlers.DatasetRegistry
	Webhooks     handlers.WebhookService
	Health       map[string]handlers.Check
	JWTSecret    string
	CORSOrigins  []string
	RateLimitRPS float64
	RateBurst    int
}

type Router struct {
	mux  *chi.Mux
	deps Deps
	jwt  *auth.JWTMiddleware
}

func NewRouter(deps Deps) *Router {
	if len(deps.CORSOrigins) == 0 {
		deps.CORSOrigins = []string{"*"}
	}
	if deps.RateLimitRPS <= 0 {
		deps.RateLimitRPS = 20
	}
	if deps.RateBurst <= 0 {
		deps.RateBurst = 40
	}
	return &Router{
		mux:  chi.NewRouter(),
		deps: deps,
		jwt:  auth.NewJWTMiddleware(deps.JWTSecret),
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.deps.CORSOrigins))

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.deps.Health)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	rl := middleware.NewRateLimiter(rt.deps.RateLimitRPS, rt.deps.RateBurst)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.jwt.Authenticate)
		r.Use(rl.Limit)

		r.Route("/training/jobs", handlers.NewTrainingHandler(rt.deps.Training, rt.deps.History).Routes)

		datasetH := handlers.NewDatasetHandler(rt.deps.Datasets)
		r.Route("/datasets", func(r chi.Router) {
			r.Post("/", datasetH.Register)
			r.Get("/", datasetH.List)
		})

		webhookH := handlers.NewWebhookHandler(rt.deps.Webhooks)
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/", webhookH.Create)
			r.Get("/", webhookH.List)
			r.Delete("/{id}", webhookH.Delete)
		})
	})

	return r
}
