package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/theblitlabs/misuse-detection/internal/api/handlers"
	"github.com/theblitlabs/misuse-detection/internal/api/middleware"
	"github.com/theblitlabs/misuse-detection/internal/metrics"
)

// Router wraps mux.Router to add more functionality
type Router struct {
	*mux.Router
	middleware []mux.MiddlewareFunc
}

// Deps are the collaborators the routes are built from. Only Predict is
// required.
type Deps struct {
	Predict  *handlers.PredictHandler
	Runs     *handlers.RunHandler
	Health   http.Handler
	Metrics  *metrics.Prometheus
	Gatherer prometheus.Gatherer
}

// NewRouter creates and configures a new router with all dependencies
func NewRouter(log zerolog.Logger, deps Deps) *Router {
	r := &Router{
		Router:     mux.NewRouter(),
		middleware: []mux.MiddlewareFunc{middleware.Logging(log)},
	}
	if deps.Metrics != nil {
		r.middleware = append(r.middleware, deps.Metrics.Middleware)
	}

	r.setup()
	r.registerRoutes(deps)
	return r
}

func (r *Router) setup() {
	for _, m := range r.middleware {
		r.Use(m)
	}
}

func (r *Router) registerRoutes(deps Deps) {
	r.HandleFunc("/", deps.Predict.Root).Methods(http.MethodGet)
	r.HandleFunc("/predict/", deps.Predict.Predict).Methods(http.MethodPost)
	r.HandleFunc("/predict", deps.Predict.Predict).Methods(http.MethodPost)
	r.HandleFunc("/predict/{id}", deps.Predict.PredictEntity).Methods(http.MethodGet)

	if deps.Runs != nil {
		runs := r.PathPrefix("/runs").Subrouter()
		runs.HandleFunc("", deps.Runs.ListRuns).Methods(http.MethodGet)
		runs.HandleFunc("/{id}", deps.Runs.GetRun).Methods(http.MethodGet)
	}
	if deps.Health != nil {
		r.Handle("/health", deps.Health).Methods(http.MethodGet)
	}
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer)).Methods(http.MethodGet)
	}
}
