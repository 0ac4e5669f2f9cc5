// internal/api/routes/routes.go
package routes

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/fawad-mazhar/cmdhub/internal/api/handlers"
	"github.com/fawad-mazhar/cmdhub/internal/hub"
)

const defaultRequestTimeout = 30 * time.Second

// SetupRouter builds the HTTP surface. requestTimeout bounds every API request,
// including its response write; the telemetry stream is exempt.
func SetupRouter(h *hub.Hub, gatherer prometheus.Gatherer, logger logrus.FieldLogger, requestTimeout time.Duration) *chi.Mux {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logger, NoColor: true}))
	r.Use(middleware.Recoverer)

	// Initialize handlers
	systemHandler := handlers.NewSystemHandler(h)
	commandHandler := handlers.NewCommandHandler(h)
	statusHandler := handlers.NewStatusHandler(h)
	telemetryHandler := handlers.NewTelemetryHandler(h.Telemetry(), logger)

	// Long-lived connection, outside the request timeout
	r.Get("/ws/telemetry", telemetryHandler.Stream)

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(writeDeadline(requestTimeout))
		r.Use(middleware.Timeout(requestTimeout))
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				next.ServeHTTP(w, r)
			})
		})

		r.Route("/api/v1", func(r chi.Router) {
			// Monitored systems
			r.Route("/systems", func(r chi.Router) {
				r.Get("/", systemHandler.ListSystems)
				r.Post("/", systemHandler.UpsertSystem)
				r.Get("/{id}", systemHandler.GetSystem)
				r.Put("/{id}", systemHandler.UpsertSystem)
			})

			r.Post("/commands/{name}", commandHandler.ExecuteCommand)

			r.Route("/modules", func(r chi.Router) {
				r.Get("/", statusHandler.ListModules)
				r.Put("/{id}/enabled", statusHandler.SetModuleEnabled)
			})

			r.Get("/report", statusHandler.GetReport)
			r.Get("/analytics", statusHandler.GetAnalytics)
			r.Get("/events", statusHandler.ListEvents)
			r.Get("/resources", statusHandler.ListResources)
			r.Get("/rules", statusHandler.ListRules)
		})

		// Health check endpoint
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			status := "healthy"
			code := http.StatusOK
			if h.IsShutdown() {
				status, code = "shutting down", http.StatusServiceUnavailable
			}
			w.WriteHeader(code)
			json.NewEncoder(w).Encode(map[string]string{"status": status})
		})
	})

	return r
}

// writeDeadline applies a write timeout per request, since the server-wide one
// would also cut off WebSocket streams
func writeDeadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = http.NewResponseController(w).SetWriteDeadline(time.Now().Add(d))
			next.ServeHTTP(w, r)
		})
	}
}
