package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/activity-fanout/api/controllers"
	"github.com/angelmondragon/activity-fanout/api/middleware"
	"github.com/angelmondragon/activity-fanout/internal/activities"
	"github.com/angelmondragon/activity-fanout/internal/frequency"
	"github.com/angelmondragon/activity-fanout/pkg/config"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
	"github.com/angelmondragon/activity-fanout/pkg/metrics"
)

// RouterParams carries everything the API routes depend on.
type RouterParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         controllers.Pinger
	Redis      controllers.Pinger
	Activities activities.Service
	Frequency  frequency.Service
	// Gatherer backs GET /metrics; Metrics records per-route request counters.
	Gatherer prometheus.Gatherer
	Metrics  *metrics.HTTPMetrics
}

// NewRouter wires the read-side API. Caller identity comes from the path.
func NewRouter(params RouterParams) http.Handler {
	cfg, logg := params.Config, params.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(params.Metrics),
	)

	r.Get("/healthz", controllers.HealthLive(cfg))
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    params.DB,
			"redis": params.Redis,
		}))
	})
	if params.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/email-frequencies", controllers.ListEmailFrequencies(params.Frequency, logg))

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", controllers.ListNotifications(params.Activities, logg))
				r.Post("/read-all", controllers.MarkAllNotificationsRead(params.Activities, logg))
				r.Post("/{recipientID}/read", controllers.MarkNotificationRead(params.Activities, logg))
			})
			r.Get("/stream", controllers.ProfileStream(params.Activities, logg))
			r.Get("/email-frequency", controllers.GetEmailFrequency(params.Frequency, logg))
			r.Put("/email-frequency", controllers.SetEmailFrequency(params.Frequency, logg))
		})

		r.Get("/groups/{groupID}/stream", controllers.GroupStream(params.Activities, logg))
	})

	return r
}
