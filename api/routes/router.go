package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/cartsync/api/controllers"
	cartcontrollers "github.com/angelmondragon/cartsync/api/controllers/cart"
	"github.com/angelmondragon/cartsync/api/middleware"
	"github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/redis"
)

// NewRouter wires the HTTP surface. redisPinger may be nil when snapshots are disabled;
// a nil gatherer serves the default prometheus registry.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	redisPinger redis.Pinger,
	sessions *cart.Registry,
	gatherer prometheus.Gatherer,
) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, redisPinger, sessions, logg))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/v1/cart/sessions", func(r chi.Router) {
			r.Post("/", cartcontrollers.SessionOpen(sessions, logg))

			r.Route("/{storeID}", func(r chi.Router) {
				r.Get("/", cartcontrollers.SessionFetch(sessions, logg))
				r.Delete("/", cartcontrollers.SessionClose(sessions, logg))
				r.Post("/refresh", cartcontrollers.SessionRefresh(sessions, logg))
				r.Get("/events", cartcontrollers.SessionEvents(sessions, cfg.Cart.EventHeartbeat, logg))
				r.Delete("/notice", cartcontrollers.NoticeDismiss(sessions, logg))

				r.Post("/items/{sku}/quantity", cartcontrollers.ItemQuantity(sessions, logg))
				r.Delete("/items/{sku}", cartcontrollers.ItemRemove(sessions, logg))

				r.Delete("/cart", cartcontrollers.CartDelete(sessions, logg))
				r.Post("/checkout", cartcontrollers.CartCheckout(sessions, logg))
			})
		})
	})

	return r
}
