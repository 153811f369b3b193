package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bakeline/storesync-backend/api/controllers"
	"github.com/bakeline/storesync-backend/api/middleware"
	"github.com/bakeline/storesync-backend/internal/ledger"
	"github.com/bakeline/storesync-backend/internal/mirror"
	"github.com/bakeline/storesync-backend/internal/outbox"
	"github.com/bakeline/storesync-backend/internal/storeops"
	"github.com/bakeline/storesync-backend/pkg/config"
	"github.com/bakeline/storesync-backend/pkg/db"
	"github.com/bakeline/storesync-backend/pkg/logger"
	"github.com/bakeline/storesync-backend/pkg/redis"
)

type RouterParams struct {
	Config  *config.Config
	Logger  *logger.Logger
	Central db.Pinger
	Redis   redis.Pinger

	// StoreID is the store the POS and trigger routes are bound to.
	StoreID string

	LedgerRepo *ledger.Repository
	MirrorRepo *mirror.Repository
	MirrorSvc  *mirror.Service
	OutboxRepo *outbox.Repository
	POSService *storeops.Service

	// Gatherer serves /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.Central, params.Redis))
	})

	if params.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.LedgerOrderList(params.LedgerRepo, logg))
			r.Get("/{orderId}", controllers.LedgerOrderDetail(params.LedgerRepo, logg))
		})

		r.Get("/outbox/summary", controllers.OutboxSummary(params.StoreID, params.OutboxRepo, logg))

		r.Get("/stock", controllers.StockMirrorList(params.MirrorRepo, logg))
		r.Get("/stores", controllers.StoreList(params.MirrorRepo, logg))

		r.Route("/mirror", func(r chi.Router) {
			r.Post("/sync", controllers.MirrorSync(params.StoreID, params.MirrorSvc, logg))
			r.Post("/reset", controllers.MirrorReset(params.StoreID, params.MirrorSvc, logg))
		})

		r.Route("/pos", func(r chi.Router) {
			r.Route("/orders", func(r chi.Router) {
				r.Post("/", controllers.POSCreateOrder(params.POSService, logg))
				r.Get("/{orderId}", controllers.POSGetOrder(params.POSService, logg))
				r.Post("/{orderId}/pay-success", controllers.POSPaySuccess(params.POSService, logg))
				r.Post("/{orderId}/pay-failure", controllers.POSPayFailure(params.POSService, logg))
				r.Post("/{orderId}/refund", controllers.POSRefund(params.POSService, logg))
			})
			r.Get("/availability", controllers.POSAvailability(params.POSService, logg))
			r.Put("/stock", controllers.POSSetStock(params.POSService, logg))
		})
	})

	return r
}
