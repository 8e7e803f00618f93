package server

import (
	"github.com/ardabaev/cloudhost/internal/auth"
	"github.com/ardabaev/cloudhost/internal/bucket"
	"github.com/ardabaev/cloudhost/internal/config"
	"github.com/ardabaev/cloudhost/internal/ledger"
	"github.com/ardabaev/cloudhost/internal/logger"
	"github.com/ardabaev/cloudhost/internal/metrics"
	"github.com/ardabaev/cloudhost/internal/notify"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
)

// Dependencies groups the services required by the HTTP router.
type Dependencies struct {
	Config        config.Config
	DB            *pgxpool.Pool
	ObjectStore   *minio.Client
	AuthService   *auth.Service
	BucketService *bucket.Service
	LedgerService *ledger.Service
	Notifications *notify.Repository
}

// NewRouter builds a Gin engine with foundational middleware and routes.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.Middleware())
	router.Use(metrics.Middleware())

	registerHealthRoutes(router, deps)
	metrics.Register(router, deps.Config.Metrics.PrometheusPath)

	api := router.Group("/v1")
	if deps.AuthService != nil {
		auth.RegisterRoutes(api, deps.AuthService)

		protected := api.Group("/")
		protected.Use(auth.AuthMiddleware(deps.AuthService))

		if deps.BucketService != nil {
			bucket.RegisterRoutes(protected, deps.BucketService)
		}
		if deps.LedgerService != nil {
			ledger.RegisterRoutes(protected, deps.LedgerService)
		}
		if deps.Notifications != nil {
			notify.RegisterRoutes(protected, deps.Notifications)
		}
	}

	return router
}
