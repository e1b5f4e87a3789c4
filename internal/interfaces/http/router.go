package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orris-inc/rolloutd/internal/interfaces/http/handlers"
	"github.com/orris-inc/rolloutd/internal/interfaces/http/middleware"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

// Router is the operational HTTP surface: probes and metrics.
type Router struct {
	engine        *gin.Engine
	healthHandler *handlers.HealthHandler
	gatherer      prometheus.Gatherer
}

func NewRouter(healthHandler *handlers.HealthHandler, gatherer prometheus.Gatherer, log logger.Interface) *Router {
	engine := gin.New()
	engine.Use(middleware.Recovery(log), middleware.Logger(log))

	return &Router{
		engine:        engine,
		healthHandler: healthHandler,
		gatherer:      gatherer,
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthz", r.healthHandler.Liveness)
	r.engine.GET("/readyz", r.healthHandler.Readiness)
	r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
