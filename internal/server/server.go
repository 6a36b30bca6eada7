// Package server exposes the thin HTTP surface over the pipeline. Route
// handlers only translate between HTTP and the core contracts; all real
// work happens in the scraper, repositories and runner.
package server

import (
	"github.com/gin-gonic/gin"

	"github.com/productowl/productowl/internal/logger"
	"github.com/productowl/productowl/internal/products"
	"github.com/productowl/productowl/internal/scheduler"
	"github.com/productowl/productowl/internal/tracking"
)

// Deps carries everything the handlers call into.
type Deps struct {
	Log      logger.Interface
	Products *products.Repository
	Tracking *tracking.Repository
	Runner   *scheduler.Runner
}

// NewRouter builds the gin engine with all API routes registered.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	ph := &productHandler{deps: deps}
	th := &trackingHandler{deps: deps}

	api := r.Group("/api")
	{
		api.GET("/health", health)

		api.GET("/products", ph.list)
		api.POST("/products/scrape", ph.scrape)
		api.GET("/products/:id", ph.get)
		api.GET("/products/:id/history", ph.history)
		api.PUT("/products/:id/price", ph.refresh)
		api.DELETE("/products/:id", ph.remove)

		api.POST("/batch/run", ph.runBatch)

		api.POST("/tracking", th.subscribe)
		api.GET("/tracking", th.list)
		api.DELETE("/tracking/:id", th.unsubscribe)
	}

	return r
}

func health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "OK"})
}
