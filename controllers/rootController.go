package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// rootHandler handles requests to the root path
func rootHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "clinicqueue"})
}

// SetupRootRoute registers the unauthenticated health and metrics routes.
// A nil gatherer serves the default registry.
func SetupRootRoute(router *gin.Engine, gatherer prometheus.Gatherer) {
	router.GET("/", rootHandler)

	metricsHandler := promhttp.Handler()
	if gatherer != nil {
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	router.GET("/metrics", gin.WrapH(metricsHandler))
}
