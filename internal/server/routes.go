package server

import (
	"github.com/OFFIS-RIT/linkgraph/internal/server/routes"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiRoutes := e.Group("/api")

	// Entity routes
	apiRoutes.GET("/actors", routes.GetActorsHandler)
	apiRoutes.POST("/actors", routes.PostActorHandler)
	apiRoutes.GET("/events", routes.GetEventsHandler)
	apiRoutes.POST("/events", routes.PostEventHandler)
	apiRoutes.GET("/schema/:kind", routes.GetSchemaHandler)

	// Relationship routes
	apiRoutes.GET("/relationships/:kind/:id", routes.GetRelationshipsHandler)
	apiRoutes.POST("/derive/:kind/:id", routes.PostDeriveHandler)

	// Graph routes
	apiRoutes.GET("/graph", routes.GetGraphHandler)
	apiRoutes.POST("/graph/snapshot", routes.PostGraphSnapshotHandler)

	// Import routes
	apiRoutes.GET("/datasets", routes.GetDatasetsHandler)
	apiRoutes.POST("/imports", routes.PostImportHandler)
}
