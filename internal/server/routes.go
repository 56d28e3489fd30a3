package server

import (
	"github.com/OFFIS-RIT/kinship/internal/server/middleware"
	"github.com/OFFIS-RIT/kinship/internal/server/routes"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiRoutes := e.Group("/api", middleware.APIKeyMiddleware)

	// Interactive routes
	apiRoutes.GET("/network/:node", routes.GetNetworkHandler)
	apiRoutes.GET("/connectors", routes.GetConnectorsHandler)
	apiRoutes.GET("/nodes/:node/similar", routes.GetSimilarHandler)
	apiRoutes.GET("/communities/latest", routes.GetLatestCommunitiesHandler)
	apiRoutes.GET("/paths", routes.GetPathsHandler)

	// Background job routes
	apiRoutes.POST("/graph/build", routes.PostBuildHandler)
	apiRoutes.POST("/scores/:kind", routes.PostScoresHandler)
	apiRoutes.POST("/centrality", routes.PostCentralityHandler)
	apiRoutes.POST("/communities", routes.PostCommunitiesHandler)
	apiRoutes.POST("/features", routes.PostFeaturesHandler)
}
