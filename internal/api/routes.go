package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/jroosing/bsdm-proxy/internal/api/handlers"
	"github.com/jroosing/bsdm-proxy/internal/api/middleware"
	"github.com/jroosing/bsdm-proxy/internal/config"

	_ "github.com/jroosing/bsdm-proxy/internal/api/docs" // swagger docs
)

func RegisterRoutes(r *gin.Engine, h *handlers.Handler, cfg *config.Config) {
	// Swagger UI at /swagger/*
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api/v1")

	// Optional API key protection.
	if cfg != nil && cfg.API.APIKey != "" {
		api.Use(middleware.RequireAPIKey(cfg.API.APIKey))
	}

	api.GET("/health", h.Health)
	api.GET("/stats", h.Stats)

	api.GET("/peers", h.GetPeers)

	api.GET("/policy", h.GetPolicy)
	api.PUT("/policy", h.PutPolicy)

	api.GET("/config", h.GetConfig)

	api.GET("/cluster", h.GetClusterStatus)
	api.GET("/cluster/export", h.GetClusterExport)
	api.POST("/cluster/sync", h.PostClusterSync)
}
