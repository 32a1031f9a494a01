package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/bsdm-proxy/internal/api/models"
)

// GetConfig godoc
// @Summary Get current configuration
// @Description Returns the effective running configuration (secrets redacted)
// @Tags config
// @Produce json
// @Success 200 {object} models.ConfigResponse
// @Failure 500 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /config [get]
func (h *Handler) GetConfig(c *gin.Context) {
	if h.cfg == nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "config unavailable"})
		return
	}

	resp := models.ConfigResponse{
		Server: models.ServerConfigResponse{
			Host: h.cfg.Server.Host,
			Port: h.cfg.Server.Port,
		},
		Cache: models.CacheConfigResponse{
			Capacity:    h.cfg.Cache.Capacity,
			TTLSeconds:  h.cfg.Cache.TTLSeconds,
			MaxBodySize: h.cfg.Cache.MaxBodySize,
		},
		Hierarchy: models.HierarchyConfigResponse{
			Enabled:           h.cfg.Hierarchy.Enabled,
			SelectionPolicy:   h.cfg.Hierarchy.SelectionPolicy,
			MaxSiblingQueries: h.cfg.Hierarchy.MaxSiblingQueries,
		},
		TLS: models.TLSConfigResponse{
			MITMEnabled: h.cfg.TLS.MITMEnabled,
		},
		Events: models.EventsConfigResponse{
			Topic:     h.cfg.Events.Topic,
			QueueSize: h.cfg.Events.QueueSize,
			Enabled:   len(h.cfg.Events.KafkaBrokers) > 0,
		},
		API: models.APIConfigResponse{
			Enabled: h.cfg.API.Enabled,
			Host:    h.cfg.API.Host,
			Port:    h.cfg.API.Port,
		},
		Cluster: models.ClusterConfigResponse{
			Mode:         string(h.cfg.Cluster.Mode),
			NodeID:       h.cfg.Cluster.NodeID,
			PrimaryURL:   h.cfg.Cluster.PrimaryURL,
			SyncInterval: h.cfg.Cluster.SyncInterval,
			SyncTimeout:  h.cfg.Cluster.SyncTimeout,
		},
	}

	if h.cfg.Cluster.SharedSecret != "" {
		resp.Cluster.SharedSecret = "********"
	}

	c.JSON(http.StatusOK, resp)
}
