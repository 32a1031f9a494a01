package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/bsdm-proxy/internal/api/models"
)

// GetPeers godoc
// @Summary List configured peers
// @Description Returns every configured parent/sibling peer with its current health and request stats
// @Tags peers
// @Produce json
// @Success 200 {object} models.PeersResponse
// @Security ApiKeyAuth
// @Router /peers [get]
func (h *Handler) GetPeers(c *gin.Context) {
	registry := h.getRegistry()
	if registry == nil {
		c.JSON(http.StatusOK, models.PeersResponse{Peers: []models.PeerResponse{}})
		return
	}

	all := registry.All()
	resp := models.PeersResponse{Peers: make([]models.PeerResponse, 0, len(all))}
	for _, p := range all {
		stats := p.Stats.Snapshot()
		resp.Peers = append(resp.Peers, models.PeerResponse{
			ID:        p.ID,
			Kind:      string(p.Config.Kind),
			Address:   p.Address(),
			Weight:    p.Config.Weight,
			Healthy:   p.IsHealthy(),
			RTTMs:     p.RTT().Milliseconds(),
			Requests:  stats.Requests,
			Hits:      stats.Hits,
			Misses:    stats.Misses,
			Errors:    stats.Errors,
			HitRate:   stats.HitRate,
			ErrorRate: stats.ErrorRate,
			Score:     p.Score(),
		})
	}

	c.JSON(http.StatusOK, resp)
}
