package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/bsdm-proxy/internal/api/models"
	"github.com/jroosing/bsdm-proxy/internal/cluster"
	"github.com/jroosing/bsdm-proxy/internal/config"
)

// GetClusterStatus godoc
// @Summary Get cluster status
// @Description Returns the current cluster mode and synchronization status
// @Tags cluster
// @Produce json
// @Success 200 {object} models.ClusterStatusResponse
// @Failure 500 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /cluster [get]
func (h *Handler) GetClusterStatus(c *gin.Context) {
	if h.cfg == nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "config unavailable"})
		return
	}

	resp := models.ClusterStatusResponse{
		Mode:   string(h.cfg.Cluster.Mode),
		NodeID: h.cfg.Cluster.NodeID,
	}

	if db := h.getDB(); db != nil {
		if version, err := db.GetVersion(); err == nil {
			resp.ConfigVersion = version
		}
	}

	if syncer := h.getClusterSyncer(); syncer != nil {
		status := syncer.Status()
		resp.PrimaryURL = status.PrimaryURL
		resp.LastSyncTime = status.LastSyncTime
		resp.LastSyncVersion = status.LastSyncVersion
		resp.LastSyncError = status.LastSyncError
		resp.NextSyncTime = status.NextSyncTime
		resp.SyncCount = status.SyncCount
		resp.ErrorCount = status.ErrorCount
	}

	c.JSON(http.StatusOK, resp)
}

// GetClusterExport godoc
// @Summary Export peer/policy configuration for cluster sync
// @Description Returns peer and policy data for secondary nodes to import (primary/standalone only)
// @Tags cluster
// @Produce json
// @Success 200 {object} cluster.ExportData
// @Failure 403 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /cluster/export [get]
func (h *Handler) GetClusterExport(c *gin.Context) {
	if h.cfg == nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "config unavailable"})
		return
	}

	if h.cfg.Cluster.Mode == config.ClusterModeSecondary {
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "export not allowed from secondary node"})
		return
	}

	if h.cfg.Cluster.SharedSecret != "" {
		if c.GetHeader("X-Cluster-Secret") != h.cfg.Cluster.SharedSecret {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "invalid cluster secret"})
			return
		}
	}

	db := h.getDB()
	if db == nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "storage unavailable"})
		return
	}

	ctx := c.Request.Context()

	version, err := db.GetVersion()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to get config version"})
		return
	}

	peerRecords, err := db.ListPeers(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to list peers"})
		return
	}

	selectionPolicy, _ := db.GetSelectionPolicy(ctx)
	aclMode, _ := db.GetACLMode(ctx)

	data := cluster.ExportData{
		Version:   version,
		Timestamp: time.Now().UTC(),
		NodeID:    h.cfg.Cluster.NodeID,
		Peers:     peerRecords,
		Selection: selectionPolicy,
		ACLMode:   aclMode,
	}

	if requestingNode := c.GetHeader("X-Node-ID"); requestingNode != "" {
		h.logger.Info("cluster export requested", "requesting_node", requestingNode, "version", version)
	}

	c.JSON(http.StatusOK, data)
}

// PostClusterSync godoc
// @Summary Force immediate sync (secondary only)
// @Description Triggers an immediate peer/policy sync from the primary node
// @Tags cluster
// @Produce json
// @Success 200 {object} models.StatusResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /cluster/sync [post]
func (h *Handler) PostClusterSync(c *gin.Context) {
	if h.cfg == nil || h.cfg.Cluster.Mode != config.ClusterModeSecondary {
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "sync only available in secondary mode"})
		return
	}

	syncer := h.getClusterSyncer()
	if syncer == nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "syncer not initialized"})
		return
	}

	if err := syncer.ForceSync(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "sync failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.StatusResponse{Status: "sync completed"})
}
