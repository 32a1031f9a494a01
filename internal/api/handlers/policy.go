package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/bsdm-proxy/internal/aclpolicy"
	"github.com/jroosing/bsdm-proxy/internal/api/models"
	"github.com/jroosing/bsdm-proxy/internal/selection"
)

// GetPolicy godoc
// @Summary Get current ACL and selection policy
// @Description Returns the proxy's current ACL mode and parent-selection strategy
// @Tags policy
// @Produce json
// @Success 200 {object} models.PolicyResponse
// @Security ApiKeyAuth
// @Router /policy [get]
func (h *Handler) GetPolicy(c *gin.Context) {
	resp := models.PolicyResponse{ACLMode: string(aclpolicy.AllowAll)}

	if engine := h.getACLEngine(); engine != nil {
		resp.ACLMode = string(engine.Mode())
	}
	if resolver := h.getResolver(); resolver != nil {
		resp.SelectionPolicy = selectionName(resolver.Strategy())
	}

	c.JSON(http.StatusOK, resp)
}

// PutPolicy godoc
// @Summary Update ACL mode and/or selection policy
// @Description Changes take effect immediately, without a restart
// @Tags policy
// @Accept json
// @Produce json
// @Param policy body models.SetPolicyRequest true "Policy update"
// @Success 200 {object} models.PolicyResponse
// @Failure 400 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /policy [put]
func (h *Handler) PutPolicy(c *gin.Context) {
	var req models.SetPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	if req.ACLMode != "" {
		if engine := h.getACLEngine(); engine != nil {
			engine.SetMode(aclpolicy.Mode(req.ACLMode))
		}
		if db := h.getDB(); db != nil {
			_ = db.SetACLMode(c.Request.Context(), req.ACLMode)
		}
	}

	if req.SelectionPolicy != "" {
		if resolver := h.getResolver(); resolver != nil {
			resolver.SetStrategy(selection.Parse(req.SelectionPolicy, h.logger))
		}
		if db := h.getDB(); db != nil {
			_ = db.SetSelectionPolicy(c.Request.Context(), req.SelectionPolicy)
		}
	}

	h.GetPolicy(c)
}

func selectionName(s selection.Strategy) string {
	if s == nil {
		return "weighted"
	}
	return s.Name()
}
