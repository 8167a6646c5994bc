package api

import (
	"net/http"

	"inference-ops-service/pkg/logger"
	"inference-ops-service/pkg/models"

	"github.com/gin-gonic/gin"
)

type addEndpointRequest struct {
	EndpointID string `json:"endpointId" binding:"required"`
}

func (s *Server) handleGetAllMonitoring(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Monitor.GetAllMonitoring())
}

func (s *Server) handleAddEndpoint(c *gin.Context) {
	var req addEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.EndpointID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpointId is required"})
		return
	}

	state, err := s.deps.Monitor.AddEndpoint(c.Request.Context(), req.EndpointID)
	if err != nil {
		respondError(c, err, http.StatusBadGateway, "Failed to add endpoint")
		return
	}
	c.JSON(http.StatusCreated, state)
}

func (s *Server) handleDiscoverEndpoints(c *gin.Context) {
	added, err := s.deps.Monitor.DiscoverEndpoints(c.Request.Context())
	if err != nil {
		respondError(c, err, http.StatusBadGateway, "Failed to discover endpoints")
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

func (s *Server) handleGetMonitoring(c *gin.Context) {
	state, err := s.deps.Monitor.GetMonitoring(c.Param("endpointId"))
	if err != nil {
		respondError(c, err, http.StatusInternalServerError, "Endpoint is not monitored")
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleRemoveEndpoint(c *gin.Context) {
	endpointID := c.Param("endpointId")
	if err := s.deps.Monitor.RemoveEndpoint(c.Request.Context(), endpointID); err != nil {
		respondError(c, err, http.StatusInternalServerError, "Failed to remove endpoint")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetEndpointAlerts(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	respondAlerts(c, s.deps.Monitor.GetEndpointAlerts(c.Param("endpointId"), activeOnly))
}

func (s *Server) handleGetActiveAlerts(c *gin.Context) {
	respondAlerts(c, s.deps.Monitor.GetActiveAlerts())
}

// respondAlerts writes alerts, narrowed to the optional ?type= filter.
func respondAlerts(c *gin.Context, alerts []models.Alert) {
	raw := c.Query("type")
	if raw == "" {
		c.JSON(http.StatusOK, alerts)
		return
	}
	alertType := models.AlertType(raw)
	if !alertType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "Invalid alert type",
			"validTypes": models.AllAlertTypes(),
		})
		return
	}
	filtered := make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.Type == alertType {
			filtered = append(filtered, a)
		}
	}
	c.JSON(http.StatusOK, filtered)
}

func (s *Server) handleGetAlert(c *gin.Context) {
	alert, err := s.deps.Monitor.Alerts().GetAlert(c.Param("alertId"))
	if err != nil {
		respondError(c, err, http.StatusInternalServerError, "Alert not found")
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (s *Server) handleResolveAlert(c *gin.Context) {
	alertID := c.Param("alertId")
	if _, err := s.deps.Monitor.Alerts().GetAlert(alertID); err != nil {
		respondError(c, err, http.StatusInternalServerError, "Alert not found")
		return
	}

	if !s.deps.Monitor.ResolveAlert(alertID) {
		c.JSON(http.StatusConflict, gin.H{"error": "Alert already resolved"})
		return
	}

	logger.Info("Alert resolved via API", logger.String("alert_id", alertID))
	alert, _ := s.deps.Monitor.Alerts().GetAlert(alertID)
	c.JSON(http.StatusOK, alert)
}

func (s *Server) handleGetStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Monitor.GetStats())
}
