package api

import (
	"context"
	"net/http"

	"inference-ops-service/pkg/models"

	"github.com/gin-gonic/gin"
)

type createSnapshotRequest struct {
	CreatedBy   string   `json:"createdBy"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type createPlanRequest struct {
	SourceSnapshotID string `json:"sourceSnapshotId" binding:"required"`
	TargetSnapshotID string `json:"targetSnapshotId" binding:"required"`
}

func (s *Server) handleGetSnapshots(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Snapshots.GetSnapshots(c.Param("deploymentId")))
}

func (s *Server) handleGetSnapshot(c *gin.Context) {
	snap, err := s.deps.Snapshots.GetSnapshot(c.Param("snapshotId"))
	if err != nil {
		respondError(c, err, http.StatusInternalServerError, "Snapshot not found")
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleCreateSnapshot(c *gin.Context) {
	var req createSnapshotRequest
	// an empty body is a valid request
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid snapshot request", "details": err.Error()})
			return
		}
	}
	if req.CreatedBy == "" {
		req.CreatedBy = "api"
	}

	snap, err := s.deps.Snapshots.CreateSnapshot(c.Request.Context(), c.Param("deploymentId"), models.SnapshotMetadata{
		CreatedBy:   req.CreatedBy,
		Description: req.Description,
		Tags:        req.Tags,
	})
	if err != nil {
		respondError(c, err, http.StatusBadGateway, "Failed to create snapshot")
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (s *Server) handleCreatePlan(c *gin.Context) {
	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sourceSnapshotId and targetSnapshotId are required"})
		return
	}

	plan, err := s.deps.Planner.CreateRollbackPlan(req.SourceSnapshotID, req.TargetSnapshotID)
	if err != nil {
		respondError(c, err, http.StatusInternalServerError, "Failed to create rollback plan")
		return
	}
	c.JSON(http.StatusCreated, plan)
}

func (s *Server) handleGetPlan(c *gin.Context) {
	plan, err := s.deps.Planner.GetPlan(c.Param("planId"))
	if err != nil {
		respondError(c, err, http.StatusInternalServerError, "Rollback plan not found")
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (s *Server) handlePreflight(c *gin.Context) {
	results, err := s.deps.Preflight.ExecutePreRollbackChecks(c.Request.Context(), c.Param("planId"))
	if err != nil {
		respondError(c, err, http.StatusBadGateway, "Failed to run pre-rollback checks")
		return
	}
	c.JSON(http.StatusOK, results)
}

// handleExecutePlan starts the rollback and answers before it finishes.
// Progress is read from the execution or the event stream.
func (s *Server) handleExecutePlan(c *gin.Context) {
	// the execution outlives the request
	ctx := context.WithoutCancel(c.Request.Context())

	exec, err := s.deps.Executor.StartRollback(ctx, c.Param("planId"))
	if err != nil {
		respondError(c, err, http.StatusInternalServerError, "Failed to start rollback")
		return
	}
	c.JSON(http.StatusAccepted, exec)
}

func (s *Server) handleGetExecution(c *gin.Context) {
	exec, err := s.deps.Executor.GetRollbackExecution(c.Param("executionId"))
	if err != nil {
		respondError(c, err, http.StatusInternalServerError, "Rollback execution not found")
		return
	}
	c.JSON(http.StatusOK, exec)
}

func (s *Server) handleCancelExecution(c *gin.Context) {
	executionID := c.Param("executionId")
	if err := s.deps.Executor.CancelRollback(executionID); err != nil {
		respondError(c, err, http.StatusInternalServerError, "Failed to cancel rollback")
		return
	}

	exec, err := s.deps.Executor.GetRollbackExecution(executionID)
	if err != nil {
		respondError(c, err, http.StatusInternalServerError, "Rollback execution not found")
		return
	}
	c.JSON(http.StatusOK, exec)
}

func (s *Server) handleListExecutions(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Executor.ListExecutions(c.Param("deploymentId")))
}
