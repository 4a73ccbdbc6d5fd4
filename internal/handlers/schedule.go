package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"postdeck/internal/reconciler"
	"postdeck/pkg/ctxkeys"
)

// GetUnifiedSchedule returns the caller's posts merged with the provider's
// history, grouped by status.
func GetUnifiedSchedule(c *gin.Context) {
	workspaceID := c.GetString(string(ctxkeys.KeyWorkspaceID))
	if workspaceID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Workspace context required"})
		return
	}

	schedule, err := schedReconcile.GetUnifiedSchedule(c.Request.Context(), workspaceID, c.Query("status"))
	if errors.Is(err, reconciler.ErrWorkspaceNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Workspace not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("workspace_id", workspaceID).Error("Failed to build unified schedule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch schedule"})
		return
	}

	c.JSON(http.StatusOK, schedule)
}
