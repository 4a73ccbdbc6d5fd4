package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"postdeck/pkg/ctxkeys"
	"postdeck/pkg/models"
	"postdeck/pkg/pagination"
)

// ListComments returns the workspace's comments, cursor-paginated newest first.
func ListComments(c *gin.Context) {
	listEngagementItems(c, models.EngagementKindComment)
}

// ListMessages returns the workspace's direct messages, cursor-paginated newest first.
func ListMessages(c *gin.Context) {
	listEngagementItems(c, models.EngagementKindMessage)
}

func listEngagementItems(c *gin.Context, kind string) {
	workspaceID := c.GetString(string(ctxkeys.KeyWorkspaceID))
	if workspaceID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Workspace context required"})
		return
	}

	var req pagination.Request
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pagination parameters"})
		return
	}
	params, err := pagination.Parse(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	var totalCount int32
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM herald.engagement_items
		WHERE workspace_id = $1 AND kind = $2
	`, workspaceID, kind).Scan(&totalCount); err != nil {
		logger.WithError(err).Error("Failed to count engagement items")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch items"})
		return
	}

	kb := pagination.KeysetBuilder{TimestampColumn: "created_at", IDColumn: "id"}
	cond, condArgs := kb.Condition(params, 3)

	query := `
		SELECT id, workspace_id, platform, external_id, kind, parent_ref,
		       author_name, body, item_created_at, created_at, updated_at
		FROM herald.engagement_items
		WHERE workspace_id = $1 AND kind = $2`
	if cond != "" {
		query += " AND " + cond
	}
	query += " ORDER BY " + kb.OrderBy(params)
	query += fmt.Sprintf(" LIMIT %d", params.Limit+1)

	args := append([]interface{}{workspaceID, kind}, condArgs...)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.WithError(err).Error("Failed to query engagement items")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch items"})
		return
	}
	defer rows.Close()

	var items []models.EngagementItem
	for rows.Next() {
		var item models.EngagementItem
		if err := rows.Scan(
			&item.ID, &item.WorkspaceID, &item.Platform, &item.ExternalID, &item.Kind,
			&item.ParentRef, &item.AuthorName, &item.Body, &item.ItemCreated,
			&item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			logger.WithError(err).Error("Failed to scan engagement item")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch items"})
			return
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		logger.WithError(err).Error("Failed to read engagement items")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch items"})
		return
	}

	resultsLen := len(items)
	if resultsLen > params.Limit {
		items = items[:params.Limit]
	}
	// Backward pages are queried oldest-first; present newest-first like
	// forward pages.
	if params.Direction == pagination.Backward {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}

	var startCursor, endCursor string
	if len(items) > 0 {
		startCursor = pagination.EncodeCursor(items[0].CreatedAt, items[0].ID)
		endCursor = pagination.EncodeCursor(items[len(items)-1].CreatedAt, items[len(items)-1].ID)
	}
	pageInfo := pagination.BuildPageInfo(resultsLen, params.Limit, params.Direction, totalCount, startCursor, endCursor)

	c.JSON(http.StatusOK, gin.H{
		"items":    items,
		"pageInfo": pageInfo,
	})
}
