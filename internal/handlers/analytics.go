package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"postdeck/internal/analytics"
	"postdeck/pkg/ctxkeys"
	"postdeck/pkg/logging"
	"postdeck/pkg/models"
)

// Analytics newer than this are served from the posts row without a provider call.
const analyticsFreshness = 15 * time.Minute

// GetPostAnalytics returns normalized analytics for a post, refreshing from
// the provider when the stored copy is stale.
func GetPostAnalytics(c *gin.Context) {
	servePostAnalytics(c, false)
}

// RefreshPostAnalytics forces a provider fetch for a post's analytics.
func RefreshPostAnalytics(c *gin.Context) {
	servePostAnalytics(c, true)
}

func servePostAnalytics(c *gin.Context, forceRefresh bool) {
	workspaceID := c.GetString(string(ctxkeys.KeyWorkspaceID))
	if workspaceID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Workspace context required"})
		return
	}
	postID := c.Param("id")
	ctx := c.Request.Context()

	var externalPostID sql.NullString
	var cached []byte
	var cachedAt sql.NullTime
	err := db.QueryRowContext(ctx, `
		SELECT external_post_id, analytics, analytics_updated_at
		FROM herald.posts
		WHERE id = $1 AND workspace_id = $2
	`, postID, workspaceID).Scan(&externalPostID, &cached, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("post_id", postID).Error("Failed to load post for analytics")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch analytics"})
		return
	}

	if !externalPostID.Valid {
		c.JSON(http.StatusConflict, gin.H{"error": "Post has not been distributed yet"})
		return
	}

	fresh := cachedAt.Valid && time.Since(cachedAt.Time) < analyticsFreshness
	if !forceRefresh && fresh && len(cached) > 0 {
		c.Data(http.StatusOK, "application/json", cached)
		return
	}

	normalized, err := fetchAndStoreAnalytics(ctx, workspaceID, postID, externalPostID.String)
	if err != nil {
		// Provider failure falls back to the last stored copy rather
		// than failing the read.
		if len(cached) > 0 {
			logger.WithError(err).WithField("post_id", postID).Warn("Analytics refresh failed, serving cached copy")
			c.Data(http.StatusOK, "application/json", cached)
			return
		}
		logger.WithError(err).WithField("post_id", postID).Error("Analytics refresh failed with no cached copy")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Analytics unavailable"})
		return
	}

	c.JSON(http.StatusOK, normalized)
}

// fetchAndStoreAnalytics pulls raw analytics from the provider, normalizes
// them, and persists the result on the post.
func fetchAndStoreAnalytics(ctx context.Context, workspaceID, postID, externalPostID string) (*models.PostAnalytics, error) {
	var profileRef, profileKey sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT profile_ref, profile_secondary_ref FROM herald.workspaces WHERE id = $1
	`, workspaceID).Scan(&profileRef, &profileKey)
	if err != nil {
		return nil, err
	}
	if !profileRef.Valid || models.IsPlaceholderProfileRef(profileRef.String) {
		return nil, errors.New("workspace has no provisioned profile")
	}
	key := profileKey.String
	if key == "" {
		key = profileRef.String
	}
	if fieldEncryptor != nil {
		key, err = fieldEncryptor.Decrypt(key)
		if err != nil {
			return nil, err
		}
	}

	raw, err := ayrClient.GetAnalytics(ctx, key, externalPostID)
	if err != nil {
		return nil, err
	}

	normalized := analytics.Normalize(raw, externalPostID)
	encoded, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, `
		UPDATE herald.posts
		SET analytics = $1, analytics_updated_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND workspace_id = $3
	`, encoded, postID, workspaceID); err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"post_id":      postID,
			"workspace_id": workspaceID,
		}).Warn("Failed to persist refreshed analytics")
	}

	return normalized, nil
}
