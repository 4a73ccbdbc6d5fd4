package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"postdeck/internal/analytics"
	"postdeck/internal/ledger"
	"postdeck/pkg/logging"
	"postdeck/pkg/models"
	"postdeck/pkg/validation"
)

var eventValidator = validation.NewEventValidator()

// HandleAyrshareWebhook is the distribution-provider webhook gateway. Events
// carry a profile reference that resolves the owning workspace; events that
// cannot be routed are quarantined for inspection, never attributed to a
// guessed workspace.
func HandleAyrshareWebhook(c *gin.Context) {
	if ayrshareWebhookSecret != "" &&
		c.GetHeader("X-Webhook-Secret") != ayrshareWebhookSecret {
		recordWebhookSignatureFailure(ledger.ProviderAyrshare)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook secret"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	var event validation.DistributionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		logger.WithError(err).Warn("Invalid distribution webhook payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	if err := eventValidator.Validate(&event); err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"event_id":   event.EventID,
			"event_type": string(event.Type),
		}).Warn("Distribution webhook failed validation")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	logger.WithFields(logging.Fields{
		"event_id":   event.EventID,
		"event_type": string(event.Type),
		"profile_ref": event.RefID,
	}).Info("Received distribution webhook")

	ctx := c.Request.Context()
	outcome := "ok"
	if err := dispatchDistributionEvent(ctx, &event, body); err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"event_id":   event.EventID,
			"event_type": string(event.Type),
		}).Error("Failed to process distribution webhook")
		outcome = "error"
	}
	recordWebhookEvent("ayrshare", string(event.Type), outcome)

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func dispatchDistributionEvent(ctx context.Context, event *validation.DistributionEvent, rawBody []byte) error {
	// Every distribution event mutates state, so all of them go through
	// the ledger before acting.
	inserted, err := eventLedger.MarkProcessed(ctx, ledger.ProviderAyrshare, event.EventID, string(event.Type))
	if err != nil {
		return fmt.Errorf("ledger check failed: %w", err)
	}
	if !inserted {
		logger.WithField("event_id", event.EventID).Debug("Distribution event already processed, skipping")
		return nil
	}

	workspaceID, profileRef, err := resolveWorkspaceByProfile(ctx, event.RefID)
	if errors.Is(err, sql.ErrNoRows) {
		return quarantineEvent(ctx, event, rawBody)
	}
	if err != nil {
		return err
	}

	switch event.Type {
	case validation.EventComment:
		return upsertEngagementItem(ctx, workspaceID, "comment", event.Comment.Platform,
			event.Comment.CommentID, event.Comment.PostID, event.Comment.AuthorName,
			event.Comment.Text, event.Comment.CreatedAt)

	case validation.EventMessage:
		return upsertEngagementItem(ctx, workspaceID, "message", event.Message.Platform,
			event.Message.MessageID, event.Message.ConversationID, event.Message.SenderName,
			event.Message.Text, event.Message.CreatedAt)

	case validation.EventAnalyticsUpdate:
		return applyAnalyticsUpdate(ctx, workspaceID, profileRef, event.Analytics)

	case validation.EventAccountDisconnected:
		logger.WithFields(logging.Fields{
			"workspace_id": workspaceID,
			"platform":     event.Disconnected.Platform,
		}).Warn("Social account disconnected from profile")
		schedReconcile.Invalidate(profileRef)
		return nil

	case validation.EventProfileDeleted:
		return markProfileDeleted(ctx, workspaceID, profileRef)

	default:
		logger.WithField("event_type", string(event.Type)).Debug("Ignoring unhandled distribution event type")
		return nil
	}
}

// resolveWorkspaceByProfile maps a profile reference to its workspace.
// Placeholder refs never resolve: an unprovisioned workspace row carries
// the same sentinel value, and attributing a provider event to it would
// be a misroute.
func resolveWorkspaceByProfile(ctx context.Context, refID string) (workspaceID, profileRef string, err error) {
	if models.IsPlaceholderProfileRef(refID) {
		return "", "", sql.ErrNoRows
	}
	err = db.QueryRowContext(ctx, `
		SELECT id, profile_ref FROM herald.workspaces WHERE profile_ref = $1
	`, refID).Scan(&workspaceID, &profileRef)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("failed to resolve workspace by profile: %w", err)
	}
	return workspaceID, profileRef, err
}

// quarantineEvent stores an unroutable delivery for manual inspection.
func quarantineEvent(ctx context.Context, event *validation.DistributionEvent, rawBody []byte) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO herald.quarantined_events (provider, event_type, profile_ref, payload)
		VALUES ($1, $2, NULLIF($3, ''), $4)
	`, ledger.ProviderAyrshare, string(event.Type), event.RefID, rawBody)
	if err != nil {
		return fmt.Errorf("failed to quarantine event: %w", err)
	}

	recordQuarantinedEvent(ledger.ProviderAyrshare)
	logger.WithFields(logging.Fields{
		"event_id":    event.EventID,
		"event_type":  string(event.Type),
		"profile_ref": event.RefID,
	}).Warn("Quarantined unroutable distribution event")
	return nil
}

// upsertEngagementItem inserts a comment or message. (platform, external_id)
// is unique, so a duplicate delivery leaves the existing row untouched.
func upsertEngagementItem(ctx context.Context, workspaceID, kind, platform, externalID, parentRef, authorName, body, createdAt string) error {
	var itemCreatedAt *time.Time
	if createdAt != "" {
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			itemCreatedAt = &t
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO herald.engagement_items (
			workspace_id, platform, external_id, kind, parent_ref,
			author_name, body, item_created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (platform, external_id) DO NOTHING
	`, workspaceID, platform, externalID, kind, parentRef, authorName, body, itemCreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", kind, err)
	}

	logger.WithFields(logging.Fields{
		"workspace_id": workspaceID,
		"kind":         kind,
		"platform":     platform,
		"external_id":  externalID,
	}).Info("Stored engagement item")
	return nil
}

// applyAnalyticsUpdate normalizes the pushed metrics and persists them on the
// matching post.
func applyAnalyticsUpdate(ctx context.Context, workspaceID, profileRef string, payload *validation.AnalyticsPayload) error {
	raw := make(map[string]json.RawMessage, len(payload.Metrics))
	for platform, metrics := range payload.Metrics {
		encoded, err := json.Marshal(metrics)
		if err != nil {
			continue
		}
		raw[platform] = encoded
	}

	normalized := analytics.Normalize(raw, payload.PostID)
	encoded, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("failed to serialize analytics: %w", err)
	}

	res, err := db.ExecContext(ctx, `
		UPDATE herald.posts
		SET analytics = $1, analytics_updated_at = NOW(), updated_at = NOW()
		WHERE workspace_id = $2 AND external_post_id = $3
	`, encoded, workspaceID, payload.PostID)
	if err != nil {
		return fmt.Errorf("failed to store analytics: %w", err)
	}

	updated, _ := res.RowsAffected()
	if updated == 0 {
		logger.WithFields(logging.Fields{
			"workspace_id":     workspaceID,
			"external_post_id": payload.PostID,
		}).Warn("Analytics update for unknown post")
		return nil
	}

	schedReconcile.Invalidate(profileRef)
	return nil
}

// markProfileDeleted flags the workspace for repair when the provider reports
// its profile gone. The stored reference is kept for the audit trail; repair
// replaces it explicitly.
func markProfileDeleted(ctx context.Context, workspaceID, profileRef string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE herald.workspaces
		SET needs_repair = TRUE, updated_at = NOW()
		WHERE id = $1
	`, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to flag workspace for repair: %w", err)
	}

	schedReconcile.Invalidate(profileRef)
	logger.WithFields(logging.Fields{
		"workspace_id": workspaceID,
		"profile_ref":  profileRef,
	}).Error("Provider reports profile deleted; workspace flagged for repair")
	return nil
}
