package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"postdeck/internal/provisioner"
	stripeclient "postdeck/internal/stripe"
	"postdeck/pkg/logging"
	"postdeck/pkg/models"
)

// Operator endpoints. These sit behind service-token auth and exist so that
// ProvisioningFailed workspaces and stuck events can be remediated without
// touching the database by hand.

// ListWorkspacesNeedingRepair returns workspaces flagged by a failed or
// invalidated provisioning run.
func ListWorkspacesNeedingRepair(c *gin.Context) {
	rows, err := db.QueryContext(c.Request.Context(), `
		SELECT id, name, billing_email, billing_tier, billing_status,
		       stripe_customer_id, stripe_subscription_id,
		       profile_ref, profile_secondary_ref, needs_repair,
		       created_at, updated_at
		FROM herald.workspaces
		WHERE needs_repair = TRUE
		ORDER BY updated_at ASC
	`)
	if err != nil {
		logger.WithError(err).Error("Failed to list workspaces needing repair")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list workspaces"})
		return
	}
	defer rows.Close()

	var workspaces []models.Workspace
	for rows.Next() {
		var ws models.Workspace
		if err := rows.Scan(
			&ws.ID, &ws.Name, &ws.BillingEmail, &ws.BillingTier, &ws.BillingStatus,
			&ws.StripeCustomerID, &ws.StripeSubscriptionID,
			&ws.ProfileRef, &ws.ProfileSecondaryRef, &ws.NeedsRepair,
			&ws.CreatedAt, &ws.UpdatedAt,
		); err != nil {
			logger.WithError(err).Error("Failed to scan workspace")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list workspaces"})
			return
		}
		workspaces = append(workspaces, ws)
	}
	if err := rows.Err(); err != nil {
		logger.WithError(err).Error("Failed to read workspaces")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list workspaces"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workspaces": workspaces,
		"count":      len(workspaces),
	})
}

// RepairWorkspace re-syncs billing status from Stripe and re-runs profile
// provisioning for a flagged workspace.
func RepairWorkspace(c *gin.Context) {
	workspaceID := c.Param("id")
	ctx := c.Request.Context()

	var name string
	var subscriptionID sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT name, stripe_subscription_id FROM herald.workspaces WHERE id = $1
	`, workspaceID).Scan(&name, &subscriptionID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Workspace not found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to load workspace for repair")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Repair failed"})
		return
	}

	// The workspace may have been flagged because billing drifted; pull the
	// current subscription state before re-provisioning.
	if subscriptionID.Valid && stripeClient != nil {
		if sub, err := stripeClient.GetSubscription(ctx, subscriptionID.String); err == nil {
			info := stripeClient.ExtractSubscriptionInfo(sub)
			billingStatus := stripeclient.MapSubscriptionStatus(info.Status)
			if _, err := db.ExecContext(ctx, `
				UPDATE herald.workspaces SET billing_status = $1, updated_at = NOW() WHERE id = $2
			`, billingStatus, workspaceID); err != nil {
				logger.WithError(err).Warn("Failed to sync billing status during repair")
			}
		} else {
			logger.WithError(err).WithField("subscription_id", subscriptionID.String).Warn("Failed to fetch subscription during repair")
		}
	}

	result, err := wsProvisioner.Provision(ctx, workspaceID, name)
	if errors.Is(err, provisioner.ErrWorkspaceNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Workspace not found"})
		return
	}
	if err != nil {
		recordProvisioningRun("failure")
		logger.WithError(err).WithField("workspace_id", workspaceID).Error("Repair provisioning failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Provisioning failed"})
		return
	}
	if result.Skipped {
		recordProvisioningRun("skipped")
	} else {
		recordProvisioningRun("success")
	}

	logger.WithFields(logging.Fields{
		"workspace_id": workspaceID,
		"profile_ref":  result.ProfileRef,
		"skipped":      result.Skipped,
	}).Info("Repaired workspace")

	c.JSON(http.StatusOK, gin.H{
		"workspace_id": workspaceID,
		"profile_ref":  result.ProfileRef,
		"skipped":      result.Skipped,
	})
}

// CancelWorkspaceBilling cancels the workspace's subscription immediately and
// marks billing cancelled.
func CancelWorkspaceBilling(c *gin.Context) {
	workspaceID := c.Param("id")
	ctx := c.Request.Context()

	var subscriptionID sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT stripe_subscription_id FROM herald.workspaces WHERE id = $1
	`, workspaceID).Scan(&subscriptionID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Workspace not found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to load workspace for cancellation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cancellation failed"})
		return
	}

	if subscriptionID.Valid && stripeClient != nil {
		if _, err := stripeClient.CancelSubscriptionImmediately(ctx, subscriptionID.String); err != nil {
			logger.WithError(err).WithField("subscription_id", subscriptionID.String).Error("Failed to cancel Stripe subscription")
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to cancel subscription"})
			return
		}
	}

	if _, err := db.ExecContext(ctx, `
		UPDATE herald.workspaces SET billing_status = 'cancelled', updated_at = NOW() WHERE id = $1
	`, workspaceID); err != nil {
		logger.WithError(err).Error("Failed to mark workspace cancelled")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cancellation failed"})
		return
	}

	logger.WithField("workspace_id", workspaceID).Info("Cancelled workspace billing")
	c.JSON(http.StatusOK, gin.H{"workspace_id": workspaceID, "billing_status": "cancelled"})
}

// ReplayEvent drops an event's idempotency record so the provider's next
// redelivery is processed again. An unknown event ID is a 404: forgetting a
// record that never existed usually means the operator pasted the wrong ID.
func ReplayEvent(c *gin.Context) {
	provider := c.Param("provider")
	eventID := c.Param("event_id")

	processed, err := eventLedger.IsProcessed(c.Request.Context(), provider, eventID)
	if err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"provider": provider,
			"event_id": eventID,
		}).Error("Failed to check event record")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check event record"})
		return
	}
	if !processed {
		c.JSON(http.StatusNotFound, gin.H{"error": "No processed record for event"})
		return
	}

	if err := eventLedger.Forget(c.Request.Context(), provider, eventID); err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"provider": provider,
			"event_id": eventID,
		}).Error("Failed to forget event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to forget event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"provider": provider, "event_id": eventID, "forgotten": true})
}
