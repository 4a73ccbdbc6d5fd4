package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	stripego "github.com/stripe/stripe-go/v82"

	"postdeck/internal/ledger"
	"postdeck/internal/provisioner"
	stripeclient "postdeck/internal/stripe"
	"postdeck/pkg/logging"
)

// HandleStripeWebhook is the billing-provider webhook gateway. Signature
// verification failure is the only non-200 outcome for a verified-format
// request; every handler error still acks with 200 so the provider does not
// redeliver in a storm.
func HandleStripeWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	if stripeClient == nil || !stripeClient.HasWebhookSecret() {
		logger.Error("Stripe webhook secret not configured; rejecting webhook")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Webhook verification not configured"})
		return
	}

	event, err := stripeClient.VerifyAndParseWebhook(body, c.GetHeader("Stripe-Signature"))
	if err != nil {
		logger.WithError(err).Warn("Invalid Stripe webhook signature")
		recordWebhookSignatureFailure("stripe")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	eventType := string(event.Type)
	logger.WithFields(logging.Fields{
		"event_id":   event.ID,
		"event_type": eventType,
	}).Info("Received Stripe webhook")

	ctx := c.Request.Context()
	outcome := "ok"
	if err := dispatchStripeEvent(ctx, event); err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"event_id":   event.ID,
			"event_type": eventType,
		}).Error("Failed to process Stripe webhook")
		outcome = "error"
	}
	recordWebhookEvent("stripe", eventType, outcome)

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func dispatchStripeEvent(ctx context.Context, event *stripego.Event) error {
	eventType := string(event.Type)

	switch {
	case eventType == "checkout.session.completed":
		// A completed checkout provisions real resources; it must act at
		// most once, so it goes through the ledger.
		inserted, err := eventLedger.MarkProcessed(ctx, ledger.ProviderStripe, event.ID, eventType)
		if err != nil {
			return fmt.Errorf("ledger check failed: %w", err)
		}
		if !inserted {
			logger.WithField("event_id", event.ID).Debug("Stripe event already processed, skipping")
			return nil
		}
		return handleCheckoutCompleted(ctx, event)

	case strings.HasPrefix(eventType, "customer.subscription."):
		// Status sync is re-entrant; replaying it converges to the same row.
		return handleSubscriptionEvent(ctx, event)

	case eventType == "invoice.paid":
		return handleInvoicePaid(ctx, event)

	case eventType == "invoice.payment_failed":
		return handleInvoiceFailed(ctx, event)

	default:
		logger.WithField("event_type", eventType).Debug("Ignoring unhandled Stripe event type")
		return nil
	}
}

// handleCheckoutCompleted activates billing for the workspace named in the
// session metadata and provisions its distribution profile.
func handleCheckoutCompleted(ctx context.Context, event *stripego.Event) error {
	session, err := stripeClient.CheckoutSessionFromEvent(event)
	if err != nil {
		return err
	}

	act := provisioner.Activation{
		WorkspaceID: session.Metadata["workspace_id"],
		Tier:        session.Metadata["tier"],
		DisplayName: session.Metadata["workspace_name"],
	}
	if session.Customer != nil {
		act.StripeCustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		act.StripeSubscriptionID = session.Subscription.ID
	}
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		act.BillingEmail = session.CustomerDetails.Email
	} else {
		act.BillingEmail = session.CustomerEmail
	}
	if act.DisplayName == "" {
		act.DisplayName = act.BillingEmail
	}

	result, err := wsProvisioner.EnsureWorkspace(ctx, act)
	switch {
	case err != nil:
		recordProvisioningRun("failure")
	case result.Provision != nil && result.Provision.Skipped:
		recordProvisioningRun("skipped")
	default:
		recordProvisioningRun("success")
	}
	if result != nil {
		logger.WithFields(logging.Fields{
			"workspace_id": result.WorkspaceID,
			"created":      result.Created,
			"session_id":   session.ID,
		}).Info("Processed checkout completion")
	}
	// Provisioning failure is already surfaced to the operator channel and
	// the workspace is flagged for repair; the webhook itself succeeded.
	return err
}

// handleSubscriptionEvent syncs a workspace billing status from a
// customer.subscription.* event.
func handleSubscriptionEvent(ctx context.Context, event *stripego.Event) error {
	sub, err := stripeClient.SubscriptionFromEvent(event)
	if err != nil {
		return err
	}

	info := stripeClient.ExtractSubscriptionInfo(sub)
	billingStatus := stripeclient.MapSubscriptionStatus(info.Status)

	workspaceID, err := resolveWorkspaceForBilling(ctx, info.StripeSubscriptionID, info.StripeCustomerID, info.WorkspaceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logger.WithField("subscription_id", info.StripeSubscriptionID).Warn("No workspace found for Stripe subscription")
			return nil
		}
		return err
	}

	_, err = db.ExecContext(ctx, `
		UPDATE herald.workspaces
		SET billing_status = $1,
		    stripe_subscription_id = COALESCE(NULLIF($2, ''), stripe_subscription_id),
		    billing_tier = COALESCE(NULLIF($3, ''), billing_tier),
		    updated_at = NOW()
		WHERE id = $4
	`, billingStatus, info.StripeSubscriptionID, info.Tier, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to update billing status: %w", err)
	}

	logger.WithFields(logging.Fields{
		"workspace_id":    workspaceID,
		"subscription_id": info.StripeSubscriptionID,
		"stripe_status":   info.Status,
		"billing_status":  billingStatus,
	}).Info("Updated billing status from Stripe webhook")

	return nil
}

// handleInvoicePaid marks the owning workspace active again.
func handleInvoicePaid(ctx context.Context, event *stripego.Event) error {
	inv, err := stripeClient.InvoiceFromEvent(event)
	if err != nil {
		return err
	}

	customerID := ""
	if inv.Customer != nil {
		customerID = inv.Customer.ID
	}
	workspaceID, err := resolveWorkspaceForBilling(ctx, "", customerID, inv.Metadata["workspace_id"])
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logger.WithField("customer_id", customerID).Debug("No workspace found for Stripe customer, skipping invoice.paid")
			return nil
		}
		return err
	}

	_, err = db.ExecContext(ctx, `
		UPDATE herald.workspaces
		SET billing_status = 'active', updated_at = NOW()
		WHERE id = $1
	`, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to mark workspace active: %w", err)
	}

	logger.WithFields(logging.Fields{
		"workspace_id": workspaceID,
		"invoice_id":   inv.ID,
		"amount_paid":  inv.AmountPaid,
	}).Info("Processed successful invoice payment")

	return nil
}

// handleInvoiceFailed moves the owning workspace to past_due and notifies
// its billing contact.
func handleInvoiceFailed(ctx context.Context, event *stripego.Event) error {
	inv, err := stripeClient.InvoiceFromEvent(event)
	if err != nil {
		return err
	}

	customerID := ""
	if inv.Customer != nil {
		customerID = inv.Customer.ID
	}
	workspaceID, err := resolveWorkspaceForBilling(ctx, "", customerID, inv.Metadata["workspace_id"])
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logger.WithField("customer_id", customerID).Debug("No workspace found for Stripe customer, skipping invoice.payment_failed")
			return nil
		}
		return err
	}

	_, err = db.ExecContext(ctx, `
		UPDATE herald.workspaces
		SET billing_status = 'past_due', updated_at = NOW()
		WHERE id = $1
	`, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to mark workspace past_due: %w", err)
	}

	logger.WithFields(logging.Fields{
		"workspace_id": workspaceID,
		"invoice_id":   inv.ID,
		"amount_due":   inv.AmountDue,
	}).Warn("Invoice payment failed")

	go sendPaymentFailedEmail(workspaceID, inv.ID, float64(inv.AmountDue)/100, string(inv.Currency))

	return nil
}

// resolveWorkspaceForBilling finds the workspace a billing event belongs to:
// by subscription id, then by customer id, then by the workspace id the
// event metadata carries.
func resolveWorkspaceForBilling(ctx context.Context, subscriptionID, customerID, metadataWorkspaceID string) (string, error) {
	var workspaceID string

	if subscriptionID != "" {
		err := db.QueryRowContext(ctx, `
			SELECT id FROM herald.workspaces WHERE stripe_subscription_id = $1
		`, subscriptionID).Scan(&workspaceID)
		if err == nil {
			return workspaceID, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("failed to lookup workspace by subscription: %w", err)
		}
	}

	if customerID != "" {
		err := db.QueryRowContext(ctx, `
			SELECT id FROM herald.workspaces WHERE stripe_customer_id = $1
		`, customerID).Scan(&workspaceID)
		if err == nil {
			return workspaceID, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("failed to lookup workspace by customer: %w", err)
		}
	}

	if metadataWorkspaceID != "" {
		err := db.QueryRowContext(ctx, `
			SELECT id FROM herald.workspaces WHERE id = $1
		`, metadataWorkspaceID).Scan(&workspaceID)
		if err == nil {
			return workspaceID, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("failed to lookup workspace by metadata id: %w", err)
		}
	}

	return "", sql.ErrNoRows
}
