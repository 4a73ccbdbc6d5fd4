package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"postdeck/pkg/logging"
)

// Client wraps the Stripe API operations the webhook gateway and
// provisioner need: signature verification, event payload extraction,
// and subscription lookups.
type Client struct {
	secretKey     string
	webhookSecret string
	logger        logging.Logger
}

// Config for creating a new Stripe client
type Config struct {
	SecretKey     string // STRIPE_SECRET_KEY
	WebhookSecret string // STRIPE_WEBHOOK_SECRET
	Logger        logging.Logger
}

// NewClient creates a new Stripe client
func NewClient(config Config) *Client {
	// Set the global API key for the stripe-go library
	stripe.Key = config.SecretKey

	return &Client{
		secretKey:     config.SecretKey,
		webhookSecret: config.WebhookSecret,
		logger:        config.Logger,
	}
}

// HasWebhookSecret reports whether signature verification is configured.
func (c *Client) HasWebhookSecret() bool {
	return c.webhookSecret != ""
}

// VerifyAndParseWebhook verifies the webhook signature and parses the event
func (c *Client) VerifyAndParseWebhook(payload []byte, signature string) (*stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, c.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}
	return &event, nil
}

// GetSubscription retrieves a subscription by ID
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// CancelSubscriptionImmediately cancels a subscription immediately
func (c *Client) CancelSubscriptionImmediately(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	sub, err := subscription.Cancel(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel subscription immediately: %w", err)
	}

	c.logger.WithField("subscription_id", subscriptionID).Info("Subscription cancelled immediately")
	return sub, nil
}

// SubscriptionFromEvent extracts subscription data from a webhook event
func (c *Client) SubscriptionFromEvent(event *stripe.Event) (*stripe.Subscription, error) {
	switch event.Type {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.paused",
		"customer.subscription.resumed":
		var sub stripe.Subscription
		if err := sub.UnmarshalJSON(event.Data.Raw); err != nil {
			return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
		}
		return &sub, nil
	default:
		return nil, fmt.Errorf("event type %s does not contain subscription data", event.Type)
	}
}

// CheckoutSessionFromEvent extracts checkout session from a webhook event
func (c *Client) CheckoutSessionFromEvent(event *stripe.Event) (*stripe.CheckoutSession, error) {
	if event.Type != "checkout.session.completed" {
		return nil, fmt.Errorf("event type %s is not checkout.session.completed", event.Type)
	}

	var sess stripe.CheckoutSession
	if err := sess.UnmarshalJSON(event.Data.Raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}
	return &sess, nil
}

// InvoiceFromEvent extracts invoice from a webhook event
func (c *Client) InvoiceFromEvent(event *stripe.Event) (*stripe.Invoice, error) {
	switch event.Type {
	case "invoice.paid", "invoice.payment_failed", "invoice.created", "invoice.finalized":
		var inv stripe.Invoice
		if err := inv.UnmarshalJSON(event.Data.Raw); err != nil {
			return nil, fmt.Errorf("failed to unmarshal invoice: %w", err)
		}
		return &inv, nil
	default:
		return nil, fmt.Errorf("event type %s does not contain invoice data", event.Type)
	}
}

// SubscriptionInfo contains extracted subscription details for database updates
type SubscriptionInfo struct {
	StripeCustomerID     string
	StripeSubscriptionID string
	Status               string // active, past_due, canceled, trialing, etc.
	CurrentPeriodEnd     time.Time
	CancelAtPeriodEnd    bool
	WorkspaceID          string // From metadata
	Tier                 string // From metadata
}

// ExtractSubscriptionInfo extracts relevant fields from a Stripe subscription
func (c *Client) ExtractSubscriptionInfo(sub *stripe.Subscription) SubscriptionInfo {
	info := SubscriptionInfo{
		StripeCustomerID:     sub.Customer.ID,
		StripeSubscriptionID: sub.ID,
		Status:               string(sub.Status),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}

	// CurrentPeriodEnd is on SubscriptionItem in v82
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		info.CurrentPeriodEnd = time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0)
	}

	if sub.Metadata != nil {
		info.WorkspaceID = sub.Metadata["workspace_id"]
		info.Tier = sub.Metadata["tier"]
	}

	return info
}

// MapSubscriptionStatus maps a Stripe subscription status to our billing
// status vocabulary. Cancel-at-period-end does not factor in: Stripe keeps
// the status "active" until the period actually ends, and we mirror that.
func MapSubscriptionStatus(status string) string {
	switch status {
	case "active", "trialing":
		return "active"
	case "past_due":
		return "past_due"
	case "canceled", "unpaid", "incomplete_expired":
		return "cancelled"
	default:
		return "unknown"
	}
}
