package stripe

import (
	"testing"
	"time"

	stripego "github.com/stripe/stripe-go/v82"
)

func TestMapSubscriptionStatus(t *testing.T) {
	tests := []struct {
		stripeStatus string
		want         string
	}{
		{"active", "active"},
		{"trialing", "active"},
		{"past_due", "past_due"},
		{"canceled", "cancelled"},
		{"unpaid", "cancelled"},
		{"incomplete_expired", "cancelled"},
		{"incomplete", "unknown"},
		{"paused", "unknown"},
	}

	for _, tt := range tests {
		if got := MapSubscriptionStatus(tt.stripeStatus); got != tt.want {
			t.Errorf("MapSubscriptionStatus(%q) = %q, want %q", tt.stripeStatus, got, tt.want)
		}
	}
}

func TestExtractSubscriptionInfo(t *testing.T) {
	c := &Client{}
	periodEnd := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC).Unix()

	sub := &stripego.Subscription{
		ID:       "sub_123",
		Customer: &stripego.Customer{ID: "cus_456"},
		Status:   stripego.SubscriptionStatusActive,
		Items: &stripego.SubscriptionItemList{
			Data: []*stripego.SubscriptionItem{
				{CurrentPeriodEnd: periodEnd},
			},
		},
		Metadata: map[string]string{
			"workspace_id": "ws-1",
			"tier":         "pro",
		},
	}

	info := c.ExtractSubscriptionInfo(sub)
	if info.StripeSubscriptionID != "sub_123" {
		t.Errorf("subscription id = %q", info.StripeSubscriptionID)
	}
	if info.StripeCustomerID != "cus_456" {
		t.Errorf("customer id = %q", info.StripeCustomerID)
	}
	if info.Status != "active" {
		t.Errorf("status = %q", info.Status)
	}
	if info.WorkspaceID != "ws-1" || info.Tier != "pro" {
		t.Errorf("metadata not extracted: %+v", info)
	}
	if info.CurrentPeriodEnd.Unix() != periodEnd {
		t.Errorf("period end = %v", info.CurrentPeriodEnd)
	}
}
