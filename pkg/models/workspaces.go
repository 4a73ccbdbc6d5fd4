package models

import (
	"strings"
	"time"
)

// Billing statuses for a workspace
const (
	BillingStatusActive    = "active"
	BillingStatusPastDue   = "past_due"
	BillingStatusCancelled = "cancelled"
	BillingStatusUnknown   = "unknown"
)

// Workspace represents the tenant unit. A workspace acquires a distribution
// profile (profile_ref) when provisioning succeeds; once set, the reference is
// authoritative for all distribution calls and is never silently replaced.
type Workspace struct {
	ID            string  `json:"id" db:"id"`
	Name          string  `json:"name" db:"name"`
	BillingEmail  *string `json:"billing_email,omitempty" db:"billing_email"`
	BillingTier   string  `json:"billing_tier" db:"billing_tier"`
	BillingStatus string  `json:"billing_status" db:"billing_status"`

	StripeCustomerID     *string `json:"stripe_customer_id,omitempty" db:"stripe_customer_id"`
	StripeSubscriptionID *string `json:"stripe_subscription_id,omitempty" db:"stripe_subscription_id"`

	// ProfileRef is the distribution provider's handle for this workspace's
	// connected social accounts. ProfileSecondaryRef may lag behind the
	// primary reference and is backfilled when the provider returns it.
	ProfileRef          *string `json:"profile_ref,omitempty" db:"profile_ref"`
	ProfileSecondaryRef *string `json:"profile_secondary_ref,omitempty" db:"profile_secondary_ref"`

	// NeedsRepair marks workspaces whose billing succeeded but whose
	// distribution profile is missing or a placeholder. Operator tooling
	// targets exactly these rows.
	NeedsRepair bool `json:"needs_repair" db:"needs_repair"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Placeholder profile references that some historical rows carry instead of a
// real provisioned value. Treated uniformly as "needs repair": no distribution
// call is ever made with one of these.
var placeholderProfileRefs = map[string]struct{}{
	"":            {},
	"pending":     {},
	"unassigned":  {},
	"placeholder": {},
}

// IsPlaceholderProfileRef reports whether ref is a fallback/placeholder value
// rather than a real provisioned profile reference.
func IsPlaceholderProfileRef(ref string) bool {
	_, ok := placeholderProfileRefs[strings.ToLower(strings.TrimSpace(ref))]
	return ok
}

// HasProfile reports whether the workspace carries a usable profile reference.
func (w *Workspace) HasProfile() bool {
	return w.ProfileRef != nil && !IsPlaceholderProfileRef(*w.ProfileRef)
}
