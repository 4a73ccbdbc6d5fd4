package models

import (
	"time"

	"github.com/lib/pq"
)

// Post lifecycle statuses
const (
	PostStatusPending   = "pending"
	PostStatusScheduled = "scheduled"
	PostStatusPosted    = "posted"
	PostStatusFailed    = "failed"
)

// Post is a unit of content destined for one or more external platforms.
// ExternalPostID is set only after successful distribution and is the join
// key for reconciliation; it is immutable for the post's lifetime.
// Rescheduling retires the old external id and produces a new one on a new
// distribution call.
type Post struct {
	ID          string         `json:"id" db:"id"`
	WorkspaceID string         `json:"workspace_id" db:"workspace_id"`
	Caption     string         `json:"caption" db:"caption"`
	Platforms   pq.StringArray `json:"platforms" db:"platforms"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty" db:"scheduled_at"`
	Status      string         `json:"status" db:"status"`

	ExternalPostID *string `json:"external_post_id,omitempty" db:"external_post_id"`
	LastError      *string `json:"last_error,omitempty" db:"last_error"`

	Analytics          JSONB      `json:"analytics,omitempty" db:"analytics"`
	AnalyticsUpdatedAt *time.Time `json:"analytics_updated_at,omitempty" db:"analytics_updated_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HistoryItem is one entry of the distribution provider's post history,
// keyed by the external post identifier.
type HistoryItem struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Platforms []string  `json:"platforms,omitempty"`
	PostedAt  time.Time `json:"posted_at,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
}

// ReconciledPost is a local post optionally enriched with the provider's view.
// Local fields always win; AyrshareData is additive.
type ReconciledPost struct {
	Post
	AyrshareData *HistoryItem `json:"ayrshareData,omitempty"`
}

// UnifiedSchedule groups reconciled posts by lifecycle status.
type UnifiedSchedule struct {
	Grouped map[string][]ReconciledPost `json:"grouped"`
	Counts  map[string]int              `json:"counts"`
	Total   int                         `json:"total"`
}
