package models

import "time"

// Engagement item kinds
const (
	EngagementKindComment = "comment"
	EngagementKindMessage = "message"
)

// EngagementItem is a comment or direct message relayed by the distribution
// provider. Uniqueness is (platform, external id); duplicate webhook delivery
// upserts instead of inserting a second row.
type EngagementItem struct {
	ID          string     `json:"id" db:"id"`
	WorkspaceID *string    `json:"workspace_id,omitempty" db:"workspace_id"`
	Platform    string     `json:"platform" db:"platform"`
	ExternalID  string     `json:"external_id" db:"external_id"`
	Kind        string     `json:"kind" db:"kind"`
	ParentRef   *string    `json:"parent_ref,omitempty" db:"parent_ref"`
	AuthorName  string     `json:"author_name" db:"author_name"`
	Body        string     `json:"body" db:"body"`
	ItemCreated *time.Time `json:"item_created_at,omitempty" db:"item_created_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// ProcessedEvent is the idempotency record for one externally-unique webhook
// event. Existence of a row means the event's state-mutating effects already
// ran.
type ProcessedEvent struct {
	Provider    string    `json:"provider" db:"provider"`
	EventID     string    `json:"event_id" db:"event_id"`
	EventType   string    `json:"event_type" db:"event_type"`
	ProcessedAt time.Time `json:"processed_at" db:"processed_at"`
}
