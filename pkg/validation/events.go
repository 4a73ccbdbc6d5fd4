package validation

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// EventType discriminates inbound distribution-provider webhook events.
type EventType string

const (
	// A new comment on a published post
	EventComment EventType = "comment"
	// A new direct message in a conversation
	EventMessage EventType = "message"
	// Fresh analytics for a published post
	EventAnalyticsUpdate EventType = "analytics"
	// A social account was disconnected from the profile
	EventAccountDisconnected EventType = "social-account-disconnected"
	// The provider-side profile itself was deleted
	EventProfileDeleted EventType = "profile-deleted"
)

// DistributionEvent is the envelope for a single distribution-provider
// webhook delivery. RefID resolves the owning workspace; exactly one typed
// payload is populated based on Type.
type DistributionEvent struct {
	EventID   string    `json:"eventId" validate:"required"`
	Type      EventType `json:"action" validate:"required"`
	RefID     string    `json:"refId,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`

	Comment      *CommentPayload      `json:"comment,omitempty"`
	Message      *MessagePayload      `json:"message,omitempty"`
	Analytics    *AnalyticsPayload    `json:"analytics,omitempty"`
	Disconnected *DisconnectedPayload `json:"disconnected,omitempty"`
}

// CommentPayload carries a new comment on a published post.
type CommentPayload struct {
	Platform   string `json:"platform" validate:"required"`
	CommentID  string `json:"commentId" validate:"required"`
	PostID     string `json:"postId" validate:"required"`
	AuthorName string `json:"authorName,omitempty"`
	Text       string `json:"text,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
}

// MessagePayload carries a new direct message in a conversation.
type MessagePayload struct {
	Platform       string `json:"platform" validate:"required"`
	MessageID      string `json:"messageId" validate:"required"`
	ConversationID string `json:"conversationId" validate:"required"`
	SenderName     string `json:"senderName,omitempty"`
	Text           string `json:"text,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
}

// AnalyticsPayload carries fresh analytics for a published post. Metrics is
// the raw per-platform payload, normalized downstream.
type AnalyticsPayload struct {
	PostID  string         `json:"postId" validate:"required"`
	Metrics map[string]any `json:"metrics,omitempty"`
}

// DisconnectedPayload identifies which social account was disconnected.
type DisconnectedPayload struct {
	Platform string `json:"platform" validate:"required"`
}

// EventValidator performs structural and event-type-specific validation for
// inbound distribution webhooks before they are dispatched.
type EventValidator struct {
	validator *validator.Validate
}

// NewEventValidator constructs an EventValidator with standard struct validation.
func NewEventValidator() *EventValidator {
	return &EventValidator{
		validator: validator.New(),
	}
}

// Validate checks the envelope and the typed payload matching the event type.
func (v *EventValidator) Validate(event *DistributionEvent) error {
	if err := v.validator.Struct(event); err != nil {
		return fmt.Errorf("event validation failed: %w", err)
	}

	switch event.Type {
	case EventComment:
		if event.Comment == nil {
			return fmt.Errorf("comment event missing comment payload")
		}
		return v.validator.Struct(event.Comment)
	case EventMessage:
		if event.Message == nil {
			return fmt.Errorf("message event missing message payload")
		}
		return v.validator.Struct(event.Message)
	case EventAnalyticsUpdate:
		if event.Analytics == nil {
			return fmt.Errorf("analytics event missing analytics payload")
		}
		return v.validator.Struct(event.Analytics)
	case EventAccountDisconnected:
		if event.Disconnected == nil {
			return fmt.Errorf("disconnect event missing disconnected payload")
		}
		return v.validator.Struct(event.Disconnected)
	case EventProfileDeleted:
		// Envelope-only event: RefID identifies the deleted profile.
		if event.RefID == "" {
			return fmt.Errorf("profile-deleted event missing refId")
		}
		return nil
	default:
		// Unknown types are acknowledged upstream; validation does not
		// reject them so the gateway can log and move on.
		return nil
	}
}
