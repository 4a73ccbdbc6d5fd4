package validation

import (
	"testing"
	"time"
)

func validCommentEvent() *DistributionEvent {
	return &DistributionEvent{
		EventID:   "evt-1",
		Type:      EventComment,
		RefID:     "ref-123",
		Timestamp: time.Now(),
		Comment: &CommentPayload{
			Platform:   "twitter",
			CommentID:  "c-1",
			PostID:     "ext-1",
			AuthorName: "Jess",
			Text:       "nice post",
		},
	}
}

func TestValidateEvents(t *testing.T) {
	v := NewEventValidator()

	tests := []struct {
		name    string
		mutate  func(*DistributionEvent)
		wantErr bool
	}{
		{
			name:   "valid comment",
			mutate: func(e *DistributionEvent) {},
		},
		{
			name:    "missing event id",
			mutate:  func(e *DistributionEvent) { e.EventID = "" },
			wantErr: true,
		},
		{
			name:    "missing type",
			mutate:  func(e *DistributionEvent) { e.Type = "" },
			wantErr: true,
		},
		{
			name:    "comment event without payload",
			mutate:  func(e *DistributionEvent) { e.Comment = nil },
			wantErr: true,
		},
		{
			name: "comment payload missing platform",
			mutate: func(e *DistributionEvent) {
				e.Comment.Platform = ""
			},
			wantErr: true,
		},
		{
			name: "message event",
			mutate: func(e *DistributionEvent) {
				e.Type = EventMessage
				e.Comment = nil
				e.Message = &MessagePayload{
					Platform:       "instagram",
					MessageID:      "m-1",
					ConversationID: "conv-1",
					Text:           "hello",
				}
			},
		},
		{
			name: "message event missing conversation",
			mutate: func(e *DistributionEvent) {
				e.Type = EventMessage
				e.Comment = nil
				e.Message = &MessagePayload{Platform: "instagram", MessageID: "m-1"}
			},
			wantErr: true,
		},
		{
			name: "analytics event",
			mutate: func(e *DistributionEvent) {
				e.Type = EventAnalyticsUpdate
				e.Comment = nil
				e.Analytics = &AnalyticsPayload{
					PostID:  "ext-1",
					Metrics: map[string]any{"twitter": map[string]any{"likeCount": 5}},
				}
			},
		},
		{
			name: "profile deleted needs ref",
			mutate: func(e *DistributionEvent) {
				e.Type = EventProfileDeleted
				e.Comment = nil
				e.RefID = ""
			},
			wantErr: true,
		},
		{
			name: "unknown type passes envelope validation",
			mutate: func(e *DistributionEvent) {
				e.Type = "something-new"
				e.Comment = nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := validCommentEvent()
			tt.mutate(event)
			err := v.Validate(event)
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
