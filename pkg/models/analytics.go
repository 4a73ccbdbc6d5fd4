package models

// PlatformMetrics is the canonical per-platform metric set. A nil field means
// the platform does not report that metric ("not applicable"); a zero value
// means the platform reported zero. The distinction is preserved through
// normalization and only collapses to 0 during aggregation.
type PlatformMetrics struct {
	Views          *float64 `json:"views"`
	Likes          *float64 `json:"likes"`
	Comments       *float64 `json:"comments"`
	Shares         *float64 `json:"shares"`
	Reach          *float64 `json:"reach"`
	Clicks         *float64 `json:"clicks"`
	EngagementRate float64  `json:"engagement_rate"`
}

// AggregatedMetrics sums the canonical fields across platforms, treating nil
// as 0 for summation only.
type AggregatedMetrics struct {
	Views          float64 `json:"views"`
	Likes          float64 `json:"likes"`
	Comments       float64 `json:"comments"`
	Shares         float64 `json:"shares"`
	Reach          float64 `json:"reach"`
	Clicks         float64 `json:"clicks"`
	EngagementRate float64 `json:"engagement_rate"`
}

// PostAnalytics is the normalized analytics view for one post.
type PostAnalytics struct {
	PostID      string                     `json:"post_id"`
	Aggregated  AggregatedMetrics          `json:"aggregated"`
	PerPlatform map[string]PlatformMetrics `json:"per_platform"`
}
