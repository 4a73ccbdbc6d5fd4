package analytics

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postdeck/pkg/models"
)

func payload(t *testing.T, perPlatform map[string]string) map[string]json.RawMessage {
	t.Helper()
	raw := make(map[string]json.RawMessage, len(perPlatform))
	for platform, body := range perPlatform {
		raw[platform] = json.RawMessage(body)
	}
	return raw
}

func TestNormalizeAliasSpellings(t *testing.T) {
	raw := payload(t, map[string]string{
		"twitter":  `{"impressionCount": 1000, "likeCount": 50, "retweetCount": 10, "replyCount": 5}`,
		"tiktok":   `{"playCount": 2000, "diggCount": 80, "shareCount": 20, "commentCount": 15}`,
		"linkedin": `{"impressionCount": 500, "likeCount": 25, "clickCount": 40}`,
	})

	n := Normalize(raw, "post-1")

	tw := n.PerPlatform["twitter"]
	require.NotNil(t, tw.Views)
	assert.Equal(t, 1000.0, *tw.Views)
	require.NotNil(t, tw.Likes)
	assert.Equal(t, 50.0, *tw.Likes)
	require.NotNil(t, tw.Shares)
	assert.Equal(t, 10.0, *tw.Shares)
	require.NotNil(t, tw.Comments)
	assert.Equal(t, 5.0, *tw.Comments)

	tk := n.PerPlatform["tiktok"]
	require.NotNil(t, tk.Views)
	assert.Equal(t, 2000.0, *tk.Views)
	require.NotNil(t, tk.Likes)
	assert.Equal(t, 80.0, *tk.Likes)

	li := n.PerPlatform["linkedin"]
	require.NotNil(t, li.Clicks)
	assert.Equal(t, 40.0, *li.Clicks)

	assert.Equal(t, 3500.0, n.Aggregated.Views)
	assert.Equal(t, 155.0, n.Aggregated.Likes)
	assert.Equal(t, 30.0, n.Aggregated.Shares)
	assert.Equal(t, 20.0, n.Aggregated.Comments)
	assert.Equal(t, 40.0, n.Aggregated.Clicks)
}

func TestNormalizeNullVsZero(t *testing.T) {
	// Platform A lacks shares entirely, platform B reports shares=0.
	raw := payload(t, map[string]string{
		"platformA": `{"views": 100, "likes": 10}`,
		"platformB": `{"views": 200, "likes": 20, "shares": 0}`,
	})

	n := Normalize(raw, "post-1")

	assert.Nil(t, n.PerPlatform["platformA"].Shares, "missing metric must stay null")
	b := n.PerPlatform["platformB"]
	require.NotNil(t, b.Shares, "reported zero must stay a number")
	assert.Equal(t, 0.0, *b.Shares)
	assert.Equal(t, 0.0, n.Aggregated.Shares, "aggregate treats null as 0, not null")
}

func TestNormalizeNonNumericCoercesToZero(t *testing.T) {
	raw := payload(t, map[string]string{
		"instagram": `{"views": "not-a-number", "likes": "42", "comments": null, "shares": {"weird": true}}`,
	})

	n := Normalize(raw, "post-1")

	ig := n.PerPlatform["instagram"]
	require.NotNil(t, ig.Views)
	assert.Equal(t, 0.0, *ig.Views, "non-numeric string coerces to zero")
	require.NotNil(t, ig.Likes)
	assert.Equal(t, 42.0, *ig.Likes, "numeric string parses")
	require.NotNil(t, ig.Comments)
	assert.Equal(t, 0.0, *ig.Comments, "explicit null coerces to zero")
	assert.False(t, anyNaN(n), "no NaN may escape normalization")
}

func TestNormalizeNestedMetricObjects(t *testing.T) {
	raw := payload(t, map[string]string{
		"twitter": `{"publicMetrics": {"likeCount": 12, "retweetCount": 3}, "impressionCount": 400}`,
	})

	n := Normalize(raw, "post-1")

	tw := n.PerPlatform["twitter"]
	require.NotNil(t, tw.Likes)
	assert.Equal(t, 12.0, *tw.Likes)
	require.NotNil(t, tw.Shares)
	assert.Equal(t, 3.0, *tw.Shares)
	require.NotNil(t, tw.Views)
	assert.Equal(t, 400.0, *tw.Views)
}

func TestEngagementRate(t *testing.T) {
	raw := payload(t, map[string]string{
		"youtube": `{"views": 1000, "likes": 50, "comments": 20, "shares": 10}`,
	})

	n := Normalize(raw, "post-1")

	// (50+20+10)/1000*100 = 8.00
	assert.Equal(t, 8.0, n.PerPlatform["youtube"].EngagementRate)
	assert.Equal(t, 8.0, n.Aggregated.EngagementRate)
}

func TestEngagementRateZeroViews(t *testing.T) {
	raw := payload(t, map[string]string{
		"instagram": `{"views": 0, "likes": 5}`,
	})

	n := Normalize(raw, "post-1")

	assert.Equal(t, 0.0, n.PerPlatform["instagram"].EngagementRate, "views=0 must not divide")
	assert.Equal(t, 0.0, n.Aggregated.EngagementRate)
}

func TestEngagementRateRounding(t *testing.T) {
	raw := payload(t, map[string]string{
		"facebook": `{"impressions": 300, "reactions": 10}`,
	})

	n := Normalize(raw, "post-1")

	// 10/300*100 = 3.333... rounds to 3.33
	assert.Equal(t, 3.33, n.PerPlatform["facebook"].EngagementRate)
}

func TestNormalizeMalformedPlatformSkipped(t *testing.T) {
	raw := payload(t, map[string]string{
		"twitter": `{"impressionCount": 100}`,
		"broken":  `["not", "an", "object"]`,
	})

	n := Normalize(raw, "post-1")

	assert.Len(t, n.PerPlatform, 1)
	assert.Contains(t, n.PerPlatform, "twitter")
	assert.Equal(t, 100.0, n.Aggregated.Views)
}

func TestNormalizeEmptyPayload(t *testing.T) {
	n := Normalize(map[string]json.RawMessage{}, "post-1")

	assert.Empty(t, n.PerPlatform)
	assert.Equal(t, 0.0, n.Aggregated.Views)
	assert.Equal(t, 0.0, n.Aggregated.EngagementRate)
}

func anyNaN(n *models.PostAnalytics) bool {
	for _, pm := range n.PerPlatform {
		for _, v := range []*float64{pm.Views, pm.Likes, pm.Comments, pm.Shares, pm.Reach, pm.Clicks} {
			if v != nil && *v != *v {
				return true
			}
		}
	}
	return false
}
