// Package analytics maps the heterogeneous per-platform metric shapes the
// distribution provider returns into one canonical schema and aggregates it.
// Each platform spells the same concept differently and omits metrics it
// does not support; the normalizer preserves the difference between "not
// applicable" (null) and "measured as zero" (0).
package analytics

import (
	"encoding/json"
	"math"
	"strconv"

	"postdeck/pkg/models"
)

// Canonical metric names. Every platform payload is reduced to exactly this set.
const (
	MetricViews    = "views"
	MetricLikes    = "likes"
	MetricComments = "comments"
	MetricShares   = "shares"
	MetricReach    = "reach"
	MetricClicks   = "clicks"
)

var canonicalMetrics = []string{
	MetricViews, MetricLikes, MetricComments, MetricShares, MetricReach, MetricClicks,
}

// Field-name spellings per canonical metric, checked in order. Platform
// entries take precedence over the shared aliases.
var sharedAliases = map[string][]string{
	MetricViews:    {"views", "viewCount", "videoViews", "impressions", "impressionCount", "playCount", "plays"},
	MetricLikes:    {"likes", "likeCount", "favoriteCount", "favorites", "reactionCount", "diggCount"},
	MetricComments: {"comments", "commentCount", "commentsCount", "replyCount"},
	MetricShares:   {"shares", "shareCount", "retweetCount", "repostCount", "resharesCount"},
	MetricReach:    {"reach", "reachCount", "uniqueImpressions", "uniqueImpressionsCount"},
	MetricClicks:   {"clicks", "clickCount", "linkClicks", "websiteClicks"},
}

var platformAliases = map[string]map[string][]string{
	"twitter": {
		MetricViews:  {"impressionCount", "nonPublicMetrics.impressionCount"},
		MetricLikes:  {"publicMetrics.likeCount", "likeCount"},
		MetricShares: {"publicMetrics.retweetCount", "retweetCount"},
	},
	"instagram": {
		MetricViews: {"plays", "videoViews", "impressionsCount"},
		MetricReach: {"reachCount", "reach"},
	},
	"facebook": {
		MetricViews:  {"impressionsUnique", "postImpressions", "impressions"},
		MetricLikes:  {"reactions", "likeCount"},
		MetricClicks: {"postClicks", "clicks"},
	},
	"linkedin": {
		MetricViews:  {"impressionCount"},
		MetricLikes:  {"likeCount"},
		MetricShares: {"shareCount"},
		MetricClicks: {"clickCount"},
	},
	"tiktok": {
		MetricViews:  {"videoViews", "playCount"},
		MetricLikes:  {"diggCount", "likeCount"},
		MetricShares: {"shareCount"},
	},
	"youtube": {
		MetricViews:    {"views", "viewCount"},
		MetricLikes:    {"likes", "likeCount"},
		MetricComments: {"comments", "commentCount"},
	},
}

// Normalize reduces a raw provider payload (platform name to arbitrary metric
// object) to the canonical schema. Unknown platforms are normalized with the
// shared aliases; malformed platform objects are skipped rather than failing
// the whole payload.
func Normalize(raw map[string]json.RawMessage, postID string) *models.PostAnalytics {
	result := &models.PostAnalytics{
		PostID:      postID,
		PerPlatform: make(map[string]models.PlatformMetrics, len(raw)),
	}

	for platform, body := range raw {
		fields, ok := flattenPayload(body)
		if !ok {
			continue
		}
		pm := normalizePlatform(platform, fields)
		result.PerPlatform[platform] = pm

		result.Aggregated.Views += orZero(pm.Views)
		result.Aggregated.Likes += orZero(pm.Likes)
		result.Aggregated.Comments += orZero(pm.Comments)
		result.Aggregated.Shares += orZero(pm.Shares)
		result.Aggregated.Reach += orZero(pm.Reach)
		result.Aggregated.Clicks += orZero(pm.Clicks)
	}

	result.Aggregated.EngagementRate = engagementRate(
		result.Aggregated.Views,
		result.Aggregated.Likes,
		result.Aggregated.Comments,
		result.Aggregated.Shares,
	)
	return result
}

func normalizePlatform(platform string, fields map[string]any) models.PlatformMetrics {
	var pm models.PlatformMetrics
	for _, metric := range canonicalMetrics {
		val := lookupMetric(platform, metric, fields)
		switch metric {
		case MetricViews:
			pm.Views = val
		case MetricLikes:
			pm.Likes = val
		case MetricComments:
			pm.Comments = val
		case MetricShares:
			pm.Shares = val
		case MetricReach:
			pm.Reach = val
		case MetricClicks:
			pm.Clicks = val
		}
	}
	pm.EngagementRate = engagementRate(orZero(pm.Views), orZero(pm.Likes), orZero(pm.Comments), orZero(pm.Shares))
	return pm
}

// lookupMetric returns nil when no alias is present (metric not applicable)
// and a coerced value when one is. A present but non-numeric value coerces
// to zero instead of propagating a type error.
func lookupMetric(platform, metric string, fields map[string]any) *float64 {
	if aliases, ok := platformAliases[platform]; ok {
		for _, name := range aliases[metric] {
			if raw, present := fields[name]; present {
				v := coerceNumber(raw)
				return &v
			}
		}
	}
	for _, name := range sharedAliases[metric] {
		if raw, present := fields[name]; present {
			v := coerceNumber(raw)
			return &v
		}
	}
	return nil
}

// flattenPayload decodes a platform metric object and flattens nested objects
// one level deep using dotted keys, so aliases can address both top-level and
// wrapped spellings (e.g. "publicMetrics.likeCount").
func flattenPayload(body json.RawMessage) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, false
	}
	flat := make(map[string]any, len(obj))
	for key, val := range obj {
		if nested, ok := val.(map[string]any); ok {
			for nkey, nval := range nested {
				flat[key+"."+nkey] = nval
				if _, taken := flat[nkey]; !taken {
					flat[nkey] = nval
				}
			}
			continue
		}
		flat[key] = val
	}
	return flat, true
}

func coerceNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return n
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// engagementRate is (likes+comments+shares)/views*100 rounded to 2 decimals,
// defined as 0 when views is 0.
func engagementRate(views, likes, comments, shares float64) float64 {
	if views == 0 {
		return 0
	}
	return math.Round((likes+comments+shares)/views*100*100) / 100
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
