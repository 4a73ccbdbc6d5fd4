// Package reconciler merges the authoritative local post records with the
// distribution provider's (cached) history into one consistent view. Local
// rows are the source of truth for status and ownership; the external
// history only enriches posts that already carry an external identifier.
package reconciler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"postdeck/pkg/cache"
	"postdeck/pkg/clients/ayrshare"
	"postdeck/pkg/crypto"
	"postdeck/pkg/logging"
	"postdeck/pkg/models"
)

// HistoryClient is the subset of the distribution API the reconciler needs.
type HistoryClient interface {
	GetHistory(ctx context.Context, profileKey string, lastDays int) ([]ayrshare.HistoryItem, error)
}

// Reconciler builds unified schedule views for workspaces.
type Reconciler struct {
	db          *sql.DB
	client      HistoryClient
	cache       *cache.Cache
	logger      logging.Logger
	encryptor   *crypto.FieldEncryptor
	historyDays int
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithEncryptor sets the encryptor used to decrypt stored profile API keys.
func WithEncryptor(fe *crypto.FieldEncryptor) Option {
	return func(r *Reconciler) { r.encryptor = fe }
}

// New creates a Reconciler. cache bounds call volume against the provider;
// it is best-effort and never a source of truth.
func New(db *sql.DB, client HistoryClient, historyCache *cache.Cache, logger logging.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		db:          db,
		client:      client,
		cache:       historyCache,
		logger:      logger,
		historyDays: 30,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ErrWorkspaceNotFound is returned when the workspace row does not exist.
var ErrWorkspaceNotFound = errors.New("workspace not found")

// GetHistory returns the provider-side post history for a profile, served
// from cache within its TTL. A provider failure degrades to an empty
// history rather than failing the read.
func (r *Reconciler) GetHistory(ctx context.Context, profileRef, profileKey string) []models.HistoryItem {
	val, ok, err := r.cache.Get(ctx, profileRef, func(ctx context.Context, _ string) (interface{}, bool, error) {
		items, err := r.client.GetHistory(ctx, profileKey, r.historyDays)
		if err != nil {
			return nil, false, err
		}
		return convertHistory(items), true, nil
	})
	if err != nil {
		r.logger.WithFields(logging.Fields{
			"profile_ref": profileRef,
			"error":       err.Error(),
		}).Warn("History fetch failed, serving schedule without enrichment")
		return nil
	}
	if !ok {
		return nil
	}
	return val.([]models.HistoryItem)
}

// Invalidate drops the cached history for a profile. Called synchronously
// by any local mutation that changes what the external history should
// reflect, so a known-invalid entry is never served.
func (r *Reconciler) Invalidate(profileRef string) {
	r.cache.Invalidate(profileRef)
}

// GetUnifiedSchedule returns the workspace's posts enriched with provider
// history, grouped by lifecycle status with counts. statusFilter narrows
// the result to one status when non-empty.
func (r *Reconciler) GetUnifiedSchedule(ctx context.Context, workspaceID, statusFilter string) (*models.UnifiedSchedule, error) {
	var profileRef, profileKey sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT profile_ref, profile_secondary_ref
		FROM herald.workspaces
		WHERE id = $1
	`, workspaceID).Scan(&profileRef, &profileKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}

	posts, err := r.loadPosts(ctx, workspaceID, statusFilter)
	if err != nil {
		return nil, err
	}

	// History only enriches; a workspace without a real profile has
	// nothing external to merge.
	var history []models.HistoryItem
	if profileRef.Valid && !models.IsPlaceholderProfileRef(profileRef.String) {
		key := profileKey.String
		if key == "" {
			key = profileRef.String
		}
		if r.encryptor != nil {
			decrypted, err := r.encryptor.Decrypt(key)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt profile key: %w", err)
			}
			key = decrypted
		}
		history = r.GetHistory(ctx, profileRef.String, key)
	}

	return merge(posts, history), nil
}

func (r *Reconciler) loadPosts(ctx context.Context, workspaceID, statusFilter string) ([]models.Post, error) {
	query := `
		SELECT id, workspace_id, caption, platforms, scheduled_at, status,
		       external_post_id, last_error, analytics, analytics_updated_at,
		       created_at, updated_at
		FROM herald.posts
		WHERE workspace_id = $1`
	args := []interface{}{workspaceID}
	if statusFilter != "" {
		query += ` AND status = $2`
		args = append(args, statusFilter)
	}
	query += ` ORDER BY scheduled_at ASC NULLS LAST, created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		var p models.Post
		if err := rows.Scan(
			&p.ID, &p.WorkspaceID, &p.Caption, &p.Platforms, &p.ScheduledAt, &p.Status,
			&p.ExternalPostID, &p.LastError, &p.Analytics, &p.AnalyticsUpdatedAt,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read posts: %w", err)
	}
	return posts, nil
}

// merge joins local posts with external history by external post id. Build
// a lookup of history items, then one pass over the posts: O(n+m), never a
// nested loop. The external view never creates, deletes, or re-statuses
// local rows.
func merge(posts []models.Post, history []models.HistoryItem) *models.UnifiedSchedule {
	byExternalID := make(map[string]*models.HistoryItem, len(history))
	for i := range history {
		byExternalID[history[i].ID] = &history[i]
	}

	schedule := &models.UnifiedSchedule{
		Grouped: make(map[string][]models.ReconciledPost),
		Counts:  make(map[string]int),
	}
	for _, p := range posts {
		rp := models.ReconciledPost{Post: p}
		if p.ExternalPostID != nil {
			if item, ok := byExternalID[*p.ExternalPostID]; ok {
				rp.AyrshareData = item
			}
		}
		schedule.Grouped[p.Status] = append(schedule.Grouped[p.Status], rp)
		schedule.Counts[p.Status]++
		schedule.Total++
	}
	return schedule
}

func convertHistory(items []ayrshare.HistoryItem) []models.HistoryItem {
	out := make([]models.HistoryItem, 0, len(items))
	for _, item := range items {
		converted := models.HistoryItem{
			ID:        item.ID,
			Status:    item.Status,
			Platforms: item.Platforms,
			PostedAt:  item.Created,
		}
		for _, e := range item.Errors {
			converted.Errors = append(converted.Errors, fmt.Sprint(e))
		}
		out = append(out, converted)
	}
	return out
}
