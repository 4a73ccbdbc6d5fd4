package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"postdeck/pkg/cache"
	"postdeck/pkg/clients/ayrshare"
	"postdeck/pkg/crypto"
)

type fakeHistoryClient struct {
	calls   int
	lastKey string
	history []ayrshare.HistoryItem
	err     error
}

func (f *fakeHistoryClient) GetHistory(_ context.Context, profileKey string, _ int) ([]ayrshare.HistoryItem, error) {
	f.calls++
	f.lastKey = profileKey
	if f.err != nil {
		return nil, f.err
	}
	return f.history, nil
}

func newTestReconciler(t *testing.T, client *fakeHistoryClient) (*Reconciler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	historyCache := cache.New(cache.Options{TTL: 2 * time.Minute, MaxEntries: 100}, cache.MetricsHooks{})
	return New(db, client, historyCache, logger), mock
}

func postColumns() []string {
	return []string{
		"id", "workspace_id", "caption", "platforms", "scheduled_at", "status",
		"external_post_id", "last_error", "analytics", "analytics_updated_at",
		"created_at", "updated_at",
	}
}

func addPostRow(rows *sqlmock.Rows, id, status string, externalID *string) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(
		id, "ws1", "caption "+id, pq.StringArray{"twitter"}, now, status,
		externalID, nil, nil, nil,
		now, now,
	)
}

func expectWorkspace(mock sqlmock.Sqlmock, profileRef, profileKey interface{}) {
	mock.ExpectQuery(`SELECT profile_ref, profile_secondary_ref`).
		WithArgs("ws1").
		WillReturnRows(sqlmock.NewRows([]string{"profile_ref", "profile_secondary_ref"}).
			AddRow(profileRef, profileKey))
}

func strPtr(s string) *string { return &s }

func TestGetUnifiedScheduleJoinsHistoryByExternalID(t *testing.T) {
	client := &fakeHistoryClient{history: []ayrshare.HistoryItem{
		{ID: "ext-a", Status: "success", Platforms: []string{"twitter"}},
		{ID: "ext-b", Status: "error", Errors: []any{"token expired"}},
		{ID: "ext-unrelated", Status: "success"},
	}}
	r, mock := newTestReconciler(t, client)

	expectWorkspace(mock, "profile-ref-1", "profile-key-1")
	rows := sqlmock.NewRows(postColumns())
	rows = addPostRow(rows, "p1", "posted", strPtr("ext-a"))
	rows = addPostRow(rows, "p2", "failed", strPtr("ext-b"))
	rows = addPostRow(rows, "p3", "scheduled", nil)
	mock.ExpectQuery(`SELECT id, workspace_id`).WithArgs("ws1").WillReturnRows(rows)

	schedule, err := r.GetUnifiedSchedule(context.Background(), "ws1", "")
	if err != nil {
		t.Fatalf("GetUnifiedSchedule: %v", err)
	}
	if schedule.Total != 3 {
		t.Fatalf("expected 3 posts, got %d", schedule.Total)
	}
	posted := schedule.Grouped["posted"]
	if len(posted) != 1 || posted[0].AyrshareData == nil || posted[0].AyrshareData.Status != "success" {
		t.Fatalf("posted post not enriched: %+v", posted)
	}
	failed := schedule.Grouped["failed"]
	if len(failed) != 1 || failed[0].AyrshareData == nil {
		t.Fatal("failed post not enriched")
	}
	if len(failed[0].AyrshareData.Errors) != 1 || failed[0].AyrshareData.Errors[0] != "token expired" {
		t.Fatalf("unexpected errors: %v", failed[0].AyrshareData.Errors)
	}
	scheduled := schedule.Grouped["scheduled"]
	if len(scheduled) != 1 || scheduled[0].AyrshareData != nil {
		t.Fatal("post without external id must stay unenriched")
	}
	if schedule.Counts["posted"] != 1 || schedule.Counts["failed"] != 1 || schedule.Counts["scheduled"] != 1 {
		t.Fatalf("unexpected counts: %v", schedule.Counts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetUnifiedScheduleHistoryFailureDegrades(t *testing.T) {
	client := &fakeHistoryClient{err: errors.New("provider down")}
	r, mock := newTestReconciler(t, client)

	expectWorkspace(mock, "profile-ref-1", "profile-key-1")
	rows := addPostRow(sqlmock.NewRows(postColumns()), "p1", "posted", strPtr("ext-a"))
	mock.ExpectQuery(`SELECT id, workspace_id`).WithArgs("ws1").WillReturnRows(rows)

	schedule, err := r.GetUnifiedSchedule(context.Background(), "ws1", "")
	if err != nil {
		t.Fatalf("history failure must not fail the read: %v", err)
	}
	if schedule.Total != 1 {
		t.Fatalf("expected 1 post, got %d", schedule.Total)
	}
	if schedule.Grouped["posted"][0].AyrshareData != nil {
		t.Fatal("expected unenriched post when history is unavailable")
	}
}

func TestGetUnifiedSchedulePlaceholderProfileSkipsProvider(t *testing.T) {
	client := &fakeHistoryClient{}
	r, mock := newTestReconciler(t, client)

	expectWorkspace(mock, "pending", nil)
	rows := addPostRow(sqlmock.NewRows(postColumns()), "p1", "scheduled", nil)
	mock.ExpectQuery(`SELECT id, workspace_id`).WithArgs("ws1").WillReturnRows(rows)

	if _, err := r.GetUnifiedSchedule(context.Background(), "ws1", ""); err != nil {
		t.Fatalf("GetUnifiedSchedule: %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("provider must not be called for a placeholder profile, got %d calls", client.calls)
	}
}

func TestGetUnifiedScheduleServesHistoryFromCache(t *testing.T) {
	client := &fakeHistoryClient{history: []ayrshare.HistoryItem{{ID: "ext-a", Status: "success"}}}
	r, mock := newTestReconciler(t, client)

	for i := 0; i < 2; i++ {
		expectWorkspace(mock, "profile-ref-1", "profile-key-1")
		rows := addPostRow(sqlmock.NewRows(postColumns()), "p1", "posted", strPtr("ext-a"))
		mock.ExpectQuery(`SELECT id, workspace_id`).WithArgs("ws1").WillReturnRows(rows)
	}

	first, err := r.GetUnifiedSchedule(context.Background(), "ws1", "")
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	second, err := r.GetUnifiedSchedule(context.Background(), "ws1", "")
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected one provider call within TTL, got %d", client.calls)
	}
	if first.Total != second.Total || first.Counts["posted"] != second.Counts["posted"] {
		t.Fatal("repeated reconciliation changed the result")
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	client := &fakeHistoryClient{history: []ayrshare.HistoryItem{{ID: "ext-a", Status: "success"}}}
	r, mock := newTestReconciler(t, client)

	for i := 0; i < 2; i++ {
		expectWorkspace(mock, "profile-ref-1", "profile-key-1")
		rows := addPostRow(sqlmock.NewRows(postColumns()), "p1", "posted", strPtr("ext-a"))
		mock.ExpectQuery(`SELECT id, workspace_id`).WithArgs("ws1").WillReturnRows(rows)
	}

	if _, err := r.GetUnifiedSchedule(context.Background(), "ws1", ""); err != nil {
		t.Fatalf("first read: %v", err)
	}
	r.Invalidate("profile-ref-1")
	if _, err := r.GetUnifiedSchedule(context.Background(), "ws1", ""); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("expected refetch after invalidation, got %d calls", client.calls)
	}
}

func TestGetUnifiedScheduleStatusFilter(t *testing.T) {
	client := &fakeHistoryClient{}
	r, mock := newTestReconciler(t, client)

	expectWorkspace(mock, nil, nil)
	rows := addPostRow(sqlmock.NewRows(postColumns()), "p1", "scheduled", nil)
	mock.ExpectQuery(`SELECT id, workspace_id`).WithArgs("ws1", "scheduled").WillReturnRows(rows)

	schedule, err := r.GetUnifiedSchedule(context.Background(), "ws1", "scheduled")
	if err != nil {
		t.Fatalf("GetUnifiedSchedule: %v", err)
	}
	if schedule.Total != 1 || len(schedule.Grouped["scheduled"]) != 1 {
		t.Fatalf("unexpected filtered schedule: %+v", schedule)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetUnifiedScheduleWorkspaceNotFound(t *testing.T) {
	r, mock := newTestReconciler(t, &fakeHistoryClient{})

	mock.ExpectQuery(`SELECT profile_ref, profile_secondary_ref`).
		WithArgs("ws1").
		WillReturnRows(sqlmock.NewRows([]string{"profile_ref", "profile_secondary_ref"}))

	if _, err := r.GetUnifiedSchedule(context.Background(), "ws1", ""); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Fatalf("expected ErrWorkspaceNotFound, got %v", err)
	}
}

func TestGetUnifiedScheduleDecryptsProfileKey(t *testing.T) {
	client := &fakeHistoryClient{}
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	encryptor, err := crypto.DeriveFieldEncryptor([]byte("test-master-secret"), "profile-keys")
	if err != nil {
		t.Fatalf("DeriveFieldEncryptor: %v", err)
	}
	stored, err := encryptor.Encrypt("profile-key-1")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	historyCache := cache.New(cache.Options{TTL: 2 * time.Minute, MaxEntries: 100}, cache.MetricsHooks{})
	r := New(db, client, historyCache, logger, WithEncryptor(encryptor))

	expectWorkspace(mock, "profile-ref-1", stored)
	mock.ExpectQuery(`SELECT id, workspace_id`).WithArgs("ws1").
		WillReturnRows(sqlmock.NewRows(postColumns()))

	if _, err := r.GetUnifiedSchedule(context.Background(), "ws1", ""); err != nil {
		t.Fatalf("GetUnifiedSchedule: %v", err)
	}
	if client.lastKey != "profile-key-1" {
		t.Fatalf("provider called with %q, want decrypted key", client.lastKey)
	}
}
