package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"postdeck/internal/ledger"
)

func setupReplayTest(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		mockDB.Close()
		db = nil
		eventLedger = nil
	})

	testLogger := logrus.New()
	testLogger.SetLevel(logrus.ErrorLevel)

	db = mockDB
	logger = testLogger
	metrics = nil
	eventLedger = ledger.New(mockDB, testLogger)

	return mock
}

func performReplay(provider, eventID string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router := gin.New()
	router.DELETE("/admin/events/:provider/:event_id", ReplayEvent)

	req := httptest.NewRequest(http.MethodDelete, "/admin/events/"+provider+"/"+eventID, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestReplayEventForgetsRecord(t *testing.T) {
	mock := setupReplayTest(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(ledger.ProviderStripe, "evt_1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(`DELETE FROM herald\.processed_events`).
		WithArgs(ledger.ProviderStripe, "evt_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := performReplay("stripe", "evt_1")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReplayEventUnknownIDNotFound(t *testing.T) {
	mock := setupReplayTest(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(ledger.ProviderStripe, "evt_missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	w := performReplay("stripe", "evt_missing")

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown event, got %d", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
