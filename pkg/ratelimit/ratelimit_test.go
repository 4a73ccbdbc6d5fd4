package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestMemoryStoreWindowReset(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		count, err := store.Increment(ctx, "key", time.Minute)
		if err != nil {
			t.Fatalf("Increment: %v", err)
		}
		if count != i {
			t.Fatalf("expected count %d, got %d", i, count)
		}
	}

	// Advance past the window; the counter starts over.
	now = now.Add(61 * time.Second)
	count, err := store.Increment(ctx, "key", time.Minute)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected fresh window count 1, got %d", count)
	}
}

func TestLimiterAllowsWithinLimit(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, "ip-1")
		if err != nil || !allowed {
			t.Fatalf("request %d should be allowed: allowed=%v err=%v", i+1, allowed, err)
		}
	}

	allowed, err := limiter.Allow(ctx, "ip-1")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed {
		t.Fatal("third request should be rejected")
	}

	// Other keys are independent.
	allowed, _ = limiter.Allow(ctx, "ip-2")
	if !allowed {
		t.Fatal("different key should be allowed")
	}
}

type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("store unavailable")
}

func TestLimiterFailsOpen(t *testing.T) {
	limiter := NewLimiter(failingStore{}, 1, time.Minute)
	allowed, err := limiter.Allow(context.Background(), "key")
	if err == nil {
		t.Fatal("expected store error to surface")
	}
	if !allowed {
		t.Fatal("store failure must not block the request")
	}
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewLimiter(NewMemoryStore(), 1, time.Minute)

	router := gin.New()
	router.Use(Middleware(limiter, func(c *gin.Context) string { return "fixed" }, nil))
	router.POST("/webhook", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"received": true})
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/webhook", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/webhook", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", second.Code)
	}
}
