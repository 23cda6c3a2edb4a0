package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"playloop/internal/core/domain"
	"playloop/pkg/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Test that when rate limiting is disabled, middleware lets all requests through.
func TestHTTPRateLimitMiddleware_Disabled_AllowsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false

	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i, w.Code)
		}
	}
}

// Test basic per-IP rate limiting behaviour.
func TestHTTPRateLimitMiddleware_Enabled_RateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.RequestsPerSecond = 1
	cfg.RateLimiting.Burst = 1
	cfg.RateLimiting.MaxConcurrent = 0

	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w1 := httptest.NewRecorder()
	req1, _ := http.NewRequest(http.MethodGet, "/test", nil)
	router.ServeHTTP(w1, req1)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected status 200 for first request, got %d", w1.Code)
	}

	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest(http.MethodGet, "/test", nil)
	router.ServeHTTP(w2, req2)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 for second request, got %d", w2.Code)
	}
	if w2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on 429")
	}
}

// Sessions sharing an address get separate budgets.
func TestHTTPRateLimitMiddleware_KeyedBySession(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.RequestsPerSecond = 1
	cfg.RateLimiting.Burst = 1

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(sessionIDKey, domain.SessionID(c.Query("s")))
		c.Next()
	})
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for _, s := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/test?s="+s, nil)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("session %s: expected status 200, got %d", s, w.Code)
		}
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test?s=a", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 for repeated session, got %d", w.Code)
	}
}

// Retry-After reflects how long the bucket needs to refill.
func TestRateLimit_RetryAfterFromRefill(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	limiters := newIngestLimiters(rate.Every(4*time.Second), 1, time.Minute)
	limiters.now = func() time.Time { return now }

	router := gin.New()
	router.Use(rateLimit(limiters, 0))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	send := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		router.ServeHTTP(w, req)
		return w
	}

	if w := send(); w.Code != http.StatusOK {
		t.Fatalf("expected status 200 for first request, got %d", w.Code)
	}

	now = now.Add(time.Second)
	w := send()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "3" {
		t.Fatalf("expected Retry-After 3, got %q", got)
	}

	// rejected requests do not consume tokens
	now = now.Add(3 * time.Second)
	if w := send(); w.Code != http.StatusOK {
		t.Fatalf("expected status 200 after refill, got %d", w.Code)
	}
}

func TestIngestLimiters_SweepsIdleBuckets(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	limiters := newIngestLimiters(rate.Limit(100), 10, time.Minute)
	limiters.now = func() time.Time { return now }

	limiters.reserve("session:old")
	now = now.Add(2 * time.Minute)
	for i := 1; i < limiterSweepEvery; i++ {
		limiters.reserve("session:live")
	}

	if n := limiters.size(); n != 1 {
		t.Fatalf("expected idle bucket to be swept, got %d buckets", n)
	}
}
