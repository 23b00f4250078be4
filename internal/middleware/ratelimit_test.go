package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimiterPerIP(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, time.Minute)
	rl.now = func() time.Time { return now }

	r := gin.New()
	r.POST("/start", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	hit := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/start", nil)
		req.RemoteAddr = ip + ":5000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 3; i++ {
		if code := hit("10.0.0.1"); code != http.StatusNoContent {
			t.Fatalf("request %d: status %d", i, code)
		}
	}
	if code := hit("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("fourth request: status %d, want 429", code)
	}
	if code := hit("10.0.0.2"); code != http.StatusNoContent {
		t.Fatalf("other ip: status %d", code)
	}

	now = now.Add(20 * time.Second)
	if code := hit("10.0.0.1"); code != http.StatusNoContent {
		t.Fatalf("after refill: status %d", code)
	}

	now = now.Add(10 * time.Minute)
	rl.Cleanup()
	if len(rl.visitors) != 0 {
		t.Fatalf("visitors after cleanup = %d", len(rl.visitors))
	}
}
