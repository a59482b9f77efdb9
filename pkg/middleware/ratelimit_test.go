package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 20, time.Minute)

	if rl.rps != 10 {
		t.Errorf("RPS = %d, want 10", rl.rps)
	}

	if rl.burst != 20 {
		t.Errorf("Burst = %d, want 20", rl.burst)
	}

	if rl.limiters == nil {
		t.Error("Limiters map is nil")
	}
}

func TestNewRateLimiter_DefaultsIdleTimeout(t *testing.T) {
	rl := NewRateLimiter(10, 20, 0)
	if rl.idleTimeout != defaultIdleTimeout {
		t.Errorf("idleTimeout = %v, want default %v", rl.idleTimeout, defaultIdleTimeout)
	}
}

func TestRateLimiter_GetLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 20, time.Minute)

	ip := "192.168.1.1"

	// First call should create a new limiter.
	limiter1 := rl.getLimiter(ip)
	if limiter1 == nil {
		t.Fatal("Limiter is nil")
	}

	// Second call should return the same limiter.
	limiter2 := rl.getLimiter(ip)
	if limiter1 != limiter2 {
		t.Error("Different limiters returned for same IP")
	}

	// Different IP should get different limiter.
	limiter3 := rl.getLimiter("192.168.1.2")
	if limiter1 == limiter3 {
		t.Error("Same limiter returned for different IP")
	}
}

func TestRateLimiter_CleanupPurgesOnlyIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(10, 20, 50*time.Millisecond)

	rl.getLimiter("192.168.1.1")
	time.Sleep(100 * time.Millisecond)
	rl.getLimiter("192.168.1.2") // touched recently, should survive

	rl.Cleanup()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if _, ok := rl.limiters["192.168.1.1"]; ok {
		t.Error("expected idle bucket for 192.168.1.1 to be purged")
	}
	if _, ok := rl.limiters["192.168.1.2"]; !ok {
		t.Error("expected recently-touched bucket for 192.168.1.2 to survive")
	}
}

func TestRateLimiter_GetLimiterRefreshesLastAccess(t *testing.T) {
	rl := NewRateLimiter(10, 20, 50*time.Millisecond)

	rl.getLimiter("192.168.1.1")
	time.Sleep(30 * time.Millisecond)
	rl.getLimiter("192.168.1.1") // keep it alive
	time.Sleep(30 * time.Millisecond)

	rl.Cleanup()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if _, ok := rl.limiters["192.168.1.1"]; !ok {
		t.Error("expected repeatedly-touched bucket to survive cleanup")
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(2, 2, time.Minute)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("success"))
	})

	rateLimitedHandler := rl.Middleware(handler)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "192.168.1.1:1234"

		rr := httptest.NewRecorder()
		rateLimitedHandler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("Request %d: expected status 200, got %d", i+1, rr.Code)
		}
	}

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.168.1.1:1234"

	rr := httptest.NewRecorder()
	rateLimitedHandler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", rr.Code)
	}
}

func TestRateLimiter_MiddlewareDifferentIPs(t *testing.T) {
	rl := NewRateLimiter(1, 1, time.Minute)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rateLimitedHandler := rl.Middleware(handler)

	req1 := httptest.NewRequest("GET", "/test", nil)
	req1.RemoteAddr = "192.168.1.1:1234"
	rr1 := httptest.NewRecorder()
	rateLimitedHandler.ServeHTTP(rr1, req1)

	if rr1.Code != http.StatusOK {
		t.Errorf("Request from IP1: expected status 200, got %d", rr1.Code)
	}

	req2 := httptest.NewRequest("GET", "/test", nil)
	req2.RemoteAddr = "192.168.1.2:1234"
	rr2 := httptest.NewRecorder()
	rateLimitedHandler.ServeHTTP(rr2, req2)

	if rr2.Code != http.StatusOK {
		t.Errorf("Request from IP2: expected status 200, got %d", rr2.Code)
	}

	req3 := httptest.NewRequest("GET", "/test", nil)
	req3.RemoteAddr = "192.168.1.1:1234"
	rr3 := httptest.NewRecorder()
	rateLimitedHandler.ServeHTTP(rr3, req3)

	if rr3.Code != http.StatusTooManyRequests {
		t.Errorf("Second request from IP1: expected status 429, got %d", rr3.Code)
	}
}

func TestRateLimiter_MiddlewareWithRefill(t *testing.T) {
	rl := NewRateLimiter(10, 1, time.Minute)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rateLimitedHandler := rl.Middleware(handler)

	req1 := httptest.NewRequest("GET", "/test", nil)
	req1.RemoteAddr = "192.168.1.1:1234"
	rr1 := httptest.NewRecorder()
	rateLimitedHandler.ServeHTTP(rr1, req1)

	if rr1.Code != http.StatusOK {
		t.Errorf("First request: expected status 200, got %d", rr1.Code)
	}

	req2 := httptest.NewRequest("GET", "/test", nil)
	req2.RemoteAddr = "192.168.1.1:1234"
	rr2 := httptest.NewRecorder()
	rateLimitedHandler.ServeHTTP(rr2, req2)

	if rr2.Code != http.StatusTooManyRequests {
		t.Errorf("Second request: expected status 429, got %d", rr2.Code)
	}

	time.Sleep(150 * time.Millisecond)

	req3 := httptest.NewRequest("GET", "/test", nil)
	req3.RemoteAddr = "192.168.1.1:1234"
	rr3 := httptest.NewRecorder()
	rateLimitedHandler.ServeHTTP(rr3, req3)

	if rr3.Code != http.StatusOK {
		t.Errorf("Third request after refill: expected status 200, got %d", rr3.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name          string
		remoteAddr    string
		xForwardedFor string
		xRealIP       string
		expectedIP    string
	}{
		{
			name:       "From RemoteAddr",
			remoteAddr: "192.168.1.1:1234",
			expectedIP: "192.168.1.1:1234",
		},
		{
			name:       "From X-Real-IP",
			remoteAddr: "192.168.1.1:1234",
			xRealIP:    "10.0.0.1",
			expectedIP: "10.0.0.1",
		},
		{
			name:          "From X-Forwarded-For",
			remoteAddr:    "192.168.1.1:1234",
			xForwardedFor: "10.0.0.1",
			expectedIP:    "10.0.0.1",
		},
		{
			name:          "X-Forwarded-For takes precedence",
			remoteAddr:    "192.168.1.1:1234",
			xForwardedFor: "10.0.0.1",
			xRealIP:       "10.0.0.2",
			expectedIP:    "10.0.0.1",
		},
		{
			name:          "X-Forwarded-For uses only the first hop",
			remoteAddr:    "192.168.1.1:1234",
			xForwardedFor: "10.0.0.1, 10.0.0.2, 10.0.0.3",
			expectedIP:    "10.0.0.1",
		},
		{
			name:          "X-Forwarded-For trims whitespace",
			remoteAddr:    "192.168.1.1:1234",
			xForwardedFor: "  10.0.0.1  ,10.0.0.2",
			expectedIP:    "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = tt.remoteAddr

			if tt.xForwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}

			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			ip := getClientIP(req)
			if ip != tt.expectedIP {
				t.Errorf("getClientIP() = %s, want %s", ip, tt.expectedIP)
			}
		})
	}
}
