package security

import (
	"fmt"
	"testing"

	"golang.org/x/time/rate"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 2)
	defer rl.Stop()

	ip := "127.0.0.1"

	if !rl.Allow(ip) {
		t.Error("first request should be allowed")
	}
	if !rl.Allow(ip) {
		t.Error("second request (burst) should be allowed")
	}
	if rl.Allow(ip) {
		t.Error("third request should be denied (burst exhausted)")
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)
	defer rl.Stop()

	if !rl.Allow("127.0.0.1") {
		t.Error("caller A first request should be allowed")
	}
	if rl.Allow("127.0.0.1") {
		t.Error("caller A second request should be denied")
	}
	if !rl.Allow("127.0.0.2") {
		t.Error("caller B first request should be allowed")
	}
}

func TestRateLimiterMaxEntries(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 10)
	defer rl.Stop()

	rl.mu.Lock()
	rl.maxEntries = 3
	rl.mu.Unlock()

	for i := 0; i < 3; i++ {
		ip := fmt.Sprintf("127.0.0.%d", i+1)
		if !rl.Allow(ip) {
			t.Errorf("caller %s should be allowed (map not full)", ip)
		}
	}

	if rl.Allow("127.0.0.100") {
		t.Error("should reject new caller when map is at capacity")
	}

	if !rl.Allow("127.0.0.1") {
		t.Error("existing caller should still be allowed")
	}
}

func TestRateLimiterStop(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)
	rl.Stop() // should not panic or deadlock
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"127.0.0.1:12345", "127.0.0.1"},
		{"[::1]:12345", "::1"},
		{"127.0.0.1", "127.0.0.1"},
	}
	for _, tt := range tests {
		if got := ExtractClientIP(tt.addr); got != tt.want {
			t.Errorf("ExtractClientIP(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}
