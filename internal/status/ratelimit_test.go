package status

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Errorf("request %d should be allowed within burst", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request over burst should be denied")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("other IP should have its own budget")
	}
	if rl.Count() != 2 {
		t.Errorf("Count() = %d, want 2", rl.Count())
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	defer rl.Stop()
	rl.entryTTL = time.Millisecond

	rl.Allow("10.0.0.1")
	time.Sleep(5 * time.Millisecond)
	rl.cleanup()

	if rl.Count() != 0 {
		t.Errorf("Count() = %d after cleanup, want 0", rl.Count())
	}
}

func TestRateLimiterStopTwice(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.Stop()
	rl.Stop()
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/nodes", nil)
	req.RemoteAddr = "192.168.1.5:5555"
	if got := clientIP(req); got != "192.168.1.5" {
		t.Errorf("clientIP() = %v, want 192.168.1.5", got)
	}
	req.RemoteAddr = "bogus"
	if got := clientIP(req); got != "bogus" {
		t.Errorf("clientIP() = %v, want bogus", got)
	}
}
