package http

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestRateLimiterWindow(t *testing.T) {
	mock := clock.NewMock()
	rl := newRateLimiter(3, mock)

	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("frame %d rejected inside the limit", i)
		}
	}
	if rl.allow() {
		t.Fatal("fourth frame in the window was allowed")
	}

	mock.Add(59 * time.Second)
	if rl.allow() {
		t.Fatal("window reset early")
	}

	mock.Add(time.Second)
	if !rl.allow() {
		t.Fatal("frame rejected after the window expired")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := newRateLimiter(0, clock.NewMock())
	for i := 0; i < 1000; i++ {
		if !rl.allow() {
			t.Fatal("disabled limiter rejected a frame")
		}
	}
}
