package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDAssignedAndEchoed(t *testing.T) {
	env := startTestServer(t)

	resp := httptest.NewRecorder()
	env.server.Handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if id := resp.Header().Get(requestIDHeader); len(id) != 36 {
		t.Fatalf("expected generated uuid request id, got %q", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/missing", nil)
	req.Header.Set(requestIDHeader, "trace-123")
	resp = httptest.NewRecorder()
	env.server.Handler.ServeHTTP(resp, req)
	if got := resp.Header().Get(requestIDHeader); got != "trace-123" {
		t.Fatalf("incoming request id not kept, got %q", got)
	}
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
