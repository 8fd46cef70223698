package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vovakirdan/watchparty/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t)

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Rooms != 0 {
		t.Fatalf("unexpected health: %+v", body)
	}
}

func TestRoomIntrospection(t *testing.T) {
	env := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA, _ := createAndJoin(t, ctx, env)
	send(t, ctx, connA, proto.Envelope{Type: proto.TypeSeek, RoomID: "xyz", UserID: "A", Data: &proto.Data{CurrentTime: proto.Float(120)}})

	// Seek has no reply to the sender; wait until the registry reflects it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap, _ := env.hub.Registry().Snapshot("xyz"); snap.Playback.CurrentTime == 120 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Test 1: list rooms
	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	resp := httptest.NewRecorder()
	env.server.Handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var list RoomListResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(list.Rooms) != 1 {
		t.Fatalf("expected 1 room, got %d", len(list.Rooms))
	}
	room := list.Rooms[0]
	if room.RoomID != "xyz" || room.Participants != 2 || room.State.CurrentTime != 120 || room.State.MediaID != 550 {
		t.Errorf("unexpected room summary: %+v", room)
	}

	// Test 2: single room snapshot
	req = httptest.NewRequest(http.MethodGet, "/api/rooms/xyz", nil)
	resp = httptest.NewRecorder()
	env.server.Handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var info proto.RoomInfo
	if err := json.Unmarshal(resp.Body.Bytes(), &info); err != nil {
		t.Fatalf("failed to unmarshal room: %v", err)
	}
	if len(info.Participants) != 2 || info.Participants[0].ID != "A" || !info.Participants[0].IsHost {
		t.Errorf("unexpected participants: %+v", info.Participants)
	}

	// Test 3: unknown room
	req = httptest.NewRequest(http.MethodGet, "/api/rooms/ghost", nil)
	resp = httptest.NewRecorder()
	env.server.Handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", resp.Code)
	}
	var errBody ErrorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errBody); err != nil || errBody.Error == "" {
		t.Errorf("expected error body, got %s", resp.Body.String())
	}

	// Introspection must not change anything.
	if s := env.hub.Registry().Stats(); s.Rooms != 1 || s.Participants != 2 {
		t.Errorf("introspection mutated state: %+v", s)
	}
}
