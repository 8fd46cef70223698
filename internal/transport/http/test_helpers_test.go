package http

import (
	"context"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/watchparty/internal/config"
	"github.com/vovakirdan/watchparty/internal/core"
	"github.com/vovakirdan/watchparty/internal/proto"
)

type testEnv struct {
	ts     *httptest.Server
	server *stdhttp.Server
	hub    *core.Hub
	wsURL  string
}

func startTestServer(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()

	logger := zerolog.Nop()
	relay := core.NewClientRelay()
	hub := core.NewHub(core.NewRegistry(relay), relay, &logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	for _, m := range mutate {
		m(&cfg)
	}

	server := NewServer(hub, &cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})

	return &testEnv{
		ts:     ts,
		server: server,
		hub:    hub,
		wsURL:  strings.Replace(ts.URL, "http", "ws", 1) + "/ws",
	}
}

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, env proto.Envelope) {
	t.Helper()
	if err := wsjson.Write(ctx, conn, env); err != nil {
		t.Fatalf("write %s: %v", env.Type, err)
	}
}

// mustRead returns the next envelope and fails if its type differs.
func mustRead(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) proto.Envelope {
	t.Helper()

	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var env proto.Envelope
	if err := wsjson.Read(readCtx, conn, &env); err != nil {
		t.Fatalf("read (want %s): %v", typ, err)
	}
	if env.Type != typ {
		t.Fatalf("expected %s, got %s: %+v", typ, env.Type, env)
	}
	return env
}
