package party

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/watchparty/internal/client"
	"github.com/vovakirdan/watchparty/internal/proto"
)

type call struct {
	op   string
	room string
	at   float64
	text string
}

type entry struct {
	id client.ListenerID
	fn client.Handler
}

// fakeSession mimics client.Service: Connect emits connected, Leave emits disconnected.
type fakeSession struct {
	mu         sync.Mutex
	handlers   map[string][]entry
	next       client.ListenerID
	calls      []call
	connectErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{handlers: make(map[string][]entry)}
}

func (f *fakeSession) On(kind string, h client.Handler) client.ListenerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.handlers[kind] = append(f.handlers[kind], entry{id: f.next, fn: h})
	return f.next
}

func (f *fakeSession) Off(kind string, id client.ListenerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	es := f.handlers[kind]
	for i, e := range es {
		if e.id == id {
			f.handlers[kind] = append(es[:i:i], es[i+1:]...)
			return
		}
	}
}

func (f *fakeSession) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, es := range f.handlers {
		n += len(es)
	}
	return n
}

func (f *fakeSession) emit(env *proto.Envelope) {
	f.mu.Lock()
	es := append([]entry(nil), f.handlers[env.Type]...)
	f.mu.Unlock()
	for _, e := range es {
		e.fn(env)
	}
}

func (f *fakeSession) record(c call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeSession) callsOf(op string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeSession) Connect(_ context.Context, roomID, _, _ string) error {
	f.record(call{op: "connect", room: roomID})
	if f.connectErr != nil {
		return f.connectErr
	}
	f.emit(&proto.Envelope{Type: client.EventConnected, RoomID: roomID})
	return nil
}

func (f *fakeSession) CreateRoom(_ context.Context, roomID string, _ int64) error {
	f.record(call{op: "create", room: roomID})
	return nil
}

func (f *fakeSession) JoinRoom(_ context.Context, roomID string) error {
	f.record(call{op: "join", room: roomID})
	return nil
}

func (f *fakeSession) Play(_ context.Context, roomID string, t float64) error {
	f.record(call{op: proto.TypePlay, room: roomID, at: t})
	return nil
}

func (f *fakeSession) Pause(_ context.Context, roomID string, t float64) error {
	f.record(call{op: proto.TypePause, room: roomID, at: t})
	return nil
}

func (f *fakeSession) Seek(_ context.Context, roomID string, t float64) error {
	f.record(call{op: proto.TypeSeek, room: roomID, at: t})
	return nil
}

func (f *fakeSession) SendChat(_ context.Context, roomID, text string) error {
	f.record(call{op: proto.TypeChat, room: roomID, text: text})
	return nil
}

func (f *fakeSession) Leave(context.Context) error {
	f.record(call{op: "leave"})
	f.emit(&proto.Envelope{Type: client.EventDisconnected})
	return nil
}

type fakeMedia struct {
	mu    sync.Mutex
	kind  MediaKind
	at    float64
	seeks []float64
}

func (m *fakeMedia) Kind() MediaKind { return m.kind }

func (m *fakeMedia) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.at
}

func (m *fakeMedia) Seek(t float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.at = t
	m.seeks = append(m.seeks, t)
}

func (m *fakeMedia) seekCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seeks)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// joined returns a reconciler that has joined room "abc" and received its snapshot.
func joined(t *testing.T, fs *fakeSession, cfg Config) *Reconciler {
	t.Helper()
	if cfg.UserID == "" {
		cfg.UserID = "u1"
		cfg.UserName = "Ann"
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewMock()
	}
	r := NewReconciler(fs, nil, cfg)
	t.Cleanup(func() { _ = r.Leave(context.Background()) })
	if err := r.Join(context.Background(), "abc"); err != nil {
		t.Fatalf("join: %v", err)
	}
	fs.emit(&proto.Envelope{
		Type:   proto.TypeRoomJoined,
		RoomID: "abc",
		RoomInfo: &proto.RoomInfo{
			RoomID: "abc",
			Participants: []proto.Participant{
				{ID: "h", Name: "Host", IsHost: true},
				{ID: cfg.UserID, Name: cfg.UserName},
			},
		},
	})
	if st := r.State(); st.Phase != PhaseConnected {
		t.Fatalf("expected connected after room-joined, got %s", st.Phase)
	}
	return r
}
