package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/watchparty/internal/proto"
)

type frame struct {
	env *proto.Envelope
	err error
}

type fakeConn struct {
	in     chan frame
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent []*proto.Envelope
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan frame, 16), closed: make(chan struct{})}
}

func (c *fakeConn) push(env *proto.Envelope) { c.in <- frame{env: env} }

func (c *fakeConn) Send(_ context.Context, env *proto.Envelope) error {
	select {
	case <-c.closed:
		return fmt.Errorf("%w: %w", ErrTransport, ErrClosed)
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *env
	c.sent = append(c.sent, &cp)
	return nil
}

func (c *fakeConn) Recv(ctx context.Context) (*proto.Envelope, error) {
	select {
	case f := <-c.in:
		return f.env, f.err
	case <-c.closed:
		return nil, fmt.Errorf("%w: %w", ErrTransport, ErrClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, env := range c.sent {
		out[i] = env.Type
	}
	return out
}

type fakeTransport struct {
	mu      sync.Mutex
	dials   int
	fail    bool
	conns   []*fakeConn
	evicted []string
}

func (t *fakeTransport) Dial(context.Context, string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) Evict(_ context.Context, roomID, participantID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evicted = append(t.evicted, roomID+"/"+participantID)
	return nil
}

func (t *fakeTransport) evictions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.evicted...)
}

func (t *fakeTransport) setFail(v bool) {
	t.mu.Lock()
	t.fail = v
	t.mu.Unlock()
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.conns) {
		return nil
	}
	return t.conns[i]
}

// recorder collects envelopes delivered to handlers.
type recorder struct {
	mu     sync.Mutex
	events []*proto.Envelope
}

func (r *recorder) handle(env *proto.Envelope) {
	r.mu.Lock()
	r.events = append(r.events, env)
	r.mu.Unlock()
}

func (r *recorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, env := range r.events {
		if env.Type == kind {
			n++
		}
	}
	return n
}

func (r *recorder) last(kind string) *proto.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == kind {
			return r.events[i]
		}
	}
	return nil
}

func (r *recorder) on(s *Service, kinds ...string) {
	for _, k := range kinds {
		s.On(k, r.handle)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
