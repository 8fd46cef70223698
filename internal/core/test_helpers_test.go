package core

import (
	"sync"
	"testing"
	"time"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// mustNoEvent fails if an event of kind shows up within the wait window.
func mustNoEvent(t *testing.T, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event kind %v: %+v", kind, ev)
			}
		case <-timer.C:
			return
		}
	}
}

type published struct {
	targets []Handle
	ev      *Event
}

// recordingRelay captures every publish for assertions.
type recordingRelay struct {
	mu  sync.Mutex
	log []published
}

func (r *recordingRelay) Publish(targets []Handle, ev *Event) PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := append([]Handle(nil), targets...)
	r.log = append(r.log, published{targets: cp, ev: ev})
	return PublishResult{Sent: len(targets)}
}

func (r *recordingRelay) ofKind(kind EventKind) []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []published
	for _, p := range r.log {
		if p.ev.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}
