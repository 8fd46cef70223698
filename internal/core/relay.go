package core

import "sync"

// PublishResult reports how a fan-out went.
type PublishResult struct {
	Sent    int
	Dropped []Handle
}

// Relay delivers events to connections by handle.
type Relay interface {
	Publish(targets []Handle, ev *Event) PublishResult
}

// ClientRelay maps handles to live clients and sends without blocking.
type ClientRelay struct {
	mu      sync.RWMutex
	clients map[Handle]*Client
}

// NewClientRelay creates an empty relay.
func NewClientRelay() *ClientRelay {
	return &ClientRelay{clients: make(map[Handle]*Client)}
}

// Attach makes a client reachable by its handle.
func (r *ClientRelay) Attach(c *Client) {
	r.mu.Lock()
	r.clients[c.Handle] = c
	r.mu.Unlock()
}

// Detach removes a client. Once it returns no further sends reach the client.
func (r *ClientRelay) Detach(h Handle) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.clients[h]
	delete(r.clients, h)
	return c
}

// Len returns the number of attached clients.
func (r *ClientRelay) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Publish sends ev to each target independently. A full or unknown target is dropped.
func (r *ClientRelay) Publish(targets []Handle, ev *Event) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res PublishResult
	for _, h := range targets {
		if r.trySend(h, ev) {
			res.Sent++
		} else {
			res.Dropped = append(res.Dropped, h)
		}
	}
	return res
}

// Send delivers a direct reply to one handle.
func (r *ClientRelay) Send(h Handle, ev *Event) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trySend(h, ev)
}

func (r *ClientRelay) trySend(h Handle, ev *Event) bool {
	c, ok := r.clients[h]
	if !ok {
		return false
	}
	select {
	case c.Events <- ev:
		return true
	default:
		// Drop if slow consumer.
		return false
	}
}

// Discard is a Relay that delivers nothing.
type Discard struct{}

func (Discard) Publish(targets []Handle, _ *Event) PublishResult {
	return PublishResult{Dropped: targets}
}
