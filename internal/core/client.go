package core

import "github.com/google/uuid"

// Handle is an opaque reference to one live connection.
type Handle string

// NewHandle mints a fresh connection handle.
func NewHandle() Handle {
	return Handle(uuid.NewString())
}

// Client is one live connection as seen by the core layer.
// The binding fields are owned by the hub goroutine.
type Client struct {
	Handle   Handle
	Commands chan *Command
	Events   chan *Event

	done   chan struct{}
	userID string
	roomID string
	closed bool
}

// NewClient constructs a client with initialized channels.
func NewClient(h Handle, buffer int) *Client {
	if h == "" {
		h = NewHandle()
	}
	if buffer <= 0 {
		buffer = 32
	}
	return &Client{
		Handle:   h,
		Commands: make(chan *Command, buffer),
		Events:   make(chan *Event, buffer),
		done:     make(chan struct{}),
	}
}

// Done is closed once the hub has released the client.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) bound() bool {
	return c.roomID != ""
}

func (c *Client) bind(roomID, userID string) {
	c.roomID = roomID
	c.userID = userID
}

func (c *Client) unbind() {
	c.roomID = ""
	c.userID = ""
}
