package client

import (
	"context"
	"errors"

	"github.com/vovakirdan/watchparty/internal/proto"
	"github.com/vovakirdan/watchparty/internal/utils"
)

var (
	// ErrTransport marks failures to reach or keep the session transport.
	ErrTransport = errors.New("transport failure")
	// ErrNotConnected is returned when sending without a live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned by a connection that has been closed.
	ErrClosed = errors.New("connection closed")
)

// Conn is one live session connection.
type Conn interface {
	Send(ctx context.Context, env *proto.Envelope) error
	// Recv blocks for the next envelope. A malformed frame yields an error
	// wrapping proto.ErrMalformed and leaves the connection usable.
	Recv(ctx context.Context) (*proto.Envelope, error)
	Close() error
}

// Transport opens connections for a room.
type Transport interface {
	Dial(ctx context.Context, roomID string) (Conn, error)
}

// Evicter drops a participant from persisted room snapshots when the leave
// could not be announced over a live connection.
type Evicter interface {
	Evict(ctx context.Context, roomID, participantID string) error
}

// GenerateRoomID returns a short random room id. It is not checked against the server.
func GenerateRoomID() string {
	return utils.NewRoomID()
}
