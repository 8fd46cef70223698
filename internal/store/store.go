package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a snapshot does not exist.
var ErrNotFound = errors.New("not found")

// Participant is a persisted room member as the local client last saw it.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

// Message represents a persisted chat line.
type Message struct {
	ID        string
	RoomID    string
	UserID    string
	UserName  string
	Body      string
	CreatedAt time.Time
}

// BusMessage is one frame posted on the same-device bus.
type BusMessage struct {
	Seq       int64
	RoomID    string
	Sender    string // instance that posted it
	Payload   []byte
	CreatedAt time.Time
}

// SnapshotStore keeps per-room participant and chat snapshots so a second local
// client can rebuild room state without a server.
type SnapshotStore interface {
	SaveParticipants(ctx context.Context, roomID string, participants []Participant) error
	LoadParticipants(ctx context.Context, roomID string) ([]Participant, error)
	AppendMessage(ctx context.Context, msg Message) error
	LoadMessages(ctx context.Context, roomID string, limit int) ([]Message, error)
	// Purge removes the participant and chat snapshots of a room.
	Purge(ctx context.Context, roomID string) error
}

// BusStore is an append-only log of frames polled by local clients.
type BusStore interface {
	Publish(ctx context.Context, roomID, sender string, payload []byte) (int64, error)
	Since(ctx context.Context, roomID string, afterSeq int64, limit int) ([]BusMessage, error)
	LastSeq(ctx context.Context, roomID string) (int64, error)
	// PruneBus drops frames older than before and reports how many went.
	PruneBus(ctx context.Context, before time.Time) (int64, error)
}

// Store combines all storage interfaces.
type Store interface {
	SnapshotStore
	BusStore
	Close() error
}
