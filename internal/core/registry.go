package core

import (
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Stats is a point-in-time count of registry contents.
type Stats struct {
	Rooms        int
	Participants int
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock injects the time source used for timestamps.
func WithClock(c clock.Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

// WithLogger sets the registry logger.
func WithLogger(l zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// Registry is the authoritative set of rooms. Every mutation and the broadcast
// it triggers happen under one lock, so handling is never interleaved.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	relay   Relay
	clock   clock.Clock
	log     zerolog.Logger
	entropy *ulid.MonotonicEntropy
}

// NewRegistry builds an empty registry publishing through relay.
func NewRegistry(relay Relay, opts ...RegistryOption) *Registry {
	if relay == nil {
		relay = Discard{}
	}
	r := &Registry{
		rooms:   make(map[string]*Room),
		relay:   relay,
		clock:   clock.New(),
		log:     zerolog.Nop(),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With().Str("component", "registry").Logger()
	return r
}

// CreateRoom inserts a room with the creator as its only participant and host.
// An id that is already live is rejected and the existing room is left untouched.
func (r *Registry) CreateRoom(roomID, creatorID, creatorName string, mediaID int64, h Handle) (RoomSnapshot, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" || creatorID == "" {
		return RoomSnapshot{}, fmt.Errorf("create room: %w", ErrBadRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[roomID]; exists {
		return RoomSnapshot{}, fmt.Errorf("create room %q: %w", roomID, ErrRoomAlreadyExists)
	}

	now := r.clock.Now()
	room := newRoom(roomID, mediaID, now)
	room.add(&Participant{
		ID:       creatorID,
		Name:     displayName(creatorName, creatorID),
		IsHost:   true,
		JoinedAt: now,
		Handle:   h,
	})
	r.rooms[roomID] = room

	r.log.Info().Str("room", roomID).Str("user", creatorID).Int64("media", mediaID).Msg("room created")
	return room.snapshot(), nil
}

// JoinRoom adds a non-host participant and tells everyone else about it.
// Joining with an id that is already present only rebinds its handle.
func (r *Registry) JoinRoom(roomID, participantID, name string, h Handle) (RoomSnapshot, error) {
	roomID = strings.TrimSpace(roomID)
	if participantID == "" {
		return RoomSnapshot{}, fmt.Errorf("join room: %w", ErrBadRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return RoomSnapshot{}, fmt.Errorf("join room %q: %w", roomID, ErrRoomNotFound)
	}

	if p, exists := room.participant(participantID); exists {
		p.Handle = h
		r.log.Debug().Str("room", roomID).Str("user", participantID).Msg("participant rebound")
		return room.snapshot(), nil
	}

	p := &Participant{
		ID:       participantID,
		Name:     displayName(name, participantID),
		JoinedAt: r.clock.Now(),
		Handle:   h,
	}
	room.add(p)

	r.publish(room.handles(participantID), &Event{
		Kind:         EventParticipantJoined,
		Room:         roomID,
		UserID:       p.ID,
		UserName:     p.Name,
		Participants: room.infos(),
	})

	r.log.Info().Str("room", roomID).Str("user", participantID).Int("participants", room.Len()).Msg("participant joined")
	return room.snapshot(), nil
}

// LeaveRoom removes a participant, deleting the room when it becomes empty.
func (r *Registry) LeaveRoom(roomID, participantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(roomID, participantID, "")
}

// Disconnect is the connection-close path. The participant is removed only while
// it is still bound to h, so a stale connection cannot evict a reconnected one.
func (r *Registry) Disconnect(roomID, participantID string, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(roomID, participantID, h)
}

func (r *Registry) removeLocked(roomID, participantID string, h Handle) error {
	room, ok := r.rooms[roomID]
	if !ok {
		return fmt.Errorf("leave room %q: %w", roomID, ErrRoomNotFound)
	}
	p, ok := room.participant(participantID)
	if !ok {
		return fmt.Errorf("leave room %q: %w", roomID, ErrNotInRoom)
	}
	if h != "" && p.Handle != h {
		r.log.Debug().Str("room", roomID).Str("user", participantID).Msg("stale connection closed, keeping participant")
		return nil
	}

	room.remove(participantID)
	if room.Empty() {
		delete(r.rooms, roomID)
		r.log.Info().Str("room", roomID).Msg("room deleted")
		return nil
	}

	r.publish(room.handles(""), &Event{
		Kind:         EventParticipantLeft,
		Room:         roomID,
		UserID:       p.ID,
		UserName:     p.Name,
		Participants: room.infos(),
	})
	r.log.Info().Str("room", roomID).Str("user", participantID).Int("participants", room.Len()).Msg("participant left")
	return nil
}

// ApplyPlayback mutates the fields present in u, then relays the command to
// everyone but the sender. Commands are applied in arrival order.
func (r *Registry) ApplyPlayback(roomID, senderID string, kind PlaybackKind, u PlaybackUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return fmt.Errorf("%s in room %q: %w", kind, roomID, ErrRoomNotFound)
	}

	switch kind {
	case PlaybackPlay:
		if u.IsPlaying == nil {
			u.IsPlaying = boolPtr(true)
		}
	case PlaybackPause:
		if u.IsPlaying == nil {
			u.IsPlaying = boolPtr(false)
		}
	}
	room.Playback.apply(u)

	r.publish(room.handles(senderID), &Event{
		Kind:     playbackEvent(kind),
		Room:     roomID,
		UserID:   senderID,
		Playback: u,
	})
	r.log.Debug().Str("room", roomID).Str("user", senderID).Str("kind", kind.String()).
		Float64("time", room.Playback.CurrentTime).Bool("playing", room.Playback.IsPlaying).Msg("playback applied")
	return nil
}

// UpdateTime stores the current position without broadcasting.
func (r *Registry) UpdateTime(roomID string, t float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return fmt.Errorf("time update in room %q: %w", roomID, ErrRoomNotFound)
	}
	room.Playback.CurrentTime = t
	return nil
}

// RelayChat stamps a chat line and forwards it to everyone but the sender,
// who is expected to show its own line locally.
func (r *Registry) RelayChat(roomID, senderID, senderName, text string) (ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return ChatMessage{}, fmt.Errorf("chat: empty message: %w", ErrBadRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return ChatMessage{}, fmt.Errorf("chat in room %q: %w", roomID, ErrRoomNotFound)
	}
	if senderName == "" {
		if p, ok := room.participant(senderID); ok {
			senderName = p.Name
		}
	}

	now := r.clock.Now()
	msg := ChatMessage{
		ID:         ulid.MustNew(ulid.Timestamp(now), r.entropy).String(),
		Room:       roomID,
		SenderID:   senderID,
		SenderName: displayName(senderName, senderID),
		Text:       text,
		CreatedAt:  now,
	}

	r.publish(room.handles(senderID), &Event{
		Kind:     EventChat,
		Room:     roomID,
		UserID:   senderID,
		UserName: msg.SenderName,
		Chat:     &msg,
	})
	return msg, nil
}

// Snapshot returns a copy of one room.
func (r *Registry) Snapshot(roomID string) (RoomSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return RoomSnapshot{}, false
	}
	return room.snapshot(), true
}

// List returns all live rooms ordered by creation time.
func (r *Registry) List() []RoomSummary {
	r.mu.RLock()
	out := make([]RoomSummary, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, RoomSummary{
			ID:           room.ID,
			Participants: room.Len(),
			Playback:     room.Playback,
			CreatedAt:    room.CreatedAt,
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stats counts rooms and participants.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Rooms: len(r.rooms)}
	for _, room := range r.rooms {
		s.Participants += room.Len()
	}
	return s
}

// Close drops every room.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = make(map[string]*Room)
}

func (r *Registry) publish(targets []Handle, ev *Event) {
	if len(targets) == 0 {
		return
	}
	res := r.relay.Publish(targets, ev)
	if len(res.Dropped) > 0 {
		r.log.Warn().Str("room", ev.Room).Int("sent", res.Sent).Int("dropped", len(res.Dropped)).Msg("slow consumers dropped event")
	}
}

func displayName(name, id string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return id
}

func boolPtr(v bool) *bool { return &v }
