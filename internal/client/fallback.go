package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/watchparty/internal/core"
	"github.com/vovakirdan/watchparty/internal/proto"
	"github.com/vovakirdan/watchparty/internal/store"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	busRetention        = time.Hour
	historyLimit        = 200
)

// FallbackOption configures a FallbackTransport.
type FallbackOption func(*FallbackTransport)

// WithFallbackClock sets the clock driving bus polling and timestamps.
func WithFallbackClock(c clock.Clock) FallbackOption {
	return func(t *FallbackTransport) { t.clock = c }
}

// WithPollInterval sets how often the bus is polled.
func WithPollInterval(d time.Duration) FallbackOption {
	return func(t *FallbackTransport) {
		if d > 0 {
			t.poll = d
		}
	}
}

// WithFallbackLogger sets the logger.
func WithFallbackLogger(l zerolog.Logger) FallbackOption {
	return func(t *FallbackTransport) { t.log = l }
}

// FallbackTransport lets clients on one device share a session without a server.
// Frames go through a shared sqlite bus; participant and chat snapshots are kept
// per room so a newcomer can rebuild state locally.
type FallbackTransport struct {
	store store.Store
	clock clock.Clock
	poll  time.Duration
	log   zerolog.Logger
}

// NewFallbackTransport builds a transport over st.
func NewFallbackTransport(st store.Store, opts ...FallbackOption) *FallbackTransport {
	t := &FallbackTransport{
		store: st,
		clock: clock.New(),
		poll:  defaultPollInterval,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With().Str("component", "fallback").Logger()
	return t
}

// Evict removes participantID from the room, purging its snapshots once
// nobody is left.
func (t *FallbackTransport) Evict(ctx context.Context, roomID, participantID string) error {
	_, err := t.remove(ctx, roomID, participantID)
	return err
}

// remove returns the participants left in roomID after participantID is dropped.
func (t *FallbackTransport) remove(ctx context.Context, roomID, participantID string) ([]store.Participant, error) {
	participants, err := t.store.LoadParticipants(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	remaining := make([]store.Participant, 0, len(participants))
	for _, p := range participants {
		if p.ID != participantID {
			remaining = append(remaining, p)
		}
	}
	if len(remaining) == 0 {
		return nil, t.store.Purge(ctx, roomID)
	}
	return remaining, t.store.SaveParticipants(ctx, roomID, remaining)
}

// Dial attaches to the room's bus, skipping frames posted before now.
func (t *FallbackTransport) Dial(ctx context.Context, roomID string) (Conn, error) {
	if n, err := t.store.PruneBus(ctx, t.clock.Now().Add(-busRetention)); err != nil {
		t.log.Warn().Err(err).Msg("prune bus")
	} else if n > 0 {
		t.log.Debug().Int64("frames", n).Msg("pruned bus")
	}

	seq, err := t.store.LastSeq(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return &fallbackConn{
		t:        t,
		instance: uuid.NewString(),
		roomID:   roomID,
		lastSeq:  seq,
		ticker:   t.clock.Ticker(t.poll),
		notify:   make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}, nil
}

type fallbackConn struct {
	t        *FallbackTransport
	instance string
	ticker   *clock.Ticker
	notify   chan struct{}
	closed   chan struct{}
	once     sync.Once

	mu      sync.Mutex
	roomID  string
	lastSeq int64
	pending []*proto.Envelope
}

func (c *fallbackConn) Send(ctx context.Context, env *proto.Envelope) error {
	select {
	case <-c.closed:
		return fmt.Errorf("%w: %w", ErrTransport, ErrClosed)
	default:
	}

	now := c.t.clock.Now()
	out := *env
	out.Timestamp = now.UnixMilli()

	var err error
	switch env.Type {
	case proto.TypeCreateRoom:
		// Creation is answered locally; peers learn about the room through joins.
		return c.create(ctx, &out)
	case proto.TypeJoinRoom:
		var ok bool
		if ok, err = c.join(ctx, &out); err != nil || !ok {
			return err
		}
	case proto.TypeLeaveRoom:
		err = c.leave(ctx, &out)
	case proto.TypeChat:
		out.MessageID = uuid.NewString()
		text := ""
		if out.Data != nil {
			text = out.Data.Message
		}
		err = c.t.store.AppendMessage(ctx, store.Message{
			ID:        out.MessageID,
			RoomID:    out.RoomID,
			UserID:    out.UserID,
			UserName:  out.UserName,
			Body:      text,
			CreatedAt: now,
		})
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTransport, env.Type, err)
	}
	return c.publish(ctx, &out)
}

func (c *fallbackConn) create(ctx context.Context, env *proto.Envelope) error {
	existing, err := c.t.store.LoadParticipants(ctx, env.RoomID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: create: %v", ErrTransport, err)
	}
	if len(existing) > 0 {
		c.reply(errorReply(env, core.ErrCodeRoomExists, "room already exists"))
		return nil
	}

	participants := []store.Participant{{ID: env.UserID, Name: nameOr(env.UserName, env.UserID), IsHost: true}}
	if err := c.t.store.SaveParticipants(ctx, env.RoomID, participants); err != nil {
		return fmt.Errorf("%w: create: %v", ErrTransport, err)
	}
	if err := c.switchRoom(ctx, env.RoomID); err != nil {
		return err
	}

	info := &proto.RoomInfo{
		RoomID:       env.RoomID,
		Participants: toProto(participants),
		State:        proto.PlaybackState{MediaID: env.MediaID},
		CreatedAt:    env.Timestamp,
	}
	c.reply(&proto.Envelope{
		Type:      proto.TypeRoomCreated,
		RoomID:    env.RoomID,
		UserID:    env.UserID,
		MediaID:   env.MediaID,
		RoomInfo:  info,
		Timestamp: env.Timestamp,
		Data: &proto.Data{
			CurrentTime:  proto.Float(0),
			IsPlaying:    proto.Bool(false),
			Participants: info.Participants,
		},
	})
	return nil
}

// join reports whether the join succeeded and should be announced on the bus.
func (c *fallbackConn) join(ctx context.Context, env *proto.Envelope) (bool, error) {
	participants, err := c.t.store.LoadParticipants(ctx, env.RoomID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && len(participants) == 0) {
		c.reply(errorReply(env, core.ErrCodeRoomNotFound, "room not found"))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	present := false
	for _, p := range participants {
		if p.ID == env.UserID {
			present = true
			break
		}
	}
	if !present {
		participants = append(participants, store.Participant{ID: env.UserID, Name: nameOr(env.UserName, env.UserID)})
		if err := c.t.store.SaveParticipants(ctx, env.RoomID, participants); err != nil {
			return false, err
		}
		withParticipants(env, participants)
	}

	history, err := c.t.store.LoadMessages(ctx, env.RoomID, historyLimit)
	if err != nil {
		return false, err
	}
	if err := c.switchRoom(ctx, env.RoomID); err != nil {
		return false, err
	}

	info := &proto.RoomInfo{
		RoomID:       env.RoomID,
		Participants: toProto(participants),
		CreatedAt:    env.Timestamp,
	}
	messages := make([]proto.ChatMessage, len(history))
	for i, m := range history {
		messages[i] = proto.ChatMessage{
			ID:        m.ID,
			UserID:    m.UserID,
			UserName:  m.UserName,
			Message:   m.Body,
			Timestamp: m.CreatedAt.UnixMilli(),
		}
	}
	c.reply(&proto.Envelope{
		Type:      proto.TypeRoomJoined,
		RoomID:    env.RoomID,
		UserID:    env.UserID,
		RoomInfo:  info,
		Timestamp: env.Timestamp,
		Data: &proto.Data{
			CurrentTime:  proto.Float(0),
			IsPlaying:    proto.Bool(false),
			Participants: info.Participants,
			Messages:     messages,
		},
	})
	return !present, nil
}

// leave drops the sender from the room. The published frame carries the
// remaining list so peers never read a purged snapshot.
func (c *fallbackConn) leave(ctx context.Context, env *proto.Envelope) error {
	remaining, err := c.t.remove(ctx, env.RoomID, env.UserID)
	if err != nil {
		return err
	}
	withParticipants(env, remaining)
	return nil
}

func withParticipants(env *proto.Envelope, participants []store.Participant) {
	var d proto.Data
	if env.Data != nil {
		d = *env.Data
	}
	d.Participants = toProto(participants)
	env.Data = &d
}

func (c *fallbackConn) publish(ctx context.Context, env *proto.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	if _, err := c.t.store.Publish(ctx, env.RoomID, c.instance, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// switchRoom points polling at roomID, skipping frames already on its bus.
func (c *fallbackConn) switchRoom(ctx context.Context, roomID string) error {
	c.mu.Lock()
	same := c.roomID == roomID
	c.mu.Unlock()
	if same {
		return nil
	}

	seq, err := c.t.store.LastSeq(ctx, roomID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	c.mu.Lock()
	c.roomID = roomID
	c.lastSeq = seq
	c.mu.Unlock()
	return nil
}

func (c *fallbackConn) reply(env *proto.Envelope) {
	c.mu.Lock()
	c.pending = append(c.pending, env)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *fallbackConn) pop() *proto.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	env := c.pending[0]
	c.pending = c.pending[1:]
	return env
}

func (c *fallbackConn) Recv(ctx context.Context) (*proto.Envelope, error) {
	for {
		if env := c.pop(); env != nil {
			return env, nil
		}
		if err := c.pollOnce(ctx); err != nil {
			return nil, err
		}
		if env := c.pop(); env != nil {
			return env, nil
		}

		select {
		case <-c.notify:
		case <-c.ticker.C:
		case <-c.closed:
			return nil, fmt.Errorf("%w: %w", ErrTransport, ErrClosed)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *fallbackConn) pollOnce(ctx context.Context) error {
	c.mu.Lock()
	roomID, after := c.roomID, c.lastSeq
	c.mu.Unlock()

	frames, err := c.t.store.Since(ctx, roomID, after, 100)
	if err != nil {
		return fmt.Errorf("%w: poll: %v", ErrTransport, err)
	}

	for _, f := range frames {
		c.mu.Lock()
		if f.Seq > c.lastSeq {
			c.lastSeq = f.Seq
		}
		c.mu.Unlock()

		if f.Sender == c.instance {
			continue
		}
		env, err := proto.Decode(f.Payload)
		if err != nil {
			c.t.log.Warn().Err(err).Int64("seq", f.Seq).Msg("skipping bad bus frame")
			continue
		}
		if env = c.translate(ctx, env); env != nil {
			c.mu.Lock()
			c.pending = append(c.pending, env)
			c.mu.Unlock()
		}
	}
	return nil
}

// translate turns a peer's request into what the server would have broadcast.
func (c *fallbackConn) translate(ctx context.Context, env *proto.Envelope) *proto.Envelope {
	switch env.Type {
	case proto.TypeJoinRoom, proto.TypeLeaveRoom:
		typ := proto.TypeParticipantJoined
		if env.Type == proto.TypeLeaveRoom {
			typ = proto.TypeParticipantLeft
		}
		var list []proto.Participant
		if env.Data != nil && env.Data.Participants != nil {
			list = env.Data.Participants
		} else {
			participants, err := c.t.store.LoadParticipants(ctx, env.RoomID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				c.t.log.Warn().Err(err).Str("room", env.RoomID).Msg("load participants")
			}
			list = toProto(participants)
		}
		return &proto.Envelope{
			Type:      typ,
			RoomID:    env.RoomID,
			UserID:    env.UserID,
			UserName:  env.UserName,
			Timestamp: env.Timestamp,
			Data:      &proto.Data{Participants: list},
		}
	case proto.TypeCreateRoom, proto.TypeTimeUpdate:
		return nil
	default:
		return env
	}
}

func (c *fallbackConn) Close() error {
	c.once.Do(func() {
		c.ticker.Stop()
		close(c.closed)
	})
	return nil
}

func errorReply(env *proto.Envelope, code, msg string) *proto.Envelope {
	return &proto.Envelope{
		Type:      proto.TypeError,
		RoomID:    env.RoomID,
		Timestamp: env.Timestamp,
		Error:     &proto.Error{Code: code, Msg: msg},
	}
}

func toProto(in []store.Participant) []proto.Participant {
	out := make([]proto.Participant, len(in))
	for i, p := range in {
		out[i] = proto.Participant{ID: p.ID, Name: p.Name, IsHost: p.IsHost}
	}
	return out
}

func nameOr(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
