package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/watchparty/internal/proto"
)

// Local connection-state kinds delivered through On alongside wire types.
const (
	EventConnected    = "connected"
	EventReconnecting = "reconnecting"
	EventDisconnected = "disconnected"
)

// FallbackMode selects when the same-device transport is used.
type FallbackMode string

const (
	FallbackOff    FallbackMode = "off"
	FallbackAuto   FallbackMode = "auto"
	FallbackAlways FallbackMode = "always"
)

// relayed kinds are the ones a peer's action can echo back to us.
var relayed = map[string]struct{}{
	proto.TypePlay:              {},
	proto.TypePause:             {},
	proto.TypeSeek:              {},
	proto.TypeChat:              {},
	proto.TypeTimeUpdate:        {},
	proto.TypeParticipantJoined: {},
	proto.TypeParticipantLeft:   {},
}

// Handler receives envelopes of one kind.
type Handler func(env *proto.Envelope)

// ListenerID identifies a registered handler for Off.
type ListenerID uint64

type listener struct {
	id ListenerID
	fn Handler
}

// Options configures a Service.
type Options struct {
	Primary              Transport
	Fallback             Transport
	FallbackMode         FallbackMode
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	DialTimeout          time.Duration
	Clock                clock.Clock
	Logger               *zerolog.Logger
}

// Service is the client side of a session: one connection, reconnection with
// linear backoff, self-echo suppression and typed senders.
type Service struct {
	opts  Options
	clock clock.Clock
	log   zerolog.Logger

	lmu       sync.Mutex
	listeners map[string][]listener
	nextID    ListenerID

	mu         sync.Mutex
	conn       Conn
	gen        uint64
	cancelRead context.CancelFunc
	fallback   bool
	connected  bool
	closing    bool
	attempts   int
	timer      *clock.Timer
	roomID     string
	userID     string
	userName   string
	joined     bool
}

// NewService builds a Service. Zero options get defaults: five attempts, 2s base delay.
func NewService(opts Options) *Service {
	if opts.FallbackMode == "" {
		opts.FallbackMode = FallbackAuto
	}
	switch {
	case opts.MaxReconnectAttempts == 0:
		opts.MaxReconnectAttempts = 5
	case opts.MaxReconnectAttempts < 0:
		// Negative disables automatic reconnection.
		opts.MaxReconnectAttempts = 0
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	l := zerolog.Nop()
	if opts.Logger != nil {
		l = *opts.Logger
	}
	return &Service{
		opts:      opts,
		clock:     opts.Clock,
		log:       l.With().Str("component", "session").Logger(),
		listeners: make(map[string][]listener),
	}
}

// On registers h for kind. Handlers run in registration order on the receive goroutine.
func (s *Service) On(kind string, h Handler) ListenerID {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.nextID++
	s.listeners[kind] = append(s.listeners[kind], listener{id: s.nextID, fn: h})
	return s.nextID
}

// Off removes a handler registered with On.
func (s *Service) Off(kind string, id ListenerID) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	ls := s.listeners[kind]
	for i, l := range ls {
		if l.id == id {
			s.listeners[kind] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// Connect opens the session transport for roomID as participantID.
func (s *Service) Connect(ctx context.Context, roomID, participantID, name string) error {
	s.mu.Lock()
	s.roomID = roomID
	s.userID = participantID
	s.userName = name
	s.joined = false
	s.stopTimerLocked()
	s.mu.Unlock()

	conn, fallback, err := s.dial(ctx, roomID, true)
	if err != nil {
		return err
	}
	s.attach(conn, fallback)
	return nil
}

// Reconnect dials again after reconnection gave up or after Disconnect,
// restoring the remembered membership.
func (s *Service) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	roomID := s.roomID
	s.stopTimerLocked()
	s.attempts = 0
	s.mu.Unlock()

	conn, fallback, err := s.dial(ctx, roomID, true)
	if err != nil {
		return err
	}
	s.attach(conn, fallback)
	s.rejoin(ctx)
	return nil
}

// Disconnect closes the connection and cancels pending reconnects.
func (s *Service) Disconnect() {
	s.mu.Lock()
	s.closing = true
	s.stopTimerLocked()
	s.gen++
	conn := s.conn
	cancel := s.cancelRead
	wasConnected := s.connected
	s.conn = nil
	s.cancelRead = nil
	s.connected = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.log.Debug().Err(err).Msg("close connection")
		}
	}
	if wasConnected {
		s.emitLocal(EventDisconnected, "")
	}
}

// Leave announces departure and disconnects. When the leave cannot be sent,
// the participant is evicted from the fallback snapshots directly.
func (s *Service) Leave(ctx context.Context) error {
	s.mu.Lock()
	roomID, userID := s.roomID, s.userID
	joined := s.joined
	s.joined = false
	s.mu.Unlock()

	var err error
	sent := false
	if joined && s.Connected() {
		err = s.send(ctx, &proto.Envelope{Type: proto.TypeLeaveRoom, RoomID: roomID})
		sent = err == nil
	}
	if e, ok := s.opts.Fallback.(Evicter); ok && !sent && roomID != "" && userID != "" {
		if eerr := e.Evict(ctx, roomID, userID); eerr != nil {
			s.log.Warn().Err(eerr).Str("room", roomID).Msg("evict from fallback snapshots")
		}
	}
	s.Disconnect()
	return err
}

// Connected reports whether a connection is live.
func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// UsingFallback reports whether the live connection is the same-device transport.
func (s *Service) UsingFallback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

// UserID returns the local participant id.
func (s *Service) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// CreateRoom asks the server to open roomID with the local participant as host.
func (s *Service) CreateRoom(ctx context.Context, roomID string, mediaID int64) error {
	return s.send(ctx, &proto.Envelope{Type: proto.TypeCreateRoom, RoomID: roomID, MediaID: mediaID})
}

// JoinRoom asks to join an existing room.
func (s *Service) JoinRoom(ctx context.Context, roomID string) error {
	return s.send(ctx, &proto.Envelope{Type: proto.TypeJoinRoom, RoomID: roomID})
}

// Play announces playback started at t.
func (s *Service) Play(ctx context.Context, roomID string, t float64) error {
	return s.send(ctx, playbackEnvelope(proto.TypePlay, roomID, t, proto.Bool(true)))
}

// Pause announces playback paused at t.
func (s *Service) Pause(ctx context.Context, roomID string, t float64) error {
	return s.send(ctx, playbackEnvelope(proto.TypePause, roomID, t, proto.Bool(false)))
}

// Seek announces a jump to t.
func (s *Service) Seek(ctx context.Context, roomID string, t float64) error {
	return s.send(ctx, playbackEnvelope(proto.TypeSeek, roomID, t, nil))
}

// TimeUpdate reports the local position without asking peers to follow.
func (s *Service) TimeUpdate(ctx context.Context, roomID string, t float64) error {
	return s.send(ctx, playbackEnvelope(proto.TypeTimeUpdate, roomID, t, nil))
}

// SendChat sends a chat line. The server does not echo it back.
func (s *Service) SendChat(ctx context.Context, roomID, text string) error {
	return s.send(ctx, &proto.Envelope{Type: proto.TypeChat, RoomID: roomID, Data: &proto.Data{Message: text}})
}

func playbackEnvelope(typ, roomID string, t float64, playing *bool) *proto.Envelope {
	return &proto.Envelope{
		Type:   typ,
		RoomID: roomID,
		Data:   &proto.Data{CurrentTime: proto.Float(t), IsPlaying: playing},
	}
}

func (s *Service) send(ctx context.Context, env *proto.Envelope) error {
	s.mu.Lock()
	conn := s.conn
	if env.UserID == "" {
		env.UserID = s.userID
	}
	if env.UserName == "" {
		env.UserName = s.userName
	}
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Send(ctx, env); err != nil {
		if !errors.Is(err, ErrTransport) {
			err = fmt.Errorf("%w: %v", ErrTransport, err)
		}
		return err
	}
	return nil
}

// dial tries the primary transport and, when allowed by the mode, the fallback.
func (s *Service) dial(ctx context.Context, roomID string, allowFallback bool) (Conn, bool, error) {
	mode := s.opts.FallbackMode
	if mode == FallbackAlways {
		if s.opts.Fallback == nil {
			return nil, false, fmt.Errorf("%w: fallback mode is always but no fallback transport configured", ErrTransport)
		}
		conn, err := s.opts.Fallback.Dial(ctx, roomID)
		return conn, true, wrapTransport(err)
	}

	var primaryErr error
	if s.opts.Primary != nil {
		dctx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
		conn, err := s.opts.Primary.Dial(dctx, roomID)
		cancel()
		if err == nil {
			return conn, false, nil
		}
		primaryErr = err
	} else {
		primaryErr = errors.New("no primary transport configured")
	}

	if allowFallback && mode == FallbackAuto && s.opts.Fallback != nil {
		s.log.Warn().Err(primaryErr).Msg("server unreachable, using local fallback")
		conn, err := s.opts.Fallback.Dial(ctx, roomID)
		return conn, true, wrapTransport(err)
	}
	return nil, false, wrapTransport(primaryErr)
}

func wrapTransport(err error) error {
	if err == nil || errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

func (s *Service) attach(conn Conn, fallback bool) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.gen++
	gen := s.gen
	prev, prevCancel := s.conn, s.cancelRead
	s.conn = conn
	s.cancelRead = cancel
	s.fallback = fallback
	s.connected = true
	s.closing = false
	s.attempts = 0
	s.mu.Unlock()

	// The old read loop sees a stale generation and exits quietly.
	if prevCancel != nil {
		prevCancel()
	}
	if prev != nil {
		if err := prev.Close(); err != nil {
			s.log.Debug().Err(err).Msg("close replaced connection")
		}
	}

	go s.readLoop(ctx, gen, conn)
	s.log.Info().Bool("fallback", fallback).Msg("connected")
	s.emitLocal(EventConnected, "")
}

func (s *Service) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		env, err := conn.Recv(ctx)
		if err != nil {
			if errors.Is(err, proto.ErrMalformed) {
				s.log.Warn().Err(err).Msg("dropping malformed frame")
				continue
			}
			s.lost(gen, err)
			return
		}
		if !s.current(gen) {
			return
		}
		s.dispatch(env)
	}
}

func (s *Service) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

// lost handles an unexpected end of the connection of generation gen.
func (s *Service) lost(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.closing {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	s.connected = false
	if s.cancelRead != nil {
		s.cancelRead()
		s.cancelRead = nil
	}
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.log.Warn().Err(err).Msg("connection lost")
	s.scheduleReconnect()
}

// scheduleReconnect arms attempt n at ReconnectDelay*n, or gives up after the last one.
func (s *Service) scheduleReconnect() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	if s.attempts >= s.opts.MaxReconnectAttempts {
		s.timer = nil
		attempts := s.attempts
		s.mu.Unlock()
		s.log.Warn().Int("attempts", attempts).Msg("giving up reconnecting")
		s.emitLocal(EventDisconnected, "")
		return
	}
	s.attempts++
	attempt := s.attempts
	delay := s.opts.ReconnectDelay * time.Duration(attempt)
	s.timer = s.clock.AfterFunc(delay, s.tryReconnect)
	s.mu.Unlock()

	s.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")
	s.emitLocal(EventReconnecting, strconv.Itoa(attempt))
}

func (s *Service) tryReconnect() {
	s.mu.Lock()
	if s.closing || s.connected {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	roomID := s.roomID
	fallback := s.fallback
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DialTimeout)
	defer cancel()

	var (
		conn Conn
		err  error
	)
	if fallback && s.opts.Fallback != nil {
		conn, err = s.opts.Fallback.Dial(ctx, roomID)
		err = wrapTransport(err)
	} else {
		conn, _, err = s.dial(ctx, roomID, false)
	}
	if err != nil {
		s.log.Debug().Err(err).Msg("reconnect attempt failed")
		s.scheduleReconnect()
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.mu.Unlock()

	s.attach(conn, fallback)
	s.rejoin(ctx)
}

// rejoin restores the membership held before the connection dropped.
func (s *Service) rejoin(ctx context.Context) {
	s.mu.Lock()
	roomID, joined := s.roomID, s.joined
	s.mu.Unlock()
	if !joined || roomID == "" {
		return
	}
	if err := s.JoinRoom(ctx, roomID); err != nil {
		s.log.Warn().Err(err).Str("room", roomID).Msg("rejoin failed")
	}
}

func (s *Service) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Service) dispatch(env *proto.Envelope) {
	s.mu.Lock()
	self := s.userID
	if env.Type == proto.TypeRoomCreated || env.Type == proto.TypeRoomJoined {
		s.roomID = env.RoomID
		s.joined = true
	}
	s.mu.Unlock()

	if _, ok := relayed[env.Type]; ok && self != "" && env.UserID == self {
		s.log.Debug().Str("type", env.Type).Msg("suppressed self echo")
		return
	}
	s.deliver(env)
}

func (s *Service) emitLocal(kind, detail string) {
	s.mu.Lock()
	env := &proto.Envelope{Type: kind, RoomID: s.roomID, UserID: s.userID}
	s.mu.Unlock()
	if detail != "" {
		env.Data = &proto.Data{Message: detail}
	}
	s.deliver(env)
}

func (s *Service) deliver(env *proto.Envelope) {
	s.lmu.Lock()
	ls := append([]listener(nil), s.listeners[env.Type]...)
	s.lmu.Unlock()

	for _, l := range ls {
		l.fn(env)
	}
}
