package party

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/watchparty/internal/client"
	"github.com/vovakirdan/watchparty/internal/proto"
)

// Session is the part of client.Service the reconciler drives.
type Session interface {
	On(kind string, h client.Handler) client.ListenerID
	Off(kind string, id client.ListenerID)
	Connect(ctx context.Context, roomID, participantID, name string) error
	CreateRoom(ctx context.Context, roomID string, mediaID int64) error
	JoinRoom(ctx context.Context, roomID string) error
	Play(ctx context.Context, roomID string, t float64) error
	Pause(ctx context.Context, roomID string, t float64) error
	Seek(ctx context.Context, roomID string, t float64) error
	SendChat(ctx context.Context, roomID, text string) error
	Leave(ctx context.Context) error
}

var _ Session = (*client.Service)(nil)

// ErrNoRoom is returned by playback and chat actions before a room is known.
var ErrNoRoom = errors.New("not in a room")

// Config tunes a Reconciler.
type Config struct {
	UserID   string
	UserName string
	Tick     time.Duration
	Resync   time.Duration
	// SendTimeout bounds resync sends issued from the background loop.
	SendTimeout time.Duration
	Clock       clock.Clock
	Logger      *zerolog.Logger
}

// Reconciler keeps local playback, participants and chat consistent with
// the server-relayed stream and drives the attached media element.
type Reconciler struct {
	session Session
	store   *Store
	cfg     Config
	clock   clock.Clock
	log     zerolog.Logger

	mu        sync.Mutex
	media     MediaElement
	listeners map[string]client.ListenerID
	stop      chan struct{}
	done      chan struct{}
}

// NewReconciler wires a reconciler to session. Zero durations get 100ms tick and 5s resync.
func NewReconciler(session Session, store *Store, cfg Config) *Reconciler {
	if cfg.Tick <= 0 {
		cfg.Tick = 100 * time.Millisecond
	}
	if cfg.Resync <= 0 {
		cfg.Resync = 5 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.UserID == "" {
		cfg.UserID = uuid.NewString()
	}
	if store == nil {
		store = NewStore()
	}
	l := zerolog.Nop()
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	return &Reconciler{
		session: session,
		store:   store,
		cfg:     cfg,
		clock:   cfg.Clock,
		log:     l.With().Str("component", "party").Str("user", cfg.UserID).Logger(),
	}
}

// Store returns the state store the reconciler writes to.
func (r *Reconciler) Store() *Store {
	return r.store
}

// State returns a copy of the current state.
func (r *Reconciler) State() State {
	return r.store.Snapshot()
}

// Create opens a fresh room hosted by the local user and returns its id.
func (r *Reconciler) Create(ctx context.Context, mediaID int64) (string, error) {
	roomID := client.GenerateRoomID()
	err := r.store.update(func(st *State) error {
		if err := transition(st, PhaseSetup); err != nil {
			return err
		}
		st.RoomID = roomID
		st.IsHost = true
		st.MediaID = mediaID
		st.CurrentTime = 0
		st.IsPlaying = false
		st.LastError = nil
		return nil
	})
	if err != nil {
		return "", err
	}

	if err := r.open(ctx, roomID); err != nil {
		return "", err
	}
	if err := r.session.CreateRoom(ctx, roomID, mediaID); err != nil {
		r.fail(err)
		return "", err
	}
	r.log.Info().Str("room", roomID).Int64("media", mediaID).Msg("creating room")
	return roomID, nil
}

// Join enters an existing room. Its playback arrives with room-joined.
func (r *Reconciler) Join(ctx context.Context, roomID string) error {
	if roomID == "" {
		return ErrNoRoom
	}
	err := r.store.update(func(st *State) error {
		if err := transition(st, PhaseSetup); err != nil {
			return err
		}
		st.RoomID = roomID
		st.IsHost = false
		st.LastError = nil
		return nil
	})
	if err != nil {
		return err
	}

	if err := r.open(ctx, roomID); err != nil {
		return err
	}
	if err := r.session.JoinRoom(ctx, roomID); err != nil {
		r.fail(err)
		return err
	}
	r.log.Info().Str("room", roomID).Msg("joining room")
	return nil
}

func (r *Reconciler) open(ctx context.Context, roomID string) error {
	r.subscribe()
	if err := r.session.Connect(ctx, roomID, r.cfg.UserID, r.cfg.UserName); err != nil {
		r.fail(err)
		return err
	}
	r.startLoop()
	return nil
}

func (r *Reconciler) fail(err error) {
	_ = r.store.update(func(st *State) error {
		st.LastError = &proto.Error{Code: "transport", Msg: err.Error()}
		return nil
	})
}

// Play starts local playback and tells the room.
func (r *Reconciler) Play(ctx context.Context) error {
	st, err := r.setPlayback(func(st *State) { st.IsPlaying = true })
	if err != nil {
		return err
	}
	return r.session.Play(ctx, st.RoomID, st.CurrentTime)
}

// Pause stops local playback and tells the room.
func (r *Reconciler) Pause(ctx context.Context) error {
	st, err := r.setPlayback(func(st *State) { st.IsPlaying = false })
	if err != nil {
		return err
	}
	return r.session.Pause(ctx, st.RoomID, st.CurrentTime)
}

// Seek moves the local clock to t and tells the room.
func (r *Reconciler) Seek(ctx context.Context, t float64) error {
	if t < 0 {
		return fmt.Errorf("seek to negative time %v", t)
	}
	st, err := r.setPlayback(func(st *State) { st.CurrentTime = t })
	if err != nil {
		return err
	}
	r.CorrectDrift()
	return r.session.Seek(ctx, st.RoomID, st.CurrentTime)
}

func (r *Reconciler) setPlayback(fn func(*State)) (State, error) {
	var out State
	err := r.store.update(func(st *State) error {
		if st.RoomID == "" || st.Phase == PhaseUnconfigured || st.Phase == PhaseLeft {
			return ErrNoRoom
		}
		fn(st)
		out = st.clone()
		return nil
	})
	return out, err
}

// SendChat sends text to the room and echoes it into the local log, since
// the server does not return a sender's own chat.
func (r *Reconciler) SendChat(ctx context.Context, text string) error {
	st := r.store.Snapshot()
	if st.RoomID == "" || st.Phase == PhaseUnconfigured || st.Phase == PhaseLeft {
		return ErrNoRoom
	}
	if err := r.session.SendChat(ctx, st.RoomID, text); err != nil {
		return err
	}
	return r.store.update(func(st *State) error {
		st.Messages = append(st.Messages, ChatLine{
			UserID:    r.cfg.UserID,
			UserName:  r.cfg.UserName,
			Text:      text,
			Timestamp: r.clock.Now(),
		})
		return nil
	})
}

// Tick advances the local clock by one tick while playing, then checks drift.
func (r *Reconciler) Tick() {
	err := r.store.update(func(st *State) error {
		if !st.IsPlaying {
			return errIgnored
		}
		st.CurrentTime += r.cfg.Tick.Seconds()
		return nil
	})
	if err == nil {
		r.CorrectDrift()
	}
}

// Resync re-announces the local position while playing so late or drifted
// peers converge.
func (r *Reconciler) Resync(ctx context.Context) error {
	st := r.store.Snapshot()
	if !st.IsPlaying || !st.Connected || st.Phase != PhaseConnected {
		return nil
	}
	return r.session.Seek(ctx, st.RoomID, st.CurrentTime)
}

// AttachMedia makes m the element kept in step; nil detaches.
func (r *Reconciler) AttachMedia(m MediaElement) {
	r.mu.Lock()
	r.media = m
	r.mu.Unlock()
	r.CorrectDrift()
}

// CorrectDrift snaps the attached element to the local clock when it is
// further away than its kind allows. It reports whether a seek was issued.
func (r *Reconciler) CorrectDrift() bool {
	r.mu.Lock()
	m := r.media
	r.mu.Unlock()
	if m == nil {
		return false
	}
	want := r.store.Snapshot().CurrentTime
	if !drifted(m, want) {
		return false
	}
	r.log.Debug().Float64("media", m.CurrentTime()).Float64("local", want).Msg("correcting drift")
	m.Seek(want)
	return true
}

// Leave ends the session for good. Timers stop, the room is told and the
// state is cleared.
func (r *Reconciler) Leave(ctx context.Context) error {
	err := r.store.update(func(st *State) error {
		if err := transition(st, PhaseLeft); err != nil {
			return err
		}
		*st = State{Phase: PhaseLeft}
		return nil
	})
	if err != nil {
		return err
	}

	r.stopLoop()
	r.unsubscribe()
	r.AttachMedia(nil)
	r.log.Info().Msg("left party")
	return r.session.Leave(ctx)
}

func (r *Reconciler) startLoop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(r.stop, r.done)
}

func (r *Reconciler) stopLoop() {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (r *Reconciler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	tick := r.clock.Ticker(r.cfg.Tick)
	defer tick.Stop()
	resync := r.clock.Ticker(r.cfg.Resync)
	defer resync.Stop()

	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			r.Tick()
		case <-resync.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SendTimeout)
			if err := r.Resync(ctx); err != nil {
				r.log.Warn().Err(err).Msg("resync")
			}
			cancel()
		}
	}
}

func (r *Reconciler) subscribe() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listeners != nil {
		return
	}
	handlers := map[string]client.Handler{
		proto.TypeRoomCreated:       r.onRoom,
		proto.TypeRoomJoined:        r.onRoom,
		proto.TypeParticipantJoined: r.onParticipants,
		proto.TypeParticipantLeft:   r.onParticipants,
		proto.TypePlay:              r.onPlayback,
		proto.TypePause:             r.onPlayback,
		proto.TypeSeek:              r.onPlayback,
		proto.TypeChat:              r.onChat,
		proto.TypeError:             r.onError,
		client.EventConnected:       r.onConnected,
		client.EventReconnecting:    r.onConnectionLost,
		client.EventDisconnected:    r.onConnectionLost,
	}
	r.listeners = make(map[string]client.ListenerID, len(handlers))
	for kind, h := range handlers {
		r.listeners[kind] = r.session.On(kind, h)
	}
}

func (r *Reconciler) unsubscribe() {
	r.mu.Lock()
	ls := r.listeners
	r.listeners = nil
	r.mu.Unlock()
	for kind, id := range ls {
		r.session.Off(kind, id)
	}
}

func (r *Reconciler) onRoom(env *proto.Envelope) {
	err := r.store.update(func(st *State) error {
		if err := transition(st, PhaseConnected); err != nil {
			return err
		}
		st.RoomID = env.RoomID
		st.Connected = true
		st.LastError = nil
		if env.Type == proto.TypeRoomCreated {
			st.IsHost = true
		}
		if info := env.RoomInfo; info != nil {
			st.CurrentTime = info.State.CurrentTime
			st.IsPlaying = info.State.IsPlaying
			st.MediaID = info.State.MediaID
			st.Participants = fromProto(info.Participants)
		} else if env.Data != nil {
			if env.Data.CurrentTime != nil {
				st.CurrentTime = *env.Data.CurrentTime
			}
			if env.Data.IsPlaying != nil {
				st.IsPlaying = *env.Data.IsPlaying
			}
			if env.MediaID != 0 {
				st.MediaID = env.MediaID
			}
			if len(env.Data.Participants) > 0 {
				st.Participants = fromProto(env.Data.Participants)
			}
		}
		for _, p := range st.Participants {
			if p.ID == r.cfg.UserID {
				st.IsHost = p.IsHost
			}
		}
		if env.Data != nil && len(env.Data.Messages) > 0 {
			st.Messages = historyLines(env.Data.Messages)
		}
		return nil
	})
	if err != nil {
		r.log.Debug().Err(err).Str("type", env.Type).Msg("ignored room reply")
		return
	}
	r.CorrectDrift()
}

func (r *Reconciler) onParticipants(env *proto.Envelope) {
	_ = r.store.update(func(st *State) error {
		if !r.active(st, env) {
			return errIgnored
		}
		name := env.UserName
		if name == "" {
			name = lookupName(st.Participants, env.UserID)
		}
		if env.Data != nil {
			st.Participants = fromProto(env.Data.Participants)
		}
		verb := "joined"
		if env.Type == proto.TypeParticipantLeft {
			verb = "left"
		}
		st.Messages = append(st.Messages, ChatLine{
			UserID:    env.UserID,
			UserName:  name,
			Text:      fmt.Sprintf("%s %s the party", name, verb),
			Timestamp: stamp(env, r.clock),
			System:    true,
		})
		return nil
	})
}

func (r *Reconciler) onPlayback(env *proto.Envelope) {
	err := r.store.update(func(st *State) error {
		if !r.active(st, env) {
			return errIgnored
		}
		switch env.Type {
		case proto.TypePlay:
			st.IsPlaying = true
		case proto.TypePause:
			st.IsPlaying = false
		}
		if env.Data != nil {
			if env.Data.CurrentTime != nil {
				st.CurrentTime = *env.Data.CurrentTime
			}
			if env.Data.IsPlaying != nil {
				st.IsPlaying = *env.Data.IsPlaying
			}
		}
		return nil
	})
	if err == nil {
		r.CorrectDrift()
	}
}

func (r *Reconciler) onChat(env *proto.Envelope) {
	_ = r.store.update(func(st *State) error {
		if !r.active(st, env) || env.Data == nil {
			return errIgnored
		}
		st.Messages = append(st.Messages, ChatLine{
			ID:        env.MessageID,
			UserID:    env.UserID,
			UserName:  env.UserName,
			Text:      env.Data.Message,
			Timestamp: stamp(env, r.clock),
		})
		return nil
	})
}

func (r *Reconciler) onError(env *proto.Envelope) {
	if env.Error == nil {
		return
	}
	r.log.Warn().Str("code", env.Error.Code).Str("msg", env.Error.Msg).Msg("server error")
	_ = r.store.update(func(st *State) error {
		if st.Phase == PhaseLeft {
			return errIgnored
		}
		e := *env.Error
		st.LastError = &e
		return nil
	})
}

func (r *Reconciler) onConnected(*proto.Envelope) {
	_ = r.store.update(func(st *State) error {
		if st.Phase == PhaseLeft || st.Phase == PhaseUnconfigured {
			return errIgnored
		}
		st.Connected = true
		if st.Phase == PhaseDisconnected {
			st.Phase = PhaseConnected
		}
		return nil
	})
}

func (r *Reconciler) onConnectionLost(env *proto.Envelope) {
	_ = r.store.update(func(st *State) error {
		if st.Phase == PhaseLeft || st.Phase == PhaseUnconfigured {
			return errIgnored
		}
		st.Connected = false
		if st.Phase == PhaseConnected {
			st.Phase = PhaseDisconnected
		}
		return nil
	})
	r.log.Info().Str("event", env.Type).Msg("connection lost")
}

var errIgnored = errors.New("ignored")

// active reports whether env belongs to the room this state follows.
func (r *Reconciler) active(st *State, env *proto.Envelope) bool {
	if st.Phase == PhaseLeft || st.Phase == PhaseUnconfigured {
		return false
	}
	return env.RoomID == "" || env.RoomID == st.RoomID
}

func fromProto(in []proto.Participant) []Participant {
	out := make([]Participant, len(in))
	for i, p := range in {
		out[i] = Participant{ID: p.ID, Name: p.Name, IsHost: p.IsHost}
	}
	return out
}

func historyLines(in []proto.ChatMessage) []ChatLine {
	out := make([]ChatLine, len(in))
	for i, m := range in {
		out[i] = ChatLine{
			ID:        m.ID,
			UserID:    m.UserID,
			UserName:  m.UserName,
			Text:      m.Message,
			Timestamp: time.UnixMilli(m.Timestamp),
		}
	}
	return out
}

func lookupName(ps []Participant, id string) string {
	for _, p := range ps {
		if p.ID == id {
			return p.Name
		}
	}
	return id
}

func stamp(env *proto.Envelope, c clock.Clock) time.Time {
	if env.Timestamp > 0 {
		return time.UnixMilli(env.Timestamp)
	}
	return c.Now()
}
