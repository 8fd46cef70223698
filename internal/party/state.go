package party

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vovakirdan/watchparty/internal/proto"
)

// Phase is the lifecycle position of the local session.
type Phase int

const (
	PhaseUnconfigured Phase = iota
	PhaseSetup
	PhaseConnected
	PhaseDisconnected
	PhaseLeft
)

func (p Phase) String() string {
	switch p {
	case PhaseUnconfigured:
		return "unconfigured"
	case PhaseSetup:
		return "setup"
	case PhaseConnected:
		return "connected"
	case PhaseDisconnected:
		return "disconnected"
	case PhaseLeft:
		return "left"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ErrInvalidTransition is returned when an action is not allowed in the current phase.
var ErrInvalidTransition = errors.New("invalid phase transition")

var transitions = map[Phase][]Phase{
	PhaseUnconfigured: {PhaseSetup},
	PhaseSetup:        {PhaseSetup, PhaseConnected, PhaseLeft},
	PhaseConnected:    {PhaseConnected, PhaseDisconnected, PhaseLeft},
	PhaseDisconnected: {PhaseDisconnected, PhaseConnected, PhaseLeft},
}

// CanTransition reports whether to is reachable from p. Left is terminal.
func (p Phase) CanTransition(to Phase) bool {
	for _, next := range transitions[p] {
		if next == to {
			return true
		}
	}
	return false
}

// Participant is the local view of a room member.
type Participant struct {
	ID     string
	Name   string
	IsHost bool
}

// ChatLine is one entry of the local chat log. System lines announce joins and leaves.
type ChatLine struct {
	ID        string
	UserID    string
	UserName  string
	Text      string
	Timestamp time.Time
	System    bool
}

// State is the client-side projection of a session. The server stays authoritative.
type State struct {
	Phase        Phase
	RoomID       string
	IsHost       bool
	Participants []Participant
	CurrentTime  float64
	IsPlaying    bool
	MediaID      int64
	Connected    bool
	Messages     []ChatLine
	LastError    *proto.Error
}

func (s State) clone() State {
	out := s
	out.Participants = append([]Participant(nil), s.Participants...)
	out.Messages = append([]ChatLine(nil), s.Messages...)
	if s.LastError != nil {
		e := *s.LastError
		out.LastError = &e
	}
	return out
}

// Store holds the session state and notifies observers on every change.
type Store struct {
	mu        sync.RWMutex
	state     State
	observers []func(State)
}

// NewStore returns an empty, unconfigured store.
func NewStore() *Store {
	return &Store{}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// OnChange registers fn to receive a copy of the state after each update.
func (s *Store) OnChange(fn func(State)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// update applies fn atomically; an error leaves the state untouched.
func (s *Store) update(fn func(*State) error) error {
	s.mu.Lock()
	next := s.state.clone()
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	observers := append(([]func(State))(nil), s.observers...)
	snap := next.clone()
	s.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
	return nil
}

// transition moves st to phase to, or fails without changing it.
func transition(st *State, to Phase) error {
	if !st.Phase.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, st.Phase, to)
	}
	st.Phase = to
	return nil
}
