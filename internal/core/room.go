package core

import "time"

// PlaybackKind selects which playback command is applied.
type PlaybackKind int

const (
	PlaybackPlay PlaybackKind = iota
	PlaybackPause
	PlaybackSeek
)

func (k PlaybackKind) String() string {
	switch k {
	case PlaybackPause:
		return "pause"
	case PlaybackSeek:
		return "seek"
	default:
		return "play"
	}
}

// Playback is the authoritative playback state of a room.
type Playback struct {
	CurrentTime float64
	IsPlaying   bool
	MediaID     int64
}

// PlaybackUpdate carries the fields a command actually set.
type PlaybackUpdate struct {
	CurrentTime *float64
	IsPlaying   *bool
}

// apply mutates only the fields present in u.
func (p *Playback) apply(u PlaybackUpdate) {
	if u.CurrentTime != nil {
		p.CurrentTime = *u.CurrentTime
	}
	if u.IsPlaying != nil {
		p.IsPlaying = *u.IsPlaying
	}
}

// Participant is a member of a room. Handle references the connection owned by the dispatcher.
type Participant struct {
	ID       string
	Name     string
	IsHost   bool
	JoinedAt time.Time
	Handle   Handle
}

// ParticipantInfo is the public projection of a participant.
type ParticipantInfo struct {
	ID     string
	Name   string
	IsHost bool
}

// RoomSnapshot is a value copy of a room handed out by the registry.
type RoomSnapshot struct {
	ID           string
	Participants []ParticipantInfo
	Playback     Playback
	CreatedAt    time.Time
}

// RoomSummary is the listing view used by introspection.
type RoomSummary struct {
	ID           string
	Participants int
	Playback     Playback
	CreatedAt    time.Time
}

// Room holds participants in join order. Only the registry touches it.
type Room struct {
	ID        string
	CreatedAt time.Time
	Playback  Playback

	participants []*Participant
	byID         map[string]*Participant
}

func newRoom(id string, mediaID int64, createdAt time.Time) *Room {
	return &Room{
		ID:        id,
		CreatedAt: createdAt,
		Playback:  Playback{MediaID: mediaID},
		byID:      make(map[string]*Participant),
	}
}

// add inserts a participant. Returns false if the id is already present.
func (r *Room) add(p *Participant) bool {
	if _, exists := r.byID[p.ID]; exists {
		return false
	}
	r.byID[p.ID] = p
	r.participants = append(r.participants, p)
	return true
}

// remove deletes a participant. Returns false if it was not present.
func (r *Room) remove(id string) bool {
	if _, exists := r.byID[id]; !exists {
		return false
	}
	delete(r.byID, id)
	for i, p := range r.participants {
		if p.ID == id {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			break
		}
	}
	return true
}

func (r *Room) participant(id string) (*Participant, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Len returns the number of participants.
func (r *Room) Len() int {
	return len(r.participants)
}

// Empty returns true if no participants are in the room.
func (r *Room) Empty() bool {
	return len(r.participants) == 0
}

// handles returns the connection handles of everyone except the given participant.
func (r *Room) handles(except string) []Handle {
	out := make([]Handle, 0, len(r.participants))
	for _, p := range r.participants {
		if p.ID == except || p.Handle == "" {
			continue
		}
		out = append(out, p.Handle)
	}
	return out
}

func (r *Room) infos() []ParticipantInfo {
	out := make([]ParticipantInfo, len(r.participants))
	for i, p := range r.participants {
		out[i] = ParticipantInfo{ID: p.ID, Name: p.Name, IsHost: p.IsHost}
	}
	return out
}

func (r *Room) snapshot() RoomSnapshot {
	return RoomSnapshot{
		ID:           r.ID,
		Participants: r.infos(),
		Playback:     r.Playback,
		CreatedAt:    r.CreatedAt,
	}
}
