package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventRoomCreated confirms room creation to the creator.
	EventRoomCreated EventKind = iota
	// EventRoomJoined delivers the room snapshot to a joiner.
	EventRoomJoined
	// EventParticipantJoined notifies existing participants about a newcomer.
	EventParticipantJoined
	// EventParticipantLeft notifies remaining participants about a departure.
	EventParticipantLeft
	// EventPlay, EventPause and EventSeek relay playback commands.
	EventPlay
	EventPause
	EventSeek
	// EventChat relays a chat line.
	EventChat
	// EventError notifies a single client about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind         EventKind
	Room         string
	UserID       string
	UserName     string
	Playback     PlaybackUpdate
	Snapshot     *RoomSnapshot     // room-created, room-joined
	Participants []ParticipantInfo // participant-joined, participant-left
	Chat         *ChatMessage
	Error        *CoreError
}

func playbackEvent(kind PlaybackKind) EventKind {
	switch kind {
	case PlaybackPause:
		return EventPause
	case PlaybackSeek:
		return EventSeek
	default:
		return EventPlay
	}
}
