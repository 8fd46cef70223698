package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandCreateRoom opens a new room with the sender as host.
	CommandCreateRoom CommandKind = iota
	// CommandJoinRoom adds the sender to an existing room.
	CommandJoinRoom
	// CommandLeaveRoom removes the sender from a room.
	CommandLeaveRoom
	// CommandPlay, CommandPause and CommandSeek change the shared playback.
	CommandPlay
	CommandPause
	CommandSeek
	// CommandTimeUpdate stores the sender's position without broadcasting it.
	CommandTimeUpdate
	// CommandChat relays a chat line to the other participants.
	CommandChat
)

// Command represents an action requested by a client.
type Command struct {
	Kind     CommandKind
	Room     string
	UserID   string
	UserName string
	MediaID  int64
	Playback PlaybackUpdate
	Text     string
}
