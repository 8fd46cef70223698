package proto

// Envelope is the JSON frame exchanged in both directions over the session socket.
type Envelope struct {
	Type      string    `json:"type"`
	RoomID    string    `json:"roomId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	UserName  string    `json:"userName,omitempty"`
	MediaID   int64     `json:"mediaId,omitempty"`
	Data      *Data     `json:"data,omitempty"`
	RoomInfo  *RoomInfo `json:"roomInfo,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Timestamp int64     `json:"timestamp,omitempty"` // unix millis, stamped by the server
	Error     *Error    `json:"error,omitempty"`
}

const (
	TypeCreateRoom        = "create-room"
	TypeJoinRoom          = "join-room"
	TypeLeaveRoom         = "leave-room"
	TypePlay              = "play"
	TypePause             = "pause"
	TypeSeek              = "seek"
	TypeChat              = "chat"
	TypeTimeUpdate        = "time-update"
	TypeError             = "error"
	TypeRoomCreated       = "room-created"
	TypeRoomJoined        = "room-joined"
	TypeParticipantJoined = "participant-joined"
	TypeParticipantLeft   = "participant-left"
)

// Data carries the optional per-type payload.
type Data struct {
	CurrentTime  *float64      `json:"currentTime,omitempty"`
	IsPlaying    *bool         `json:"isPlaying,omitempty"`
	Message      string        `json:"message,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	Messages     []ChatMessage `json:"messages,omitempty"`
}

// Participant is the public view of a room member.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

// PlaybackState mirrors the authoritative room playback.
type PlaybackState struct {
	CurrentTime float64 `json:"currentTime"`
	IsPlaying   bool    `json:"isPlaying"`
	MediaID     int64   `json:"mediaId"`
}

// RoomInfo is a full room snapshot sent to creators and joiners.
type RoomInfo struct {
	RoomID       string        `json:"roomId"`
	Participants []Participant `json:"participants"`
	State        PlaybackState `json:"state"`
	CreatedAt    int64         `json:"createdAt"`
}

// ChatMessage is used when chat history travels inside a snapshot.
type ChatMessage struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
