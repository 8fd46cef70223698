package core

import "time"

// ChatMessage is a chat line stamped by the registry. It is forwarded, never stored.
type ChatMessage struct {
	ID         string
	Room       string
	SenderID   string
	SenderName string
	Text       string
	CreatedAt  time.Time
}
