package core

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

type inbound struct {
	client *Client
	cmd    *Command
}

// Hub owns live connections and feeds their commands to the registry one at a time.
type Hub struct {
	registry *Registry
	relay    *ClientRelay
	log      zerolog.Logger

	register   chan *Client
	unregister chan *Client
	inbox      chan inbound
	stopped    chan struct{}

	clients map[Handle]*Client
}

// NewHub wires a hub to a registry and the relay that registry publishes through.
// Nil arguments get fresh defaults.
func NewHub(registry *Registry, relay *ClientRelay, logger *zerolog.Logger) *Hub {
	if relay == nil {
		relay = NewClientRelay()
	}
	if registry == nil {
		registry = NewRegistry(relay)
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Hub{
		registry:   registry,
		relay:      relay,
		log:        l.With().Str("component", "hub").Logger(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbox:      make(chan inbound, 256),
		stopped:    make(chan struct{}),
		clients:    make(map[Handle]*Client),
	}
}

// Registry exposes the registry for read-only introspection.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run processes registrations and commands until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for _, c := range h.clients {
			h.detach(c)
		}
		close(h.stopped)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c.Handle] = c
			h.relay.Attach(c)
			go h.pump(ctx, c)
			h.log.Debug().Str("conn", string(c.Handle)).Msg("client registered")
		case c := <-h.unregister:
			h.detach(c)
		case in := <-h.inbox:
			if in.client.closed {
				continue
			}
			h.handle(in.client, in.cmd)
		}
	}
}

// RegisterClient adds a client. It does not block once the hub has stopped.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.stopped:
	}
}

// UnregisterClient releases a client and runs the disconnect cleanup for its room.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

func (h *Hub) pump(ctx context.Context, c *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case cmd := <-c.Commands:
			if cmd == nil {
				continue
			}
			select {
			case h.inbox <- inbound{client: c, cmd: cmd}:
			case <-c.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Hub) detach(c *Client) {
	if c.closed {
		return
	}
	h.relay.Detach(c.Handle)
	if c.bound() {
		if err := h.registry.Disconnect(c.roomID, c.userID, c.Handle); err != nil && !errors.Is(err, ErrRoomNotFound) && !errors.Is(err, ErrNotInRoom) {
			h.log.Warn().Err(err).Str("room", c.roomID).Str("user", c.userID).Msg("disconnect cleanup failed")
		}
		c.unbind()
	}
	c.closed = true
	close(c.done)
	close(c.Events)
	delete(h.clients, c.Handle)
	h.log.Debug().Str("conn", string(c.Handle)).Msg("client unregistered")
}

func (h *Hub) handle(c *Client, cmd *Command) {
	// Clients are bound under the registry's id so close cleanup finds the room.
	cmd.Room = strings.TrimSpace(cmd.Room)

	switch cmd.Kind {
	case CommandCreateRoom:
		if cmd.Room == "" || cmd.UserID == "" {
			h.sendError(c, coreError(ErrCodeBadRequest, "roomId and userId are required"))
			return
		}
		snap, err := h.registry.CreateRoom(cmd.Room, cmd.UserID, cmd.UserName, cmd.MediaID, c.Handle)
		if err != nil {
			h.sendError(c, ToCoreError(err))
			return
		}
		h.rebind(c, snap.ID, cmd.UserID)
		h.reply(c, &Event{Kind: EventRoomCreated, Room: snap.ID, UserID: cmd.UserID, Snapshot: &snap})

	case CommandJoinRoom:
		if cmd.Room == "" || cmd.UserID == "" {
			h.sendError(c, coreError(ErrCodeBadRequest, "roomId and userId are required"))
			return
		}
		snap, err := h.registry.JoinRoom(cmd.Room, cmd.UserID, cmd.UserName, c.Handle)
		if err != nil {
			h.sendError(c, ToCoreError(err))
			return
		}
		h.rebind(c, snap.ID, cmd.UserID)
		h.reply(c, &Event{Kind: EventRoomJoined, Room: snap.ID, UserID: cmd.UserID, Snapshot: &snap})

	case CommandLeaveRoom:
		if err := h.registry.LeaveRoom(cmd.Room, cmd.UserID); err != nil {
			h.sendError(c, ToCoreError(err))
			return
		}
		if c.roomID == cmd.Room && c.userID == cmd.UserID {
			c.unbind()
		}

	case CommandPlay, CommandPause, CommandSeek:
		if err := h.registry.ApplyPlayback(cmd.Room, cmd.UserID, commandPlayback(cmd.Kind), cmd.Playback); err != nil {
			h.sendError(c, ToCoreError(err))
		}

	case CommandTimeUpdate:
		if cmd.Playback.CurrentTime == nil {
			return
		}
		// Periodic and best effort: an unknown room is not worth an error reply.
		if err := h.registry.UpdateTime(cmd.Room, *cmd.Playback.CurrentTime); err != nil {
			h.log.Debug().Err(err).Str("room", cmd.Room).Msg("time update ignored")
		}

	case CommandChat:
		if _, err := h.registry.RelayChat(cmd.Room, cmd.UserID, cmd.UserName, cmd.Text); err != nil {
			h.sendError(c, ToCoreError(err))
		}

	default:
		h.log.Warn().Int("kind", int(cmd.Kind)).Msg("unknown command dropped")
	}
}

// rebind moves the connection to a new membership, releasing the previous one.
func (h *Hub) rebind(c *Client, roomID, userID string) {
	if c.bound() && (c.roomID != roomID || c.userID != userID) {
		if err := h.registry.Disconnect(c.roomID, c.userID, c.Handle); err != nil {
			h.log.Debug().Err(err).Str("room", c.roomID).Msg("previous membership already gone")
		}
	}
	c.bind(roomID, userID)
}

func (h *Hub) reply(c *Client, ev *Event) {
	if !h.relay.Send(c.Handle, ev) {
		h.log.Warn().Str("conn", string(c.Handle)).Msg("reply dropped, client buffer full")
	}
}

func (h *Hub) sendError(c *Client, err *CoreError) {
	h.reply(c, &Event{Kind: EventError, Error: err})
}

func commandPlayback(k CommandKind) PlaybackKind {
	switch k {
	case CommandPause:
		return PlaybackPause
	case CommandSeek:
		return PlaybackSeek
	default:
		return PlaybackPlay
	}
}
