package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/watchparty/internal/config"
	"github.com/vovakirdan/watchparty/internal/core"
	"github.com/vovakirdan/watchparty/internal/proto"
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub        *core.Hub
	log        *zerolog.Logger
	maxBytes   int64
	sendBuffer int
	rateLimit  int
	clock      clock.Clock
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		hub:        hub,
		log:        logger,
		maxBytes:   cfg.MaxMessageBytes,
		sendBuffer: cfg.SendBuffer,
		rateLimit:  cfg.MaxMessagesPerMinute,
		clock:      clock.New(),
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.maxBytes > 0 {
		conn.SetReadLimit(h.maxBytes)
	}

	client := core.NewClient(core.NewHandle(), h.sendBuffer)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	limiter := newRateLimiter(h.rateLimit, h.clock)

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, limiter)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn", string(client.Handle)).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, limiter *rateLimiter) error {
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			h.log.Debug().Err(err).Str("conn", string(client.Handle)).Msg("read ws frame")
			return err
		}

		if !limiter.allow() {
			if err := wsjson.Write(ctx, conn, errorEnvelope(core.ErrCodeRateLimited, "too many messages", h.clock.Now())); err != nil {
				return err
			}
			continue
		}

		env, err := proto.Decode(raw)
		if err != nil {
			h.log.Debug().Err(err).Str("conn", string(client.Handle)).Msg("malformed envelope")
			if err := wsjson.Write(ctx, conn, errorEnvelope(core.ErrCodeBadRequest, err.Error(), h.clock.Now())); err != nil {
				return err
			}
			continue
		}
		if !proto.IsInbound(env.Type) {
			h.log.Warn().Str("conn", string(client.Handle)).Str("type", env.Type).Msg("unknown message type dropped")
			continue
		}

		cmd, protoErr := inboundToCommand(env)
		if protoErr != nil {
			if err := wsjson.Write(ctx, conn, errorEnvelope(protoErr.Code, protoErr.Msg, h.clock.Now())); err != nil {
				return err
			}
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-client.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event, h.clock.Now())); err != nil {
				h.log.Error().Err(err).Str("conn", string(client.Handle)).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
