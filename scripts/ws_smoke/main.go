package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/pflag"

	"github.com/vovakirdan/watchparty/internal/client"
	"github.com/vovakirdan/watchparty/internal/proto"
	"github.com/vovakirdan/watchparty/internal/utils"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := pflag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	text := pflag.String("text", "hello from smoke test", "chat text to send")
	at := pflag.Float64("at", 42, "position to start playback at")
	timeout := pflag.Duration("timeout", 5*time.Second, "total timeout for the run")
	pflag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	host, err := dial(ctx, *addr)
	if err != nil {
		return err
	}
	defer host.Close(websocket.StatusNormalClosure, "bye")
	guest, err := dial(ctx, *addr)
	if err != nil {
		return err
	}
	defer guest.Close(websocket.StatusNormalClosure, "bye")

	roomID := client.GenerateRoomID()
	hostID, guestID := "smoke-"+utils.NewID(), "smoke-"+utils.NewID()
	if err := wsjson.Write(ctx, host, proto.Envelope{Type: proto.TypeCreateRoom, RoomID: roomID, UserID: hostID, UserName: "host", MediaID: 1}); err != nil {
		return fmt.Errorf("send create: %w", err)
	}
	if _, err := expect(ctx, host, proto.TypeRoomCreated); err != nil {
		return err
	}

	if err := wsjson.Write(ctx, guest, proto.Envelope{Type: proto.TypeJoinRoom, RoomID: roomID, UserID: guestID, UserName: "guest"}); err != nil {
		return fmt.Errorf("send join: %w", err)
	}
	if _, err := expect(ctx, guest, proto.TypeRoomJoined); err != nil {
		return err
	}
	if _, err := expect(ctx, host, proto.TypeParticipantJoined); err != nil {
		return err
	}

	play := proto.Envelope{Type: proto.TypePlay, RoomID: roomID, UserID: hostID, Data: &proto.Data{CurrentTime: proto.Float(*at), IsPlaying: proto.Bool(true)}}
	if err := wsjson.Write(ctx, host, play); err != nil {
		return fmt.Errorf("send play: %w", err)
	}
	env, err := expect(ctx, guest, proto.TypePlay)
	if err != nil {
		return err
	}
	if env.Data == nil || env.Data.CurrentTime == nil || *env.Data.CurrentTime != *at {
		return fmt.Errorf("play relayed with wrong position: %+v", env.Data)
	}

	chat := proto.Envelope{Type: proto.TypeChat, RoomID: roomID, UserID: hostID, UserName: "host", Data: &proto.Data{Message: *text}}
	if err := wsjson.Write(ctx, host, chat); err != nil {
		return fmt.Errorf("send chat: %w", err)
	}
	env, err = expect(ctx, guest, proto.TypeChat)
	if err != nil {
		return err
	}
	fmt.Printf("chat: room=%s from=%s id=%s text=%q\n", env.RoomID, env.UserName, env.MessageID, env.Data.Message)

	fmt.Printf("smoke ok: room %s\n", roomID)
	return nil
}

func dial(ctx context.Context, addr string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

// expect reads until an envelope of type typ arrives, failing on error envelopes.
func expect(ctx context.Context, conn *websocket.Conn, typ string) (*proto.Envelope, error) {
	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return nil, fmt.Errorf("read waiting for %s: %w", typ, err)
		}
		fmt.Printf("received: type=%s room=%s user=%s\n", env.Type, env.RoomID, env.UserID)
		if env.Type == proto.TypeError && env.Error != nil {
			return nil, fmt.Errorf("server error %s: %s", env.Error.Code, env.Error.Msg)
		}
		if env.Type == typ {
			return &env, nil
		}
	}
}
