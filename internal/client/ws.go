package client

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/watchparty/internal/proto"
)

// WSTransport dials the session server over WebSocket.
type WSTransport struct {
	url string
}

// NewWSTransport returns a transport for the given ws:// or wss:// endpoint.
func NewWSTransport(url string) *WSTransport {
	return &WSTransport{url: url}
}

// Dial opens the socket. The room is announced later by create/join.
func (t *WSTransport) Dial(ctx context.Context, _ string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, t.url, err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Send(ctx context.Context, env *proto.Envelope) error {
	if err := wsjson.Write(ctx, c.conn, env); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrTransport, env.Type, err)
	}
	return nil
}

// Recv must be given a context that lives as long as the connection:
// cancelling a pending read closes the socket.
func (c *wsConn) Recv(ctx context.Context) (*proto.Envelope, error) {
	_, raw, err := c.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrTransport, err)
	}
	return proto.Decode(raw)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
