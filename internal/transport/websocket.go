package transport

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/sensordash/internal/errors"
	"github.com/gorilla/websocket"
)

const wsHandshakeTimeout = 10 * time.Second

// WebSocketDialer opens WebSocket push channels.
type WebSocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebSocketDialer returns a dialer with a bounded handshake.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{dialer: &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: wsHandshakeTimeout,
	}}
}

func (*WebSocketDialer) Name() string { return "WebSocket" }

func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Channel, error) {
	errFactory := errors.New()

	conn, resp, err := d.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrTransportOpen, err)
	}

	return &wsChannel{conn: conn}, nil
}

type wsChannel struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (c *wsChannel) Receive() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err == nil {
		return data, nil
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return nil, errors.New().Wrap(ErrClosed, err)
	}

	return nil, errors.New().Wrap(errors.ErrTransportRuntime, err)
}

func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		c.closeErr = c.conn.Close()
	})

	return c.closeErr
}
