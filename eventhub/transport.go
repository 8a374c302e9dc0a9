package eventhub

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport opens connections to the event hub.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one open hub connection. ReadFrame is only called from a single
// goroutine; WriteFrame may be called concurrently.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(ctx context.Context, data []byte) error
	Close() error
}

// WebSocketTransport dials the hub over a websocket.
type WebSocketTransport struct {
	URL    string
	Header http.Header
	Codec  Codec
	Dialer *websocket.Dialer
}

// NewWebSocketTransport returns a transport for url carrying frames in codec.
func NewWebSocketTransport(url string, codec Codec) *WebSocketTransport {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &WebSocketTransport{URL: url, Codec: codec, Dialer: websocket.DefaultDialer}
}

// Dial implements Transport.
func (t *WebSocketTransport) Dial(ctx context.Context) (Conn, error) {
	d := t.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	ws, resp, err := d.DialContext(ctx, t.URL, t.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", t.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}
	return &wsConn{ws: ws, msgType: t.Codec.MessageType()}, nil
}

type wsConn struct {
	ws      *websocket.Conn
	msgType int

	writeMu sync.Mutex
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == c.msgType {
			return data, nil
		}
	}
}

func (c *wsConn) WriteFrame(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	return c.ws.WriteMessage(c.msgType, data)
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
