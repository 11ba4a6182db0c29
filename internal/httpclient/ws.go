package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn wraps a WebSocket connection with typed JSON helpers. It backs the
// registry client's duplex transport.
type WSConn struct {
	conn *websocket.Conn
}

// DialWS opens a WebSocket connection.
func DialWS(ctx context.Context, url string, headers http.Header) (*WSConn, error) {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		return nil, fmt.Errorf("httpclient: websocket dial: %w", err)
	}
	return &WSConn{conn: conn}, nil
}

// ReadJSON reads and decodes a JSON message from the WebSocket. If ctx
// carries a deadline, it is applied to the underlying read.
func (ws *WSConn) ReadJSON(ctx context.Context, v any) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.conn.SetReadDeadline(deadline)
	} else {
		_ = ws.conn.SetReadDeadline(time.Time{})
	}
	_, data, err := ws.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("httpclient: websocket read: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("httpclient: websocket unmarshal: %w", err)
	}
	return nil
}

// WriteJSON encodes and sends a JSON message over the WebSocket.
func (ws *WSConn) WriteJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("httpclient: websocket marshal: %w", err)
	}
	if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("httpclient: websocket write: %w", err)
	}
	return nil
}

// Close gracefully closes the WebSocket connection.
func (ws *WSConn) Close() error {
	_ = ws.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return ws.conn.Close()
}
