package protocol

import (
	"context"
	"errors"
	log "log/slog"
	"sync"

	ws "github.com/gorilla/websocket"
)

// WebSocket is a single hub connection. Writes are serialized; reads must
// come from one goroutine.
type WebSocket struct {
	conn *ws.Conn
	url  string

	writeMu sync.Mutex
}

func Dial(ctx context.Context, url string) (*WebSocket, error) {
	log.Debug("dial websocket", "url", url)

	conn, _, err := ws.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &WebSocket{conn: conn, url: url}, nil
}

func (web *WebSocket) Write(payload []byte) error {
	web.writeMu.Lock()
	defer web.writeMu.Unlock()

	log.Debug("write ws", "msg", string(payload))
	return web.conn.WriteMessage(ws.TextMessage, payload)
}

func (web *WebSocket) Read() ([]byte, error) {
	_, msg, err := web.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	log.Debug("read ws", "msg", string(msg))
	return msg, nil
}

func (web *WebSocket) Close() error {
	web.writeMu.Lock()
	defer web.writeMu.Unlock()

	_ = web.conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
	return web.conn.Close()
}

// IsClosed reports whether err means the peer went away rather than a
// malformed frame.
func IsClosed(err error) bool {
	if errors.Is(err, ws.ErrCloseSent) {
		return true
	}
	var ce *ws.CloseError
	return errors.As(err, &ce)
}
