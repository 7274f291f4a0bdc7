package transport

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/arsync/internal/core/observability/log"
	"github.com/zeusync/arsync/internal/relay/wire"
)

// WebSocketHandler upgrades requests on SessionPath and hands them to an Acceptor.
type WebSocketHandler struct {
	acceptor Acceptor
	opts     Options
	logger   log.Log
	upgrader websocket.Upgrader
}

func NewWebSocketHandler(a Acceptor, opts Options, logger log.Log) *WebSocketHandler {
	if logger == nil {
		logger = log.Provide()
	}
	return &WebSocketHandler{
		acceptor: a,
		opts:     opts,
		logger:   logger.With(log.String("transport", "websocket")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	room := query.Get("room")
	if room == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	name := query.Get("name")

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", log.String("remote", r.RemoteAddr), log.Error(err))
		return
	}
	conn := newWebSocketConn(ws, h.opts)
	if err := h.acceptor.Serve(r.Context(), conn, room, name); err != nil {
		h.logger.Debug("connection ended", log.String("remote", r.RemoteAddr), log.Error(err))
	}
}

// DialWebSocket joins room on the relay at rawURL as name.
func DialWebSocket(ctx context.Context, rawURL, room, name string, opts Options) (wire.Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse relay url")
	}
	query := u.Query()
	query.Set("room", room)
	query.Set("name", name)
	u.RawQuery = query.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial websocket relay")
	}
	return newWebSocketConn(ws, opts), nil
}

type webSocketConn struct {
	ws           *websocket.Conn
	maxSize      int
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func newWebSocketConn(ws *websocket.Conn, opts Options) *webSocketConn {
	if opts.MaxFrameSize > 0 {
		ws.SetReadLimit(int64(opts.MaxFrameSize))
	}
	return &webSocketConn{ws: ws, maxSize: opts.MaxFrameSize, writeTimeout: opts.WriteTimeout}
}

func (c *webSocketConn) ReadFrame() (wire.Frame, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			return wire.Frame{}, wire.ErrFrameTooLarge
		}
		return wire.Frame{}, err
	}
	return wire.Unmarshal(data)
}

func (c *webSocketConn) WriteFrame(f wire.Frame) error {
	data, err := wire.Marshal(f, c.maxSize)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *webSocketConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *webSocketConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}
