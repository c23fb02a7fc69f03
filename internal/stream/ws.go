package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
	handleTimeout  = 10 * time.Second
)

// A peer that answers no ping within pongWait is disconnected.
var (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Dashboards are served from another origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsConn struct {
	conn *websocket.Conn
}

func (c wsConn) WriteMessage(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c wsConn) Close() error {
	return c.conn.Close()
}

// Handler upgrades requests to WebSocket connections served by hub.
func Handler(hub *Hub, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	wait, period := pongWait, pingPeriod
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied with an HTTP error.
			logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})

		sub := hub.Connect(wsConn{conn: conn})
		defer hub.Disconnect(sub)

		stop := make(chan struct{})
		defer close(stop)
		go keepAlive(conn, period, stop)

		for {
			msgType, payload, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn("websocket read error", "subscriber", sub.ID(), "error", err)
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(wait))
			if msgType != websocket.TextMessage {
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
			err = hub.HandleMessage(ctx, sub, payload)
			cancel()
			if err != nil && !errors.Is(err, ErrMalformedEvent) {
				logger.Warn("websocket message failed", "subscriber", sub.ID(), "error", err)
			}
		}
	})
}

// keepAlive pings the peer until stop is closed. WriteControl may run
// concurrently with the hub's writer.
func keepAlive(conn *websocket.Conn, period time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
