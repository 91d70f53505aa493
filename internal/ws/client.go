package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sujalbistaa/pollwave/internal/notify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Message is the frame the frontend expects.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is handled by the HTTP layer; sockets are read-only for clients.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWs upgrades the request and streams hub events to the client. The
// optional poll_id query parameter narrows the stream to one poll.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	filter := notify.Filter{PollID: r.URL.Query().Get("poll_id")}
	events := hub.Subscribe(ctx, filter)

	log := hub.log.WithFields(logrus.Fields{"poll_id": filter.PollID, "remote": r.RemoteAddr})
	log.Debug("websocket client connected")

	go writePump(conn, events, cancel, log)
	go readPump(conn, cancel)
}

// readPump discards client frames and keeps the connection alive with
// pongs. It cancels the subscription when the client goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer func() {
		cancel()
		conn.Close()
	}()
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, events <-chan notify.Event, cancel context.CancelFunc, log *logrus.Entry) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(Message{Type: ev.Type, Data: ev}); err != nil {
				log.WithError(err).Debug("websocket write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
