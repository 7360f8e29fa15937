package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cogmote/puremote/internal/channel"
	"github.com/cogmote/puremote/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Events queued for a slow client before new ones are dropped
	sendBuffer = 256
)

// StreamMessage is one websocket text message sent to a relay client.
type StreamMessage struct {
	Type       string          `json:"type"` // "event" or "dropped"
	Address    string          `json:"address"`
	Channel    string          `json:"channel"`
	ReceivedAt time.Time       `json:"received_at,omitzero"`
	Data       json.RawMessage `json:"data,omitempty"`
	Dropped    int             `json:"dropped,omitempty"`
}

// handleStream upgrades the request and forwards every new event of the
// channel until the client leaves or the relay shuts down. It subscribes
// only; connecting the channel is the client's call.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	address, name := vars["address"], vars["name"]
	remoteAddr := r.RemoteAddr

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("Failed to upgrade to websocket",
			zap.String("remote_addr", remoteAddr),
			zap.String("origin", r.Header.Get("Origin")),
			zap.Error(err),
		)
		return
	}

	if !s.track(conn, remoteAddr) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	defer s.untrack(conn)

	logging.LogConnection(remoteAddr, "websocket_opened",
		zap.String("address", address),
		zap.String("channel", name),
	)
	defer func() {
		_ = conn.Close()
		logging.LogConnection(remoteAddr, "websocket_closed",
			zap.String("address", address),
			zap.String("channel", name),
		)
	}()

	out := make(chan channel.Event, sendBuffer)
	dropped := make(chan int, 1)
	id := s.channels.Subscribe(address, name, func(ev channel.Event) {
		select {
		case out <- ev:
		default:
			// Count the loss without blocking the channel reader.
			select {
			case n := <-dropped:
				dropped <- n + 1
			default:
				dropped <- 1
			}
		}
	})
	defer s.channels.Unsubscribe(address, name, id)

	done := make(chan struct{})
	go readPump(conn, done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-out:
			msg := StreamMessage{
				Type:       "event",
				Address:    address,
				Channel:    name,
				ReceivedAt: ev.ReceivedAt,
				Data:       ev.Data,
			}
			if err := writeMessage(conn, msg); err != nil {
				logging.Warn("Failed to send event to relay client",
					zap.String("remote_addr", remoteAddr),
					zap.Error(err),
				)
				return
			}

		case n := <-dropped:
			logging.Warn("Relay client too slow, events dropped",
				zap.String("remote_addr", remoteAddr),
				zap.Int("dropped", n),
			)
			if err := writeMessage(conn, StreamMessage{Type: "dropped", Address: address, Channel: name, Dropped: n}); err != nil {
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logging.Debug("Ping failed, closing relay client",
					zap.String("remote_addr", remoteAddr),
					zap.Error(err),
				)
				return
			}

		case <-done:
			return

		case <-s.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, msg StreamMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

// readPump discards client messages and closes done when the connection
// fails or the client closes it.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
