package gateway

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/brightledger/messaging-core/internal/identity"
	"github.com/brightledger/messaging-core/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 128 * 1024
)

// session is one websocket connection of one authenticated user. A user may
// hold several sessions at once (inbox tab plus floating widget).
type session struct {
	hub  *Hub
	conn *websocket.Conn
	send chan model.Envelope

	userID string
	name   string
	role   model.Role

	rooms   map[string]struct{}
	limiter *rate.Limiter
}

func (s *session) enqueue(env model.Envelope) {
	select {
	case s.send <- env:
	default:
		// Slow consumer: drop the session rather than block the hub.
		s.hub.log.Warn("send buffer full, closing session", zap.String("user_id", s.userID))
		_ = s.conn.Close()
	}
}

func (s *session) sendError(message, tempID string) {
	s.enqueue(mustEnvelope(model.EventMessageError, model.ErrorPayload{
		Error:  message,
		TempID: tempID,
	}))
}

// readPump pumps events from the socket into the hub. At most one reader per
// connection.
func (s *session) readPump() {
	defer func() {
		s.hub.unregister(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.hub.log.Warn("read failed", zap.String("user_id", s.userID), zap.Error(err))
			}
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.sendError("malformed event frame", "")
			continue
		}
		s.hub.handleEvent(s, env)
	}
}

// writePump pumps queued envelopes to the socket. At most one writer per
// connection.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case env := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func decode(env model.Envelope, out any) error {
	return json.Unmarshal(env.Data, out)
}

func mustEnvelope(event model.EventType, payload any) model.Envelope {
	env, err := model.NewEnvelope(event, payload)
	if err != nil {
		// Payloads are our own structs; a marshal failure is a programming
		// error.
		panic(err)
	}
	return env
}

func conversationKey(a, b string) (string, error) {
	return identity.DeriveConversationID(a, b)
}
