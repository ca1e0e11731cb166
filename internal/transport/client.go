// Package transport owns the realtime connection to the messaging gateway.
//
// The client translates between the wire protocol and typed local events; it
// never holds conversation state itself.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/brightledger/messaging-core/internal/model"
	"github.com/brightledger/messaging-core/pkg/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Outbound buffer; Send fails fast rather than blocking when full.
	sendBuffer = 64
)

var (
	// ErrNotConnected is returned by emit operations while the connection is
	// down. Sends are never queued silently.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrMissingToken is returned when Connect is called without a bearer
	// token. Token absence must prevent connection establishment, not
	// degrade to anonymous.
	ErrMissingToken = errors.New("transport: auth token required")

	// ErrMissingTarget is returned by MarkAsRead when neither a conversation
	// id nor message ids are given.
	ErrMissingTarget = errors.New("transport: conversation id or message ids required")

	// ErrSendBufferFull is returned when the outbound queue is saturated.
	ErrSendBufferFull = errors.New("transport: send buffer full")
)

// Handler consumes the raw payload of one wire event.
type Handler func(data json.RawMessage)

// Options configures a Client.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string

	// DialTimeout bounds connection establishment. Defaults to 10s.
	DialTimeout time.Duration

	Logger *logger.Logger
}

// Client is a long-lived bidirectional connection to the messaging gateway.
type Client struct {
	opts Options
	log  *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	send      chan model.Envelope
	done      chan struct{}
	connected bool

	hmu          sync.RWMutex
	handlers     map[model.EventType]Handler
	onDisconnect func(error)
}

// NewClient creates a disconnected client.
func NewClient(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = logger.Global()
	}
	return &Client{
		opts:     opts,
		log:      log.WithComponent("transport"),
		handlers: make(map[model.EventType]Handler),
	}
}

// Connect establishes the connection, authenticating with the bearer token.
// Calling Connect while connected is a no-op; it never creates a duplicate
// connection.
func (c *Client) Connect(ctx context.Context, token string) error {
	if token == "" {
		return ErrMissingToken
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	timeout := c.opts.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, c.opts.URL, header)
	if err != nil {
		if resp != nil {
			c.log.Error("dial rejected", zap.Int("status", resp.StatusCode), zap.Error(err))
		} else {
			c.log.Error("dial failed", zap.Error(err))
		}
		return err
	}

	c.conn = conn
	c.send = make(chan model.Envelope, sendBuffer)
	c.done = make(chan struct{})
	c.connected = true

	go c.readPump(conn, c.done)
	go c.writePump(conn, c.send, c.done)

	c.log.Info("connected", zap.String("url", c.opts.URL))
	return nil
}

// Disconnect tears down the connection. Safe to call when already closed.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked(nil)
}

func (c *Client) teardownLocked(cause error) {
	if !c.connected {
		return
	}
	c.connected = false
	close(c.done)

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	_ = c.conn.Close()
	c.conn = nil

	c.hmu.RLock()
	onDisconnect := c.onDisconnect
	c.hmu.RUnlock()
	if onDisconnect != nil {
		// Off the connection lock so the callback may query the client.
		go onDisconnect(cause)
	}

	if cause != nil {
		c.log.Warn("disconnected", zap.Error(cause))
	} else {
		c.log.Info("disconnected")
	}
}

// IsConnected reports whether the connection is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// JoinConversation subscribes this connection to one conversation's room so
// the gateway only pushes relevant events here.
func (c *Client) JoinConversation(conversationID string) error {
	return c.emit(model.EventJoinConversation, model.RoomPayload{ConversationID: conversationID})
}

// LeaveConversation drops the room subscription.
func (c *Client) LeaveConversation(conversationID string) error {
	return c.emit(model.EventLeaveConversation, model.RoomPayload{ConversationID: conversationID})
}

// Send emits a message. It returns when the local emit succeeds, not when the
// server confirms persistence, and fails immediately when not connected.
func (c *Client) Send(payload model.SendPayload) error {
	if payload.Type == "" {
		payload.Type = model.MessageTypeText
	}
	return c.emit(model.EventSendMessage, payload)
}

// MarkAsRead asks the gateway to mark messages read. A bare conversation id
// means all unread messages in that conversation.
func (c *Client) MarkAsRead(req model.MarkReadRequest) error {
	if req.ConversationID == "" && len(req.MessageIDs) == 0 {
		return ErrMissingTarget
	}
	return c.emit(model.EventMarkRead, req)
}

// StartTyping signals typing activity to the conversation's room.
func (c *Client) StartTyping(conversationID string) error {
	return c.emit(model.EventTypingStart, model.RoomPayload{ConversationID: conversationID})
}

// StopTyping clears the typing signal.
func (c *Client) StopTyping(conversationID string) error {
	return c.emit(model.EventTypingStop, model.RoomPayload{ConversationID: conversationID})
}

func (c *Client) emit(event model.EventType, payload any) error {
	env, err := model.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	send, done := c.send, c.done
	c.mu.Unlock()

	select {
	case send <- env:
		return nil
	case <-done:
		return ErrNotConnected
	default:
		return ErrSendBufferFull
	}
}

// On registers the handler for one event kind. Re-registering replaces the
// previous handler rather than stacking, so a remounting surface never causes
// duplicate invocations.
func (c *Client) On(event model.EventType, fn Handler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers[event] = fn
}

// Off removes the handler for one event kind.
func (c *Client) Off(event model.EventType) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	delete(c.handlers, event)
}

// OnDisconnect registers the connection-loss callback. A nil error means a
// deliberate Disconnect.
func (c *Client) OnDisconnect(fn func(error)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.onDisconnect = fn
}

func (c *Client) dispatch(env model.Envelope) {
	c.hmu.RLock()
	fn := c.handlers[env.Event]
	c.hmu.RUnlock()

	if fn == nil {
		return
	}
	fn(env.Data)
}

// readPump pumps events from the socket to registered handlers. At most one
// reader runs per connection.
func (c *Client) readPump(conn *websocket.Conn, done chan struct{}) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				// Deliberate teardown already in progress.
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.log.Warn("read failed", zap.Error(err))
				}
				c.mu.Lock()
				c.teardownLocked(err)
				c.mu.Unlock()
			}
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Warn("dropping malformed event", zap.Error(err))
			continue
		}
		c.dispatch(env)
	}
}

// writePump pumps queued envelopes to the socket. At most one writer runs per
// connection; pings keep the read deadline alive.
func (c *Client) writePump(conn *websocket.Conn, send chan model.Envelope, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				c.log.Warn("write failed", zap.Error(err))
				c.mu.Lock()
				c.teardownLocked(err)
				c.mu.Unlock()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.mu.Lock()
				c.teardownLocked(err)
				c.mu.Unlock()
				return
			}
		case <-done:
			return
		}
	}
}
