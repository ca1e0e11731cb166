package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightledger/messaging-core/internal/model"
	"github.com/brightledger/messaging-core/pkg/logger"
)

// testServer accepts websocket connections and exposes what it sees.
type testServer struct {
	srv     *httptest.Server
	inbound chan model.Envelope
	conns   chan *websocket.Conn
	auth    chan string
	dials   atomic.Int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		inbound: make(chan model.Envelope, 16),
		conns:   make(chan *websocket.Conn, 4),
		auth:    make(chan string, 4),
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.dials.Add(1)
		ts.conns <- conn

		for {
			var env model.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			ts.inbound <- env
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func newTestClient(ts *testServer) *Client {
	return NewClient(Options{
		URL:         ts.wsURL(),
		DialTimeout: 5 * time.Second,
		Logger:      logger.NewNop(),
	})
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting on channel")
		panic("unreachable")
	}
}

func TestConnectRequiresToken(t *testing.T) {
	c := NewClient(Options{URL: "ws://localhost:0/ws", Logger: logger.NewNop()})

	err := c.Connect(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingToken)
	assert.False(t, c.IsConnected())
}

func TestConnectSendsBearerToken(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(ts)

	require.NoError(t, c.Connect(context.Background(), "tok-123"))
	defer c.Disconnect()

	assert.Equal(t, "Bearer tok-123", recv(t, ts.auth))
	assert.True(t, c.IsConnected())
}

func TestConnectIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(ts)

	require.NoError(t, c.Connect(context.Background(), "tok"))
	defer c.Disconnect()
	require.NoError(t, c.Connect(context.Background(), "tok"))

	assert.Equal(t, int32(1), ts.dials.Load())
}

func TestEmitFailsFastWhenDisconnected(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(ts)

	err := c.Send(model.SendPayload{ReceiverID: "u2", Content: "hi"})
	assert.ErrorIs(t, err, ErrNotConnected)

	err = c.JoinConversation("u1_u2")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSendDeliversEnvelope(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(ts)

	require.NoError(t, c.Connect(context.Background(), "tok"))
	defer c.Disconnect()

	require.NoError(t, c.Send(model.SendPayload{
		ReceiverID: "u2",
		Content:    "hello",
		TempID:     "temp_1",
	}))

	env := recv(t, ts.inbound)
	assert.Equal(t, model.EventSendMessage, env.Event)

	var payload model.SendPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "hello", payload.Content)
	assert.Equal(t, model.MessageTypeText, payload.Type, "type defaults to text")
	assert.Equal(t, "temp_1", payload.TempID)
}

func TestMarkAsReadRequiresTarget(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(ts)

	require.NoError(t, c.Connect(context.Background(), "tok"))
	defer c.Disconnect()

	assert.ErrorIs(t, c.MarkAsRead(model.MarkReadRequest{}), ErrMissingTarget)
	assert.NoError(t, c.MarkAsRead(model.MarkReadRequest{ConversationID: "u1_u2"}))
}

func TestDispatchRoutesToHandler(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(ts)

	got := make(chan model.Message, 1)
	c.On(model.EventNewMessage, func(data json.RawMessage) {
		var msg model.Message
		if err := json.Unmarshal(data, &msg); err == nil {
			got <- msg
		}
	})

	require.NoError(t, c.Connect(context.Background(), "tok"))
	defer c.Disconnect()

	conn := recv(t, ts.conns)
	env, err := model.NewEnvelope(model.EventNewMessage, model.Message{
		ID: "m1", SenderID: "u2", Content: "incoming",
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))

	msg := recv(t, got)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "incoming", msg.Content)
}

func TestOnReplacesPreviousHandler(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(ts)

	var firstCalls atomic.Int32
	second := make(chan struct{}, 1)

	c.On(model.EventUserOnline, func(json.RawMessage) { firstCalls.Add(1) })
	c.On(model.EventUserOnline, func(json.RawMessage) { second <- struct{}{} })

	require.NoError(t, c.Connect(context.Background(), "tok"))
	defer c.Disconnect()

	conn := recv(t, ts.conns)
	env, err := model.NewEnvelope(model.EventUserOnline, model.PresencePayload{UserID: "u2"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))

	recv(t, second)
	assert.Equal(t, int32(0), firstCalls.Load(), "replaced handler must not fire")
}

func TestOnDisconnectFiresOnServerClose(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(ts)

	dropped := make(chan error, 1)
	c.OnDisconnect(func(err error) { dropped <- err })

	require.NoError(t, c.Connect(context.Background(), "tok"))

	conn := recv(t, ts.conns)
	conn.Close()

	err := recv(t, dropped)
	assert.Error(t, err)
	assert.False(t, c.IsConnected())
}

func TestDisconnectIsSafeToRepeat(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(ts)

	require.NoError(t, c.Connect(context.Background(), "tok"))
	c.Disconnect()
	c.Disconnect()
	assert.False(t, c.IsConnected())
}
