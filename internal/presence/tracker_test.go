package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceSetOperations(t *testing.T) {
	tr := NewTracker()

	tr.SetOnline("u1")
	tr.SetOnline("u2")
	tr.SetOnline("u1") // idempotent

	assert.True(t, tr.IsOnline("u1"))
	assert.True(t, tr.IsOnline("u2"))
	assert.Equal(t, []string{"u1", "u2"}, tr.OnlineUsers())

	tr.SetOffline("u1")
	tr.SetOffline("u1") // idempotent
	assert.False(t, tr.IsOnline("u1"))
	assert.Equal(t, []string{"u2"}, tr.OnlineUsers())
}

func TestReplaceAllDropsStaleEntries(t *testing.T) {
	tr := NewTracker()
	tr.SetOnline("stale")

	tr.ReplaceAll([]string{"u3", "u4"})

	assert.False(t, tr.IsOnline("stale"))
	assert.Equal(t, []string{"u3", "u4"}, tr.OnlineUsers())
}

func TestUnreadCounterNeverNegative(t *testing.T) {
	tr := NewTracker()

	tr.DecrementUnread(5)
	assert.Equal(t, 0, tr.Unread())

	for i := 0; i < 3; i++ {
		tr.IncrementUnread()
	}
	assert.Equal(t, 3, tr.Unread())

	tr.DecrementUnread(3)
	assert.Equal(t, 0, tr.Unread())

	tr.IncrementUnread()
	tr.ResetUnread()
	assert.Equal(t, 0, tr.Unread())

	tr.SetUnread(-2)
	assert.Equal(t, 0, tr.Unread())
	tr.SetUnread(7)
	assert.Equal(t, 7, tr.Unread())
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	tr := NewTracker()

	var last Snapshot
	var calls int
	cancel := tr.Subscribe(func(s Snapshot) {
		last = s
		calls++
	})

	tr.SetOnline("u1")
	tr.IncrementUnread()

	require.Equal(t, 2, calls)
	assert.Equal(t, []string{"u1"}, last.Online)
	assert.Equal(t, 1, last.Unread)

	cancel()
	tr.IncrementUnread()
	assert.Equal(t, 2, calls, "callback must not fire after cancel")
}
