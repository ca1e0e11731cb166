package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightledger/messaging-core/internal/model"
)

var base = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func confirmed(id, content string, at time.Time) model.Message {
	return model.Message{
		ID:             id,
		SenderID:       "u1",
		ReceiverID:     "u2",
		Content:        content,
		Type:           model.MessageTypeText,
		ConversationID: "u1_u2",
		Timestamp:      at,
	}
}

func optimistic(content string, at time.Time) model.Message {
	msg := model.NewOptimisticMessage("u1", "u2", "u1_u2", content, model.MessageTypeText)
	msg.Timestamp = at
	return msg
}

func TestSeedReplacesWholesale(t *testing.T) {
	e := New("u1_u2", Options{})
	e.AppendOptimistic(optimistic("draft", base))

	e.Seed([]model.Message{
		confirmed("m2", "second", base.Add(2*time.Second)),
		confirmed("m1", "first", base.Add(time.Second)),
	})

	msgs := e.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestOptimisticSendConverges(t *testing.T) {
	e := New("u1_u2", Options{})

	opt := optimistic("Hello", base)
	e.AppendOptimistic(opt)
	require.Equal(t, 1, e.Len())

	// Server confirms 300ms later with its own id; temp id echoed.
	conf := confirmed("m500", "Hello", base.Add(300*time.Millisecond))
	conf.TempID = opt.TempID
	outcome := e.Reconcile(conf)

	assert.Equal(t, OutcomeMerged, outcome)
	msgs := e.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m500", msgs[0].ID)
	assert.False(t, msgs[0].IsOptimistic())
}

func TestReconcileFallsBackToContentAndTolerance(t *testing.T) {
	e := New("u1_u2", Options{})

	e.AppendOptimistic(optimistic("Hello", base))

	// Backend that does not echo the temp id.
	outcome := e.Reconcile(confirmed("m500", "Hello", base.Add(2*time.Second)))

	assert.Equal(t, OutcomeMerged, outcome)
	msgs := e.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m500", msgs[0].ID)
}

func TestReconcileOutsideToleranceAppends(t *testing.T) {
	e := New("u1_u2", Options{Tolerance: time.Second})

	e.AppendOptimistic(optimistic("Hello", base))
	outcome := e.Reconcile(confirmed("m500", "Hello", base.Add(3*time.Second)))

	assert.Equal(t, OutcomeAppended, outcome)
	assert.Equal(t, 2, e.Len())
}

func TestDoubleDeliveryCollapses(t *testing.T) {
	e := New("u1_u2", Options{})

	opt := optimistic("Hi", base)
	e.AppendOptimistic(opt)

	conf := confirmed("m501", "Hi", base.Add(100*time.Millisecond))
	conf.TempID = opt.TempID

	// Direct ack and room broadcast both deliver the same confirmed message.
	first := e.Reconcile(conf)
	second := e.Reconcile(conf)

	assert.Equal(t, OutcomeMerged, first)
	assert.Equal(t, OutcomeReplaced, second)
	msgs := e.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m501", msgs[0].ID)
}

func TestReconcileSameIDReplacesInPlace(t *testing.T) {
	e := New("u1_u2", Options{})
	e.Seed([]model.Message{confirmed("m1", "original", base)})

	updated := confirmed("m1", "original", base)
	updated.Read = true
	outcome := e.Reconcile(updated)

	assert.Equal(t, OutcomeReplaced, outcome)
	msgs := e.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Read)
}

func TestUnrelatedConfirmedAppends(t *testing.T) {
	e := New("u1_u2", Options{})
	e.AppendOptimistic(optimistic("mine", base))

	outcome := e.Reconcile(confirmed("m9", "theirs", base.Add(time.Second)))

	assert.Equal(t, OutcomeAppended, outcome)
	assert.Equal(t, 2, e.Len())
}

func TestRemoveDropsFailedOptimistic(t *testing.T) {
	e := New("u1_u2", Options{})
	opt := optimistic("doomed", base)
	e.AppendOptimistic(opt)

	require.True(t, e.Remove(opt.TempID))
	assert.Equal(t, 0, e.Len())
	assert.False(t, e.Remove(opt.TempID))
}

func TestMarkRead(t *testing.T) {
	e := New("u1_u2", Options{})
	e.Seed([]model.Message{
		confirmed("m1", "a", base),
		confirmed("m2", "b", base.Add(time.Second)),
	})

	readAt := base.Add(time.Minute)
	n := e.MarkRead("u1", readAt)

	assert.Equal(t, 2, n)
	for _, msg := range e.Messages() {
		assert.True(t, msg.Read)
		require.NotNil(t, msg.ReadAt)
		assert.Equal(t, readAt, *msg.ReadAt)
	}

	// Second receipt is a no-op.
	assert.Equal(t, 0, e.MarkRead("u1", readAt))
}

func TestListStaysSortedAndDuplicateFree(t *testing.T) {
	e := New("u1_u2", Options{})

	// Interleave operations with shuffled timestamps.
	e.Seed([]model.Message{
		confirmed("m3", "c", base.Add(3*time.Second)),
		confirmed("m1", "a", base.Add(1*time.Second)),
	})
	opt := optimistic("d", base.Add(4*time.Second))
	e.AppendOptimistic(opt)
	e.Reconcile(confirmed("m2", "b", base.Add(2*time.Second)))
	conf := confirmed("m4", "d", base.Add(4*time.Second).Add(200*time.Millisecond))
	conf.TempID = opt.TempID
	e.Reconcile(conf)
	e.Reconcile(conf)

	msgs := e.Messages()
	require.Len(t, msgs, 4)

	seen := map[string]bool{}
	for i, msg := range msgs {
		require.False(t, seen[msg.ID], "duplicate id %s", msg.ID)
		seen[msg.ID] = true
		if i > 0 {
			assert.False(t, msg.Timestamp.Before(msgs[i-1].Timestamp),
				"messages out of order at index %d", i)
		}
	}
}

func TestLast(t *testing.T) {
	e := New("u1_u2", Options{})

	_, ok := e.Last()
	assert.False(t, ok)

	for i := 0; i < 3; i++ {
		e.Reconcile(confirmed(fmt.Sprintf("m%d", i), fmt.Sprintf("msg %d", i), base.Add(time.Duration(i)*time.Second)))
	}

	last, ok := e.Last()
	require.True(t, ok)
	assert.Equal(t, "m2", last.ID)
}
