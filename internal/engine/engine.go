// Package engine merges the three message sources of an open conversation
// (initial fetch, optimistic local sends, server-confirmed deliveries) into
// one ordered, duplicate-free sequence.
package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/brightledger/messaging-core/internal/model"
	"github.com/brightledger/messaging-core/pkg/metrics"
)

// DefaultTolerance is the timestamp window within which an optimistic entry
// and a confirmed message with identical content are treated as the same
// logical send. Only consulted when the backend did not echo the temp id.
const DefaultTolerance = 5 * time.Second

// Outcome describes what Reconcile did with a confirmed message.
type Outcome string

const (
	// OutcomeReplaced means a message with the same final id already existed
	// and was overwritten in place (idempotent re-delivery).
	OutcomeReplaced Outcome = "replaced"

	// OutcomeMerged means an optimistic entry was collapsed into the
	// confirmed message.
	OutcomeMerged Outcome = "merged"

	// OutcomeAppended means the confirmed message was new.
	OutcomeAppended Outcome = "appended"
)

// Options configures an Engine.
type Options struct {
	// Tolerance overrides DefaultTolerance when positive.
	Tolerance time.Duration
}

// Engine holds the ordered message list for a single conversation.
//
// Transport callbacks and REST fetch completions arrive on different
// goroutines, so every operation takes the engine lock.
type Engine struct {
	mu             sync.RWMutex
	conversationID string
	tolerance      time.Duration
	messages       []model.Message
}

// New creates an engine for one conversation.
func New(conversationID string, opts Options) *Engine {
	tolerance := opts.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Engine{
		conversationID: conversationID,
		tolerance:      tolerance,
	}
}

// ConversationID returns the conversation this engine belongs to.
func (e *Engine) ConversationID() string {
	return e.conversationID
}

// Seed replaces the list wholesale with a freshly fetched history. Seeding is
// expected on conversation open, before any sends; a seed landing after
// reconciliation discards the reconciled entries.
func (e *Engine) Seed(msgs []model.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.messages = make([]model.Message, len(msgs))
	copy(e.messages, msgs)
	e.resort()
}

// AppendOptimistic inserts a locally created message so the sender sees it
// instantly, regardless of network latency.
func (e *Engine) AppendOptimistic(msg model.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.messages = append(e.messages, msg)
	e.resort()
}

// Reconcile folds a server-confirmed message into the list. The same logical
// message may arrive twice (direct ack plus room broadcast); both paths
// converge on a single entry bearing the confirmed id.
func (e *Engine) Reconcile(confirmed model.Message) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	outcome := e.reconcileLocked(confirmed)
	metrics.ReconcileTotal.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (e *Engine) reconcileLocked(confirmed model.Message) Outcome {
	// Idempotent re-delivery: same final id replaces in place.
	for i := range e.messages {
		if e.messages[i].ID == confirmed.ID {
			e.messages[i] = confirmed
			e.resort()
			return OutcomeReplaced
		}
	}

	// Collapse the matching optimistic entry, if any.
	for i := range e.messages {
		if !e.messages[i].IsOptimistic() {
			continue
		}
		if e.sameLogicalSend(e.messages[i], confirmed) {
			e.messages[i] = confirmed
			e.resort()
			return OutcomeMerged
		}
	}

	e.messages = append(e.messages, confirmed)
	e.resort()
	return OutcomeAppended
}

// sameLogicalSend reports whether an optimistic entry and a confirmed message
// represent the same user action: the echoed temp id is authoritative, the
// content-plus-tolerance comparison is the fallback for backends that do not
// echo it.
func (e *Engine) sameLogicalSend(optimistic, confirmed model.Message) bool {
	if confirmed.TempID != "" && confirmed.TempID == optimistic.TempID {
		return true
	}
	if optimistic.Content != confirmed.Content {
		return false
	}
	delta := confirmed.Timestamp.Sub(optimistic.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	return delta < e.tolerance
}

// Remove drops the message whose id or temp id matches. Used when a send
// ultimately errors and its optimistic entry must disappear.
func (e *Engine) Remove(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.messages {
		if e.messages[i].ID == id || (id != "" && e.messages[i].TempID == id) {
			e.messages = append(e.messages[:i], e.messages[i+1:]...)
			return true
		}
	}
	return false
}

// MarkRead flags every message sent by the given user as read at the given
// time. Driven by inbound read receipts.
func (e *Engine) MarkRead(senderID string, readAt time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var n int
	for i := range e.messages {
		if e.messages[i].SenderID == senderID && !e.messages[i].Read {
			e.messages[i].Read = true
			at := readAt
			e.messages[i].ReadAt = &at
			n++
		}
	}
	return n
}

// Messages returns a copy of the ordered list.
func (e *Engine) Messages() []model.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]model.Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// Last returns the most recent message, if any.
func (e *Engine) Last() (model.Message, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.messages) == 0 {
		return model.Message{}, false
	}
	return e.messages[len(e.messages)-1], true
}

// Len returns the number of messages held.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.messages)
}

// resort keeps the list ascending by timestamp. Display order follows
// timestamps, not arrival order: optimistic and confirmed arrivals are
// inherently out of order relative to each other. Stable sort preserves
// insertion order for equal timestamps. Callers hold the lock.
func (e *Engine) resort() {
	sort.SliceStable(e.messages, func(i, j int) bool {
		return e.messages[i].Timestamp.Before(e.messages[j].Timestamp)
	})
}
