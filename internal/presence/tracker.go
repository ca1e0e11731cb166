// Package presence maintains the set of online users and the global unread
// counter.
//
// Every surface reads from and writes to one shared Tracker instead of
// mirroring the state locally, so concurrently mounted surfaces cannot
// diverge on who is online or how many messages are unread.
package presence

import (
	"sort"
	"sync"

	"github.com/brightledger/messaging-core/pkg/metrics"
)

// Snapshot is the state handed to subscribers on every change.
type Snapshot struct {
	Online []string
	Unread int
}

// Tracker holds the presence set and the unread counter.
type Tracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
	unread int

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		online: make(map[string]struct{}),
		subs:   make(map[int]func(Snapshot)),
	}
}

// SetOnline adds a user to the presence set. Idempotent.
func (t *Tracker) SetOnline(userID string) {
	t.mu.Lock()
	t.online[userID] = struct{}{}
	t.mu.Unlock()
	t.changed()
}

// SetOffline removes a user from the presence set. Idempotent.
func (t *Tracker) SetOffline(userID string) {
	t.mu.Lock()
	delete(t.online, userID)
	t.mu.Unlock()
	t.changed()
}

// ReplaceAll swaps the presence set wholesale. Used on (re)connect so stale
// entries from a disconnect gap do not linger.
func (t *Tracker) ReplaceAll(userIDs []string) {
	t.mu.Lock()
	t.online = make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		t.online[id] = struct{}{}
	}
	t.mu.Unlock()
	t.changed()
}

// IsOnline reports whether the given user is currently online.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// OnlineUsers returns the presence set sorted for stable iteration.
func (t *Tracker) OnlineUsers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onlineLocked()
}

func (t *Tracker) onlineLocked() []string {
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IncrementUnread bumps the global unread counter by one.
func (t *Tracker) IncrementUnread() {
	t.mu.Lock()
	t.unread++
	t.mu.Unlock()
	t.changed()
}

// DecrementUnread lowers the counter by n, clamped at zero.
func (t *Tracker) DecrementUnread(n int) {
	t.mu.Lock()
	t.unread -= n
	if t.unread < 0 {
		t.unread = 0
	}
	t.mu.Unlock()
	t.changed()
}

// ResetUnread zeroes the counter.
func (t *Tracker) ResetUnread() {
	t.mu.Lock()
	t.unread = 0
	t.mu.Unlock()
	t.changed()
}

// SetUnread overwrites the counter with a server-reported value.
func (t *Tracker) SetUnread(n int) {
	if n < 0 {
		n = 0
	}
	t.mu.Lock()
	t.unread = n
	t.mu.Unlock()
	t.changed()
}

// Unread returns the current global unread count.
func (t *Tracker) Unread() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.unread
}

// Subscribe registers a change callback and returns its cancel function.
// The callback receives a snapshot, never live internal state.
func (t *Tracker) Subscribe(fn func(Snapshot)) func() {
	t.subMu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.subMu.Unlock()

	return func() {
		t.subMu.Lock()
		delete(t.subs, id)
		t.subMu.Unlock()
	}
}

func (t *Tracker) changed() {
	t.mu.RLock()
	snap := Snapshot{Online: t.onlineLocked(), Unread: t.unread}
	t.mu.RUnlock()

	metrics.OnlineUsers.Set(float64(len(snap.Online)))
	metrics.UnreadMessages.Set(float64(snap.Unread))

	t.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.subMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
