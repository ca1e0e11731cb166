package transport

import (
	"context"
	"sync"
)

// Manager hands one shared Client to multiple surfaces with reference-counted
// connect/disconnect: the first Acquire dials, the last Release hangs up. It
// replaces a process-wide connection singleton so no surface ever owns the
// socket outright.
type Manager struct {
	mu     sync.Mutex
	client *Client
	refs   int
}

// NewManager wraps a client for shared ownership.
func NewManager(client *Client) *Manager {
	return &Manager{client: client}
}

// Acquire registers a surface as a user of the connection, dialing on first
// use. The returned client is shared; callers must pair every Acquire with
// exactly one Release.
func (m *Manager) Acquire(ctx context.Context, token string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs == 0 {
		if err := m.client.Connect(ctx, token); err != nil {
			return nil, err
		}
	}
	m.refs++
	return m.client, nil
}

// Release drops one reference; the connection closes when none remain.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs == 0 {
		return
	}
	m.refs--
	if m.refs == 0 {
		m.client.Disconnect()
	}
}

// Refs returns the current reference count.
func (m *Manager) Refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}
