package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerDialsOnceForManyAcquires(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(newTestClient(ts))

	c1, err := m.Acquire(context.Background(), "tok")
	require.NoError(t, err)
	c2, err := m.Acquire(context.Background(), "tok")
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, 2, m.Refs())
	assert.Equal(t, int32(1), ts.dials.Load())

	m.Release()
	m.Release()
}

func TestManagerDisconnectsOnLastRelease(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(newTestClient(ts))

	c, err := m.Acquire(context.Background(), "tok")
	require.NoError(t, err)
	_, err = m.Acquire(context.Background(), "tok")
	require.NoError(t, err)

	m.Release()
	assert.True(t, c.IsConnected(), "connection survives while references remain")

	m.Release()
	assert.False(t, c.IsConnected())
	assert.Equal(t, 0, m.Refs())
}

func TestManagerReleaseWithoutAcquireIsNoop(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(newTestClient(ts))

	m.Release()
	assert.Equal(t, 0, m.Refs())

	// Still usable afterwards.
	c, err := m.Acquire(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, c.IsConnected())
	m.Release()
}

func TestManagerPropagatesDialError(t *testing.T) {
	ts := newTestServer(t)
	m := NewManager(newTestClient(ts))

	_, err := m.Acquire(context.Background(), "")
	require.ErrorIs(t, err, ErrMissingToken)
	assert.Equal(t, 0, m.Refs())
}
