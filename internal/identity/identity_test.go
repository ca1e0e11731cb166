package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveConversationID(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want string
	}{
		{name: "already ordered", a: "u1", b: "u2", want: "u1_u2"},
		{name: "reversed arguments", a: "u2", b: "u1", want: "u1_u2"},
		{name: "lexicographic not numeric", a: "u10", b: "u2", want: "u10_u2"},
		{name: "uuid style ids", a: "b7f9", b: "a0c3", want: "a0c3_b7f9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveConversationID(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			// Order independence.
			swapped, err := DeriveConversationID(tt.b, tt.a)
			require.NoError(t, err)
			assert.Equal(t, got, swapped)
		})
	}
}

func TestDeriveConversationID_SameParticipant(t *testing.T) {
	_, err := DeriveConversationID("u1", "u1")
	require.ErrorIs(t, err, ErrSameParticipant)
}

func TestDeriveConversationID_EmptyParticipant(t *testing.T) {
	_, err := DeriveConversationID("", "u1")
	require.ErrorIs(t, err, ErrEmptyParticipant)

	_, err = DeriveConversationID("u1", "")
	require.ErrorIs(t, err, ErrEmptyParticipant)
}
