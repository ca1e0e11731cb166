// Package identity derives canonical conversation keys.
package identity

import (
	"errors"
	"fmt"
)

// Separator joins the two participant ids of a conversation key.
const Separator = "_"

var (
	// ErrEmptyParticipant is returned when either participant id is empty.
	ErrEmptyParticipant = errors.New("participant id cannot be empty")

	// ErrSameParticipant is returned when both ids refer to the same user.
	// A user cannot converse with themselves.
	ErrSameParticipant = errors.New("participants must be distinct")
)

// DeriveConversationID returns the canonical key for the two-party
// conversation between a and b. The result is order-independent:
// DeriveConversationID(a, b) == DeriveConversationID(b, a).
//
// The key space carries no third-party collision guarantee; it is sufficient
// for exactly-two-party conversations, the only case this system supports.
func DeriveConversationID(a, b string) (string, error) {
	if a == "" || b == "" {
		return "", ErrEmptyParticipant
	}
	if a == b {
		return "", fmt.Errorf("%w: %q", ErrSameParticipant, a)
	}
	if b < a {
		a, b = b, a
	}
	return a + Separator + b, nil
}
