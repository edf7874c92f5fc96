package domain

import (
	"context"
	"unicode"

	"github.com/google/uuid"
)

// MaxRoomIDLength bounds room identifiers. Room ids are opaque keys; the
// portal uses stringified salon session ids but the core does not care.
const MaxRoomIDLength = 64

// Member is one participant's live connection as seen by the room registry.
// Implementations must make Deliver non-blocking and Evict idempotent.
type Member interface {
	ID() uuid.UUID
	Identity() string

	// Deliver enqueues a frame for the member's write pump. It never blocks:
	// a closed member returns ErrConnectionClosed, a member whose send buffer
	// is full returns ErrSendBufferFull.
	Deliver(frame []byte) error

	// Evict tears the connection down. Safe to call from any goroutine and
	// any number of times; the member is removed from its room exactly once.
	Evict(reason string)
}

// Registry is the authoritative room membership mapping. It is the only
// component allowed to mutate membership. Kept narrow so a distributed
// backing store could implement the same contract without touching callers.
type Registry interface {
	// Join adds m to the room, creating it if absent. Fails with
	// ErrAlreadyMember if m is registered anywhere, ErrRoomFull at capacity.
	Join(roomID string, m Member) error

	// Leave removes m from the room. Removing an absent member is a no-op.
	// A room whose last member leaves is dropped entirely.
	Leave(roomID string, m Member)

	// Broadcast sanitizes text and fans it out to the room's members,
	// returning the number of successful deliveries. Delivery failures evict
	// the failing member without aborting the rest of the fan-out.
	Broadcast(roomID string, sender Member, text string) int

	// ParticipantCount reports current membership; 0 for unknown rooms.
	ParticipantCount(roomID string) int
}

// Authenticator validates an access token for a room before the connection
// reaches the broadcast core. The returned identity is opaque to the core.
type Authenticator interface {
	Authenticate(ctx context.Context, roomID, token string) (identity string, err error)
}

// ValidateRoomID rejects malformed room identifiers before any admission
// work happens.
func ValidateRoomID(id string) error {
	if id == "" || len(id) > MaxRoomIDLength {
		return ErrInvalidRoomID
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return ErrInvalidRoomID
		}
	}
	return nil
}
