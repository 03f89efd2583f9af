package core

import (
	"context"
	"errors"
	"time"

	"github.com/ormond/waypoint/internal/domain"
)

// Frame is an encoded outbound payload.
type Frame []byte

type ConnID string

// SignalConnection abstracts the messaging transport of one client.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// IdentityVerifier resolves a bearer credential to a stable identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (*domain.User, error)
}

// ErrRoomNotFound is returned by RoomDirectory.Get for unknown room ids.
var ErrRoomNotFound = errors.New("room not found")

// ErrMessageNotFound is returned by MessageStore.ToggleReaction for unknown
// message ids.
var ErrMessageNotFound = errors.New("message not found")

// RoomDirectory is the persistent room metadata collaborator. The core only
// asks it whether rooms exist and accept members; it never writes rooms.
// Joinability (event expiry) is evaluated on the returned metadata.
type RoomDirectory interface {
	Get(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	RoomsFor(ctx context.Context, identity *domain.User, now time.Time) ([]domain.Room, error)
}

// MessageStore is the durable append log of messages per room.
type MessageStore interface {
	Append(ctx context.Context, msg *domain.Message) error
	// Recent returns up to limit latest messages, oldest first.
	Recent(ctx context.Context, room domain.RoomID, limit int) ([]domain.Message, error)
	// ToggleReaction flips the (message, user) reaction atomically and
	// returns the updated message.
	ToggleReaction(ctx context.Context, messageID string, uid domain.UserID) (*domain.Message, error)
}
