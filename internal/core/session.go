package core

import (
	"sync"
	"time"

	"github.com/ormond/waypoint/internal/domain"
)

type SessionState int

const (
	StateConnected SessionState = iota
	StateAuthenticated
	StateInRoom
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateInRoom:
		return "in_room"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is the per-connection state machine:
// connected -> authenticated -> in_room -> closed.
// A failed transition leaves the state untouched.
type Session struct {
	id        ConnID
	createdAt time.Time

	mu    sync.Mutex
	state SessionState
	user  *domain.User
	room  domain.RoomID
}

func NewSession(id ConnID) *Session {
	return &Session{id: id, createdAt: time.Now(), state: StateConnected}
}

func (s *Session) ID() ConnID           { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) User() *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Room returns the current room, if the session is in one.
func (s *Session) Room() (domain.RoomID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.state == StateInRoom
}

// Authenticate attaches the identity. Set-once: a second call with a
// different identity is rejected, a repeat with the same one is a no-op.
func (s *Session) Authenticate(user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return Errf(CodeBadState, "session closed")
	case StateConnected:
		s.user = user
		s.state = StateAuthenticated
		return nil
	default:
		if s.user != nil && s.user.ID == user.ID {
			return nil
		}
		return Errf(CodeBadState, "already authenticated")
	}
}

// EnterRoom records the room membership; joining while already in a room
// replaces the previous one (the registry moves the index entry).
func (s *Session) EnterRoom(room domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateAuthenticated, StateInRoom:
		s.room = room
		s.state = StateInRoom
		return nil
	case StateConnected:
		return Errf(CodeBadState, "not authenticated")
	default:
		return Errf(CodeBadState, "session closed")
	}
}

func (s *Session) LeaveRoom() (domain.RoomID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInRoom {
		return "", Errf(CodeBadState, "not in a room")
	}
	room := s.room
	s.room = ""
	s.state = StateAuthenticated
	return room, nil
}

// RequireInRoom is the send precondition: identity plus current room.
func (s *Session) RequireInRoom() (domain.RoomID, *domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInRoom {
		return "", nil, Errf(CodeBadState, "not in a room")
	}
	return s.room, s.user, nil
}

// Close is terminal and idempotent. Reports the room held at close time so
// the caller can emit the presence decrement.
func (s *Session) Close() (domain.RoomID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return "", false
	}
	room, wasInRoom := s.room, s.state == StateInRoom
	s.room = ""
	s.state = StateClosed
	return room, wasInRoom
}
