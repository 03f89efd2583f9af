package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormond/waypoint/internal/domain"
)

func testUser(id, name string) *domain.User {
	return &domain.User{ID: domain.UserID(id), Username: name}
}

func TestSessionTransitions(t *testing.T) {
	s := NewSession("c1")
	assert.Equal(t, StateConnected, s.State())

	require.NoError(t, s.Authenticate(testUser("u1", "alice")))
	assert.Equal(t, StateAuthenticated, s.State())

	require.NoError(t, s.EnterRoom("global"))
	assert.Equal(t, StateInRoom, s.State())
	room, ok := s.Room()
	assert.True(t, ok)
	assert.Equal(t, domain.RoomID("global"), room)

	left, err := s.LeaveRoom()
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("global"), left)
	assert.Equal(t, StateAuthenticated, s.State())
}

func TestSessionIdentitySetOnce(t *testing.T) {
	s := NewSession("c1")
	require.NoError(t, s.Authenticate(testUser("u1", "alice")))

	// Same identity is a no-op.
	assert.NoError(t, s.Authenticate(testUser("u1", "alice")))

	err := s.Authenticate(testUser("u2", "bob"))
	require.Error(t, err)
	assert.Equal(t, CodeBadState, CodeOf(err))
	assert.Equal(t, domain.UserID("u1"), s.User().ID)
}

func TestSessionSendRequiresRoom(t *testing.T) {
	s := NewSession("c1")

	_, _, err := s.RequireInRoom()
	require.Error(t, err)
	assert.Equal(t, CodeBadState, CodeOf(err))

	require.NoError(t, s.Authenticate(testUser("u1", "alice")))
	_, _, err = s.RequireInRoom()
	require.Error(t, err)
	assert.Equal(t, CodeBadState, CodeOf(err))

	require.NoError(t, s.EnterRoom("global"))
	room, user, err := s.RequireInRoom()
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("global"), room)
	assert.Equal(t, domain.UserID("u1"), user.ID)
}

func TestSessionEnterRoomUnauthenticated(t *testing.T) {
	s := NewSession("c1")
	err := s.EnterRoom("global")
	require.Error(t, err)
	assert.Equal(t, CodeBadState, CodeOf(err))
	assert.Equal(t, StateConnected, s.State())
}

func TestSessionJoinReplacesRoom(t *testing.T) {
	s := NewSession("c1")
	require.NoError(t, s.Authenticate(testUser("u1", "alice")))
	require.NoError(t, s.EnterRoom("a"))
	require.NoError(t, s.EnterRoom("b"))

	room, ok := s.Room()
	assert.True(t, ok)
	assert.Equal(t, domain.RoomID("b"), room)
}

func TestSessionCloseIdempotent(t *testing.T) {
	s := NewSession("c1")
	require.NoError(t, s.Authenticate(testUser("u1", "alice")))
	require.NoError(t, s.EnterRoom("global"))

	room, wasInRoom := s.Close()
	assert.True(t, wasInRoom)
	assert.Equal(t, domain.RoomID("global"), room)

	_, wasInRoom = s.Close()
	assert.False(t, wasInRoom)

	assert.Equal(t, CodeBadState, CodeOf(s.Authenticate(testUser("u2", "bob"))))
	assert.Equal(t, CodeBadState, CodeOf(s.EnterRoom("global")))
	_, err := s.LeaveRoom()
	assert.Equal(t, CodeBadState, CodeOf(err))
}
