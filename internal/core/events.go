package core

import (
	"time"

	"github.com/ormond/waypoint/internal/domain"
)

// Outbound event names. One name per semantic; legacy alias emission is
// deliberately not carried over.
const (
	EvAuthenticated = "authenticated"
	EvJoined        = "joined"
	EvLeft          = "left"
	EvPresence      = "presence"
	EvMessage       = "message"
	EvMessageAck    = "message_ack"
	EvPong          = "pong"
	EvError         = "error"
)

// MessageDTO is the single canonical wire shape of a persisted message,
// used for both the sender acknowledgment and the room broadcast.
type MessageDTO struct {
	ID        string             `json:"id"`
	RoomID    domain.RoomID      `json:"room_id"`
	Sender    domain.User        `json:"sender"`
	Content   string             `json:"content"`
	Type      domain.MessageType `json:"type"`
	MediaRef  string             `json:"media_ref,omitempty"`
	Reactions []domain.UserID    `json:"reactions,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

func ShapeMessage(m *domain.Message) MessageDTO {
	return MessageDTO{
		ID:        m.ID,
		RoomID:    m.RoomID,
		Sender:    m.Sender,
		Content:   m.Content,
		Type:      m.Type,
		MediaRef:  m.MediaRef,
		Reactions: m.Reactions,
		CreatedAt: m.CreatedAt,
	}
}

type AuthenticatedEvent struct {
	Type  string        `json:"type"`
	User  domain.User   `json:"user"`
	Rooms []domain.Room `json:"rooms"`
}

type JoinedEvent struct {
	Type        string        `json:"type"`
	RoomID      domain.RoomID `json:"room_id"`
	History     []MessageDTO  `json:"history"`
	MemberCount int           `json:"member_count"`
}

type LeftEvent struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"room_id"`
}

type PresenceEvent struct {
	Type        string        `json:"type"`
	RoomID      domain.RoomID `json:"room_id"`
	MemberCount int           `json:"member_count"`
}

type MessageEvent struct {
	Type    string     `json:"type"`
	Message MessageDTO `json:"message"`
}

type MessageAckEvent struct {
	Type    string     `json:"type"`
	Message MessageDTO `json:"message"`
}

type PongEvent struct {
	Type string `json:"type"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}
