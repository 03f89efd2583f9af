package domain

import (
	"errors"
	"strings"
	"time"
)

const DefaultMaxContentLen = 2000

var (
	ErrContentEmpty    = errors.New("content empty")
	ErrContentTooLong  = errors.New("content too long")
	ErrUnknownMsgType  = errors.New("unknown message type")
	ErrMediaRefMissing = errors.New("media reference missing")
)

type MessageType string

const (
	MsgText  MessageType = "text"
	MsgImage MessageType = "image"
	MsgVideo MessageType = "video"
	MsgFile  MessageType = "file"
)

// Message is the persisted chat entity. Immutable after creation except
// for Reactions, which toggles per user id.
type Message struct {
	ID        string      `json:"id"`
	RoomID    RoomID      `json:"room_id"`
	Sender    User        `json:"sender"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	MediaRef  string      `json:"media_ref,omitempty"`
	Reactions []UserID    `json:"reactions,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// ValidateContent normalizes and checks a candidate message body before it
// is persisted. Returns the trimmed content.
func ValidateContent(content string, typ MessageType, mediaRef string, maxLen int) (string, error) {
	switch typ {
	case MsgText, MsgImage, MsgVideo, MsgFile:
	default:
		return "", ErrUnknownMsgType
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxContentLen
	}
	trimmed := strings.TrimSpace(content)
	if len(trimmed) > maxLen {
		return "", ErrContentTooLong
	}
	if typ == MsgText {
		if trimmed == "" {
			return "", ErrContentEmpty
		}
		return trimmed, nil
	}
	if mediaRef == "" {
		return "", ErrMediaRefMissing
	}
	return trimmed, nil
}

// ReactedBy reports whether uid already reacted to the message.
func (m *Message) ReactedBy(uid UserID) bool {
	for _, r := range m.Reactions {
		if r == uid {
			return true
		}
	}
	return false
}
