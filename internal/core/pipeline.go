package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ormond/waypoint/internal/domain"
)

// Pipeline validates, persists, shapes, and fans out messages. Persistence
// always completes (or definitively fails) before any broadcast; an
// unpersisted message is never delivered.
type Pipeline struct {
	reg           *Registry
	store         MessageStore
	bcast         *Broadcaster
	maxContentLen int
}

func NewPipeline(reg *Registry, store MessageStore, bcast *Broadcaster, maxContentLen int) *Pipeline {
	return &Pipeline{reg: reg, store: store, bcast: bcast, maxContentLen: maxContentLen}
}

// Submit accepts a message from the connection's current room, persists it,
// broadcasts the canonical shape to the other members, and returns that
// same shape as the sender's acknowledgment.
func (p *Pipeline) Submit(ctx context.Context, id ConnID, content string, typ domain.MessageType, mediaRef string) (MessageDTO, error) {
	sess, ok := p.reg.Session(id)
	if !ok {
		return MessageDTO{}, Errf(CodeUnknownConn, "connection %s not registered", id)
	}
	room, sender, err := sess.RequireInRoom()
	if err != nil {
		return MessageDTO{}, err
	}
	trimmed, err := domain.ValidateContent(content, typ, mediaRef, p.maxContentLen)
	if err != nil {
		return MessageDTO{}, Wrap(CodeInvalid, "invalid message", err)
	}

	msg := &domain.Message{
		ID:        uuid.NewString(),
		RoomID:    room,
		Sender:    *sender,
		Content:   trimmed,
		Type:      typ,
		MediaRef:  mediaRef,
		CreatedAt: time.Now().UTC(),
	}
	// No membership lock is held across the store call.
	if err := p.store.Append(ctx, msg); err != nil {
		return MessageDTO{}, Wrap(CodePersist, "append message", err)
	}

	dto := ShapeMessage(msg)
	p.bcast.BroadcastExcept(room, MessageEvent{Type: EvMessage, Message: dto}, id)
	log.Debug().Str("module", "core.pipeline").Str("room", string(room)).Str("msg", msg.ID).Msg("message persisted and broadcast")
	return dto, nil
}

// ToggleReaction flips the sender's reaction on a message and re-broadcasts
// the updated shape so every member sees a consistent count. The toggle is a
// single atomic store operation, never read-then-blind-write.
func (p *Pipeline) ToggleReaction(ctx context.Context, id ConnID, messageID string) (MessageDTO, error) {
	sess, ok := p.reg.Session(id)
	if !ok {
		return MessageDTO{}, Errf(CodeUnknownConn, "connection %s not registered", id)
	}
	room, user, err := sess.RequireInRoom()
	if err != nil {
		return MessageDTO{}, err
	}
	if messageID == "" {
		return MessageDTO{}, Errf(CodeInvalid, "message id required")
	}

	updated, err := p.store.ToggleReaction(ctx, messageID, user.ID)
	if err != nil {
		return MessageDTO{}, Wrap(CodePersist, "toggle reaction", err)
	}
	if updated.RoomID != room {
		// Only current-room messages can be reacted to. The message's room is
		// known only after the store call, so undo the toggle (it is its own
		// inverse) before rejecting.
		if _, uerr := p.store.ToggleReaction(ctx, messageID, user.ID); uerr != nil {
			log.Error().Err(uerr).Str("module", "core.pipeline").Str("msg", messageID).Msg("undo cross-room toggle")
		}
		return MessageDTO{}, Errf(CodeBadState, "message %s is not in the current room", messageID)
	}

	dto := ShapeMessage(updated)
	p.bcast.Broadcast(updated.RoomID, MessageEvent{Type: EvMessage, Message: dto})
	return dto, nil
}
