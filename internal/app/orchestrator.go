// Package app wires the core components into the operations the signal
// adapter dispatches to.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ormond/waypoint/internal/core"
	"github.com/ormond/waypoint/internal/domain"
)

type Orchestrator struct {
	Registry  *core.Registry
	Verifier  core.IdentityVerifier
	Directory core.RoomDirectory
	Store     core.MessageStore
	Pipeline  *core.Pipeline
	Bcast     *core.Broadcaster

	HistoryLimit int
}

func NewOrchestrator(reg *core.Registry, verifier core.IdentityVerifier, dir core.RoomDirectory, store core.MessageStore, maxContentLen, historyLimit int) *Orchestrator {
	bcast := core.NewBroadcaster(reg)
	return &Orchestrator{
		Registry:     reg,
		Verifier:     verifier,
		Directory:    dir,
		Store:        store,
		Pipeline:     core.NewPipeline(reg, store, bcast, maxContentLen),
		Bcast:        bcast,
		HistoryLimit: historyLimit,
	}
}

// Connect admits a new transport connection in state connected.
func (o *Orchestrator) Connect(id core.ConnID, conn core.SignalConnection) (*core.Session, error) {
	return o.Registry.Register(id, conn)
}

// Authenticate verifies the credential and attaches the identity. A failed
// verification leaves the session in state connected; the caller may retry.
func (o *Orchestrator) Authenticate(ctx context.Context, id core.ConnID, credential string) (core.AuthenticatedEvent, error) {
	user, err := o.Verifier.Verify(ctx, credential)
	if err != nil {
		return core.AuthenticatedEvent{}, core.Wrap(core.CodeAuth, "verify credential", err)
	}
	if err := o.Registry.Authenticate(id, user); err != nil {
		return core.AuthenticatedEvent{}, err
	}

	rooms, err := o.Directory.RoomsFor(ctx, user, time.Now())
	if err != nil {
		// Room list is advisory; auth itself succeeded.
		log.Warn().Err(err).Str("module", "app.orchestrator").Str("conn", string(id)).Msg("room list lookup failed")
		rooms = nil
	}
	log.Info().Str("module", "app.orchestrator").Str("conn", string(id)).Str("user", string(user.ID)).Msg("authenticated")
	return core.AuthenticatedEvent{Type: core.EvAuthenticated, User: *user, Rooms: rooms}, nil
}

// Join validates the room, moves the membership, loads the history window
// for the joiner only, and notifies both affected rooms of the presence
// change. History and presence are two non-atomic steps.
func (o *Orchestrator) Join(ctx context.Context, id core.ConnID, roomID domain.RoomID) (core.JoinedEvent, error) {
	sess, ok := o.Registry.Session(id)
	if !ok {
		return core.JoinedEvent{}, core.Errf(core.CodeUnknownConn, "connection %s not registered", id)
	}
	switch sess.State() {
	case core.StateConnected:
		return core.JoinedEvent{}, core.Errf(core.CodeBadState, "not authenticated")
	case core.StateClosed:
		return core.JoinedEvent{}, core.Errf(core.CodeBadState, "session closed")
	}

	room, err := o.Directory.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, core.ErrRoomNotFound) {
			return core.JoinedEvent{}, core.Errf(core.CodeNotJoinable, "room %s does not exist", roomID)
		}
		return core.JoinedEvent{}, core.Wrap(core.CodePersist, "room lookup", err)
	}
	if !room.Joinable(time.Now()) {
		return core.JoinedEvent{}, core.Errf(core.CodeNotJoinable, "room %s has ended", roomID)
	}

	mv, err := o.Registry.Join(id, roomID)
	if err != nil {
		return core.JoinedEvent{}, err
	}

	history := o.history(ctx, roomID)

	if mv.HasPrev {
		o.Bcast.Broadcast(mv.Prev, core.PresenceEvent{Type: core.EvPresence, RoomID: mv.Prev, MemberCount: mv.PrevCount})
	}
	o.Bcast.BroadcastExcept(roomID, core.PresenceEvent{Type: core.EvPresence, RoomID: roomID, MemberCount: mv.Count}, id)

	return core.JoinedEvent{Type: core.EvJoined, RoomID: roomID, History: history, MemberCount: mv.Count}, nil
}

// Leave drops the membership and notifies the departed room.
func (o *Orchestrator) Leave(id core.ConnID) (core.LeftEvent, error) {
	mv, err := o.Registry.Leave(id)
	if err != nil {
		return core.LeftEvent{}, err
	}
	o.Bcast.Broadcast(mv.Prev, core.PresenceEvent{Type: core.EvPresence, RoomID: mv.Prev, MemberCount: mv.PrevCount})
	return core.LeftEvent{Type: core.EvLeft, RoomID: mv.Prev}, nil
}

// Disconnect tears the connection down. Idempotent; a connection that held a
// room triggers exactly one presence decrement for that room.
func (o *Orchestrator) Disconnect(id core.ConnID) {
	mv, ok := o.Registry.Unregister(id)
	if !ok {
		return
	}
	if mv.HasPrev {
		o.Bcast.Broadcast(mv.Prev, core.PresenceEvent{Type: core.EvPresence, RoomID: mv.Prev, MemberCount: mv.PrevCount})
	}
}

// Send pushes a message through the pipeline and returns the sender's
// acknowledgment carrying the canonical shape.
func (o *Orchestrator) Send(ctx context.Context, id core.ConnID, content string, typ domain.MessageType, mediaRef string) (core.MessageAckEvent, error) {
	dto, err := o.Pipeline.Submit(ctx, id, content, typ, mediaRef)
	if err != nil {
		return core.MessageAckEvent{}, err
	}
	return core.MessageAckEvent{Type: core.EvMessageAck, Message: dto}, nil
}

// React toggles the caller's reaction; the updated message reaches everyone,
// the caller included, via the room broadcast.
func (o *Orchestrator) React(ctx context.Context, id core.ConnID, messageID string) (core.MessageDTO, error) {
	return o.Pipeline.ToggleReaction(ctx, id, messageID)
}

func (o *Orchestrator) history(ctx context.Context, roomID domain.RoomID) []core.MessageDTO {
	msgs, err := o.Store.Recent(ctx, roomID, o.HistoryLimit)
	if err != nil {
		// Membership already changed; deliver the join with an empty window.
		log.Warn().Err(err).Str("module", "app.orchestrator").Str("room", string(roomID)).Msg("history fetch failed")
		return []core.MessageDTO{}
	}
	out := make([]core.MessageDTO, 0, len(msgs))
	for i := range msgs {
		out = append(out, core.ShapeMessage(&msgs[i]))
	}
	return out
}
