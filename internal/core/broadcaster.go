package core

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/ormond/waypoint/internal/domain"
)

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SentTo  int
	Dropped []ConnID
}

// Broadcaster fans an event out to the current members of a room. Delivery
// per connection is a non-blocking enqueue: a slow member is dropped from
// the result, never allowed to stall the room.
type Broadcaster struct {
	reg *Registry
}

func NewBroadcaster(reg *Registry) *Broadcaster {
	return &Broadcaster{reg: reg}
}

func (b *Broadcaster) Broadcast(room domain.RoomID, event any) PublishResult {
	return b.fanOut(room, event, "")
}

// BroadcastExcept skips one connection, the "everyone but the sender" case.
func (b *Broadcaster) BroadcastExcept(room domain.RoomID, event any, except ConnID) PublishResult {
	return b.fanOut(room, event, except)
}

func (b *Broadcaster) fanOut(room domain.RoomID, event any, except ConnID) PublishResult {
	frame, err := Encode(event)
	if err != nil {
		log.Error().Err(err).Str("module", "core.broadcaster").Str("room", string(room)).Msg("encode event")
		return PublishResult{}
	}
	res := PublishResult{}
	for _, m := range b.reg.MembersOf(room) {
		if m.ID == except {
			continue
		}
		if err := m.Conn.TrySend(frame); err != nil {
			// Closed or backpressured member; expected churn, not a failure.
			res.Dropped = append(res.Dropped, m.ID)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.broadcaster").Str("room", string(room)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// Encode builds the wire frame for an event. Shared by the broadcaster and
// the per-connection delivery paths so both emit identical bytes.
func Encode(event any) (Frame, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}
