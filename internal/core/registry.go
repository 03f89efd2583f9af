package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ormond/waypoint/internal/domain"
)

type regEntry struct {
	session *Session
	conn    SignalConnection
}

// MemberConn is a point-in-time view of one room member, handed to the
// broadcaster. Membership may change between snapshot and delivery.
type MemberConn struct {
	ID      ConnID
	Conn    SignalConnection
	Session *Session
}

// Move reports the outcome of a membership change so callers can emit
// presence events for both the entered and the departed room.
type Move struct {
	Room      domain.RoomID
	Count     int
	Prev      domain.RoomID
	PrevCount int
	HasPrev   bool
}

// RoomPresence is a read-only listing entry for observability endpoints.
type RoomPresence struct {
	RoomID      domain.RoomID `json:"room_id"`
	MemberCount int           `json:"member_count"`
}

// Registry is the single source of truth for live connections and room
// membership. One RWMutex guards both maps; critical sections are a few map
// operations and never perform I/O.
type Registry struct {
	mu       sync.RWMutex
	conns    map[ConnID]*regEntry
	rooms    map[domain.RoomID]map[ConnID]*regEntry
	maxConns int
}

func NewRegistry(maxConns int) *Registry {
	return &Registry{
		conns:    make(map[ConnID]*regEntry),
		rooms:    make(map[domain.RoomID]map[ConnID]*regEntry),
		maxConns: maxConns,
	}
}

// Register admits a new connection in state connected.
func (r *Registry) Register(id ConnID, conn SignalConnection) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxConns > 0 && len(r.conns) >= r.maxConns {
		return nil, Errf(CodeExhausted, "connection limit %d reached", r.maxConns)
	}
	if _, ok := r.conns[id]; ok {
		return nil, Errf(CodeInternal, "connection %s already registered", id)
	}
	sess := NewSession(id)
	r.conns[id] = &regEntry{session: sess, conn: conn}
	log.Info().Str("module", "core.registry").Str("conn", string(id)).Msg("registered connection")
	return sess, nil
}

func (r *Registry) Session(id ConnID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Authenticate attaches the verified identity; set-once per connection.
func (r *Registry) Authenticate(id ConnID, user *domain.User) error {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return Errf(CodeUnknownConn, "connection %s not registered", id)
	}
	return e.session.Authenticate(user)
}

// Join atomically moves the connection into the room, leaving any previous
// one. Serialized per connection by the registry lock: a concurrent reader
// never observes the connection in two rooms or in none.
func (r *Registry) Join(id ConnID, room domain.RoomID) (Move, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return Move{}, Errf(CodeUnknownConn, "connection %s not registered", id)
	}
	prev, hadPrev := e.session.Room()
	if err := e.session.EnterRoom(room); err != nil {
		return Move{}, err
	}
	mv := Move{Room: room}
	if hadPrev && prev != room {
		r.dropFromRoom(prev, id)
		mv.Prev = prev
		mv.PrevCount = len(r.rooms[prev])
		mv.HasPrev = true
	}
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[ConnID]*regEntry)
	}
	r.rooms[room][id] = e
	mv.Count = len(r.rooms[room])
	log.Info().Str("module", "core.registry").Str("conn", string(id)).Str("room", string(room)).Int("count", mv.Count).Msg("joined room")
	return mv, nil
}

// Leave removes the membership, returning the departed room and its
// decremented count.
func (r *Registry) Leave(id ConnID) (Move, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return Move{}, Errf(CodeUnknownConn, "connection %s not registered", id)
	}
	room, err := e.session.LeaveRoom()
	if err != nil {
		return Move{}, err
	}
	r.dropFromRoom(room, id)
	mv := Move{Prev: room, PrevCount: len(r.rooms[room]), HasPrev: true}
	log.Info().Str("module", "core.registry").Str("conn", string(id)).Str("room", string(room)).Msg("left room")
	return mv, nil
}

// Unregister removes the connection entirely. Idempotent: unknown ids are
// reported as ok=false with no side effects.
func (r *Registry) Unregister(id ConnID) (Move, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return Move{}, false
	}
	room, wasInRoom := e.session.Close()
	delete(r.conns, id)
	mv := Move{}
	if wasInRoom {
		r.dropFromRoom(room, id)
		mv.Prev = room
		mv.PrevCount = len(r.rooms[room])
		mv.HasPrev = true
	}
	log.Info().Str("module", "core.registry").Str("conn", string(id)).Msg("unregistered connection")
	return mv, true
}

// MembersOf returns a snapshot of the room's live members.
func (r *Registry) MembersOf(room domain.RoomID) []MemberConn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.rooms[room]
	out := make([]MemberConn, 0, len(idx))
	for id, e := range idx {
		out = append(out, MemberConn{ID: id, Conn: e.conn, Session: e.session})
	}
	return out
}

// CountOf is the live presence count; len on the room index, no scan.
func (r *Registry) CountOf(room domain.RoomID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) Rooms() []RoomPresence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoomPresence, 0, len(r.rooms))
	for id, idx := range r.rooms {
		out = append(out, RoomPresence{RoomID: id, MemberCount: len(idx)})
	}
	return out
}

// Shutdown closes every live transport; used when tearing the service down.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.conns {
		e.session.Close()
		e.conn.Close()
		delete(r.conns, id)
	}
	r.rooms = make(map[domain.RoomID]map[ConnID]*regEntry)
	log.Info().Str("module", "core.registry").Msg("registry drained")
}

// dropFromRoom must run under the write lock.
func (r *Registry) dropFromRoom(room domain.RoomID, id ConnID) {
	idx := r.rooms[room]
	delete(idx, id)
	if len(idx) == 0 {
		delete(r.rooms, room)
	}
}
