package store

import (
	"context"
	"sync"
	"time"

	"github.com/ormond/waypoint/internal/core"
	"github.com/ormond/waypoint/internal/domain"
)

// Memory keeps messages and rooms in process memory. It backs dev mode
// (no database configured) and the test suites.
type Memory struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]domain.Room
	log   map[domain.RoomID][]*domain.Message
	byID  map[string]*domain.Message
}

func NewMemory() *Memory {
	return &Memory{
		rooms: make(map[domain.RoomID]domain.Room),
		log:   make(map[domain.RoomID][]*domain.Message),
		byID:  make(map[string]*domain.Message),
	}
}

// Seed registers room metadata; messages only attach to seeded rooms via
// the directory checks above this layer.
func (s *Memory) Seed(rooms ...domain.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rooms {
		s.rooms[r.ID] = r
	}
}

func (s *Memory) Append(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *msg
	cp.Reactions = append([]domain.UserID(nil), msg.Reactions...)
	s.log[cp.RoomID] = append(s.log[cp.RoomID], &cp)
	s.byID[cp.ID] = &cp
	return nil
}

func (s *Memory) Recent(_ context.Context, room domain.RoomID, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.log[room]
	start := 0
	if limit > 0 && len(msgs) > limit {
		start = len(msgs) - limit
	}
	out := make([]domain.Message, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		cp := *m
		// Detach the reactions slice so a later toggle cannot rewrite a
		// snapshot that already escaped the lock.
		cp.Reactions = append([]domain.UserID(nil), m.Reactions...)
		out = append(out, cp)
	}
	return out, nil
}

func (s *Memory) ToggleReaction(_ context.Context, messageID string, uid domain.UserID) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[messageID]
	if !ok {
		return nil, core.ErrMessageNotFound
	}
	if m.ReactedBy(uid) {
		kept := make([]domain.UserID, 0, len(m.Reactions)-1)
		for _, r := range m.Reactions {
			if r != uid {
				kept = append(kept, r)
			}
		}
		m.Reactions = kept
	} else {
		m.Reactions = append(m.Reactions, uid)
	}
	cp := *m
	cp.Reactions = append([]domain.UserID(nil), m.Reactions...)
	return &cp, nil
}

func (s *Memory) Get(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	return &r, nil
}

func (s *Memory) RoomsFor(_ context.Context, _ *domain.User, now time.Time) ([]domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		if r.Joinable(now) {
			out = append(out, r)
		}
	}
	return out, nil
}
