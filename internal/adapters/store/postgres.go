// Package store provides the persistence adapters behind the core's
// MessageStore and RoomDirectory ports.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ormond/waypoint/internal/core"
	"github.com/ormond/waypoint/internal/domain"
)

// Postgres backs both ports with one database. Messages are an
// append-ordered log per room; rooms are read-only metadata here.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(connStr string) (*Postgres, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (s *Postgres) Close() error { return s.db.Close() }

const messageCols = "id, room_id, sender_id, sender_name, sender_avatar, content, type, media_ref, reactions, created_at"

func (s *Postgres) Append(ctx context.Context, msg *domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		msg.ID, string(msg.RoomID), string(msg.Sender.ID), msg.Sender.Username, msg.Sender.Avatar,
		msg.Content, string(msg.Type), msg.MediaRef, pq.Array(reactionStrings(msg.Reactions)), msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Postgres) Recent(ctx context.Context, room domain.RoomID, limit int) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE room_id = $1 ORDER BY created_at DESC LIMIT $2`,
		string(room), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan recent: %w", err)
	}
	// Reverse the reverse-chronological page so the window reads oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ToggleReaction is a single conditional update so concurrent toggles by
// different users never lose each other's writes.
func (s *Postgres) ToggleReaction(ctx context.Context, messageID string, uid domain.UserID) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE messages
		 SET reactions = CASE WHEN $2 = ANY(reactions)
		                      THEN array_remove(reactions, $2)
		                      ELSE array_append(reactions, $2) END
		 WHERE id = $1
		 RETURNING `+messageCols,
		messageID, string(uid),
	)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *Postgres) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var (
		room     domain.Room
		roomID   string
		roomType string
		lat, lng sql.NullFloat64
		endsAt   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, lat, lng, ends_at FROM rooms WHERE id = $1`,
		string(id),
	).Scan(&roomID, &room.Name, &roomType, &lat, &lng, &endsAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrRoomNotFound
		}
		return nil, fmt.Errorf("query room: %w", err)
	}
	room.ID = domain.RoomID(roomID)
	room.Type = domain.RoomType(roomType)
	if lat.Valid && lng.Valid {
		room.Point = &domain.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	if endsAt.Valid {
		t := endsAt.Time
		room.EndsAt = &t
	}
	return &room, nil
}

// RoomsFor lists the rooms currently open to the identity. Proximity
// filtering for location rooms is the directory owner's concern; this
// adapter returns everything not yet expired.
func (s *Postgres) RoomsFor(ctx context.Context, _ *domain.User, now time.Time) ([]domain.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, lat, lng, ends_at FROM rooms
		 WHERE type <> 'event' OR ends_at IS NULL OR ends_at > $1`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []domain.Room
	for rows.Next() {
		var (
			room     domain.Room
			roomID   string
			roomType string
			lat, lng sql.NullFloat64
			endsAt   sql.NullTime
		)
		if err := rows.Scan(&roomID, &room.Name, &roomType, &lat, &lng, &endsAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		room.ID = domain.RoomID(roomID)
		room.Type = domain.RoomType(roomType)
		if lat.Valid && lng.Valid {
			room.Point = &domain.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
		}
		if endsAt.Valid {
			t := endsAt.Time
			room.EndsAt = &t
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var (
		m         domain.Message
		roomID    string
		senderID  string
		msgType   string
		reactions pq.StringArray
	)
	err := row.Scan(&m.ID, &roomID, &senderID, &m.Sender.Username, &m.Sender.Avatar,
		&m.Content, &msgType, &m.MediaRef, &reactions, &m.CreatedAt)
	if err != nil {
		return domain.Message{}, err
	}
	m.RoomID = domain.RoomID(roomID)
	m.Sender.ID = domain.UserID(senderID)
	m.Type = domain.MessageType(msgType)
	for _, r := range reactions {
		m.Reactions = append(m.Reactions, domain.UserID(r))
	}
	return m, nil
}

func reactionStrings(reactions []domain.UserID) []string {
	out := make([]string, 0, len(reactions))
	for _, r := range reactions {
		out = append(out, string(r))
	}
	return out
}
