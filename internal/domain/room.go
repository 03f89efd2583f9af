package domain

import "time"

type RoomID string

type RoomType string

const (
	RoomGlobal   RoomType = "global"
	RoomLocation RoomType = "location"
	RoomEvent    RoomType = "event"
)

// GeoPoint anchors a location room.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Room struct {
	ID    RoomID    `json:"id"`
	Name  string    `json:"name"`
	Type  RoomType  `json:"type"`
	Point *GeoPoint `json:"point,omitempty"`
	// EndsAt closes an event room; nil means no expiry.
	EndsAt *time.Time `json:"ends_at,omitempty"`
}

// Joinable reports whether the room still accepts members at the given time.
func (r *Room) Joinable(now time.Time) bool {
	if r.Type == RoomEvent && r.EndsAt != nil {
		return now.Before(*r.EndsAt)
	}
	return true
}
