package model

import "time"

type RoomStatus string

const (
	RoomLive  RoomStatus = "live"
	RoomEnded RoomStatus = "ended"
)

// RoomMeta is the relay's registry entry for a room
type RoomMeta struct {
	Code        string     `json:"code"`
	AuthorityID string     `json:"authorityId"` // identity holding the authority token
	HostID      string     `json:"hostId"`
	Status      RoomStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// RoomInfo is the leading block of an attendance export
type RoomInfo struct {
	Room               string    `json:"room"`
	ExportedAt         time.Time `json:"exportedAt"`
	TotalParticipants  int       `json:"totalParticipants"`
	ActiveParticipants int       `json:"activeParticipants"`
}
