package model

import "time"

// Role is the participant's role in the surrounding school application
type Role string

const (
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
	RoleStudent    Role = "student"
	RoleGuardian   Role = "guardian"
	RoleGuest      Role = "guest"
)

// IsAuthority reports whether the role answers sync requests for a room
func (r Role) IsAuthority() bool {
	return r == RoleInstructor || r == RoleAdmin
}

// AttendanceRecord is one participant session in a room.
// Durations are whole minutes.
type AttendanceRecord struct {
	Identity      string     `json:"identity" bson:"identity" validate:"required"`
	SessionID     string     `json:"sessionId" bson:"sessionId" validate:"required"`
	Name          string     `json:"name" bson:"name"`
	Role          Role       `json:"role" bson:"role"`
	JoinTime      time.Time  `json:"joinTime" bson:"joinTime" validate:"required"`
	LeaveTime     *time.Time `json:"leaveTime" bson:"leaveTime"`
	Active        bool       `json:"active" bson:"active"`
	Duration      int        `json:"duration" bson:"duration" validate:"gte=0"`
	TotalDuration int        `json:"totalDuration" bson:"totalDuration" validate:"gte=0"`
	JoinCount     int        `json:"joinCount" bson:"joinCount" validate:"gte=0"`
	LastActive    time.Time  `json:"lastActive" bson:"lastActive"`
}

// Clone returns a copy that shares no pointers with r
func (r AttendanceRecord) Clone() AttendanceRecord {
	if r.LeaveTime != nil {
		lt := *r.LeaveTime
		r.LeaveTime = &lt
	}
	return r
}

// Snapshot is the unit exchanged over the sync protocol and persisted per room
type Snapshot struct {
	Records            []AttendanceRecord `json:"records" bson:"records"`
	ActiveParticipants []AttendanceRecord `json:"activeParticipants" bson:"activeParticipants"`
}

// IsEmpty reports whether the snapshot carries no records at all
func (s *Snapshot) IsEmpty() bool {
	return s == nil || (len(s.Records) == 0 && len(s.ActiveParticipants) == 0)
}

// AttendanceStats summarises a ledger for status endpoints and logs
type AttendanceStats struct {
	Records       int `json:"records"`
	Active        int `json:"active"`
	Identities    int `json:"identities"`
	PendingLeaves int `json:"pendingLeaves"`
}

// AgentStatus describes the state of one attendance agent
type AgentStatus struct {
	Room      string          `json:"room"`
	Identity  string          `json:"identity"`
	Authority bool            `json:"authority"`
	Synced    bool            `json:"synced"`
	Closed    bool            `json:"closed"`
	LastSync  *time.Time      `json:"lastSync,omitempty"`
	Stats     AttendanceStats `json:"stats"`
}

// RecordsKey is the durable key holding every record of a room
func RecordsKey(room string) string { return "attendance_" + room }

// ActiveKey is the durable key holding the active subset of a room
func ActiveKey(room string) string { return "active_participants_" + room }
