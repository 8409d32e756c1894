// Package protocol defines the attendance frames exchanged over the presence bus.
//
// Every frame shares the envelope {"type":"attendance","event":...}. The four
// event kinds form a closed set; Decode rejects anything else with ErrMalformed.
package protocol

import "rollcall/internal/model"

// EnvelopeType is the fixed "type" of every attendance frame
const EnvelopeType = "attendance"

// Kind is the "event" discriminator of an envelope
type Kind string

const (
	KindJoin        Kind = "join"
	KindLeave       Kind = "leave"
	KindSyncRequest Kind = "sync_request"
	KindSyncData    Kind = "sync_data"
)

// Event is one of JoinEvent, LeaveEvent, SyncRequest or SyncData
type Event interface {
	Kind() Kind
}

// JoinEvent announces a new session
type JoinEvent struct {
	Participant model.AttendanceRecord
}

// LeaveEvent announces a closed session, carrying the record as the sender knew it
type LeaveEvent struct {
	Participant model.AttendanceRecord
}

// SyncRequest asks the authority for its full snapshot
type SyncRequest struct {
	RequesterID string
}

// SyncData is the authority's answer to a SyncRequest
type SyncData struct {
	Snapshot model.Snapshot
}

func (JoinEvent) Kind() Kind   { return KindJoin }
func (LeaveEvent) Kind() Kind  { return KindLeave }
func (SyncRequest) Kind() Kind { return KindSyncRequest }
func (SyncData) Kind() Kind    { return KindSyncData }

type Header struct {
	Type  string `json:"type" validate:"required,eq=attendance"`
	Event Kind   `json:"event" validate:"required,oneof=join leave sync_request sync_data"`
}

type participantFrame struct {
	Header
	Participant *model.AttendanceRecord `json:"participant" validate:"required"`
}

type syncRequestFrame struct {
	Header
	RequesterID string `json:"requesterId" validate:"required"`
}

type syncDataFrame struct {
	Header
	Records            []model.AttendanceRecord `json:"records" validate:"dive"`
	ActiveParticipants []model.AttendanceRecord `json:"activeParticipants" validate:"dive"`
}
