package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"rollcall/internal/model"
)

// ErrMalformed is returned for frames that are not valid attendance events
var ErrMalformed = errors.New("malformed attendance frame")

// Codec encodes and decodes attendance frames
type Codec struct {
	validate *validator.Validate
}

// NewCodec creates a codec with its own validator instance
func NewCodec() *Codec {
	return &Codec{validate: validator.New()}
}

// Encode renders an event as a JSON envelope
func (c *Codec) Encode(e Event) ([]byte, error) {
	h := Header{Type: EnvelopeType, Event: e.Kind()}

	switch ev := e.(type) {
	case JoinEvent:
		p := ev.Participant
		return json.Marshal(participantFrame{Header: h, Participant: &p})
	case *JoinEvent:
		return c.Encode(*ev)
	case LeaveEvent:
		p := ev.Participant
		return json.Marshal(participantFrame{Header: h, Participant: &p})
	case *LeaveEvent:
		return c.Encode(*ev)
	case SyncRequest:
		return json.Marshal(syncRequestFrame{Header: h, RequesterID: ev.RequesterID})
	case *SyncRequest:
		return c.Encode(*ev)
	case SyncData:
		f := syncDataFrame{
			Header:             h,
			Records:            ev.Snapshot.Records,
			ActiveParticipants: ev.Snapshot.ActiveParticipants,
		}
		if f.Records == nil {
			f.Records = []model.AttendanceRecord{}
		}
		if f.ActiveParticipants == nil {
			f.ActiveParticipants = []model.AttendanceRecord{}
		}
		return json.Marshal(f)
	case *SyncData:
		return c.Encode(*ev)
	default:
		return nil, fmt.Errorf("encode: unsupported event %T", e)
	}
}

// Decode parses and validates a frame. Any frame that does not match one of
// the four event schemas yields an error wrapping ErrMalformed.
func (c *Codec) Decode(data []byte) (Event, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := c.validate.Struct(h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch h.Event {
	case KindJoin, KindLeave:
		var f participantFrame
		if err := c.unmarshal(data, &f); err != nil {
			return nil, err
		}
		if h.Event == KindJoin {
			return JoinEvent{Participant: *f.Participant}, nil
		}
		return LeaveEvent{Participant: *f.Participant}, nil
	case KindSyncRequest:
		var f syncRequestFrame
		if err := c.unmarshal(data, &f); err != nil {
			return nil, err
		}
		return SyncRequest{RequesterID: f.RequesterID}, nil
	case KindSyncData:
		var f syncDataFrame
		if err := c.unmarshal(data, &f); err != nil {
			return nil, err
		}
		snap := model.Snapshot{Records: f.Records, ActiveParticipants: f.ActiveParticipants}
		if snap.Records == nil {
			snap.Records = []model.AttendanceRecord{}
		}
		if snap.ActiveParticipants == nil {
			snap.ActiveParticipants = []model.AttendanceRecord{}
		}
		return SyncData{Snapshot: snap}, nil
	}
	return nil, fmt.Errorf("%w: unknown event %q", ErrMalformed, h.Event)
}

func (c *Codec) unmarshal(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := c.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
