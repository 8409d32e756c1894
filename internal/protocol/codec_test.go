package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/model"
)

func record() model.AttendanceRecord {
	join := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return model.AttendanceRecord{
		Identity:   "alice",
		SessionID:  "s1",
		Name:       "Alice",
		Role:       model.RoleStudent,
		JoinTime:   join,
		Active:     true,
		JoinCount:  1,
		LastActive: join,
	}
}

func TestEncode_JoinEnvelopeShape(t *testing.T) {
	c := NewCodec()

	data, err := c.Encode(JoinEvent{Participant: record()})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "attendance", m["type"])
	assert.Equal(t, "join", m["event"])
	p := m["participant"].(map[string]any)
	assert.Equal(t, "s1", p["sessionId"])
	assert.Equal(t, "2026-03-02T09:00:00Z", p["joinTime"])
	assert.Nil(t, p["leaveTime"])
}

func TestDecode_LeaveKeepsTimestamps(t *testing.T) {
	c := NewCodec()
	rec := record()
	leave := rec.JoinTime.Add(5 * time.Minute)
	rec.LeaveTime = &leave
	rec.Active = false
	rec.Duration, rec.TotalDuration = 5, 5

	data, err := c.Encode(LeaveEvent{Participant: rec})
	require.NoError(t, err)
	ev, err := c.Decode(data)
	require.NoError(t, err)

	got, ok := ev.(LeaveEvent)
	require.True(t, ok)
	assert.Equal(t, rec, got.Participant)
}

func TestEncode_SyncDataNeverNull(t *testing.T) {
	c := NewCodec()

	data, err := c.Encode(SyncData{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"attendance","event":"sync_data","records":[],"activeParticipants":[]}`, string(data))

	ev, err := c.Decode(data)
	require.NoError(t, err)
	sd := ev.(SyncData)
	assert.NotNil(t, sd.Snapshot.Records)
	assert.NotNil(t, sd.Snapshot.ActiveParticipants)
}

func TestDecode_SyncRequest(t *testing.T) {
	c := NewCodec()

	ev, err := c.Decode([]byte(`{"type":"attendance","event":"sync_request","requesterId":"bob"}`))
	require.NoError(t, err)
	assert.Equal(t, SyncRequest{RequesterID: "bob"}, ev)
}

func TestDecode_RejectsMalformed(t *testing.T) {
	c := NewCodec()
	cases := map[string]string{
		"not json":          `{"type":`,
		"wrong type":        `{"type":"chat","event":"join","participant":{}}`,
		"unknown event":     `{"type":"attendance","event":"kick"}`,
		"missing event":     `{"type":"attendance"}`,
		"join without body": `{"type":"attendance","event":"join"}`,
		"join without id":   `{"type":"attendance","event":"join","participant":{"identity":"a","joinTime":"2026-03-02T09:00:00Z"}}`,
		"bad timestamp":     `{"type":"attendance","event":"leave","participant":{"identity":"a","sessionId":"s","joinTime":"yesterday"}}`,
		"sync without id":   `{"type":"attendance","event":"sync_request"}`,
		"negative duration": `{"type":"attendance","event":"sync_data","records":[{"identity":"a","sessionId":"s","joinTime":"2026-03-02T09:00:00Z","duration":-1}],"activeParticipants":[]}`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			ev, err := c.Decode([]byte(frame))
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Nil(t, ev)
		})
	}
}

func TestEncode_PointerEvents(t *testing.T) {
	c := NewCodec()

	a, err := c.Encode(&SyncRequest{RequesterID: "bob"})
	require.NoError(t, err)
	b, err := c.Encode(SyncRequest{RequesterID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
