package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"rollcall/internal/model"
)

func TestSnapshotDoc_Layout(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	join := now.Add(-30 * time.Minute)
	doc := newSnapshotDoc("math-7b", model.Snapshot{
		Records: []model.AttendanceRecord{{Identity: "alice", SessionID: "s1", JoinTime: join, Active: true, JoinCount: 1}},
	}, now)

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))

	assert.Equal(t, "math-7b", m["_id"])
	assert.Equal(t, "attendance_math-7b", m["recordsKey"])
	assert.Equal(t, "active_participants_math-7b", m["activeKey"])
	active, ok := m["activeParticipants"].(bson.A)
	require.True(t, ok, "empty list is stored as an array, not null")
	assert.Empty(t, active)

	assert.Equal(t, "s1", bson.Raw(raw).Lookup("records", "0", "sessionId").StringValue())
}
