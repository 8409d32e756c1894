// Package store provides attendance snapshot storage drivers and the
// Persister wrapper the presence service writes through.
package store

import (
	"context"
	"sync"

	"rollcall/internal/model"
)

// Memory keeps snapshots in process memory under the same keys the
// redis driver uses.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]model.AttendanceRecord
}

// NewMemory creates an empty memory store
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]model.AttendanceRecord)}
}

func (m *Memory) Save(_ context.Context, room string, snap model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[model.RecordsKey(room)] = cloneRecords(snap.Records)
	m.data[model.ActiveKey(room)] = cloneRecords(snap.ActiveParticipants)
	return nil
}

func (m *Memory) Load(_ context.Context, room string) (*model.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs, ok := m.data[model.RecordsKey(room)]
	if !ok {
		return nil, nil
	}
	return &model.Snapshot{
		Records:            cloneRecords(recs),
		ActiveParticipants: cloneRecords(m.data[model.ActiveKey(room)]),
	}, nil
}

func cloneRecords(in []model.AttendanceRecord) []model.AttendanceRecord {
	out := make([]model.AttendanceRecord, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
