package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rollcall/internal/model"
)

// snapshotDoc is one room's attendance in the attendance_snapshots collection
type snapshotDoc struct {
	Room               string                   `bson:"_id"`
	RecordsKey         string                   `bson:"recordsKey"`
	ActiveKey          string                   `bson:"activeKey"`
	Records            []model.AttendanceRecord `bson:"records"`
	ActiveParticipants []model.AttendanceRecord `bson:"activeParticipants"`
	UpdatedAt          time.Time                `bson:"updatedAt"`
}

// SnapshotRepo handles MongoDB operations for attendance snapshots
type SnapshotRepo interface {
	Save(ctx context.Context, room string, snap model.Snapshot) error
	Load(ctx context.Context, room string) (*model.Snapshot, error)
}

type snapshotRepo struct {
	snapshots *mongo.Collection
}

// NewSnapshotRepo creates a new snapshot repository
func NewSnapshotRepo(db *mongo.Database) SnapshotRepo {
	return &snapshotRepo{
		snapshots: db.Collection("attendance_snapshots"),
	}
}

func newSnapshotDoc(room string, snap model.Snapshot, now time.Time) snapshotDoc {
	return snapshotDoc{
		Room:               room,
		RecordsKey:         model.RecordsKey(room),
		ActiveKey:          model.ActiveKey(room),
		Records:            nonNil(snap.Records),
		ActiveParticipants: nonNil(snap.ActiveParticipants),
		UpdatedAt:          now.UTC(),
	}
}

func (r *snapshotRepo) Save(ctx context.Context, room string, snap model.Snapshot) error {
	doc := newSnapshotDoc(room, snap, time.Now())
	opts := options.Replace().SetUpsert(true)
	_, err := r.snapshots.ReplaceOne(ctx, bson.M{"_id": room}, doc, opts)
	return err
}

func (r *snapshotRepo) Load(ctx context.Context, room string) (*model.Snapshot, error) {
	var doc snapshotDoc
	err := r.snapshots.FindOne(ctx, bson.M{"_id": room}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.Snapshot{
		Records:            nonNil(doc.Records),
		ActiveParticipants: nonNil(doc.ActiveParticipants),
	}, nil
}

func nonNil(recs []model.AttendanceRecord) []model.AttendanceRecord {
	if recs == nil {
		return []model.AttendanceRecord{}
	}
	return recs
}
