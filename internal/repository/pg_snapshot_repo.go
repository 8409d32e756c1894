package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rollcall/internal/model"
)

const pgSnapshotSchema = `
CREATE TABLE IF NOT EXISTS attendance_snapshots (
	room                TEXT PRIMARY KEY,
	records             JSONB NOT NULL DEFAULT '[]'::jsonb,
	active_participants JSONB NOT NULL DEFAULT '[]'::jsonb,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PgSnapshotRepo stores attendance snapshots in PostgreSQL, one row per room
type PgSnapshotRepo struct {
	db *pgxpool.Pool
}

func NewPgSnapshotRepo(db *pgxpool.Pool) *PgSnapshotRepo {
	return &PgSnapshotRepo{db: db}
}

// EnsureSchema creates the attendance_snapshots table when missing
func (r *PgSnapshotRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, pgSnapshotSchema)
	return err
}

func (r *PgSnapshotRepo) Save(ctx context.Context, room string, snap model.Snapshot) error {
	query := `
		INSERT INTO attendance_snapshots (room, records, active_participants, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (room) DO UPDATE
		SET records = EXCLUDED.records,
		    active_participants = EXCLUDED.active_participants,
		    updated_at = EXCLUDED.updated_at`
	_, err := r.db.Exec(ctx, query, room, nonNil(snap.Records), nonNil(snap.ActiveParticipants))
	return err
}

func (r *PgSnapshotRepo) Load(ctx context.Context, room string) (*model.Snapshot, error) {
	var snap model.Snapshot
	query := `SELECT records, active_participants FROM attendance_snapshots WHERE room=$1`
	err := r.db.QueryRow(ctx, query, room).Scan(&snap.Records, &snap.ActiveParticipants)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	snap.Records = nonNil(snap.Records)
	snap.ActiveParticipants = nonNil(snap.ActiveParticipants)
	return &snap, nil
}
