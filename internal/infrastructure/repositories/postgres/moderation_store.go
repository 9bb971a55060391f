package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"
)

// ModerationStore keeps kick and ban records in room_moderation. Bans live
// here rather than in redis when they must survive a cache flush.
type ModerationStore struct {
	db *sql.DB
}

func NewModerationStore(db *sql.DB) ports.ModerationStore {
	return &ModerationStore{db: db}
}

const upsertRecord = `
INSERT INTO room_moderation (room_id, identity, reason, issued_by, issued_at, is_permanent)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (room_id, identity) DO UPDATE SET
	reason = EXCLUDED.reason,
	issued_by = EXCLUDED.issued_by,
	issued_at = EXCLUDED.issued_at,
	is_permanent = EXCLUDED.is_permanent`

func (s *ModerationStore) Put(ctx context.Context, rec *domain.ModerationRecord) error {
	_, err := s.db.ExecContext(ctx, upsertRecord,
		string(rec.RoomID), string(rec.Identity), rec.Reason, string(rec.IssuedBy), rec.IssuedAt.UTC(), rec.IsPermanent)
	if err != nil {
		return fmt.Errorf("failed to upsert moderation record: %w", err)
	}
	return nil
}

const selectColumns = `SELECT room_id, identity, reason, issued_by, issued_at, is_permanent FROM room_moderation`

func (s *ModerationStore) Get(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (*domain.ModerationRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE room_id = $1 AND identity = $2`, string(roomID), string(identity))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get moderation record: %w", err)
	}
	return rec, nil
}

func (s *ModerationStore) ListByRoom(ctx context.Context, roomID domain.RoomID) ([]*domain.ModerationRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE room_id = $1 ORDER BY issued_at`, string(roomID))
	if err != nil {
		return nil, fmt.Errorf("failed to list moderation records: %w", err)
	}
	defer rows.Close()

	var out []*domain.ModerationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan moderation record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list moderation records: %w", err)
	}
	return out, nil
}

func (s *ModerationStore) ClearKick(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM room_moderation WHERE room_id = $1 AND identity = $2 AND NOT is_permanent`,
		string(roomID), string(identity))
	if err != nil {
		return fmt.Errorf("failed to clear kick: %w", err)
	}
	return nil
}

func (s *ModerationStore) ClearKicks(ctx context.Context, roomID domain.RoomID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM room_moderation WHERE room_id = $1 AND NOT is_permanent`, string(roomID))
	if err != nil {
		return fmt.Errorf("failed to clear kicks: %w", err)
	}
	return nil
}

func (s *ModerationStore) Lift(ctx context.Context, roomID domain.RoomID, identity domain.Identity) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM room_moderation WHERE room_id = $1 AND identity = $2`, string(roomID), string(identity))
	if err != nil {
		return fmt.Errorf("failed to lift moderation record: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(sc scanner) (*domain.ModerationRecord, error) {
	var (
		rec                      domain.ModerationRecord
		roomID, identity, issuer string
	)
	if err := sc.Scan(&roomID, &identity, &rec.Reason, &issuer, &rec.IssuedAt, &rec.IsPermanent); err != nil {
		return nil, err
	}
	rec.RoomID = domain.RoomID(roomID)
	rec.Identity = domain.Identity(identity)
	rec.IssuedBy = domain.Identity(issuer)
	return &rec, nil
}
