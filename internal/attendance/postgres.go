package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"facecheck/internal/academics"
)

// PostgresStore persists attendance in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InTx implements Store.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := fn(pgTx{tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type pgTx struct {
	tx *sql.Tx
}

func (t pgTx) LockSession(ctx context.Context, sessionID int64) (academics.Session, error) {
	var s academics.Session
	var room sql.NullInt64
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, course_assignment_id, room_id, status, start_time, end_time, qr_step_seconds
		FROM sessions WHERE id = $1
		FOR SHARE
	`, sessionID).Scan(&s.ID, &s.CourseAssignmentID, &room, &s.Status, &s.StartTime, &s.EndTime, &s.QRStepSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return academics.Session{}, academics.ErrNotFound
	}
	if err != nil {
		return academics.Session{}, fmt.Errorf("lock session: %w", err)
	}
	if room.Valid {
		id := room.Int64
		s.RoomID = &id
	}
	return s, nil
}

func (t pgTx) IsEnrolled(ctx context.Context, courseAssignmentID, identityID int64) (bool, error) {
	var ok bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM enrollments WHERE course_assignment_id = $1 AND student_id = $2)
	`, courseAssignmentID, identityID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return ok, nil
}

// Upsert relies on the (session_id, student_id) unique constraint. xmax is
// zero only for a freshly inserted tuple; no returned row means the WHERE on
// the conflict update filtered it out.
func (t pgTx) Upsert(ctx context.Context, rec Record) (Outcome, error) {
	query := `
		INSERT INTO attendance (id, session_id, student_id, method, confidence, geo_ok, status, marked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id, student_id) DO UPDATE SET confidence = EXCLUDED.confidence
		WHERE attendance.confidence IS NULL OR attendance.confidence < EXCLUDED.confidence
		RETURNING (xmax = 0)`
	if rec.Confidence == nil {
		query = `
		INSERT INTO attendance (id, session_id, student_id, method, confidence, geo_ok, status, marked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id, student_id) DO NOTHING
		RETURNING TRUE`
	}

	var inserted bool
	err := t.tx.QueryRowContext(ctx, query,
		rec.ID, rec.SessionID, rec.IdentityID, rec.Method, rec.Confidence, rec.GeoOK, rec.Status, rec.MarkedAt,
	).Scan(&inserted)
	if errors.Is(err, sql.ErrNoRows) {
		return Unchanged, nil
	}
	if err != nil {
		return "", fmt.Errorf("upsert attendance: %w", err)
	}
	if inserted {
		return Created, nil
	}
	return Updated, nil
}

// Recent implements Store.
func (s *PostgresStore) Recent(ctx context.Context, sessionID int64, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.session_id, a.student_id, st.display_name, a.method, a.confidence, a.geo_ok, a.status, a.marked_at
		FROM attendance a
		JOIN students st ON st.id = a.student_id
		WHERE a.session_id = $1
		ORDER BY a.marked_at DESC, a.student_id
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent attendance: %w", err)
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var r Record
		var conf sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.SessionID, &r.IdentityID, &r.Name, &r.Method, &conf, &r.GeoOK, &r.Status, &r.MarkedAt); err != nil {
			return nil, err
		}
		if conf.Valid {
			r.Confidence = &conf.Float64
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// Stats implements Store.
func (s *PostgresStore) Stats(ctx context.Context, sessionID int64) (Stats, error) {
	var st Stats
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE method = 'face'),
		       COUNT(*) FILTER (WHERE method = 'qr'),
		       COUNT(*) FILTER (WHERE method = 'manual'),
		       COUNT(*) FILTER (WHERE status = 'Present'),
		       COUNT(*) FILTER (WHERE status = 'Late'),
		       MAX(marked_at)
		FROM attendance WHERE session_id = $1
	`, sessionID).Scan(&st.Total, &st.Face, &st.QR, &st.Manual, &st.Present, &st.Late, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("attendance stats: %w", err)
	}
	if last.Valid {
		st.LastMarkAt = &last.Time
	}
	return st, nil
}
