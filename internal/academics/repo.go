package academics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository reads and flips sessions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, course_assignment_id, room_id, status, start_time, end_time, qr_step_seconds`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	var room sql.NullInt64
	if err := row.Scan(&s.ID, &s.CourseAssignmentID, &room, &s.Status, &s.StartTime, &s.EndTime, &s.QRStepSeconds); err != nil {
		return Session{}, err
	}
	if room.Valid {
		id := room.Int64
		s.RoomID = &id
	}
	return s, nil
}

// GetSession returns a single session.
func (r *Repository) GetSession(ctx context.Context, id int64) (Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session %d: %w", id, err)
	}
	return s, nil
}

// ListEnrolled returns the students enrolled in a course assignment, ordered by id.
func (r *Repository) ListEnrolled(ctx context.Context, courseAssignmentID int64) ([]Identity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.display_name
		FROM enrollments e
		JOIN students s ON s.id = e.student_id
		WHERE e.course_assignment_id = $1
		ORDER BY s.id
	`, courseAssignmentID)
	if err != nil {
		return nil, fmt.Errorf("list enrolled: %w", err)
	}
	defer rows.Close()

	var res []Identity
	for rows.Next() {
		var id Identity
		if err := rows.Scan(&id.ID, &id.DisplayName); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

// IsEnrolled reports whether a student belongs to a course assignment.
func (r *Repository) IsEnrolled(ctx context.Context, courseAssignmentID, studentID int64) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM enrollments WHERE course_assignment_id = $1 AND student_id = $2)
	`, courseAssignmentID, studentID).Scan(&ok)
	return ok, err
}

func (r *Repository) flip(ctx context.Context, query string, now time.Time) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// StartDue marks scheduled sessions with start <= now < end as running and
// returns them.
func (r *Repository) StartDue(ctx context.Context, now time.Time) ([]Session, error) {
	res, err := r.flip(ctx, `
		UPDATE sessions SET status = 'running'
		WHERE status = 'scheduled' AND start_time <= $1 AND end_time > $1
		RETURNING `+sessionColumns, now)
	if err != nil {
		return nil, fmt.Errorf("start due sessions: %w", err)
	}
	return res, nil
}

// StopExpired marks running sessions with end <= now as stopped and returns them.
func (r *Repository) StopExpired(ctx context.Context, now time.Time) ([]Session, error) {
	res, err := r.flip(ctx, `
		UPDATE sessions SET status = 'stopped'
		WHERE status = 'running' AND end_time <= $1
		RETURNING `+sessionColumns, now)
	if err != nil {
		return nil, fmt.Errorf("stop expired sessions: %w", err)
	}
	return res, nil
}

// ListRunning returns the sessions currently marked running.
func (r *Repository) ListRunning(ctx context.Context) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE status = 'running' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list running sessions: %w", err)
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// MarkRunning starts a session manually. A stopped session cannot be restarted.
func (r *Repository) MarkRunning(ctx context.Context, id int64) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE sessions SET status = 'running'
		WHERE id = $1 AND status <> 'stopped'
		RETURNING `+sessionColumns, id)
	s, err := scanSession(row)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("mark session %d running: %w", id, err)
	}
	if _, err := r.GetSession(ctx, id); err != nil {
		return Session{}, err
	}
	return Session{}, ErrSessionStopped
}

// MarkStopped stops a session. Stopping an already stopped session is not an error.
func (r *Repository) MarkStopped(ctx context.Context, id int64) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE sessions SET status = 'stopped' WHERE id = $1
		RETURNING `+sessionColumns, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("mark session %d stopped: %w", id, err)
	}
	return s, nil
}

// GetRoom returns a room by id.
func (r *Repository) GetRoom(ctx context.Context, id int64) (Room, error) {
	var room Room
	var lat, lon sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `SELECT id, name, latitude, longitude, radius_m FROM rooms WHERE id = $1`, id).
		Scan(&room.ID, &room.Name, &lat, &lon, &room.RadiusM)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrNotFound
	}
	if err != nil {
		return Room{}, fmt.Errorf("get room %d: %w", id, err)
	}
	if lat.Valid && lon.Valid {
		room.Latitude, room.Longitude = &lat.Float64, &lon.Float64
	}
	return room, nil
}
