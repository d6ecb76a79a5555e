//go:build integration

// Package storetest starts a throwaway pgvector Postgres for integration tests.
package storetest

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"facecheck/internal/store"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Postgres starts a migrated database and registers its cleanup on t.
// The test is skipped when Docker is unavailable.
func Postgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "facecheck",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil || container == nil {
		t.Skipf("docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	db, err := store.NewDB(ctx, fmt.Sprintf("postgres://test:test@%s:%s/facecheck?sslmode=disable", host, port.Port()))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db.Client
}

// Fixture is a minimal roster: one course assignment with the given
// students enrolled and one running session.
type Fixture struct {
	CourseAssignmentID int64
	SessionID          int64
	RoomID             int64
	StudentIDs         []int64
}

// Seed inserts a Fixture with a session spanning [start, end).
func Seed(t *testing.T, db *sql.DB, start, end time.Time, names ...string) Fixture {
	t.Helper()
	ctx := context.Background()
	var f Fixture

	if err := db.QueryRowContext(ctx, `INSERT INTO rooms (name, latitude, longitude, radius_m) VALUES ('B-101', 12.9716, 77.5946, 60) RETURNING id`).Scan(&f.RoomID); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	if err := db.QueryRowContext(ctx, `INSERT INTO course_assignments (course_code, section) VALUES ('CS101', 'A') RETURNING id`).Scan(&f.CourseAssignmentID); err != nil {
		t.Fatalf("seed course assignment: %v", err)
	}
	for _, n := range names {
		var id int64
		if err := db.QueryRowContext(ctx, `INSERT INTO students (display_name) VALUES ($1) RETURNING id`, n).Scan(&id); err != nil {
			t.Fatalf("seed student: %v", err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO enrollments (course_assignment_id, student_id) VALUES ($1, $2)`, f.CourseAssignmentID, id); err != nil {
			t.Fatalf("seed enrollment: %v", err)
		}
		f.StudentIDs = append(f.StudentIDs, id)
	}
	if err := db.QueryRowContext(ctx, `
		INSERT INTO sessions (course_assignment_id, room_id, status, start_time, end_time)
		VALUES ($1, $2, 'running', $3, $4) RETURNING id
	`, f.CourseAssignmentID, f.RoomID, start, end).Scan(&f.SessionID); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return f
}
