// Package attendance records at most one attendance mark per session and
// student. Marks are created once and their confidence only ever rises.
package attendance

import (
	"context"
	"time"

	"facecheck/internal/academics"

	"github.com/google/uuid"
)

// Outcome of a ledger write.
type Outcome string

const (
	Created   Outcome = "created"
	Updated   Outcome = "updated"
	Unchanged Outcome = "unchanged"
	Rejected  Outcome = "rejected"
)

// Methods.
const (
	MethodFace   = "face"
	MethodQR     = "qr"
	MethodManual = "manual"
)

// Statuses.
const (
	StatusPresent  = "Present"
	StatusLate     = "Late"
	StatusAbsent   = "Absent"
	StatusExcused  = "Excused"
	StatusRejected = "Rejected"
)

// Record is one attendance mark.
type Record struct {
	ID         uuid.UUID `json:"id"`
	SessionID  int64     `json:"session_id"`
	IdentityID int64     `json:"identity_id"`
	Name       string    `json:"name,omitempty"`
	Method     string    `json:"method"`
	Confidence *float64  `json:"confidence,omitempty"`
	GeoOK      bool      `json:"geo_ok"`
	Status     string    `json:"status"`
	MarkedAt   time.Time `json:"marked_at"`
}

// Stats summarizes a session's marks.
type Stats struct {
	Total      int        `json:"total"`
	Face       int        `json:"face"`
	QR         int        `json:"qr"`
	Manual     int        `json:"manual"`
	Present    int        `json:"present"`
	Late       int        `json:"late"`
	LastMarkAt *time.Time `json:"last_mark_at,omitempty"`
}

// Store persists records. All ledger checks and the write share one transaction.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Recent(ctx context.Context, sessionID int64, limit int) ([]Record, error)
	Stats(ctx context.Context, sessionID int64) (Stats, error)
}

// Tx is the view of the store inside a ledger transaction.
type Tx interface {
	// LockSession reads the session and holds a shared lock on it until the
	// transaction ends. It returns academics.ErrNotFound for unknown ids.
	LockSession(ctx context.Context, sessionID int64) (academics.Session, error)
	IsEnrolled(ctx context.Context, courseAssignmentID, identityID int64) (bool, error)
	// Upsert creates rec, or raises the stored confidence when rec's is
	// strictly greater. A nil confidence never updates. It returns Created,
	// Updated or Unchanged.
	Upsert(ctx context.Context, rec Record) (Outcome, error)
}
