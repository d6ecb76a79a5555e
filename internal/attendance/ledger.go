package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"facecheck/internal/academics"

	"github.com/google/uuid"
)

// DefaultGrace is how long after start a first mark still counts as Present.
const DefaultGrace = 10 * time.Minute

// Ledger writes attendance marks after re-checking the session and enrollment.
type Ledger struct {
	store Store
	grace time.Duration
	now   func() time.Time
}

// NewLedger creates a ledger. A non-positive grace uses DefaultGrace.
func NewLedger(store Store, grace time.Duration) *Ledger {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Ledger{store: store, grace: grace, now: time.Now}
}

// WithClock replaces the ledger's time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// RecordMatch records a face match. A stopped, finished or unknown session and
// a student who is not enrolled yield Rejected with a nil error.
func (l *Ledger) RecordMatch(ctx context.Context, sessionID, identityID int64, similarity float64) (Outcome, error) {
	conf := similarity
	return l.record(ctx, Record{
		SessionID:  sessionID,
		IdentityID: identityID,
		Method:     MethodFace,
		Confidence: &conf,
	})
}

// RecordQR records a verified QR scan. It never changes an existing mark.
func (l *Ledger) RecordQR(ctx context.Context, sessionID, identityID int64, geoOK bool) (Outcome, error) {
	return l.record(ctx, Record{
		SessionID:  sessionID,
		IdentityID: identityID,
		Method:     MethodQR,
		GeoOK:      geoOK,
	})
}

func (l *Ledger) record(ctx context.Context, rec Record) (Outcome, error) {
	var outcome Outcome
	err := l.store.InTx(ctx, func(tx Tx) error {
		now := l.now()
		sess, err := tx.LockSession(ctx, rec.SessionID)
		if errors.Is(err, academics.ErrNotFound) {
			outcome = l.reject(rec, "session not found")
			return nil
		}
		if err != nil {
			return err
		}
		if sess.Status != academics.StatusRunning {
			outcome = l.reject(rec, "session is "+sess.Status)
			return nil
		}
		if !now.Before(sess.EndTime) {
			outcome = l.reject(rec, "session has ended")
			return nil
		}
		enrolled, err := tx.IsEnrolled(ctx, sess.CourseAssignmentID, rec.IdentityID)
		if err != nil {
			return err
		}
		if !enrolled {
			outcome = l.reject(rec, "identity not enrolled")
			return nil
		}

		rec.ID = uuid.New()
		rec.MarkedAt = now
		rec.Status = l.classify(sess, now)
		outcome, err = tx.Upsert(ctx, rec)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("record %s mark session %d identity %d: %w", rec.Method, rec.SessionID, rec.IdentityID, err)
	}
	return outcome, nil
}

func (l *Ledger) classify(sess academics.Session, now time.Time) string {
	if now.After(sess.StartTime.Add(l.grace)) {
		return StatusLate
	}
	return StatusPresent
}

func (l *Ledger) reject(rec Record, reason string) Outcome {
	log.Printf("session %d: rejected %s mark for identity %d: %s", rec.SessionID, rec.Method, rec.IdentityID, reason)
	return Rejected
}

// Recent returns the newest marks of a session.
func (l *Ledger) Recent(ctx context.Context, sessionID int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	return l.store.Recent(ctx, sessionID, limit)
}

// Stats summarizes a session's marks.
func (l *Ledger) Stats(ctx context.Context, sessionID int64) (Stats, error) {
	return l.store.Stats(ctx, sessionID)
}
