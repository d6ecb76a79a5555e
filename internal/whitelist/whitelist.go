// Package whitelist builds the in-memory set of identities a session's
// worker may match against.
package whitelist

import (
	"context"
	"fmt"
	"log"

	"facecheck/internal/academics"
	"facecheck/internal/vecmath"
)

// Whitelist is a snapshot of the enrolled identities that have a template.
// Matrix rows are unit norm and line up with IDs. Matrix is nil when empty.
type Whitelist struct {
	IDs    []int64
	Matrix [][]float32
	Names  map[int64]string
}

// Empty reports whether nobody can be matched.
func (w Whitelist) Empty() bool {
	return len(w.IDs) == 0
}

// Dim returns the embedding dimension, or 0 when empty.
func (w Whitelist) Dim() int {
	if len(w.Matrix) == 0 {
		return 0
	}
	return len(w.Matrix[0])
}

// Roster lists the identities enrolled in a course assignment, ordered by id.
type Roster interface {
	ListEnrolled(ctx context.Context, courseAssignmentID int64) ([]academics.Identity, error)
}

// CentroidSource returns stored centroids for the given identities.
type CentroidSource interface {
	Centroids(ctx context.Context, identityIDs []int64) (map[int64][]float32, error)
}

// Loader builds whitelists.
type Loader struct {
	roster    Roster
	centroids CentroidSource
}

// NewLoader creates a loader.
func NewLoader(roster Roster, centroids CentroidSource) *Loader {
	return &Loader{roster: roster, centroids: centroids}
}

// Load returns the whitelist for a session. Enrolled identities without a
// template are left out. Zero survivors is not an error.
func (l *Loader) Load(ctx context.Context, session academics.Session) (Whitelist, error) {
	out := Whitelist{Names: map[int64]string{}}

	enrolled, err := l.roster.ListEnrolled(ctx, session.CourseAssignmentID)
	if err != nil {
		return out, fmt.Errorf("load roster: %w", err)
	}
	if len(enrolled) == 0 {
		return out, nil
	}

	ids := make([]int64, len(enrolled))
	for i, e := range enrolled {
		ids[i] = e.ID
	}
	centroids, err := l.centroids.Centroids(ctx, ids)
	if err != nil {
		return out, fmt.Errorf("load centroids: %w", err)
	}

	dim := 0
	for _, e := range enrolled {
		c, ok := centroids[e.ID]
		if !ok || len(c) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(c)
		} else if len(c) != dim {
			log.Printf("session %d: identity %d has %d-dim template, want %d; skipping", session.ID, e.ID, len(c), dim)
			continue
		}
		out.IDs = append(out.IDs, e.ID)
		out.Matrix = append(out.Matrix, vecmath.Normalize(c))
		out.Names[e.ID] = e.DisplayName
	}
	return out, nil
}
