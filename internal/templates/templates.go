// Package templates keeps each student's reference photos, the embedding of
// every photo, and the unit-norm centroid that stands in for the student
// during matching.
package templates

import (
	"context"
	"time"
)

// Template is the centroid of a student's photo embeddings.
// Centroid has unit L2 norm whenever Count > 0.
type Template struct {
	IdentityID int64     `json:"identity_id"`
	Centroid   []float32 `json:"-"`
	Count      int       `json:"count"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Photo is a stored reference photo.
type Photo struct {
	ID         int64     `json:"id"`
	IdentityID int64     `json:"identity_id"`
	URL        string    `json:"url"`
	CreatedAt  time.Time `json:"created_at"`
}

// PhotoEmbedding is the unit-norm embedding extracted from one photo.
type PhotoEmbedding struct {
	PhotoID   int64
	Embedding []float32
	DetScore  float64
}

// Store is the persistence the trainer needs.
type Store interface {
	TrainableIdentities(ctx context.Context) ([]int64, error)
	ListPhotos(ctx context.Context, identityID int64) ([]Photo, error)
	// ReplaceEmbeddings atomically swaps the photo embeddings of one identity
	// and writes its centroid. A nil centroid deletes the template.
	ReplaceEmbeddings(ctx context.Context, identityID int64, embeddings []PhotoEmbedding, centroid []float32) error
}
