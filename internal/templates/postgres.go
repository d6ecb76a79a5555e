package templates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// ErrNoTemplate is returned by GetTemplate for a student without a centroid.
var ErrNoTemplate = errors.New("no template")

// PostgresStore persists photos, embeddings and centroids in pgvector columns.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Centroids returns the centroid of every listed identity that has one.
func (s *PostgresStore) Centroids(ctx context.Context, identityIDs []int64) (map[int64][]float32, error) {
	out := make(map[int64][]float32, len(identityIDs))
	if len(identityIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT student_id, centroid FROM embedding_templates WHERE student_id = ANY($1)
	`, pq.Array(identityIDs))
	if err != nil {
		return nil, fmt.Errorf("query centroids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var vec pgvector.Vector
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("scan centroid: %w", err)
		}
		out[id] = vec.Slice()
	}
	return out, rows.Err()
}

// GetTemplate returns one student's template.
func (s *PostgresStore) GetTemplate(ctx context.Context, identityID int64) (Template, error) {
	var t Template
	var vec pgvector.Vector
	err := s.db.QueryRowContext(ctx, `
		SELECT student_id, centroid, embedding_count, updated_at
		FROM embedding_templates WHERE student_id = $1
	`, identityID).Scan(&t.IdentityID, &vec, &t.Count, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, ErrNoTemplate
	}
	if err != nil {
		return Template{}, fmt.Errorf("get template %d: %w", identityID, err)
	}
	t.Centroid = vec.Slice()
	return t, nil
}

// TrainableIdentities returns every student owning at least one reference photo.
func (s *PostgresStore) TrainableIdentities(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT student_id FROM reference_photos ORDER BY student_id`)
	if err != nil {
		return nil, fmt.Errorf("query trainable identities: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListPhotos returns a student's reference photos, oldest first.
func (s *PostgresStore) ListPhotos(ctx context.Context, identityID int64) ([]Photo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, student_id, url, created_at FROM reference_photos
		WHERE student_id = $1 ORDER BY id
	`, identityID)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()
	var res []Photo
	for rows.Next() {
		var p Photo
		if err := rows.Scan(&p.ID, &p.IdentityID, &p.URL, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// AddPhoto records a new reference photo URL.
func (s *PostgresStore) AddPhoto(ctx context.Context, identityID int64, url string) (Photo, error) {
	p := Photo{IdentityID: identityID, URL: url}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO reference_photos (student_id, url) VALUES ($1, $2)
		RETURNING id, created_at
	`, identityID, url).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return Photo{}, fmt.Errorf("add photo: %w", err)
	}
	return p, nil
}

// ReplaceEmbeddings implements Store.
func (s *PostgresStore) ReplaceEmbeddings(ctx context.Context, identityID int64, embeddings []PhotoEmbedding, centroid []float32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM photo_embeddings WHERE student_id = $1`, identityID); err != nil {
		return fmt.Errorf("delete photo embeddings: %w", err)
	}
	for _, e := range embeddings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO photo_embeddings (photo_id, student_id, embedding, det_score)
			VALUES ($1, $2, $3, $4)
		`, e.PhotoID, identityID, pgvector.NewVector(e.Embedding), e.DetScore); err != nil {
			return fmt.Errorf("insert photo embedding %d: %w", e.PhotoID, err)
		}
	}

	if centroid == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM embedding_templates WHERE student_id = $1`, identityID); err != nil {
			return fmt.Errorf("delete template: %w", err)
		}
	} else if _, err := tx.ExecContext(ctx, `
		INSERT INTO embedding_templates (student_id, centroid, embedding_count, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (student_id) DO UPDATE SET
			centroid = EXCLUDED.centroid,
			embedding_count = EXCLUDED.embedding_count,
			updated_at = NOW()
	`, identityID, pgvector.NewVector(centroid), len(embeddings)); err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}

	return tx.Commit()
}
