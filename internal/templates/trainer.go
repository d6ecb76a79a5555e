package templates

import (
	"context"
	"errors"
	"fmt"
	"log"

	"facecheck/internal/faceclient"
	"facecheck/internal/vecmath"
)

// Detector finds faces and their embeddings in an encoded image.
type Detector interface {
	DetectAndEmbed(ctx context.Context, image []byte) ([]faceclient.Detection, error)
}

// PhotoFetcher downloads a stored reference photo.
type PhotoFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Summary reports what a rebuild did.
type Summary struct {
	Identities int `json:"identities"`
	Embeddings int `json:"embeddings"`
	Skipped    int `json:"skipped"`
}

// Trainer rebuilds centroids from reference photos.
type Trainer struct {
	store    Store
	fetcher  PhotoFetcher
	detector Detector

	// Progress, when set, is called after each identity is written.
	Progress func(done, total int)
}

// NewTrainer wires a trainer.
func NewTrainer(store Store, fetcher PhotoFetcher, detector Detector) *Trainer {
	return &Trainer{store: store, fetcher: fetcher, detector: detector}
}

// Rebuild recomputes the template of every listed identity, or of every
// identity owning a photo when ids is empty. Photos that cannot be fetched,
// decoded, or that show no face are counted as skipped. An unavailable face
// service or a storage failure stops the rebuild; the summary covers the
// identities written before that.
func (t *Trainer) Rebuild(ctx context.Context, ids []int64) (Summary, error) {
	var sum Summary
	if len(ids) == 0 {
		var err error
		ids, err = t.store.TrainableIdentities(ctx)
		if err != nil {
			return sum, err
		}
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		embeddings, skipped, err := t.embedIdentity(ctx, id)
		if err != nil {
			return sum, fmt.Errorf("identity %d: %w", id, err)
		}

		var centroid []float32
		if len(embeddings) > 0 {
			vecs := make([][]float32, len(embeddings))
			for j, e := range embeddings {
				vecs[j] = e.Embedding
			}
			c, ok := vecmath.Centroid(vecs)
			if !ok {
				log.Printf("identity %d: degenerate centroid from %d embeddings, dropping template", id, len(vecs))
				skipped += len(embeddings)
				embeddings = nil
			} else {
				centroid = c
			}
		}

		if err := t.store.ReplaceEmbeddings(ctx, id, embeddings, centroid); err != nil {
			return sum, fmt.Errorf("identity %d: %w", id, err)
		}
		if centroid != nil {
			sum.Identities++
		}
		sum.Embeddings += len(embeddings)
		sum.Skipped += skipped
		if t.Progress != nil {
			t.Progress(i+1, len(ids))
		}
	}
	return sum, nil
}

func (t *Trainer) embedIdentity(ctx context.Context, id int64) ([]PhotoEmbedding, int, error) {
	photos, err := t.store.ListPhotos(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	var out []PhotoEmbedding
	skipped := 0
	for _, p := range photos {
		data, err := t.fetcher.Fetch(ctx, p.URL)
		if err != nil {
			log.Printf("identity %d: skip photo %d: %v", id, p.ID, err)
			skipped++
			continue
		}
		dets, err := t.detector.DetectAndEmbed(ctx, data)
		if errors.Is(err, faceclient.ErrUnavailable) {
			return nil, 0, err
		}
		if err != nil {
			log.Printf("identity %d: skip photo %d: %v", id, p.ID, err)
			skipped++
			continue
		}
		best := faceclient.Largest(dets)
		if best < 0 || len(dets[best].Embedding) == 0 {
			skipped++
			continue
		}
		out = append(out, PhotoEmbedding{
			PhotoID:   p.ID,
			Embedding: vecmath.Normalize(dets[best].Embedding),
			DetScore:  dets[best].Score,
		})
	}
	return out, skipped, nil
}
