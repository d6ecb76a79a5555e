package whitelist

import (
	"context"
	"errors"
	"testing"

	"facecheck/internal/academics"
	"facecheck/internal/vecmath"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoster map[int64][]academics.Identity

func (r fakeRoster) ListEnrolled(ctx context.Context, ca int64) ([]academics.Identity, error) {
	return r[ca], nil
}

type fakeCentroids struct {
	data map[int64][]float32
	err  error
}

func (f fakeCentroids) Centroids(ctx context.Context, ids []int64) (map[int64][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[int64][]float32{}
	for _, id := range ids {
		if c, ok := f.data[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func TestLoadEmptyRoster(t *testing.T) {
	l := NewLoader(fakeRoster{}, fakeCentroids{})
	wl, err := l.Load(context.Background(), academics.Session{ID: 1, CourseAssignmentID: 9})
	require.NoError(t, err)
	assert.True(t, wl.Empty())
	assert.Empty(t, wl.IDs)
	assert.Nil(t, wl.Matrix)
	assert.NotNil(t, wl.Names)
	assert.Empty(t, wl.Names)
}

func TestLoadSkipsIdentitiesWithoutTemplate(t *testing.T) {
	roster := fakeRoster{7: {
		{ID: 1, DisplayName: "Asha"},
		{ID: 2, DisplayName: "Bruno"},
		{ID: 3, DisplayName: "Chen"},
	}}
	centroids := fakeCentroids{data: map[int64][]float32{
		1: {3, 4},
		3: {0, 2},
	}}

	wl, err := NewLoader(roster, centroids).Load(context.Background(), academics.Session{CourseAssignmentID: 7})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, wl.IDs)
	require.Len(t, wl.Matrix, len(wl.IDs))
	for _, row := range wl.Matrix {
		assert.True(t, vecmath.IsUnit(row, 1e-5))
	}
	assert.Equal(t, map[int64]string{1: "Asha", 3: "Chen"}, wl.Names)
	assert.Equal(t, 2, wl.Dim())
}

func TestLoadNoTemplatesAtAll(t *testing.T) {
	roster := fakeRoster{7: {{ID: 1, DisplayName: "Asha"}}}
	wl, err := NewLoader(roster, fakeCentroids{}).Load(context.Background(), academics.Session{CourseAssignmentID: 7})
	require.NoError(t, err)
	assert.True(t, wl.Empty())
	assert.Nil(t, wl.Matrix)
}

func TestLoadDropsMismatchedDimension(t *testing.T) {
	roster := fakeRoster{7: {{ID: 1}, {ID: 2}}}
	centroids := fakeCentroids{data: map[int64][]float32{1: {1, 0}, 2: {1, 0, 0}}}
	wl, err := NewLoader(roster, centroids).Load(context.Background(), academics.Session{CourseAssignmentID: 7})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, wl.IDs)
}

func TestLoadPropagatesStoreError(t *testing.T) {
	roster := fakeRoster{7: {{ID: 1}}}
	_, err := NewLoader(roster, fakeCentroids{err: errors.New("timeout")}).Load(context.Background(), academics.Session{CourseAssignmentID: 7})
	assert.Error(t, err)
}
