package matcher

import (
	"math"
	"testing"
	"time"

	"facecheck/internal/vecmath"
	"facecheck/internal/whitelist"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC)

func twoPeople() whitelist.Whitelist {
	return whitelist.Whitelist{
		IDs:    []int64{1, 2},
		Matrix: [][]float32{{1, 0}, {0, 1}},
		Names:  map[int64]string{1: "Asha", 2: "Bruno"},
	}
}

func TestMatchAcceptsNearestCentroid(t *testing.T) {
	e := New(twoPeople(), 0.5, 30*time.Second)

	d := e.Match([]float32{0.99, 0.14}, t0)
	assert.Equal(t, Accepted, d.Outcome)
	assert.Equal(t, int64(1), d.IdentityID)
	assert.Equal(t, "Asha", d.Name)
	assert.Equal(t, 0, d.Index)
	assert.InDelta(t, 0.99, d.Similarity, 0.005)
}

func TestMatchRejectsBelowThreshold(t *testing.T) {
	e := New(twoPeople(), 0.9, 30*time.Second)
	d := e.Match([]float32{1, 1}, t0)
	assert.Equal(t, Rejected, d.Outcome)
	assert.InDelta(t, 1/math.Sqrt2, d.Similarity, 1e-6)

	// a rejection does not start a cooldown
	e2 := New(twoPeople(), 0.5, 30*time.Second)
	assert.Equal(t, Accepted, e2.Match([]float32{1, 0.2}, t0).Outcome)
}

func TestMatchThresholdIsInclusive(t *testing.T) {
	emb := []float32{0.8, 0.6}
	score := vecmath.Dot(vecmath.Normalize(emb), []float32{1, 0})

	atScore := New(twoPeople(), score, time.Second)
	assert.Equal(t, Accepted, atScore.Match(emb, t0).Outcome)

	above := New(twoPeople(), math.Nextafter(score, 2), time.Second)
	assert.Equal(t, Rejected, above.Match(emb, t0).Outcome)
}

func TestMatchCooldownBoundaries(t *testing.T) {
	e := New(twoPeople(), 0.5, 30*time.Second)
	emb := []float32{1, 0}

	require.Equal(t, Accepted, e.Match(emb, t0).Outcome)
	assert.Equal(t, CooldownSkipped, e.Match(emb, t0.Add(29999*time.Millisecond)).Outcome)
	// a skip does not extend the window
	assert.Equal(t, Accepted, e.Match(emb, t0.Add(30*time.Second)).Outcome)
	assert.Equal(t, CooldownSkipped, e.Match(emb, t0.Add(31*time.Second)).Outcome)
}

func TestMatchCooldownIsPerIdentity(t *testing.T) {
	e := New(twoPeople(), 0.5, time.Minute)
	require.Equal(t, Accepted, e.Match([]float32{1, 0}, t0).Outcome)

	d := e.Match([]float32{0, 1}, t0.Add(time.Second))
	assert.Equal(t, Accepted, d.Outcome)
	assert.Equal(t, int64(2), d.IdentityID)
}

func TestForgetClearsCooldown(t *testing.T) {
	e := New(twoPeople(), 0.5, time.Minute)
	require.Equal(t, Accepted, e.Match([]float32{1, 0}, t0).Outcome)
	e.Forget(1)
	assert.Equal(t, Accepted, e.Match([]float32{1, 0}, t0.Add(time.Second)).Outcome)
}

func TestMatchTieGoesToLowestIndex(t *testing.T) {
	wl := whitelist.Whitelist{
		IDs:    []int64{10, 20, 30},
		Matrix: [][]float32{{0, 1}, {1, 0}, {1, 0}},
		Names:  map[int64]string{},
	}
	d := New(wl, 0.5, time.Second).Match([]float32{1, 0}, t0)
	assert.Equal(t, 1, d.Index)
	assert.Equal(t, int64(20), d.IdentityID)
}

func TestMatchNoCandidates(t *testing.T) {
	tests := []struct {
		name string
		wl   whitelist.Whitelist
		emb  []float32
	}{
		{name: "empty whitelist", wl: whitelist.Whitelist{Names: map[int64]string{}}, emb: []float32{1, 0}},
		{name: "empty embedding", wl: twoPeople(), emb: nil},
		{name: "dimension mismatch", wl: twoPeople(), emb: []float32{1, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(tt.wl, 0.5, time.Second).Match(tt.emb, t0)
			assert.Equal(t, NoCandidates, d.Outcome)
			assert.Equal(t, -1, d.Index)
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	e := New(twoPeople(), 0, 0)
	assert.Equal(t, DefaultThreshold, e.Threshold())
	assert.Equal(t, DefaultCooldown, e.cooldown)
}
