// Package vecmath holds the small amount of linear algebra the matcher and
// the template trainer need. All embeddings are float32; accumulation is float64.
package vecmath

import "math"

// Epsilon is added to the norm before dividing so an all-zero vector stays zero.
const Epsilon = 1e-8

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a new vector v / (‖v‖ + Epsilon).
func Normalize(v []float32) []float32 {
	n := Norm(v) + Epsilon
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// Dot returns the dot product of a and b over the shorter of the two lengths.
func Dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// CosineBatch scores a unit query against every row of a pre-normalized matrix.
// Because both sides are unit length the dot product is the cosine similarity.
// Scores are not clamped.
func CosineBatch(query []float32, matrix [][]float32) []float64 {
	scores := make([]float64, len(matrix))
	for i, row := range matrix {
		scores[i] = Dot(query, row)
	}
	return scores
}

// ArgMax returns the index of the largest score, preferring the lowest index on
// exact ties. It returns -1 for an empty slice.
func ArgMax(scores []float64) int {
	best := -1
	for i, s := range scores {
		if best == -1 || s > scores[best] {
			best = i
		}
	}
	return best
}

// Centroid averages the given vectors and re-normalizes the mean. It reports
// false when there is nothing to average, the dimensions disagree, or the mean
// collapses to (near) zero.
func Centroid(vectors [][]float32) ([]float32, bool) {
	if len(vectors) == 0 {
		return nil, false
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, false
	}
	sum := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, false
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	mean := make([]float32, dim)
	for i := range sum {
		mean[i] = float32(sum[i] / float64(len(vectors)))
	}
	if Norm(mean) < Epsilon {
		return nil, false
	}
	return Normalize(mean), true
}

// IsUnit reports whether ‖v‖ is within tol of 1.
func IsUnit(v []float32, tol float64) bool {
	return math.Abs(Norm(v)-1) <= tol
}
