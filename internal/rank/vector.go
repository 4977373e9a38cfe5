// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package rank

import "math"

// Normalize returns v scaled to unit length. A zero or empty vector is
// returned as a zero vector of the same length.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	mag := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / mag)
	}
	return out
}

// Similarity is the dot product of two unit vectors clipped to [0,1].
// Negative cosine is treated as unrelated.
func Similarity(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	switch {
	case dot < 0, math.IsNaN(dot):
		return 0
	case dot > 1:
		return 1
	}
	return dot
}
