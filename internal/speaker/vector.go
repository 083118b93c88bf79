package speaker

import "math"

// maxDistance is returned for vectors that cannot be compared.
const maxDistance = 2.0

// snapEpsilon absorbs rounding noise so identical directions compare as 0.
const snapEpsilon = 1e-12

// CosineDistance returns 1 - cos(a, b) in [0, 2]. Vectors of different
// length or with zero norm are maximally distant.
func CosineDistance(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return maxDistance
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return maxDistance
	}

	d := 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
	switch {
	case d < snapEpsilon:
		return 0
	case d > maxDistance:
		return maxDistance
	}
	return d
}

// Mean averages equal-length vectors. It returns nil for an empty input or
// mismatched lengths.
func Mean(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	out := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil
		}
		for i, x := range v {
			out[i] += x
		}
	}
	for i := range out {
		out[i] /= float64(len(vectors))
	}
	return out
}

// WeightedUpdate folds sample into current as a running average over
// sampleCount previous samples: current*(1-w) + sample*w, w = 1/(sampleCount+1).
func WeightedUpdate(current []float64, sampleCount int, sample []float64) []float64 {
	if len(current) != len(sample) {
		return append([]float64(nil), sample...)
	}
	w := 1.0 / float64(sampleCount+1)
	out := make([]float64, len(current))
	for i := range current {
		out[i] = current[i]*(1-w) + sample[i]*w
	}
	return out
}
