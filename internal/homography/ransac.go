// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package homography

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// Minimal number of correspondences to determine a homography
const MinSamples = 4

// Source of random sample indices. Implemented by *fastrand.RNG
type Rand interface {
	Uint32n(maxN uint32) uint32
}

// Robust estimation settings
type Options struct {
	Threshold  float64 `json:"threshold"`  // Maximum reprojection error in pixels for an inlier
	MaxIters   int     `json:"maxIters"`   // Upper bound on RANSAC iterations
	Confidence float64 `json:"confidence"` // Desired probability of drawing at least one outlier-free sample, in (0,1)
	Refine     bool    `json:"refine"`     // Minimize reprojection error over all inliers after RANSAC
}

func DefaultOptions() Options {
	return Options{
		Threshold:  3.0,
		MaxIters:   2000,
		Confidence: 0.995,
		Refine:     true,
	}
}

func (o Options) Validate() error {
	if !(o.Threshold > 0) {
		return fmt.Errorf("reprojection threshold %g must be positive", o.Threshold)
	}
	if o.MaxIters < 1 {
		return fmt.Errorf("maximum RANSAC iterations %d must be positive", o.MaxIters)
	}
	if !(o.Confidence > 0 && o.Confidence < 1) {
		return fmt.Errorf("RANSAC confidence %g must be in (0,1)", o.Confidence)
	}
	return nil
}

// A robustly fitted homography with its consensus set
type Fit struct {
	H          Homography // Maps source to destination coordinates, normalized to H[8]=1
	Inliers    []bool     // Inliers[i] is true if pair i reprojects within the threshold
	NumInliers int        // Number of true entries in Inliers
	RMS        float64    // Root mean square reprojection error over the inliers, in pixels
	Iterations int        // Number of RANSAC iterations performed
}

// Finds the homography mapping src[i] to dst[i] with random sample consensus.
// Draws minimal samples of four pairs from rng, rejects samples with three collinear points
// or with triangles whose orientation flips between source and destination, rejects models
// which are singular or mirror the image, and keeps the model with the largest number of inliers. The number of iterations adapts
// to the observed inlier ratio and the desired confidence, capped by opts.MaxIters.
// The winner is re-estimated from all its inliers and optionally refined.
func Find(src, dst []Point2D, opts Options, rng Rand) (fit *Fit, err error) {
	n := len(src)
	if len(dst) != n {
		return nil, fmt.Errorf("%w: %d source and %d destination points", ErrInsufficientCorrespondences, len(src), len(dst))
	}
	if n < MinSamples {
		return nil, fmt.Errorf("%w: need at least %d point pairs, got %d", ErrInsufficientCorrespondences, MinSamples, n)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	thresholdSq := opts.Threshold * opts.Threshold

	best, bestCount := Homography{}, 0
	bestMask, mask := make([]bool, n), make([]bool, n)
	var idx [4]int
	var s, d [4]Point2D

	maxIters := opts.MaxIters
	iter := 0
	for ; iter < maxIters; iter++ {
		drawSample(rng, n, &idx)
		for i, j := range idx {
			s[i], d[i] = src[j], dst[j]
		}
		if degenerateSample(&s) || degenerateSample(&d) || !sameOrientation(&s, &d) {
			continue
		}
		h, err := DLT(s[:], d[:])
		if err != nil || !wellConditioned(h, s[:]) {
			continue
		}
		count := countInliers(h, src, dst, thresholdSq, mask)
		if count > bestCount {
			best, bestCount = h, count
			copy(bestMask, mask)
			maxIters = updateNumIters(opts.Confidence, float64(n-count)/float64(n), MinSamples, maxIters)
		}
	}
	if bestCount < MinSamples {
		return nil, fmt.Errorf("%w: best model has %d inliers of %d after %d iterations", ErrDegenerateGeometry, bestCount, n, iter)
	}

	// Re-estimate from the full consensus set
	if h, err := DLT(selectPoints(src, bestMask), selectPoints(dst, bestMask)); err == nil && wellConditioned(h, selectPoints(src, bestMask)) {
		if count := countInliers(h, src, dst, thresholdSq, mask); count >= bestCount {
			best, bestCount = h, count
			copy(bestMask, mask)
		}
	}

	if opts.Refine {
		if h, ok := refine(best, src, dst, bestMask); ok && wellConditioned(h, selectPoints(src, bestMask)) {
			if count := countInliers(h, src, dst, thresholdSq, mask); count >= bestCount {
				best, bestCount = h, count
				copy(bestMask, mask)
			}
		}
	}

	return &Fit{
		H:          best.Normalize(),
		Inliers:    bestMask,
		NumInliers: bestCount,
		RMS:        math.Sqrt(sumSquaredErrors(best, src, dst, bestMask) / float64(bestCount)),
		Iterations: iter,
	}, nil
}

// Returns true if h is invertible and preserves orientation around all given source points.
// The Jacobian determinant of a homography at p is det(H)/w(p)^3, with w(p) the projective denominator
func wellConditioned(h Homography, ps []Point2D) bool {
	if _, err := h.Invert(); err != nil {
		return false
	}
	det := h.Det()
	for _, p := range ps {
		w := h[6]*p.X + h[7]*p.Y + h[8]
		if det*w <= 0 {
			return false
		}
	}
	return true
}

// Draws four distinct indices in [0,n)
func drawSample(rng Rand, n int, idx *[4]int) {
	for i := 0; i < len(idx); {
		j := int(rng.Uint32n(uint32(n)))
		unique := true
		for k := 0; k < i; k++ {
			if idx[k] == j {
				unique = false
				break
			}
		}
		if unique {
			idx[i] = j
			i++
		}
	}
}

// Marks pairs with squared reprojection error below the threshold in mask. Returns the count
func countInliers(h Homography, src, dst []Point2D, thresholdSq float64, mask []bool) int {
	count := 0
	for i := range src {
		p, ok := h.Apply(src[i])
		mask[i] = ok && Dist2DSquared(p, dst[i]) < thresholdSq
		if mask[i] {
			count++
		}
	}
	return count
}

// Returns the sum of squared reprojection errors over the masked pairs
func sumSquaredErrors(h Homography, src, dst []Point2D, mask []bool) float64 {
	sum := 0.0
	for i := range src {
		if !mask[i] {
			continue
		}
		p, ok := h.Apply(src[i])
		if !ok {
			return math.Inf(1)
		}
		sum += Dist2DSquared(p, dst[i])
	}
	return sum
}

func selectPoints(ps []Point2D, mask []bool) []Point2D {
	res := make([]Point2D, 0, len(ps))
	for i, p := range ps {
		if mask[i] {
			res = append(res, p)
		}
	}
	return res
}

// Returns the number of iterations needed to draw an outlier-free sample of the given size
// with probability confidence, for the given outlier ratio. Never exceeds maxIters
func updateNumIters(confidence, outlierRatio float64, sampleSize, maxIters int) int {
	num := math.Max(1-confidence, math.SmallestNonzeroFloat64)
	denom := 1 - math.Pow(1-outlierRatio, float64(sampleSize))
	if denom < math.SmallestNonzeroFloat64 {
		return 0
	}
	num, denom = math.Log(num), math.Log(denom)
	if denom >= 0 || -num >= float64(maxIters)*(-denom) {
		return maxIters
	}
	return int(math.Round(num / denom))
}

// Minimizes the summed squared reprojection error over the inliers with Nelder-Mead.
// Works on the eight free coefficients of the homography expressed in normalized
// coordinates, so all parameters are of similar magnitude. Returns false if no improvement
func refine(h Homography, src, dst []Point2D, mask []bool) (Homography, bool) {
	ts, ok1 := normalization(selectPoints(src, mask))
	td, ok2 := normalization(selectPoints(dst, mask))
	if !ok1 || !ok2 {
		return h, false
	}
	tsInv, err1 := ts.Invert()
	tdInv, err2 := td.Invert()
	if err1 != nil || err2 != nil {
		return h, false
	}
	hn := td.Mul(h).Mul(tsInv).Normalize()
	if math.Abs(hn[8]) < 1e-12 {
		return h, false
	}

	denormalize := func(x []float64) Homography {
		var n Homography
		copy(n[:8], x)
		n[8] = 1
		return tdInv.Mul(n).Mul(ts)
	}
	initial := sumSquaredErrors(h, src, dst, mask)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return sumSquaredErrors(denormalize(x), src, dst, mask)
		},
	}
	result, err := optimize.Minimize(problem, append([]float64(nil), hn[:8]...), nil, &optimize.NelderMead{})
	if err != nil || result == nil || !(result.F < initial) {
		return h, false
	}
	refined := denormalize(result.X).Normalize()
	if !refined.IsFinite() {
		return h, false
	}
	return refined, true
}
