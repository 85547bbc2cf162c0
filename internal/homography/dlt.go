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

	"gonum.org/v1/gonum/mat"
)

// Ratio of smallest to largest relevant singular value below which the system has no unique solution
const rankEpsilon = 1e-10

// Computes a homography mapping src[i] to dst[i] with the normalized direct linear transform.
// Points are moved to their centroid and scaled to mean distance sqrt(2) before solving,
// the solution is the right singular vector of the smallest singular value.
func DLT(src, dst []Point2D) (Homography, error) {
	n := len(src)
	if n < 4 || len(dst) != n {
		return Homography{}, fmt.Errorf("%w: %d source and %d destination points", ErrInsufficientCorrespondences, len(src), len(dst))
	}
	ts, ok := normalization(src)
	if !ok {
		return Homography{}, fmt.Errorf("%w: coincident source points", ErrDegenerateGeometry)
	}
	td, ok := normalization(dst)
	if !ok {
		return Homography{}, fmt.Errorf("%w: coincident destination points", ErrDegenerateGeometry)
	}

	a := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		s, _ := ts.Apply(src[i])
		d, _ := td.Apply(dst[i])
		r := 2 * i
		a.SetRow(r, []float64{-s.X, -s.Y, -1, 0, 0, 0, d.X * s.X, d.X * s.Y, d.X})
		a.SetRow(r+1, []float64{0, 0, 0, -s.X, -s.Y, -1, d.Y * s.X, d.Y * s.Y, d.Y})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return Homography{}, fmt.Errorf("%w: SVD did not converge", ErrDegenerateGeometry)
	}
	values := svd.Values(nil)
	if values[0] == 0 || values[7]/values[0] < rankEpsilon {
		return Homography{}, fmt.Errorf("%w: rank deficient system", ErrDegenerateGeometry)
	}
	var v mat.Dense
	svd.VTo(&v)

	var hn Homography
	for i := range hn {
		hn[i] = v.At(i, 8)
	}

	tdInv, err := td.Invert()
	if err != nil {
		return Homography{}, fmt.Errorf("%w: %s", ErrDegenerateGeometry, err.Error())
	}
	h := tdInv.Mul(hn).Mul(ts).Normalize()
	if !h.IsFinite() || math.Abs(h[8]) < 1e-12 {
		return Homography{}, fmt.Errorf("%w: non-finite solution %v", ErrDegenerateGeometry, h)
	}
	return h, nil
}

// Returns the similarity transform moving the centroid of the points to the origin
// and scaling their mean distance from it to sqrt(2). False if all points coincide
func normalization(ps []Point2D) (Homography, bool) {
	cx, cy := 0.0, 0.0
	for _, p := range ps {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(ps))
	cy /= float64(len(ps))

	meanDist := 0.0
	for _, p := range ps {
		meanDist += math.Hypot(p.X-cx, p.Y-cy)
	}
	meanDist /= float64(len(ps))
	if meanDist < 1e-12 {
		return Homography{}, false
	}
	s := math.Sqrt2 / meanDist
	return Homography{s, 0, -s * cx, 0, s, -s * cy, 0, 0, 1}, true
}

// Returns true if three of the given points are (almost) collinear or coincide
func collinear3(a, b, c Point2D) bool {
	dx1, dy1 := b.X-a.X, b.Y-a.Y
	dx2, dy2 := c.X-a.X, c.Y-a.Y
	const eps = 1.1920929e-07 // float32 machine epsilon
	return math.Abs(dx2*dy1-dy2*dx1) <= eps*(math.Abs(dx1)+math.Abs(dy1)+math.Abs(dx2)+math.Abs(dy2))
}

// Returns true if any three of the four given points are collinear
func degenerateSample(ps *[4]Point2D) bool {
	return collinear3(ps[0], ps[1], ps[2]) || collinear3(ps[0], ps[1], ps[3]) ||
		collinear3(ps[0], ps[2], ps[3]) || collinear3(ps[1], ps[2], ps[3])
}

// Returns twice the signed area of the triangle abc
func cross3(a, b, c Point2D) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

// Returns true if every triangle of the four source points has the same orientation as the
// corresponding destination triangle. A sample failing this can only be fit by a mirroring
// or folding transform
func sameOrientation(s, d *[4]Point2D) bool {
	for _, t := range [4][3]int{{0, 1, 2}, {1, 2, 3}, {2, 3, 0}, {3, 0, 1}} {
		if cross3(s[t[0]], s[t[1]], s[t[2]])*cross3(d[t[0]], d[t[1]], d[t[2]]) <= 0 {
			return false
		}
	}
	return true
}
