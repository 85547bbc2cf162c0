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


// Package homography estimates and applies planar projective transforms.
package homography

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	// Fewer than four point pairs, or point sets of different length
	ErrInsufficientCorrespondences = errors.New("insufficient correspondences")

	// No well-conditioned model could be found from the correspondences
	ErrDegenerateGeometry = errors.New("degenerate geometry")

	// The transform has no inverse
	ErrSingularTransform = errors.New("singular transform")
)

// Relative determinant below which a max-normalized matrix is considered singular
const singularEpsilon = 1e-12

// A 2-dimensional point with floating point coordinates.
type Point2D struct {
	X float64
	Y float64
}

func (p Point2D) String() string {
	return fmt.Sprintf("(%.2f, %.2f)", p.X, p.Y)
}

// Returns the squared euclidian distance between the two given points
func Dist2DSquared(a, b Point2D) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx + dy*dy
}

// A planar projective transform as a row-major 3x3 matrix, defined up to scale.
// By convention H[8]=1 after normalization. Maps (x,y) to
//   x'=(h0 x + h1 y + h2)/(h6 x + h7 y + h8)
//   y'=(h3 x + h4 y + h5)/(h6 x + h7 y + h8)
type Homography [9]float64

func Identity() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

func (h Homography) String() string {
	return fmt.Sprintf("[[%.6g %.6g %.6g] [%.6g %.6g %.6g] [%.6g %.6g %.6g]]",
		h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], h[8])
}

// Marshals the homography as a nested 3x3 array
func (h Homography) MarshalJSON() ([]byte, error) {
	return json.Marshal([3][3]float64{{h[0], h[1], h[2]}, {h[3], h[4], h[5]}, {h[6], h[7], h[8]}})
}

func (h *Homography) UnmarshalJSON(b []byte) error {
	var rows [3][3]float64
	if err := json.Unmarshal(b, &rows); err != nil {
		return err
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h[r*3+c] = rows[r][c]
		}
	}
	return nil
}

// Applies the transform to the given point. Returns false if the point maps to infinity
func (h Homography) Apply(p Point2D) (Point2D, bool) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if math.Abs(w) < 1e-12 {
		return Point2D{}, false
	}
	return Point2D{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}, true
}

// Returns the determinant of the 3x3 matrix
func (h Homography) Det() float64 {
	return h[0]*(h[4]*h[8]-h[5]*h[7]) -
		h[1]*(h[3]*h[8]-h[5]*h[6]) +
		h[2]*(h[3]*h[7]-h[4]*h[6])
}

// Returns the matrix product h*o, i.e. first o, then h
func (h Homography) Mul(o Homography) (res Homography) {
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			res[r*3+c] = h[r*3]*o[c] + h[r*3+1]*o[3+c] + h[r*3+2]*o[6+c]
		}
	}
	return res
}

// Scales the matrix so the bottom right element is one. No op if that element is zero
func (h Homography) Normalize() Homography {
	if math.Abs(h[8]) < 1e-12 {
		return h
	}
	s := 1 / h[8]
	for i := range h {
		h[i] *= s
	}
	return h
}

// Returns true if all coefficients are finite numbers
func (h Homography) IsFinite() bool {
	for _, v := range h {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Inverts the transform. The determinant test runs on a copy scaled to unit max norm,
// so the result does not depend on the arbitrary scale of h
func (h Homography) Invert() (inv Homography, err error) {
	maxAbs := 0.0
	for _, v := range h {
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}
	if !h.IsFinite() || maxAbs == 0 {
		return Homography{}, fmt.Errorf("%w: %v", ErrSingularTransform, h)
	}
	n := h
	for i := range n {
		n[i] /= maxAbs
	}
	det := n.Det()
	if math.Abs(det) < singularEpsilon {
		return Homography{}, fmt.Errorf("%w: det=%g", ErrSingularTransform, det)
	}

	inv = Homography{
		n[4]*n[8] - n[5]*n[7], n[2]*n[7] - n[1]*n[8], n[1]*n[5] - n[2]*n[4],
		n[5]*n[6] - n[3]*n[8], n[0]*n[8] - n[2]*n[6], n[2]*n[3] - n[0]*n[5],
		n[3]*n[7] - n[4]*n[6], n[1]*n[6] - n[0]*n[7], n[0]*n[4] - n[1]*n[3],
	}
	for i := range inv {
		inv[i] /= det
	}
	return inv.Normalize(), nil
}

// Returns scale and rotation in degrees of the linear part, assuming an approximate similarity
func (h Homography) ScaleRotation() (scale, degrees float64) {
	n := h.Normalize()
	scale = math.Sqrt(math.Abs(n[0]*n[4] - n[1]*n[3]))
	degrees = math.Atan2(n[3]-n[1], n[0]+n[4]) * 180 / math.Pi
	return scale, degrees
}

// Returns a similarity transform scaling by s and rotating by the given degrees
// around center c, followed by the given translation
func NewSimilarity(s, degrees float64, c Point2D, tx, ty float64) Homography {
	rad := degrees * math.Pi / 180
	cos, sin := s*math.Cos(rad), s*math.Sin(rad)
	return Homography{
		cos, -sin, c.X - cos*c.X + sin*c.Y + tx,
		sin, cos, c.Y - sin*c.X - cos*c.Y + ty,
		0, 0, 1,
	}
}
