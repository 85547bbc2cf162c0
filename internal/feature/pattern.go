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


package feature

import (
	"math"

	"github.com/valyala/fastrand"
)

// Seed of the sampling pattern. Both images of an alignment must use the same pattern
const patternSeed = 0x0b7b1e5

// A pair of pixel offsets relative to the keypoint, compared for one descriptor bit
type samplePair struct {
	X1, Y1, X2, Y2 int8
}

// Generates the sampling pattern of 8*DescriptorBytes point pairs. Offsets follow an isotropic
// gaussian with standard deviation patchSize/5, restricted to the circle of the given radius so the
// pattern stays inside the patch under any rotation. Pairs are unique and never compare a point with itself
func newSamplePattern(patchSize int, radius int) []samplePair {
	rng := fastrand.RNG{}
	rng.Seed(patternSeed)
	sigma := float64(patchSize) / 5

	gaussian := func() float64 {
		// Box-Muller with uniform samples in (0,1]
		u1 := (float64(rng.Uint32n(1<<24)) + 1) / (1 << 24)
		u2 := float64(rng.Uint32n(1<<24)) / (1 << 24)
		return sigma * math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	}
	point := func() (int8, int8) {
		for {
			x, y := math.Round(gaussian()), math.Round(gaussian())
			if x*x+y*y <= float64(radius*radius) {
				return int8(x), int8(y)
			}
		}
	}

	pattern := make([]samplePair, 0, 8*DescriptorBytes)
	seen := map[samplePair]bool{}
	for len(pattern) < 8*DescriptorBytes {
		x1, y1 := point()
		x2, y2 := point()
		p := samplePair{x1, y1, x2, y2}
		if (x1 == x2 && y1 == y2) || seen[p] {
			continue
		}
		seen[p] = true
		pattern = append(pattern, p)
	}
	return pattern
}
