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


package stats

import (
	"fmt"
	"math"
)

// Basic statistics of an 8-bit sample array
type Basic struct {
	Min    uint8   // Minimum
	Max    uint8   // Maximum
	Mean   float32 // Mean (average)
	StdDev float32 // Standard deviation (norm 2, sigma)
}

func (s *Basic) String() string {
	return fmt.Sprintf("Min %d Max %d Mean %.6g StdDev %.6g", s.Min, s.Max, s.Mean, s.StdDev)
}

// Returns true if all samples have the same value
func (s *Basic) IsUniform() bool {
	return s.Min == s.Max
}

// Calculate basic statistics for a data array. Uses a histogram, so a single pass suffices
func CalcBasicStats(data []uint8) (s *Basic) {
	s = &Basic{}
	if len(data) == 0 {
		return s
	}
	var bins [256]int64
	Histogram(data, &bins)

	s.Min, s.Max = 255, 0
	sum := int64(0)
	for v, n := range bins {
		if n == 0 {
			continue
		}
		if uint8(v) < s.Min {
			s.Min = uint8(v)
		}
		if uint8(v) > s.Max {
			s.Max = uint8(v)
		}
		sum += int64(v) * n
	}
	mean := float64(sum) / float64(len(data))

	variance := 0.0
	for v, n := range bins {
		d := float64(v) - mean
		variance += d * d * float64(n)
	}
	variance /= float64(len(data))

	s.Mean = float32(mean)
	s.StdDev = float32(math.Sqrt(variance))
	return s
}

// Calculate the histogram of 8-bit data into the given bins
func Histogram(data []uint8, bins *[256]int64) {
	for i := range bins {
		bins[i] = 0
	}
	for _, d := range data {
		bins[d]++
	}
}
