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


// Package match pairs binary descriptors between two images and filters the pairs by quality.
package match

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/mlnoga/imalign/internal/feature"
	"github.com/mlnoga/imalign/internal/homography"
)

// A correspondence between a query descriptor and its nearest train descriptor
type Match struct {
	QueryIdx int `json:"queryIdx"`
	TrainIdx int `json:"trainIdx"`
	Distance int `json:"distance"` // Hamming distance in bits, 0..256
}

// Matches every query descriptor to its nearest train descriptor by Hamming distance.
// Ties go to the lowest train index. Returns one match per query descriptor, in query order,
// or nil if either side is empty. Rows are processed by up to maxThreads goroutines
func BruteForceHamming(query, train []feature.Descriptor, maxThreads int) []Match {
	if len(query) == 0 || len(train) == 0 {
		return nil
	}
	if maxThreads < 1 {
		maxThreads = 1
	}
	if maxThreads > len(query) {
		maxThreads = len(query)
	}

	matches := make([]Match, len(query))
	chunk := (len(query) + maxThreads - 1) / maxThreads
	var wg sync.WaitGroup
	for start := 0; start < len(query); start += chunk {
		end := start + chunk
		if end > len(query) {
			end = len(query)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for q := start; q < end; q++ {
				best, bestDist := 0, Hamming(&query[q], &train[0])
				for t := 1; t < len(train); t++ {
					if d := Hamming(&query[q], &train[t]); d < bestDist {
						best, bestDist = t, d
					}
				}
				matches[q] = Match{QueryIdx: q, TrainIdx: best, Distance: bestDist}
			}
		}(start, end)
	}
	wg.Wait()
	return matches
}

// Keeps the best fraction of the given matches. Sorts a copy by ascending distance, keeping the
// original order among equal distances, and retains round(len*goodFraction) entries.
// The input slice is not modified
func Filter(matches []Match, goodFraction float64) ([]Match, error) {
	if !(goodFraction > 0 && goodFraction <= 1) {
		return nil, errors.New(fmt.Sprintf("good match fraction %g must be in (0,1]", goodFraction))
	}
	sorted := make([]Match, len(matches))
	copy(sorted, matches)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Distance < sorted[j].Distance
	})
	return sorted[:NumGood(len(matches), goodFraction)], nil
}

// Returns the number of matches retained out of n for the given fraction, rounding half away from zero
func NumGood(n int, goodFraction float64) int {
	k := int(math.Round(float64(n) * goodFraction))
	if k > n {
		k = n
	}
	return k
}

// Extracts corresponding point pairs from matched keypoints. Query keypoints become the
// source points, train keypoints the destination points
func Points(matches []Match, query, train []feature.Keypoint) (src, dst []homography.Point2D, err error) {
	src = make([]homography.Point2D, len(matches))
	dst = make([]homography.Point2D, len(matches))
	for i, m := range matches {
		if m.QueryIdx < 0 || m.QueryIdx >= len(query) || m.TrainIdx < 0 || m.TrainIdx >= len(train) {
			return nil, nil, errors.New(fmt.Sprintf("match %d refers to keypoints %d and %d, have %d and %d",
				i, m.QueryIdx, m.TrainIdx, len(query), len(train)))
		}
		q, t := query[m.QueryIdx], train[m.TrainIdx]
		src[i] = homography.Point2D{X: float64(q.X), Y: float64(q.Y)}
		dst[i] = homography.Point2D{X: float64(t.X), Y: float64(t.Y)}
	}
	return src, dst, nil
}
