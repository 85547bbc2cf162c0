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


package match

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mlnoga/imalign/internal/feature"
	"github.com/mlnoga/imalign/internal/homography"
)

// Returns a descriptor with the lowest n bits set
func withBits(n int) feature.Descriptor {
	var d feature.Descriptor
	for i := 0; i < n; i++ {
		d[i>>3] |= 1 << (uint(i) & 7)
	}
	return d
}

func TestHamming(t *testing.T) {
	var zero, ones feature.Descriptor
	for i := range ones {
		ones[i] = 0xff
	}
	tcs := []struct {
		a, b feature.Descriptor
		want int
	}{
		{zero, zero, 0},
		{zero, ones, 256},
		{withBits(17), zero, 17},
		{withBits(200), withBits(64), 136},
	}
	for _, tc := range tcs {
		if got := Hamming(&tc.a, &tc.b); got != tc.want {
			t.Errorf("Hamming(%v,%v)=%d; want %d", &tc.a, &tc.b, got, tc.want)
		}
		if got := hammingPureGo(&tc.a, &tc.b); got != tc.want {
			t.Errorf("hammingPureGo(%v,%v)=%d; want %d", &tc.a, &tc.b, got, tc.want)
		}
	}
}

func TestBruteForceHamming(t *testing.T) {
	train := []feature.Descriptor{withBits(0), withBits(100), withBits(50), withBits(100)}
	query := []feature.Descriptor{withBits(98), withBits(3), withBits(75), withBits(256)}

	// 75 is equally far from 50 and 100, the lower index wins. Ties between
	// identical train descriptors go to the first one
	want := []Match{
		{QueryIdx: 0, TrainIdx: 1, Distance: 2},
		{QueryIdx: 1, TrainIdx: 0, Distance: 3},
		{QueryIdx: 2, TrainIdx: 1, Distance: 25},
		{QueryIdx: 3, TrainIdx: 1, Distance: 156},
	}
	for _, threads := range []int{0, 1, 3, 16} {
		got := BruteForceHamming(query, train, threads)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("threads=%d mismatch (-want +got):\n%s", threads, diff)
		}
	}
}

func TestBruteForceHammingEmpty(t *testing.T) {
	d := []feature.Descriptor{withBits(1)}
	if got := BruteForceHamming(nil, d, 4); got != nil {
		t.Errorf("empty query gave %v", got)
	}
	if got := BruteForceHamming(d, nil, 4); got != nil {
		t.Errorf("empty train gave %v", got)
	}
}

func TestFilter(t *testing.T) {
	matches := []Match{
		{0, 5, 40}, {1, 2, 10}, {2, 7, 30}, {3, 1, 10}, {4, 0, 90},
		{5, 3, 20}, {6, 4, 10}, {7, 6, 60}, {8, 8, 25}, {9, 9, 70},
	}
	orig := append([]Match(nil), matches...)

	got, err := Filter(matches, 0.35)
	if err != nil {
		t.Fatal(err)
	}
	// round(3.5)=4, stable among the three distance 10 entries
	want := []Match{{1, 2, 10}, {3, 1, 10}, {6, 4, 10}, {5, 3, 20}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(orig, matches); diff != "" {
		t.Errorf("input modified (-want +got):\n%s", diff)
	}

	if got, _ := Filter(matches, 1); len(got) != len(matches) {
		t.Errorf("fraction 1 kept %d; want %d", len(got), len(matches))
	}
	if got, _ := Filter(matches, 0.04); len(got) != 0 {
		t.Errorf("fraction 0.04 kept %d; want 0", len(got))
	}
	if got, err := Filter(nil, 0.5); err != nil || len(got) != 0 {
		t.Errorf("empty input gave %v, %v", got, err)
	}
	for _, bad := range []float64{0, -0.1, 1.5} {
		if _, err := Filter(matches, bad); err == nil {
			t.Errorf("fraction %g accepted", bad)
		}
	}
}

func TestNumGood(t *testing.T) {
	tcs := []struct {
		n        int
		fraction float64
		want     int
	}{
		{500, 0.15, 75}, {20, 0.15, 3}, {10, 0.25, 3}, {3, 0.5, 2}, {1, 0.15, 0}, {0, 0.5, 0},
	}
	for _, tc := range tcs {
		if got := NumGood(tc.n, tc.fraction); got != tc.want {
			t.Errorf("NumGood(%d,%g)=%d; want %d", tc.n, tc.fraction, got, tc.want)
		}
	}
}

func TestPoints(t *testing.T) {
	query := []feature.Keypoint{{X: 1, Y: 2}, {X: 3, Y: 4}}
	train := []feature.Keypoint{{X: 10, Y: 20}, {X: 30, Y: 40}, {X: 50, Y: 60}}
	src, dst, err := Points([]Match{{1, 2, 0}, {0, 0, 5}}, query, train)
	if err != nil {
		t.Fatal(err)
	}
	wantSrc := []homography.Point2D{{X: 3, Y: 4}, {X: 1, Y: 2}}
	wantDst := []homography.Point2D{{X: 50, Y: 60}, {X: 10, Y: 20}}
	if diff := cmp.Diff(wantSrc, src); diff != "" {
		t.Errorf("src mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantDst, dst); diff != "" {
		t.Errorf("dst mismatch (-want +got):\n%s", diff)
	}
	if _, _, err := Points([]Match{{2, 0, 0}}, query, train); err == nil {
		t.Error("out of range query index accepted")
	}
}
