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

// Sort an array of keypoints in descending order, based on response
// Array must not contain IEEE NaN
func QSortKeypointsDesc(a []Keypoint) {
	if len(a) > 1 {
		index := QPartitionKeypointsDesc(a)
		QSortKeypointsDesc(a[:index+1])
		QSortKeypointsDesc(a[index+1:])
	}
}

// Partitions an array of keypoints with the middle pivot element, and returns the pivot index.
// Values greater than the pivot are moved left of the pivot, those less are moved right.
// Array must not contain IEEE NaN
func QPartitionKeypointsDesc(a []Keypoint) int {
	left, right := 0, len(a)-1
	mid := (left + right) >> 1
	pivot := a[mid].Response
	l := left - 1
	r := right + 1
	for {
		for {
			l++
			if a[l].Response <= pivot {
				break
			}
		}
		for {
			r--
			if a[r].Response >= pivot {
				break
			}
		}
		if l >= r {
			return r
		}
		a[l], a[r] = a[r], a[l]
	}
}
