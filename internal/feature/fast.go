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

// Offsets of the 16 pixels on the Bresenham circle of radius 3, clockwise from the top
var fastCircle = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1}, {3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1}, {-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

// Minimum number of contiguous circle pixels which must all be brighter or all darker
const fastArc = 9

// Finds corners with the FAST-9 segment test in the given gray buffer, ignoring a border of the given width.
// Returns keypoints at integer positions with the FAST score as response, after 3x3 non-maximum suppression
func detectFAST(pix []uint8, width, height, threshold, border int) []Keypoint {
	if border < 3 {
		border = 3
	}
	if width <= 2*border || height <= 2*border {
		return nil
	}

	var offsets [16]int
	for i, o := range fastCircle {
		offsets[i] = o[0] + o[1]*width
	}

	scores := make([]int32, width*height)
	candidates := []int{}
	for y := border; y < height-border; y++ {
		for x := border; x < width-border; x++ {
			i := x + y*width
			if s := fastScore(pix, i, &offsets, threshold); s > 0 {
				scores[i] = s
				candidates = append(candidates, i)
			}
		}
	}

	kps := make([]Keypoint, 0, len(candidates)/4)
	for _, i := range candidates {
		if isLocalMax3x3(scores, i, width) {
			kps = append(kps, Keypoint{X: float32(i % width), Y: float32(i / width), Response: float32(scores[i])})
		}
	}
	return kps
}

// Returns a positive score if the pixel at index i is a FAST corner, else zero.
// The score is the summed excess over the threshold of the brighter or darker pixels on the circle,
// whichever is larger
func fastScore(pix []uint8, i int, offsets *[16]int, threshold int) int32 {
	p := int(pix[i])
	hi, lo := p+threshold, p-threshold

	// Any arc of 9 contiguous pixels covers at least two of the four compass points
	brighter, darker := 0, 0
	for k := 0; k < 16; k += 4 {
		v := int(pix[i+offsets[k]])
		if v > hi {
			brighter++
		} else if v < lo {
			darker++
		}
	}
	if brighter < 2 && darker < 2 {
		return 0
	}

	var states [16]int8
	sumBright, sumDark := int32(0), int32(0)
	for k := 0; k < 16; k++ {
		v := int(pix[i+offsets[k]])
		if v > hi {
			states[k] = 1
			sumBright += int32(v - hi)
		} else if v < lo {
			states[k] = -1
			sumDark += int32(lo - v)
		}
	}

	isCorner := false
	for _, want := range [2]int8{1, -1} {
		run := 0
		for k := 0; k < 16+fastArc-1; k++ {
			if states[k&15] == want {
				run++
				if run >= fastArc {
					isCorner = true
					break
				}
			} else {
				run = 0
			}
		}
	}
	if !isCorner {
		return 0
	}
	if sumBright > sumDark {
		return sumBright + 1
	}
	return sumDark + 1
}

// Returns true if the score at index i is greater than its 3x3 neighbors. On plateaus,
// the first pixel in raster order wins
func isLocalMax3x3(scores []int32, i, width int) bool {
	s := scores[i]
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := scores[i+dx+dy*width]
			before := dy < 0 || (dy == 0 && dx < 0)
			if n > s || (before && n == s) {
				return false
			}
		}
	}
	return true
}
