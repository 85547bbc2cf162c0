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


// Package feature detects oriented corner keypoints and computes binary descriptors for them.
package feature

import (
	"fmt"
	"io"
)

// A keypoint, as found on an image by corner detection. Coordinates refer to the full resolution image
type Keypoint struct {
	X        float32 // Sub-pixel x position
	Y        float32 // Sub-pixel y position
	Angle    float32 // Orientation in degrees, [0,360), from the intensity centroid
	Size     float32 // Diameter of the described patch at full resolution
	Response float32 // Harris corner response, higher is stronger
	Octave   int32   // Pyramid level the keypoint was detected on
}

// Number of bytes in a binary descriptor
const DescriptorBytes = 32

// A 256-bit binary descriptor of the neighborhood of a keypoint
type Descriptor [DescriptorBytes]byte

func (d *Descriptor) String() string {
	return fmt.Sprintf("%x", d[:])
}

// Prints given array of keypoints as CSV
func PrintKeypoints(w io.Writer, kps []Keypoint) {
	fmt.Fprintln(w, "X,Y,Angle,Size,Response,Octave")
	for _, k := range kps {
		fmt.Fprintf(w, "%g,%g,%g,%g,%g,%d\n", k.X, k.Y, k.Angle, k.Size, k.Response, k.Octave)
	}
}
