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


package raster

import (
	"math"

	"github.com/mlnoga/imalign/internal/homography"
)

// Tolerance for sample positions just outside the image due to rounding
const boundsEpsilon = 1e-6

// Projects the image into a new coordinate system of the given size with the given transformation,
// which maps source coordinates to destination coordinates. Uses inverse mapping, so every destination
// pixel is sampled exactly once, with bilinear interpolation between the four neighboring source pixels.
// Destination pixels mapping outside the source image get the given out of bounds value.
func (img *Image) Project(destWidth, destHeight int, trans homography.Homography, outOfBounds uint8) (res *Image, err error) {
	// Invert transformation so we can sample from the target coordinate system PoV
	invTrans, err := trans.Invert()
	if err != nil {
		return nil, err
	}

	res = NewImage(destWidth, destHeight, img.Channels)
	res.ID, res.FileName = img.ID, img.FileName

	d, ch := img.Data, img.Channels
	origWidth, origHeight := img.Width, img.Height
	maxX, maxY := float64(origWidth-1), float64(origHeight-1)

	for row := 0; row < destHeight; row++ {
		for col := 0; col < destWidth; col++ {
			out := (row*destWidth + col) * ch
			proj, ok := invTrans.Apply(homography.Point2D{X: float64(col), Y: float64(row)})
			if !ok || !(proj.X >= -boundsEpsilon && proj.X <= maxX+boundsEpsilon &&
				proj.Y >= -boundsEpsilon && proj.Y <= maxY+boundsEpsilon) {
				for c := 0; c < ch; c++ {
					res.Data[out+c] = outOfBounds
				}
				continue
			}
			x, y := math.Min(math.Max(proj.X, 0), maxX), math.Min(math.Max(proj.Y, 0), maxY)

			// perform bilinear interpolation. On the last row or column, the high neighbor
			// coincides with the low one and gets zero weight
			xl, yl := int(x), int(y)
			xh, yh := xl+1, yl+1
			if xh >= origWidth {
				xh = xl
			}
			if yh >= origHeight {
				yh = yl
			}
			xr, yr := x-float64(xl), y-float64(yl)

			xlyl := (xl + yl*origWidth) * ch
			xhyl := (xh + yl*origWidth) * ch
			xlyh := (xl + yh*origWidth) * ch
			xhyh := (xh + yh*origWidth) * ch

			for c := 0; c < ch; c++ {
				vyl := float64(d[xlyl+c])*(1-xr) + float64(d[xhyl+c])*xr
				vyh := float64(d[xlyh+c])*(1-xr) + float64(d[xhyh+c])*xr
				v := vyl*(1-yr) + vyh*yr
				res.Data[out+c] = uint8(v + 0.5)
			}
		}
	}
	return res, nil
}
