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

import "math"

// Side length of the window summing gradient products for the Harris response
const harrisBlockSize = 7

// Calculates the Harris corner response at integer position (x,y) of the gray buffer from Sobel gradients
// over a harrisBlockSize window. The position must be at least harrisBlockSize/2+1 pixels from the border
func harrisResponse(pix []uint8, width, x, y int, k float32) float32 {
	r := harrisBlockSize / 2
	a, b, c := float32(0), float32(0), float32(0)
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			ix, iy := sobel(pix, width, (x+dx)+(y+dy)*width)
			a += float32(ix * ix)
			b += float32(iy * iy)
			c += float32(ix * iy)
		}
	}
	// Normalize so responses do not depend on the window size and 8-bit range
	scale := float32(1) / (4 * harrisBlockSize * 255)
	scale4 := scale * scale * scale * scale
	return (a*b - c*c - k*(a+b)*(a+b)) * scale4
}

// Returns the Sobel gradient at index i of the gray buffer
func sobel(pix []uint8, width, i int) (ix, iy int) {
	p00, p01, p02 := int(pix[i-width-1]), int(pix[i-width]), int(pix[i-width+1])
	p10, p12 := int(pix[i-1]), int(pix[i+1])
	p20, p21, p22 := int(pix[i+width-1]), int(pix[i+width]), int(pix[i+width+1])
	ix = (p02 + 2*p12 + p22) - (p00 + 2*p10 + p20)
	iy = (p20 + 2*p21 + p22) - (p00 + 2*p01 + p02)
	return ix, iy
}

// Half width of the window for sub-pixel corner refinement
const subPixelRadius = harrisBlockSize / 2

// Locates the corner near integer position (x,y) with sub-pixel accuracy. Edges through a corner
// have gradients orthogonal to the vector from the corner, so the corner q minimizes the sum over
// the window of (g(p)·(p-q))^2. Returns the offset of q from (x,y), or zero if the window holds
// no corner or q lies outside the window core. Same border requirement as harrisResponse
func subPixelOffset(pix []uint8, width, x, y int) (dx, dy float32) {
	var a, b, c, bx, by float64
	for v := -subPixelRadius; v <= subPixelRadius; v++ {
		for u := -subPixelRadius; u <= subPixelRadius; u++ {
			ix, iy := sobel(pix, width, (x+u)+(y+v)*width)
			gxx, gxy, gyy := float64(ix*ix), float64(ix*iy), float64(iy*iy)
			a += gxx
			b += gxy
			c += gyy
			bx += gxx*float64(u) + gxy*float64(v)
			by += gxy*float64(u) + gyy*float64(v)
		}
	}
	det := a*c - b*b
	if a+c == 0 || det <= 1e-6*(a+c)*(a+c) {
		return 0, 0
	}
	ox, oy := (c*bx-b*by)/det, (a*by-b*bx)/det
	if math.Abs(ox) > subPixelRadius-1 || math.Abs(oy) > subPixelRadius-1 {
		return 0, 0
	}
	return float32(ox), float32(oy)
}
