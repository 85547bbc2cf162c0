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


// Package overlay draws matched keypoints of two images side by side, for visual inspection of an alignment.
package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
	"golang.org/x/image/vector"

	"github.com/mlnoga/imalign/internal/feature"
	"github.com/mlnoga/imalign/internal/match"
	"github.com/mlnoga/imalign/internal/raster"
)

// Hue increment between consecutive matches, the golden angle
const goldenAngle = 137.50776405003785

// Returns the color of the i-th match. Consecutive colors are far apart in hue
func MatchColor(i int) color.Color {
	return colorful.Hsv(math.Mod(float64(i)*goldenAngle, 360), 0.9, 1)
}

// Width of match lines and keypoint circles, in pixels
const strokeWidth = 2

// Number of line segments approximating a keypoint circle
const circleSegments = 32

// Draws the moving image on the left and the reference image on the right, and connects each
// matched pair of keypoints with a line. Keypoints are marked with circles of their match color
func DrawMatches(moving, reference *raster.Image, movingKps, referenceKps []feature.Keypoint, matches []match.Match) *image.RGBA {
	width := moving.Width + reference.Width
	height := moving.Height
	if reference.Height > height {
		height = reference.Height
	}
	res := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(res, image.Rect(0, 0, moving.Width, moving.Height), moving.ToGoImage(), image.Point{}, draw.Src)
	draw.Draw(res, image.Rect(moving.Width, 0, width, reference.Height), reference.ToGoImage(), image.Point{}, draw.Src)

	z := vector.NewRasterizer(0, 0)
	for i, m := range matches {
		if m.QueryIdx < 0 || m.QueryIdx >= len(movingKps) || m.TrainIdx < 0 || m.TrainIdx >= len(referenceKps) {
			continue
		}
		src := image.NewUniform(MatchColor(i))
		km, kr := movingKps[m.QueryIdx], referenceKps[m.TrainIdx]

		// Vector coordinates have pixel centers at +0.5
		x0, y0 := km.X+0.5, km.Y+0.5
		x1, y1 := float32(moving.Width)+kr.X+0.5, kr.Y+0.5
		strokeCircle(res, z, x0, y0, circleRadius(km), src)
		strokeCircle(res, z, x1, y1, circleRadius(kr), src)
		strokeLine(res, z, x0, y0, x1, y1, src)
	}
	return res
}

func circleRadius(k feature.Keypoint) float32 {
	r := k.Size / 4
	if r < 3 {
		r = 3
	}
	return r
}

// Returns the pixel rectangle covering the given box, clipped to the image
func clip(img *image.RGBA, minX, minY, maxX, maxY float32) image.Rectangle {
	r := image.Rect(
		int(math.Floor(float64(minX))), int(math.Floor(float64(minY))),
		int(math.Ceil(float64(maxX))), int(math.Ceil(float64(maxY))),
	)
	return r.Intersect(img.Bounds())
}

// Strokes a line with square caps
func strokeLine(img *image.RGBA, z *vector.Rasterizer, x0, y0, x1, y1 float32, src image.Image) {
	dx, dy := x1-x0, y1-y0
	l := float32(math.Hypot(float64(dx), float64(dy)))
	if l == 0 {
		dx, dy, l = 1, 0, 1
	}
	hw := float32(strokeWidth) / 2
	ux, uy := dx/l*hw, dy/l*hw
	corners := [4][2]float32{
		{x0 - ux - uy, y0 - uy + ux},
		{x1 + ux - uy, y1 + uy + ux},
		{x1 + ux + uy, y1 + uy - ux},
		{x0 - ux + uy, y0 - uy - ux},
	}

	minX, minY, maxX, maxY := corners[0][0], corners[0][1], corners[0][0], corners[0][1]
	for _, c := range corners[1:] {
		minX, maxX = float32(math.Min(float64(minX), float64(c[0]))), float32(math.Max(float64(maxX), float64(c[0])))
		minY, maxY = float32(math.Min(float64(minY), float64(c[1]))), float32(math.Max(float64(maxY), float64(c[1])))
	}
	r := clip(img, minX, minY, maxX, maxY)
	if r.Empty() {
		return
	}

	z.Reset(r.Dx(), r.Dy())
	ox, oy := float32(r.Min.X), float32(r.Min.Y)
	z.MoveTo(corners[0][0]-ox, corners[0][1]-oy)
	for _, c := range corners[1:] {
		z.LineTo(c[0]-ox, c[1]-oy)
	}
	z.ClosePath()
	z.Draw(img, r, src, image.Point{})
}

// Strokes a circle outline. The inner boundary runs against the outer one, so its area cancels out
func strokeCircle(img *image.RGBA, z *vector.Rasterizer, cx, cy, radius float32, src image.Image) {
	hw := float32(strokeWidth) / 2
	outer, inner := radius+hw, radius-hw
	r := clip(img, cx-outer, cy-outer, cx+outer, cy+outer)
	if r.Empty() {
		return
	}

	z.Reset(r.Dx(), r.Dy())
	cx, cy = cx-float32(r.Min.X), cy-float32(r.Min.Y)
	polygon(z, cx, cy, outer, 1)
	polygon(z, cx, cy, inner, -1)
	z.Draw(img, r, src, image.Point{})
}

// Adds a closed regular polygon approximating a circle, in the given direction of rotation
func polygon(z *vector.Rasterizer, cx, cy, radius float32, direction float64) {
	for i := 0; i < circleSegments; i++ {
		a := direction * 2 * math.Pi * float64(i) / circleSegments
		x, y := cx+radius*float32(math.Cos(a)), cy+radius*float32(math.Sin(a))
		if i == 0 {
			z.MoveTo(x, y)
		} else {
			z.LineTo(x, y)
		}
	}
	z.ClosePath()
}

// Writes the match overlay of every alignment to a file. The file pattern may contain %d,
// which expands to the ID of the moving image. The format follows the file suffix
type FileVisualizer struct {
	FilePattern string `json:"filePattern"`
	MaxWidth    int    `json:"maxWidth"` // Overlays wider than this are scaled down, 0 for no limit
	Quality     int    `json:"quality"`  // JPEG quality
}

func NewFileVisualizer(filePattern string) *FileVisualizer {
	return &FileVisualizer{FilePattern: filePattern, MaxWidth: 4096, Quality: 90}
}

func (v *FileVisualizer) FileName(id int) string {
	if strings.Contains(v.FilePattern, "%d") {
		return fmt.Sprintf(v.FilePattern, id)
	}
	return v.FilePattern
}

func (v *FileVisualizer) VisualizeMatches(moving, reference *raster.Image, movingKps, referenceKps []feature.Keypoint, good []match.Match) error {
	if v.FilePattern == "" {
		return errors.New("no file pattern for match overlay")
	}
	var img image.Image = DrawMatches(moving, reference, movingKps, referenceKps, good)
	if v.MaxWidth > 0 && img.Bounds().Dx() > v.MaxWidth {
		img = downscale(img, v.MaxWidth)
	}
	return raster.WriteGoImageToFile(img, v.FileName(moving.ID), v.Quality)
}

// Scales the image down to the given width, keeping the aspect ratio
func downscale(img image.Image, width int) image.Image {
	b := img.Bounds()
	height := (b.Dy()*width + b.Dx()/2) / b.Dx()
	if height < 1 {
		height = 1
	}
	res := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(res, res.Bounds(), img, b, draw.Src, nil)
	return res
}
