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
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/mlnoga/imalign/internal/raster"
)

// An oriented FAST keypoint detector with rotated BRIEF descriptors.
// Immutable after creation and safe for concurrent use
type Detector struct {
	opts    Options
	pattern []samplePair // Sampling pattern, identical for all images
	umax    []int        // Half widths of the circular patch per row offset 0..halfPatch
}

// One level of the image pyramid
type level struct {
	index  int
	scale  float32 // Nominal ratio of full resolution size to this level's size
	scaleX float32 // Exact ratios of full resolution width and height to this level's
	scaleY float32
	width  int
	height int
	pix    []uint8
}

// Creates a detector for the given options
func NewDetector(opts Options) (*Detector, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	halfPatch := opts.PatchSize / 2
	umax := make([]int, halfPatch+1)
	for v := range umax {
		umax[v] = int(math.Sqrt(float64(halfPatch*halfPatch - v*v)))
	}
	return &Detector{
		opts:    opts,
		pattern: newSamplePattern(opts.PatchSize, halfPatch-2),
		umax:    umax,
	}, nil
}

func (d *Detector) Options() Options {
	return d.opts
}

// Detects up to MaxFeatures keypoints in the given gray image and computes a descriptor for each.
// Keypoints are ordered by descending response. Images without structure yield no keypoints, which is not an error
func (d *Detector) Detect(gray *raster.Image) (kps []Keypoint, descs []Descriptor, err error) {
	if gray.Channels != 1 {
		return nil, nil, errors.New(fmt.Sprintf("%d: keypoint detection needs a gray image, got %d channels", gray.ID, gray.Channels))
	}
	if gray.GetStats().IsUniform() {
		return []Keypoint{}, []Descriptor{}, nil
	}

	levels := d.buildPyramid(gray)
	budgets := levelBudgets(d.opts.MaxFeatures, d.opts.ScaleFactor, len(levels))

	kps = []Keypoint{}
	for i, l := range levels {
		levelKps := d.detectLevel(l, budgets[i])
		for j := range levelKps {
			levelKps[j].Angle = d.orientation(l, int(levelKps[j].X), int(levelKps[j].Y))
		}
		kps = append(kps, levelKps...)
	}

	// Global cap across levels, strongest first
	QSortKeypointsDesc(kps)
	if len(kps) > d.opts.MaxFeatures {
		kps = kps[:d.opts.MaxFeatures]
	}

	// Describe on smoothed levels at the integer position, then refine the position to
	// sub-pixel accuracy and scale it to full resolution
	blurred := make([][]uint8, len(levels))
	descs = make([]Descriptor, len(kps))
	for i := range kps {
		l := levels[kps[i].Octave]
		if blurred[l.index] == nil {
			blurred[l.index] = gaussFilterGray(l.pix, l.width, d.opts.BlurSigma)
		}
		d.describe(blurred[l.index], l.width, &kps[i], &descs[i])

		ox, oy := subPixelOffset(l.pix, l.width, int(kps[i].X), int(kps[i].Y))
		kps[i].X, kps[i].Y = l.toFullResolution(kps[i].X+ox, kps[i].Y+oy)
		kps[i].Size = float32(d.opts.PatchSize) * l.scale
	}
	return kps, descs, nil
}

// Builds the image pyramid by successive bilinear downscaling. Stops early once a level
// is too small to hold a single keypoint
func (d *Detector) buildPyramid(gray *raster.Image) []level {
	minSize := 2*d.opts.EdgeThreshold + 1
	levels := []level{{index: 0, scale: 1, scaleX: 1, scaleY: 1, width: gray.Width, height: gray.Height, pix: gray.Data}}
	if gray.Width < minSize || gray.Height < minSize {
		return levels
	}

	prev := &image.Gray{Pix: gray.Data, Stride: gray.Width, Rect: image.Rect(0, 0, gray.Width, gray.Height)}
	scale := float32(1)
	for i := 1; i < d.opts.Levels; i++ {
		scale *= d.opts.ScaleFactor
		w := int(math.Round(float64(float32(gray.Width) / scale)))
		h := int(math.Round(float64(float32(gray.Height) / scale)))
		if w < minSize || h < minSize {
			break
		}
		next := image.NewGray(image.Rect(0, 0, w, h))
		draw.BiLinear.Scale(next, next.Bounds(), prev, prev.Bounds(), draw.Src, nil)
		levels = append(levels, level{
			index:  i,
			scale:  scale,
			scaleX: float32(gray.Width) / float32(w),
			scaleY: float32(gray.Height) / float32(h),
			width:  w,
			height: h,
			pix:    next.Pix,
		})
		prev = next
	}
	return levels
}

// Maps level coordinates to full resolution. Scaling maps pixel centers onto pixel centers,
// so level pixel x spans the full resolution pixel edges x*scaleX to (x+1)*scaleX
func (l *level) toFullResolution(x, y float32) (float32, float32) {
	return (x+0.5)*l.scaleX - 0.5, (y+0.5)*l.scaleY - 0.5
}

// Distributes the feature budget over the pyramid levels in proportion to their area.
// Rounding remainders go to the last level
func levelBudgets(maxFeatures int, scaleFactor float32, numLevels int) []int {
	budgets := make([]int, numLevels)
	factor := 1 / float64(scaleFactor*scaleFactor)
	perLevel := float64(maxFeatures) * (1 - factor) / (1 - math.Pow(factor, float64(numLevels)))
	sum := 0
	for i := 0; i < numLevels-1; i++ {
		budgets[i] = int(math.Round(perLevel))
		if sum+budgets[i] > maxFeatures {
			budgets[i] = maxFeatures - sum
		}
		sum += budgets[i]
		perLevel *= factor
	}
	budgets[numLevels-1] = maxFeatures - sum
	return budgets
}

// Detects up to n keypoints on one pyramid level, in level coordinates with Harris response
func (d *Detector) detectLevel(l level, n int) []Keypoint {
	if n <= 0 {
		return nil
	}
	kps := detectFAST(l.pix, l.width, l.height, d.opts.FastThreshold, d.opts.EdgeThreshold)

	// Pre-select by FAST score, then rank the survivors by Harris response
	QSortKeypointsDesc(kps)
	if len(kps) > 2*n {
		kps = kps[:2*n]
	}
	for i := range kps {
		kps[i].Response = harrisResponse(l.pix, l.width, int(kps[i].X), int(kps[i].Y), d.opts.HarrisK)
		kps[i].Octave = int32(l.index)
	}
	QSortKeypointsDesc(kps)
	if len(kps) > n {
		kps = kps[:n]
	}
	return kps
}

// Returns the orientation in degrees of the vector from the keypoint to the intensity
// centroid of the circular patch around it
func (d *Detector) orientation(l level, x, y int) float32 {
	halfPatch := len(d.umax) - 1
	m01, m10 := 0, 0
	for dy := -halfPatch; dy <= halfPatch; dy++ {
		u := d.umax[absInt(dy)]
		row := (y + dy) * l.width
		for dx := -u; dx <= u; dx++ {
			v := int(l.pix[row+x+dx])
			m10 += dx * v
			m01 += dy * v
		}
	}
	angle := float32(math.Atan2(float64(m01), float64(m10)) * 180 / math.Pi)
	if angle < 0 {
		angle += 360
	}
	if angle >= 360 {
		angle -= 360
	}
	return angle
}

// Computes the binary descriptor of a keypoint in level coordinates, comparing the smoothed
// intensities of the sampling pattern rotated by the keypoint angle
func (d *Detector) describe(pix []uint8, width int, kp *Keypoint, desc *Descriptor) {
	rad := float64(kp.Angle) * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	center := int(kp.X) + int(kp.Y)*width

	sample := func(x, y int8) uint8 {
		rx := int(math.Round(float64(x)*cos - float64(y)*sin))
		ry := int(math.Round(float64(x)*sin + float64(y)*cos))
		return pix[center+rx+ry*width]
	}

	*desc = Descriptor{}
	for i, p := range d.pattern {
		if sample(p.X1, p.Y1) < sample(p.X2, p.Y2) {
			desc[i>>3] |= 1 << (uint(i) & 7)
		}
	}
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
