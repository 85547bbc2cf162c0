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
	"math"
	"math/bits"
	"testing"

	"github.com/valyala/fastrand"

	"github.com/mlnoga/imalign/internal/raster"
)

// Draws random gray rectangles onto a mid-gray background
func rectanglesImage(width, height, numRects int, seed uint32) *raster.Image {
	img := raster.NewImage(width, height, 1)
	for i := range img.Data {
		img.Data[i] = 128
	}
	rng := fastrand.RNG{}
	rng.Seed(seed)
	for r := 0; r < numRects; r++ {
		x0, y0 := int(rng.Uint32n(uint32(width))), int(rng.Uint32n(uint32(height)))
		w, h := 8+int(rng.Uint32n(40)), 8+int(rng.Uint32n(40))
		v := uint8(rng.Uint32n(256))
		for y := y0; y < y0+h && y < height; y++ {
			for x := x0; x < x0+w && x < width; x++ {
				img.Data[x+y*width] = v
			}
		}
	}
	return img
}

// Rotates a gray image by 90 degrees, mapping (x,y) to (height-1-y, x)
func rotate90(img *raster.Image) *raster.Image {
	res := raster.NewImage(img.Height, img.Width, 1)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			res.Data[(img.Height-1-y)+x*res.Width] = img.Data[x+y*img.Width]
		}
	}
	return res
}

type gaussianKernel1DTestCase struct {
	Sigma  float32
	Kernel []float32
}

func TestGaussianKernel1D(t *testing.T) {
	epsilon := 1e-5
	tcs := []gaussianKernel1DTestCase{
		{1.0, []float32{0.27901, 0.44198, 0.27901}},
		{2.0, []float32{0.028532, 0.067234, 0.124009, 0.179044, 0.20236, 0.179044, 0.124009, 0.067234, 0.028532}},
		{3.0, []float32{0.018816, 0.034474, 0.056577, 0.083173, 0.109523, 0.129188, 0.136498, 0.129188, 0.109523,
			0.083173, 0.056577, 0.034474, 0.018816}},
	}

	for _, tc := range tcs {
		sigma := tc.Sigma
		kernel := GaussianKernel1D(sigma)
		if len(kernel) != len(tc.Kernel) {
			t.Fatalf("sigma=%f len=%d; want %d", sigma, len(kernel), len(tc.Kernel))
		}
		sum := float32(0)
		for i, k := range kernel {
			if math.Abs(float64(k-tc.Kernel[i])) > epsilon {
				t.Errorf("sigma=%f k[%d]=%f; want %f", sigma, i, k, tc.Kernel[i])
			}
			sum += k
		}
		if math.Abs(float64(sum-1)) > epsilon {
			t.Errorf("sigma=%f sum=%f; want 1", sigma, sum)
		}
	}
}

func TestGaussFilterGrayKeepsConstant(t *testing.T) {
	pix := make([]uint8, 20*10)
	for i := range pix {
		pix[i] = 77
	}
	for i, p := range gaussFilterGray(pix, 20, 2) {
		if p != 77 {
			t.Fatalf("pixel %d=%d; want 77", i, p)
		}
	}
}

func TestQSortKeypointsDesc(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(42)
	kps := make([]Keypoint, 1000)
	for i := range kps {
		kps[i].Response = float32(rng.Uint32n(100))
	}
	QSortKeypointsDesc(kps)
	for i := 1; i < len(kps); i++ {
		if kps[i-1].Response < kps[i].Response {
			t.Fatalf("kps[%d]=%g < kps[%d]=%g", i-1, kps[i-1].Response, i, kps[i].Response)
		}
	}
}

func TestKDTree2NearestNeighbor(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(7)
	kps := make([]Keypoint, 300)
	for i := range kps {
		kps[i].X, kps[i].Y = float32(rng.Uint32n(1000)), float32(rng.Uint32n(1000))
	}
	kdt := NewKDTree2(kps)

	for q := 0; q < 100; q++ {
		p := Point2D{float32(rng.Uint32n(1000)), float32(rng.Uint32n(1000))}
		bestDsq := float32(math.MaxFloat32)
		for _, k := range kps {
			if dsq := Dist2DSquared(p, Point2D{k.X, k.Y}); dsq < bestDsq {
				bestDsq = dsq
			}
		}
		_, dsq := kdt.NearestNeighbor(p)
		if dsq != bestDsq {
			t.Errorf("query %v: distance %g; want %g", p, dsq, bestDsq)
		}
	}
}

func TestDetectFASTSquare(t *testing.T) {
	width, height := 60, 60
	pix := make([]uint8, width*height)
	for i := range pix {
		pix[i] = 20
	}
	for y := 20; y < 40; y++ {
		for x := 20; x < 40; x++ {
			pix[x+y*width] = 200
		}
	}
	corners := []Point2D{{20, 20}, {39, 20}, {20, 39}, {39, 39}}

	kps := detectFAST(pix, width, height, 20, 3)
	if len(kps) == 0 {
		t.Fatal("no corners found")
	}
	for _, c := range corners {
		found := false
		for _, k := range kps {
			if Dist2DSquared(c, Point2D{k.X, k.Y}) <= 4 {
				found = true
			}
		}
		if !found {
			t.Errorf("corner %v not detected in %v", c, kps)
		}
	}
	for _, k := range kps {
		near := false
		for _, c := range corners {
			if Dist2DSquared(c, Point2D{k.X, k.Y}) <= 9 {
				near = true
			}
		}
		if !near {
			t.Errorf("spurious keypoint %v", k)
		}
		if k.Response <= 0 {
			t.Errorf("keypoint %v has non-positive score", k)
		}
	}
}

// Renders a dark background with a bright quadrant x>=cx, y>=cy, antialiased by pixel coverage
func cornerImage(size int, cx, cy float64) *raster.Image {
	img := raster.NewImage(size, size, 1)
	coverage := func(i int, c float64) float64 {
		return math.Max(0, math.Min(1, float64(i)+0.5-c))
	}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Data[x+y*size] = uint8(math.Round(40 + 160*coverage(x, cx)*coverage(y, cy)))
		}
	}
	return img
}

func TestSubPixelOffset(t *testing.T) {
	tcs := []struct {
		cx, cy float64
		x, y   int
	}{
		{20.3, 25.6, 20, 26},
		{20, 20, 20, 20},
		{19.75, 21.2, 21, 21},
	}
	for _, tc := range tcs {
		img := cornerImage(41, tc.cx, tc.cy)
		dx, dy := subPixelOffset(img.Data, img.Width, tc.x, tc.y)
		gotX, gotY := float64(tc.x)+float64(dx), float64(tc.y)+float64(dy)
		if math.Abs(gotX-tc.cx) > 0.2 || math.Abs(gotY-tc.cy) > 0.2 {
			t.Errorf("corner at %g,%g refined from %d,%d to %.3f,%.3f", tc.cx, tc.cy, tc.x, tc.y, gotX, gotY)
		}
	}

	// No corner, no offset
	flat := raster.NewImage(41, 41, 1)
	edge := cornerImage(41, 20.3, -10)
	for name, img := range map[string]*raster.Image{"flat": flat, "edge": edge} {
		if dx, dy := subPixelOffset(img.Data, img.Width, 20, 20); dx != 0 || dy != 0 {
			t.Errorf("%s window refined by %g,%g; want 0,0", name, dx, dy)
		}
	}
}

func TestToFullResolution(t *testing.T) {
	l := level{scale: 1.2, scaleX: 120.0 / 100, scaleY: 90.0 / 75, width: 100, height: 75}
	x, y := l.toFullResolution(0, 0)
	if math.Abs(float64(x)-0.1) > 1e-5 || math.Abs(float64(y)-0.1) > 1e-5 {
		t.Errorf("first pixel center maps to %g,%g; want 0.1,0.1", x, y)
	}
	// Pixel centers symmetric around the level center stay symmetric around the full resolution center
	for _, lx := range []float32{0, 13.25, 49.5, 99} {
		a, _ := l.toFullResolution(lx, 0)
		b, _ := l.toFullResolution(float32(l.width-1)-lx, 0)
		if math.Abs(float64(a+b)-119) > 1e-4 {
			t.Errorf("level x %g and mirror map to %g and %g; want sum 119", lx, a, b)
		}
	}
}

func TestSamplePattern(t *testing.T) {
	radius := 13
	pattern := newSamplePattern(31, radius)
	if len(pattern) != 8*DescriptorBytes {
		t.Fatalf("len=%d; want %d", len(pattern), 8*DescriptorBytes)
	}
	seen := map[samplePair]bool{}
	for _, p := range pattern {
		if seen[p] {
			t.Errorf("duplicate pair %v", p)
		}
		seen[p] = true
		if p.X1 == p.X2 && p.Y1 == p.Y2 {
			t.Errorf("pair %v compares a point with itself", p)
		}
		for _, q := range [][2]int8{{p.X1, p.Y1}, {p.X2, p.Y2}} {
			if int(q[0])*int(q[0])+int(q[1])*int(q[1]) > radius*radius {
				t.Errorf("point %v outside radius %d", q, radius)
			}
		}
	}

	again := newSamplePattern(31, radius)
	for i := range pattern {
		if pattern[i] != again[i] {
			t.Fatalf("pattern not deterministic at %d: %v vs %v", i, pattern[i], again[i])
		}
	}
}

func TestLevelBudgets(t *testing.T) {
	for _, numLevels := range []int{1, 3, 8} {
		budgets := levelBudgets(500, 1.2, numLevels)
		sum := 0
		for i, b := range budgets {
			if b < 0 {
				t.Errorf("levels=%d budget[%d]=%d is negative", numLevels, i, b)
			}
			if i > 0 && i < numLevels-1 && b > budgets[i-1] {
				t.Errorf("levels=%d budget[%d]=%d exceeds budget[%d]=%d", numLevels, i, b, i-1, budgets[i-1])
			}
			sum += b
		}
		if sum != 500 {
			t.Errorf("levels=%d sum=%d; want 500", numLevels, sum)
		}
	}
}

func TestOptionsValidate(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Errorf("default options invalid: %v", err)
	}
	bad := []func(*Options){
		func(o *Options) { o.MaxFeatures = 0 },
		func(o *Options) { o.Levels = 0 },
		func(o *Options) { o.ScaleFactor = 1 },
		func(o *Options) { o.FastThreshold = 0 },
		func(o *Options) { o.PatchSize = 5 },
		func(o *Options) { o.EdgeThreshold = 10 },
		func(o *Options) { o.BlurSigma = 0 },
	}
	for i, f := range bad {
		o := DefaultOptions()
		f(&o)
		if err := o.Validate(); err == nil {
			t.Errorf("case %d: invalid options %+v accepted", i, o)
		}
		if _, err := NewDetector(o); err == nil {
			t.Errorf("case %d: detector created from invalid options", i)
		}
	}
}

func TestDetect(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxFeatures = 200
	d, err := NewDetector(opts)
	if err != nil {
		t.Fatal(err)
	}
	img := rectanglesImage(320, 240, 80, 1)

	kps, descs, err := d.Detect(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(kps) == 0 || len(kps) > opts.MaxFeatures {
		t.Fatalf("got %d keypoints; want 1..%d", len(kps), opts.MaxFeatures)
	}
	if len(descs) != len(kps) {
		t.Fatalf("got %d descriptors for %d keypoints", len(descs), len(kps))
	}
	for i, k := range kps {
		if k.X < 0 || k.Y < 0 || k.X >= float32(img.Width) || k.Y >= float32(img.Height) {
			t.Errorf("keypoint %d at %g,%g outside the image", i, k.X, k.Y)
		}
		if k.Angle < 0 || k.Angle >= 360 {
			t.Errorf("keypoint %d angle %g outside [0,360)", i, k.Angle)
		}
		if k.Octave < 0 || int(k.Octave) >= opts.Levels {
			t.Errorf("keypoint %d octave %d out of range", i, k.Octave)
		}
		if i > 0 && kps[i-1].Response < k.Response {
			t.Errorf("keypoint %d response %g above predecessor %g", i, k.Response, kps[i-1].Response)
		}
	}

	// Same input, same output
	kps2, descs2, _ := d.Detect(img)
	if len(kps2) != len(kps) {
		t.Fatalf("repeated detection found %d keypoints; want %d", len(kps2), len(kps))
	}
	for i := range kps {
		if kps[i] != kps2[i] || descs[i] != descs2[i] {
			t.Fatalf("repeated detection differs at %d", i)
		}
	}
}

func TestDetectUniform(t *testing.T) {
	d, _ := NewDetector(DefaultOptions())
	img := raster.NewImage(200, 100, 1)
	kps, descs, err := d.Detect(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(kps) != 0 || len(descs) != 0 {
		t.Errorf("got %d keypoints on a uniform image", len(kps))
	}
}

func TestDetectTinyImage(t *testing.T) {
	d, _ := NewDetector(DefaultOptions())
	img := rectanglesImage(30, 30, 10, 3)
	kps, _, err := d.Detect(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(kps) != 0 {
		t.Errorf("got %d keypoints on an image smaller than the border", len(kps))
	}
}

func TestDetectRejectsColor(t *testing.T) {
	d, _ := NewDetector(DefaultOptions())
	if _, _, err := d.Detect(raster.NewImage(100, 100, 3)); err == nil {
		t.Error("color image accepted")
	}
}

func TestDetectRotationInvariance(t *testing.T) {
	d, _ := NewDetector(DefaultOptions())
	img := rectanglesImage(240, 240, 70, 11)
	rot := rotate90(img)

	kps, descs, _ := d.Detect(img)
	kpsRot, descsRot, _ := d.Detect(rot)

	pairs, totalDist := 0, 0
	for i, k := range kps {
		if k.Octave != 0 {
			continue
		}
		want := Point2D{float32(img.Height-1) - k.Y, k.X}
		for j, r := range kpsRot {
			if r.Octave == 0 && Dist2DSquared(want, Point2D{r.X, r.Y}) < 0.25 {
				dist := 0
				for b := range descs[i] {
					dist += bits.OnesCount8(descs[i][b] ^ descsRot[j][b])
				}
				totalDist += dist
				pairs++
			}
		}
	}
	if pairs < 20 {
		t.Fatalf("only %d keypoints found in both orientations", pairs)
	}
	if mean := float64(totalDist) / float64(pairs); mean > 32 {
		t.Errorf("mean descriptor distance %.1f bits under rotation; want <= 32", mean)
	}
}
