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


package ops

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/valyala/fastrand"

	"github.com/mlnoga/imalign/internal/align"
	"github.com/mlnoga/imalign/internal/homography"
	"github.com/mlnoga/imalign/internal/raster"
)

// Creates a gray image of random rectangles on a mid-gray background
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

func imagePromise(img *raster.Image, err error) Promise {
	return func() (*raster.Image, error) { return img, err }
}

func TestMaterializeAll(t *testing.T) {
	a, b := raster.NewImage(1, 1, 1), raster.NewImage(2, 2, 1)
	ins := []Promise{
		imagePromise(a, nil),
		imagePromise(nil, errors.New("first failure")),
		imagePromise(b, nil),
		imagePromise(nil, errors.New("second failure")),
	}
	outs, err := MaterializeAll(ins, 2, false)
	if err == nil || !strings.Contains(err.Error(), "first failure") || !strings.Contains(err.Error(), "second failure") {
		t.Errorf("got error %v; want both failures", err)
	}
	if len(outs) != 2 || outs[0] != a || outs[1] != b {
		t.Errorf("got %v; want the two successful images in order", outs)
	}

	outs, err = MaterializeAll(ins[:1], 4, true)
	if err != nil || len(outs) != 0 {
		t.Errorf("forget gave %v, %v", outs, err)
	}
	if outs, err := MaterializeAll(nil, 4, false); outs != nil || err != nil {
		t.Errorf("no inputs gave %v, %v", outs, err)
	}
}

func TestRemoveNils(t *testing.T) {
	a, b := raster.NewImage(1, 1, 1), raster.NewImage(1, 1, 1)
	got := RemoveNils([]*raster.Image{nil, a, nil, nil, b})
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("got %v", got)
	}
}

func TestMaxConcurrentAlignments(t *testing.T) {
	tcs := []struct {
		maxThreads, memoryMB, pixels, want int
	}{
		{8, 0, 1000000, 8},
		{8, 100, 1000000, 2},
		{8, 100000, 1000000, 8},
		{8, 10, 100000000, 1},
		{0, 0, 0, 1},
	}
	for _, tc := range tcs {
		c := &Context{MaxThreads: tc.maxThreads, AlignMemoryMB: tc.memoryMB}
		if got := c.MaxConcurrentAlignments(tc.pixels); got != tc.want {
			t.Errorf("threads=%d memory=%dMB pixels=%d: got %d; want %d", tc.maxThreads, tc.memoryMB, tc.pixels, got, tc.want)
		}
	}
}

func TestRestrictedPaths(t *testing.T) {
	c := NewContext(io.Discard)
	c.RestrictPaths = true
	for _, p := range []string{"/etc/passwd", "../secret.png", "a/../../b.png"} {
		if _, err := NewOpLoad(0, p).MakePromises(nil, c); err == nil {
			t.Errorf("load from %s accepted", p)
		}
		if _, err := NewOpSave(p).Apply(raster.NewImage(1, 1, 1), c); err == nil {
			t.Errorf("save to %s accepted", p)
		}
		opAlign := NewOpAlignDefault()
		opAlign.Keypoints = p
		if _, err := opAlign.Apply(raster.NewImage(1, 1, 1), c); err == nil {
			t.Errorf("keypoints to %s accepted", p)
		}
	}
	if _, err := NewOpLoad(0, "frames/img.png").MakePromises(nil, c); err != nil {
		t.Errorf("relative path rejected: %v", err)
	}
}

func TestOpSequenceJSON(t *testing.T) {
	cfg := align.DefaultConfig()
	cfg.Seed = 42
	cfg.Feature.MaxFeatures = 1000
	seq := NewOpSequence(
		NewOpLoadMany([]string{"moving*.jpg"}),
		NewOpLoadRef("ref.jpg"),
		NewOpForEach(NewOpAlign(cfg, "matches%d.jpg")),
		NewOpSave("aligned%d.png"),
	)
	bs, err := json.Marshal(seq)
	if err != nil {
		t.Fatal(err)
	}

	var got OpSequence
	if err := json.Unmarshal(bs, &got); err != nil {
		t.Fatalf("%v in %s", err, bs)
	}
	if len(got.Steps) != 4 {
		t.Fatalf("got %d steps; want 4", len(got.Steps))
	}
	if lm, ok := got.Steps[0].(*OpLoadMany); !ok || !cmp.Equal(lm.FilePatterns, []string{"moving*.jpg"}) || lm.FirstID != 1 {
		t.Errorf("step 0 is %#v", got.Steps[0])
	}
	if lr, ok := got.Steps[1].(*OpLoadRef); !ok || lr.FileName != "ref.jpg" || !lr.Active {
		t.Errorf("step 1 is %#v", got.Steps[1])
	}
	fe, ok := got.Steps[2].(*OpForEach)
	if !ok {
		t.Fatalf("step 2 is %#v", got.Steps[2])
	}
	oa, ok := fe.Operation.(*OpAlign)
	if !ok {
		t.Fatalf("forEach operation is %#v", fe.Operation)
	}
	if diff := cmp.Diff(cfg, oa.Config); diff != "" {
		t.Errorf("align config mismatch (-want +got):\n%s", diff)
	}
	if oa.Matches != "matches%d.jpg" || oa.OpUnaryBase.Apply == nil {
		t.Errorf("align operator not restored: %#v", oa)
	}
	if s, ok := got.Steps[3].(*OpSave); !ok || s.FilePattern != "aligned%d.png" || s.Quality != 95 || s.OpUnaryBase.Apply == nil {
		t.Errorf("step 3 is %#v", got.Steps[3])
	}
}

func TestOpAlignDefaultsFromJSON(t *testing.T) {
	var seq OpSequence
	err := json.Unmarshal([]byte(`{"type":"seq","active":true,"steps":[{"type":"align","active":true,"keypoints":"kp%d.csv","config":{"seed":7}}]}`), &seq)
	if err != nil {
		t.Fatal(err)
	}
	oa := seq.Steps[0].(*OpAlign)
	want := align.DefaultConfig()
	want.Seed = 7
	if diff := cmp.Diff(want, oa.Config); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if oa.Keypoints != "kp%d.csv" || oa.Matches != "" {
		t.Errorf("keypoints %q matches %q", oa.Keypoints, oa.Matches)
	}

	if err := json.Unmarshal([]byte(`{"type":"seq","steps":[{"type":"stack"}]}`), &seq); err == nil {
		t.Error("unknown operator type accepted")
	}
}

func TestPipeline(t *testing.T) {
	dir := t.TempDir()
	ref := rectanglesImage(400, 300, 120, 5)
	if err := ref.WriteFile(filepath.Join(dir, "ref.png"), 0); err != nil {
		t.Fatal(err)
	}
	for i, degrees := range []float64{2, -3} {
		h := homography.NewSimilarity(1, degrees, homography.Point2D{X: 200, Y: 150}, 4, -2)
		moving, err := ref.Project(ref.Width, ref.Height, h, 128)
		if err != nil {
			t.Fatal(err)
		}
		if err := moving.WriteFile(filepath.Join(dir, "moving"+string(rune('a'+i))+".png"), 0); err != nil {
			t.Fatal(err)
		}
	}

	var log strings.Builder
	c := NewContext(&log)
	cfg := align.DefaultConfig()
	cfg.Seed = 1
	opAlign := NewOpAlign(cfg, filepath.Join(dir, "matches%d.jpg"))
	opAlign.Keypoints = filepath.Join(dir, "keypoints%d.csv")
	seq := NewOpSequence(
		NewOpLoadMany([]string{filepath.Join(dir, "moving*.png")}),
		NewOpLoadRef(filepath.Join(dir, "ref.png")),
		NewOpForEach(opAlign),
		NewOpSave(filepath.Join(dir, "aligned%d.png")),
	)
	imgs, err := Run(seq, c, c.MaxConcurrentAlignments(ref.Width*ref.Height))
	if err != nil {
		t.Fatalf("%v\n%s", err, log.String())
	}
	if len(imgs) != 2 {
		t.Fatalf("got %d images; want 2\n%s", len(imgs), log.String())
	}
	for _, name := range []string{"aligned1.png", "aligned2.png", "matches1.jpg", "matches2.jpg", "keypoints1.csv", "keypoints2.csv"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing output: %v", err)
		}
	}
	csv, err := os.ReadFile(filepath.Join(dir, "keypoints1.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	if lines[0] != "X,Y,Angle,Size,Response,Octave" || len(lines) < 2 {
		t.Errorf("keypoint file starts with %q and has %d lines", lines[0], len(lines))
	}
	if c.RefFrame == nil || c.RefFrame.Width != 400 {
		t.Errorf("reference frame not loaded")
	}
	if !strings.Contains(log.String(), "Homography") {
		t.Errorf("log lacks homographies:\n%s", log.String())
	}
}

func TestPipelineMissingReference(t *testing.T) {
	dir := t.TempDir()
	if err := rectanglesImage(100, 100, 20, 1).WriteFile(filepath.Join(dir, "moving.png"), 0); err != nil {
		t.Fatal(err)
	}
	c := NewContext(io.Discard)
	seq := NewOpSequence(
		NewOpLoadMany([]string{filepath.Join(dir, "moving*.png")}),
		NewOpLoadRef(filepath.Join(dir, "missing.png")),
		NewOpForEach(NewOpAlign(align.DefaultConfig(), "")),
	)
	if _, err := Run(seq, c, 2); err == nil || !strings.Contains(err.Error(), "reference frame") {
		t.Errorf("got %v; want reference frame error", err)
	}
}
