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


// Package align registers a moving image onto a reference image. It detects keypoints on both,
// matches their descriptors, estimates a homography from the best matches and warps the
// moving image into the reference frame.
package align

import (
	"fmt"
	"io"
	"math"
	"runtime"
	"sync"

	"github.com/valyala/fastrand"

	"github.com/mlnoga/imalign/internal/feature"
	"github.com/mlnoga/imalign/internal/homography"
	"github.com/mlnoga/imalign/internal/match"
	"github.com/mlnoga/imalign/internal/raster"
)

// Maximum distance in pixels between a projected moving keypoint and a reference keypoint
// for the pair to count towards residual and coverage
const residualRadius = 8

// Receives the filtered matches of each alignment, for diagnostics
type MatchVisualizer interface {
	VisualizeMatches(moving, reference *raster.Image, movingKps, referenceKps []feature.Keypoint, good []match.Match) error
}

// Outcome of one alignment. Owned by the caller
type Result struct {
	Image              *raster.Image          // Moving image warped into the reference frame, reference size
	H                  homography.Homography  // Maps moving image coordinates to reference image coordinates
	MovingKeypoints    []feature.Keypoint
	ReferenceKeypoints []feature.Keypoint
	Matches            []match.Match // One per moving keypoint
	Good               []match.Match // Retained after filtering, ascending distance
	Inliers            int           // Number of good matches consistent with H
	RMS                float64       // Reprojection error over the inliers, in pixels
	Iterations         int           // RANSAC iterations
	Residual           float64       // RMS distance of projected moving keypoints to their nearest reference keypoint
	Coverage           float64       // Share of moving keypoints projecting within residualRadius of a reference keypoint
}

// Aligns images with a fixed configuration. Safe for concurrent use
type Aligner struct {
	cfg        Config
	detector   *feature.Detector
	log        io.Writer
	visualizer MatchVisualizer
}

// Creates an aligner for the given configuration, logging progress to the given writer
func NewAligner(cfg Config, logWriter io.Writer) (*Aligner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxThreads == 0 {
		cfg.MaxThreads = runtime.NumCPU()
	}
	d, err := feature.NewDetector(cfg.Feature)
	if err != nil {
		return nil, err
	}
	if logWriter == nil {
		logWriter = io.Discard
	}
	return &Aligner{cfg: cfg, detector: d, log: logWriter}, nil
}

// Returns a copy of the aligner which passes the filtered matches of every alignment to v
func (a *Aligner) WithVisualizer(v MatchVisualizer) *Aligner {
	res := *a
	res.visualizer = v
	return &res
}

func (a *Aligner) Config() Config {
	return a.cfg
}

// Aligns the moving image onto the reference image. Failures are returned as *StageError
func (a *Aligner) Align(moving, reference *raster.Image) (*Result, error) {
	id := moving.ID
	fail := func(stage Stage, err error) (*Result, error) {
		return nil, &StageError{ID: id, Stage: stage, Err: err}
	}

	// Detect on both images concurrently
	var kpM, kpR []feature.Keypoint
	var descM, descR []feature.Descriptor
	var errM, errR error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		kpM, descM, errM = a.detect(moving)
	}()
	go func() {
		defer wg.Done()
		kpR, descR, errR = a.detect(reference)
	}()
	wg.Wait()
	if errM != nil {
		return fail(StageDetect, errM)
	}
	if errR != nil {
		return fail(StageDetect, errR)
	}
	fmt.Fprintf(a.log, "%d: Found %d keypoints, reference %d has %d\n", id, len(kpM), reference.ID, len(kpR))
	if len(kpM) == 0 {
		return fail(StageDetect, fmt.Errorf("%w: no keypoints in moving image", ErrEmptyFeatureSet))
	}
	if len(kpR) == 0 {
		return fail(StageDetect, fmt.Errorf("%w: no keypoints in reference image", ErrEmptyFeatureSet))
	}

	matches := match.BruteForceHamming(descM, descR, a.cfg.MaxThreads)
	good, err := match.Filter(matches, a.cfg.GoodMatchFraction)
	if err != nil {
		return fail(StageFilter, err)
	}
	fmt.Fprintf(a.log, "%d: Retained %d of %d matches\n", id, len(good), len(matches))

	if a.visualizer != nil {
		if err := a.visualizer.VisualizeMatches(moving, reference, kpM, kpR, good); err != nil {
			fmt.Fprintf(a.log, "%d: Unable to visualize matches: %v\n", id, err)
		}
	}

	src, dst, err := match.Points(good, kpM, kpR)
	if err != nil {
		return fail(StageMatch, err)
	}

	// Sampling state is local to the call
	rng := fastrand.RNG{}
	rng.Seed(a.cfg.Seed)
	fit, err := homography.Find(src, dst, a.cfg.Homography, &rng)
	if err != nil {
		return fail(StageEstimate, err)
	}
	scale, degrees := fit.H.ScaleRotation()
	fmt.Fprintf(a.log, "%d: Homography with %d/%d inliers, RMS %.3fpx after %d iterations, scale %.4f rotation %.2f°\n",
		id, fit.NumInliers, len(good), fit.RMS, fit.Iterations, scale, degrees)

	warped, err := moving.Project(reference.Width, reference.Height, fit.H, a.cfg.FillValue)
	if err != nil {
		return fail(StageWarp, err)
	}
	warped.ID, warped.FileName = moving.ID, moving.FileName

	residual, coverage := residualAndCoverage(fit.H, kpM, kpR)
	fmt.Fprintf(a.log, "%d: Residual %.3fpx, coverage %.1f%%\n", id, residual, coverage*100)

	return &Result{
		Image:              warped,
		H:                  fit.H,
		MovingKeypoints:    kpM,
		ReferenceKeypoints: kpR,
		Matches:            matches,
		Good:               good,
		Inliers:            fit.NumInliers,
		RMS:                fit.RMS,
		Iterations:         fit.Iterations,
		Residual:           residual,
		Coverage:           coverage,
	}, nil
}

func (a *Aligner) detect(img *raster.Image) ([]feature.Keypoint, []feature.Descriptor, error) {
	gray, err := img.Gray()
	if err != nil {
		return nil, nil, err
	}
	return a.detector.Detect(gray)
}

// Projects the moving keypoints with h and looks up the nearest reference keypoint for each.
// Returns the RMS distance over the pairs closer than residualRadius, and their share of all moving keypoints
func residualAndCoverage(h homography.Homography, moving, reference []feature.Keypoint) (residual, coverage float64) {
	if len(moving) == 0 || len(reference) == 0 {
		return 0, 0
	}
	kdt := feature.NewKDTree2(reference)
	sumDsq, count := float64(0), 0
	for _, k := range moving {
		p, ok := h.Apply(homography.Point2D{X: float64(k.X), Y: float64(k.Y)})
		if !ok {
			continue
		}
		_, dsq := kdt.NearestNeighbor(feature.Point2D{X: float32(p.X), Y: float32(p.Y)})
		if dsq <= residualRadius*residualRadius {
			sumDsq += float64(dsq)
			count++
		}
	}
	if count == 0 {
		return 0, 0
	}
	return math.Sqrt(sumDsq / float64(count)), float64(count) / float64(len(moving))
}
