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
	"fmt"
)

// Settings for keypoint detection and description
type Options struct {
	MaxFeatures   int     `json:"maxFeatures"`   // Maximum number of keypoints to retain per image
	Levels        int     `json:"levels"`        // Number of pyramid levels
	ScaleFactor   float32 `json:"scaleFactor"`   // Downscaling ratio between consecutive pyramid levels, >1
	FastThreshold int     `json:"fastThreshold"` // Intensity difference for the FAST segment test
	PatchSize     int     `json:"patchSize"`     // Diameter of the patch for orientation and descriptor
	EdgeThreshold int     `json:"edgeThreshold"` // Border in pixels where no keypoints are detected, per level
	HarrisK       float32 `json:"harrisK"`       // Harris detector free parameter
	BlurSigma     float32 `json:"blurSigma"`     // Gaussian smoothing before sampling descriptor pairs
}

func DefaultOptions() Options {
	return Options{
		MaxFeatures:   500,
		Levels:        8,
		ScaleFactor:   1.2,
		FastThreshold: 20,
		PatchSize:     31,
		EdgeThreshold: 19,
		HarrisK:       0.04,
		BlurSigma:     2,
	}
}

func (o Options) Validate() error {
	if o.MaxFeatures < 1 {
		return fmt.Errorf("maximum features %d must be positive", o.MaxFeatures)
	}
	if o.Levels < 1 {
		return fmt.Errorf("pyramid levels %d must be positive", o.Levels)
	}
	if !(o.ScaleFactor > 1) {
		return fmt.Errorf("scale factor %g must be greater than 1", o.ScaleFactor)
	}
	if o.FastThreshold < 1 || o.FastThreshold > 254 {
		return fmt.Errorf("FAST threshold %d must be in [1,254]", o.FastThreshold)
	}
	if o.PatchSize < 7 {
		return fmt.Errorf("patch size %d must be at least 7", o.PatchSize)
	}
	if o.EdgeThreshold < o.PatchSize/2+1 {
		return fmt.Errorf("edge threshold %d must be at least %d for patch size %d", o.EdgeThreshold, o.PatchSize/2+1, o.PatchSize)
	}
	if !(o.BlurSigma > 0) {
		return fmt.Errorf("blur sigma %g must be positive", o.BlurSigma)
	}
	return nil
}
