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


package align

import (
	"errors"
	"fmt"

	"github.com/mlnoga/imalign/internal/homography"
)

var (
	// Either image has no keypoints, e.g. because it is uniform or too small
	ErrEmptyFeatureSet = errors.New("empty feature set")

	ErrInsufficientCorrespondences = homography.ErrInsufficientCorrespondences
	ErrDegenerateGeometry          = homography.ErrDegenerateGeometry
	ErrSingularTransform           = homography.ErrSingularTransform
)

// A step of the alignment pipeline
type Stage int

const (
	StageDetect Stage = iota
	StageMatch
	StageFilter
	StageEstimate
	StageWarp
)

var stageNames = [...]string{"detect", "match", "filter", "estimate", "warp"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// An alignment failure, recording the pipeline stage it happened in
type StageError struct {
	ID    int // ID of the moving image
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%d: alignment failed in %s stage: %v", e.ID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
