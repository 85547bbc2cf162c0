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
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mlnoga/imalign/internal/align"
	"github.com/mlnoga/imalign/internal/feature"
	"github.com/mlnoga/imalign/internal/overlay"
	"github.com/mlnoga/imalign/internal/raster"
)

// Aligns each input image to the reference frame of the context.
// Takes n inputs, produces n outputs with reference frame size
type OpAlign struct {
	OpUnaryBase
	Config      align.Config `json:"config"`
	Matches     string       `json:"matches"`     // Pattern for match overlay files, %d expands to the image ID. Empty for none
	Keypoints   string       `json:"keypoints"`   // Pattern for CSV files with the keypoints of each moving image. Empty for none
	MinCoverage float64      `json:"minCoverage"` // Images with a lower share of keypoints landing on reference keypoints are rejected
	aligner     *align.Aligner
	mutex       sync.Mutex
}

func init() { SetOperatorFactory(func() Operator { return NewOpAlignDefault() }) } // register the operator for JSON decoding

func NewOpAlignDefault() *OpAlign { return NewOpAlign(align.DefaultConfig(), "") }

func NewOpAlign(cfg align.Config, matches string) *OpAlign {
	op := OpAlign{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "align", Active: true}},
		Config:      cfg,
		Matches:     matches,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpAlign) UnmarshalJSON(data []byte) error {
	type defaults struct {
		OpBase
		Config      align.Config `json:"config"`
		Matches     string       `json:"matches"`
		Keypoints   string       `json:"keypoints"`
		MinCoverage float64      `json:"minCoverage"`
	}
	d := NewOpAlignDefault()
	def := defaults{OpBase: d.OpBase, Config: d.Config, Matches: d.Matches, Keypoints: d.Keypoints, MinCoverage: d.MinCoverage}
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	op.OpBase, op.Config, op.Matches, op.Keypoints, op.MinCoverage = def.OpBase, def.Config, def.Matches, def.Keypoints, def.MinCoverage
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

func (op *OpAlign) Apply(img *raster.Image, c *Context) (result *raster.Image, err error) {
	a, err := op.init(c)
	if err != nil {
		return nil, err
	}
	if c.RefFrame == nil {
		return nil, errors.New(fmt.Sprintf("%d: no reference frame to align to", img.ID))
	}

	res, err := a.Align(img, c.RefFrame)
	if err != nil {
		return nil, err
	}
	if op.Keypoints != "" {
		fileName := expandID(op.Keypoints, img.ID)
		if err := writeKeypoints(fileName, res.MovingKeypoints); err != nil {
			fmt.Fprintf(c.Log, "%d: Unable to write keypoints to %s: %v\n", img.ID, fileName, err)
		}
	}
	if res.Coverage < op.MinCoverage {
		return nil, errors.New(fmt.Sprintf("%d: alignment coverage %.3g is below threshold %.3g, skipping frame", img.ID, res.Coverage, op.MinCoverage))
	}
	fmt.Fprintf(c.Log, "%d: Homography %v\n", img.ID, res.H)
	return res.Image, nil
}

// Creates the aligner on first use. Safe for concurrent calls
func (op *OpAlign) init(c *Context) (*align.Aligner, error) {
	op.mutex.Lock()
	defer op.mutex.Unlock()
	if op.aligner != nil {
		return op.aligner, nil
	}
	for _, p := range []string{op.Matches, op.Keypoints} {
		if p == "" {
			continue
		}
		if err := c.CheckPath(p); err != nil {
			return nil, err
		}
	}
	cfg := op.Config
	if cfg.MaxThreads == 0 {
		cfg.MaxThreads = c.MaxThreads
	}
	a, err := align.NewAligner(cfg, c.Log)
	if err != nil {
		return nil, err
	}
	if op.Matches != "" {
		a = a.WithVisualizer(overlay.NewFileVisualizer(op.Matches))
	}
	op.aligner = a
	return a, nil
}

// Expands %d in the pattern to the image ID
func expandID(pattern string, id int) string {
	if strings.Contains(pattern, "%d") {
		return fmt.Sprintf(pattern, id)
	}
	return pattern
}

// Writes the keypoints as CSV
func writeKeypoints(fileName string, kps []feature.Keypoint) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	feature.PrintKeypoints(w, kps)
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
