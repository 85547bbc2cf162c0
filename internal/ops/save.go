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
	"fmt"

	"github.com/mlnoga/imalign/internal/raster"
)

// Saves given promise under a given filename, with pattern expansion for %d based on the image id.
// Takes one input, produces one output (the materialized but unchanged input)
type OpSave struct {
	OpUnaryBase
	FilePattern string `json:"filePattern"`
	Quality     int    `json:"quality"` // JPEG quality, 1..100
}

func init() { SetOperatorFactory(func() Operator { return NewOpSaveDefault() }) } // register the operator for JSON decoding

func NewOpSaveDefault() *OpSave { return NewOpSave("") }

func NewOpSave(filenamePattern string) *OpSave {
	op := OpSave{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "save", Active: filenamePattern != ""}},
		FilePattern: filenamePattern,
		Quality:     95,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpSave) UnmarshalJSON(data []byte) error {
	type defaults struct {
		OpBase
		FilePattern string `json:"filePattern"`
		Quality     int    `json:"quality"`
	}
	d := NewOpSaveDefault()
	def := defaults{OpBase: d.OpBase, FilePattern: d.FilePattern, Quality: d.Quality}
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	op.OpBase, op.FilePattern, op.Quality = def.OpBase, def.FilePattern, def.Quality
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

// Returns the file name for the image with the given ID
func (op *OpSave) FileName(id int) string {
	return expandID(op.FilePattern, id)
}

func (op *OpSave) Apply(img *raster.Image, c *Context) (result *raster.Image, err error) {
	if !op.Active || op.FilePattern == "" {
		return img, nil
	}
	fileName := op.FileName(img.ID)
	if err := c.CheckPath(fileName); err != nil {
		return nil, err
	}
	fmt.Fprintf(c.Log, "%d: Writing %s pixel image to %s\n", img.ID, img.DimensionsToString(), fileName)
	if err := img.WriteFile(fileName, op.Quality); err != nil {
		return nil, errors.New(fmt.Sprintf("%d: Error writing to file %s: %s", img.ID, fileName, err.Error()))
	}
	return img, nil
}
