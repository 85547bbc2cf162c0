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
	"path/filepath"

	"github.com/mlnoga/imalign/internal/raster"
)

// Load a single image from a single filename. Takes zero inputs, produces one output
type OpLoad struct {
	OpBase
	ID       int    `json:"id"`
	FileName string `json:"fileName"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadDefault() }) } // register the operator for JSON decoding

func NewOpLoadDefault() *OpLoad { return NewOpLoad(0, "") }

func NewOpLoad(id int, fileName string) *OpLoad {
	return &OpLoad{
		OpBase:   OpBase{Type: "load", Active: true},
		ID:       id,
		FileName: fileName,
	}
}

// Load image from a file. Takes no inputs
func (op *OpLoad) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) > 0 {
		return nil, errors.New(fmt.Sprintf("%s operator with non-zero input", op.Type))
	}
	if err := c.CheckPath(op.FileName); err != nil {
		return nil, err
	}
	out := func() (img *raster.Image, err error) {
		return op.Apply(nil, c)
	}
	return []Promise{out}, nil
}

func (op *OpLoad) Apply(_ *raster.Image, c *Context) (result *raster.Image, err error) {
	img, err := raster.NewImageFromFile(op.FileName, op.ID, nil)
	if err != nil {
		return nil, err
	}

	warning := ""
	if img.GetStats().IsUniform() {
		warning = "; WARNING uniform image"
	}
	fmt.Fprintf(c.Log, "%d: Loaded %s image with %v from %s%s\n",
		img.ID, img.DimensionsToString(), img.Stats, img.FileName, warning)
	return img, nil
}

// Load many images from a slice of filename patterns with wildcards.
// Takes zero inputs, produces n outputs with IDs counting up from FirstID
type OpLoadMany struct {
	OpBase
	FilePatterns []string `json:"filePatterns"`
	FirstID      int      `json:"firstID"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadManyDefault() }) } // register the operator for JSON decoding

func NewOpLoadManyDefault() *OpLoadMany { return NewOpLoadMany(nil) }

func NewOpLoadMany(filePatterns []string) *OpLoadMany {
	return &OpLoadMany{
		OpBase:       OpBase{Type: "loadMany", Active: true},
		FilePatterns: filePatterns,
		FirstID:      1,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpLoadMany) UnmarshalJSON(data []byte) error {
	type defaults OpLoadMany
	def := defaults(*NewOpLoadManyDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpLoadMany(def)
	return nil
}

// Turn filename wildcards into list of file load promises
func (op *OpLoadMany) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) > 0 {
		return nil, errors.New(fmt.Sprintf("%s operator with non-zero input", op.Type))
	}
	for _, pattern := range op.FilePatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			if c.CheckPath(match) != nil {
				fmt.Fprintf(c.Log, "Pattern match %s outside current directory tree, skipping\n", match)
				continue
			}
			opLoad := NewOpLoad(op.FirstID+len(outs), match)
			promises, err := opLoad.MakePromises(nil, c)
			if err != nil {
				return nil, err
			}
			outs = append(outs, promises...)
		}
	}
	if len(outs) == 0 {
		return nil, errors.New(fmt.Sprintf("%s operator with no files to load from pattern %v", op.Type, op.FilePatterns))
	}
	fmt.Fprintf(c.Log, "Found %d files.\n", len(outs))
	return outs, nil
}

// Loads the reference image into the context before any of its inputs materialize.
// Takes n inputs, produces the same n outputs. The reference is loaded once, by the first
// promise to materialize; later promises see the same reference or the same error
type OpLoadRef struct {
	OpBase
	FileName string `json:"fileName"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadRefDefault() }) } // register the operator for JSON decoding

func NewOpLoadRefDefault() *OpLoadRef { return NewOpLoadRef("") }

func NewOpLoadRef(fileName string) *OpLoadRef {
	return &OpLoadRef{
		OpBase:   OpBase{Type: "loadRef", Active: fileName != ""},
		FileName: fileName,
	}
}

func (op *OpLoadRef) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) == 0 {
		return nil, errors.New(fmt.Sprintf("%s operator needs inputs", op.Type))
	}
	if !op.Active {
		return ins, nil
	}
	if err := c.CheckPath(op.FileName); err != nil {
		return nil, err
	}
	outs = make([]Promise, len(ins))
	for i, in := range ins {
		outs[i] = op.applySingle(in, c)
	}
	return outs, nil
}

func (op *OpLoadRef) applySingle(in Promise, c *Context) Promise {
	return func() (img *raster.Image, err error) {
		if err := op.loadOnce(c); err != nil {
			return nil, err
		}
		return in()
	}
}

func (op *OpLoadRef) loadOnce(c *Context) error {
	c.refMutex.Lock()
	defer c.refMutex.Unlock()
	if c.RefFrame != nil || c.RefFrameError != nil {
		return c.RefFrameError
	}
	c.RefFrame, c.RefFrameError = NewOpLoad(0, op.FileName).Apply(nil, c)
	if c.RefFrameError != nil {
		c.RefFrameError = fmt.Errorf("loading reference frame: %w", c.RefFrameError)
		return c.RefFrameError
	}
	fmt.Fprintf(c.Log, "Using %s as reference frame.\n", op.FileName)
	return nil
}
