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


// Package ops composes image processing steps into a graph of lazily evaluated promises.
// Operators are polymorphic and can be read from and written to JSON.
package ops

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/pbnjay/memory"

	"github.com/mlnoga/imalign/internal/raster"
)

// An execution context for operators
type Context struct {
	Log           io.Writer
	MemoryMB      int  // memory.TotalMemory()/1024/1024
	AlignMemoryMB int  // MemoryMB*7/10, available for concurrent alignments
	MaxThreads    int  `json:"maxThreads"`
	RestrictPaths bool // Only allow relative file paths inside the working directory tree

	refMutex      sync.Mutex
	RefFrame      *raster.Image // Reference image all others are aligned to
	RefFrameError error
}

func NewContext(log io.Writer) *Context {
	memoryMB := int(memory.TotalMemory() / 1024 / 1024)
	return &Context{
		Log:           log,
		MemoryMB:      memoryMB,
		AlignMemoryMB: memoryMB * 7 / 10,
		MaxThreads:    runtime.GOMAXPROCS(0),
	}
}

// Bytes of working memory per pixel of one alignment: input, gray copy, smoothed pyramid
// levels, float buffers for smoothing, and the warped output
const alignBytesPerPixel = 3 + 1 + 2 + 3*4 + 3

// Returns how many alignments of images with the given number of pixels fit into memory
// at the same time, at least one and at most MaxThreads
func (c *Context) MaxConcurrentAlignments(pixels int) int {
	n := c.MaxThreads
	if c.AlignMemoryMB > 0 && pixels > 0 {
		perAlignMB := (2*pixels*alignBytesPerPixel + 1024*1024 - 1) / (1024 * 1024)
		if byMemory := c.AlignMemoryMB / perAlignMB; byMemory < n {
			n = byMemory
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Returns an error if restricted paths are in effect and the path is not allowed
func (c *Context) CheckPath(p string) error {
	if c.RestrictPaths && !isPathAllowed(p) {
		return errors.New(fmt.Sprintf("path %s outside current directory tree", p))
	}
	return nil
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory
func isPathAllowed(p string) bool {
	if filepath.IsAbs(p) {
		return false
	}
	if strings.Contains(p, "..") {
		return false
	}
	return true
}

// A promise for an image. Returns a materialized image, or an error
type Promise func() (img *raster.Image, err error)

// Materializes all promises with given concurrency limit. Errors of individual promises are joined,
// and the images of successful promises are returned unless forget is set
func MaterializeAll(ins []Promise, maxThreads int, forget bool) (outs []*raster.Image, err error) {
	if len(ins) == 0 {
		return nil, nil
	}
	if maxThreads < 1 {
		maxThreads = 1
	}
	if !forget {
		outs = make([]*raster.Image, len(ins))
	}
	limiter := make(chan bool, maxThreads)
	errs := make(chan error, len(ins))
	for i, in := range ins {
		limiter <- true
		go func(i int, theIn Promise) {
			defer func() { <-limiter }()
			img, err := theIn() // materialize the promise
			if err != nil {
				errs <- err
				return
			}
			if !forget {
				outs[i] = img
			}
			errs <- nil
		}(i, in)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	for i := 0; i < len(ins); i++ { // collect errors
		if e := <-errs; e != nil {
			if err == nil {
				err = e
			} else {
				err = errors.New(fmt.Sprintf("%s; %s", err.Error(), e.Error()))
			}
		}
	}
	return RemoveNils(outs), err
}

// Remove nils from an array of images, editing the underlying array in place
func RemoveNils(imgs []*raster.Image) []*raster.Image {
	o := 0
	for i := 0; i < len(imgs); i++ {
		if imgs[i] != nil {
			imgs[o] = imgs[i]
			o++
		}
	}
	for i := o; i < len(imgs); i++ {
		imgs[i] = nil
	}
	return imgs[:o]
}

// A general image processing operator: takes n promises as inputs,
// and produces m promises as output or an error
type Operator interface {
	GetType() string
	IsActive() bool
	MakePromises(ins []Promise, c *Context) (outs []Promise, err error)
}

// Base type for operators, including type information for JSON serializing/deserializing
type OpBase struct {
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

func (op *OpBase) GetType() string { return op.Type }
func (op *OpBase) IsActive() bool  { return op.Active }

// Factory method for operators. For JSON serializing/deserializing
type OperatorFactory func() Operator

// Mapping from operator type strings to factory method for the type
var operatorFactories = map[string]OperatorFactory{}

// Returns the operator factory for a given type string
func GetOperatorFactory(t string) OperatorFactory {
	return operatorFactories[t]
}

// Registers a given type string for a given type of Operator, identified via an exemplar generator
func SetOperatorFactory(f OperatorFactory) {
	t := f().GetType()
	if GetOperatorFactory(t) != nil {
		panic(fmt.Sprintf("error: re-registering operator key %s\n", t))
	}
	operatorFactories[t] = f
}

// A unary image processing operator: given n promises as inputs,
// applies itself to each of them individually and returns n output promises or an error
type OperatorUnary interface {
	Operator
	Apply(img *raster.Image, c *Context) (result *raster.Image, err error)
}

// Abstract base type for unary operators. Uses golang workaround for abstract classes
// from https://golangbyexample.com/go-abstract-class/
type OpUnaryBase struct {
	OpBase
	Apply func(img *raster.Image, c *Context) (result *raster.Image, err error) `json:"-"`
}

func (op *OpUnaryBase) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) == 0 {
		return nil, errors.New(fmt.Sprintf("%s operator with %d inputs", op.Type, len(ins)))
	}
	outs = make([]Promise, len(ins))
	for i, in := range ins {
		outs[i] = op.MakePromise(in, c)
	}
	return outs, nil
}

func (op *OpUnaryBase) MakePromise(in Promise, c *Context) (out Promise) {
	return func() (img *raster.Image, err error) {
		if img, err = in(); err != nil { // materialize input promise
			return nil, err
		}
		if !op.Active {
			return img, nil
		}
		return op.Apply(img, c)
	}
}
