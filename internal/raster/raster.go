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


// Package raster holds 8-bit pixel buffers with one or three interleaved channels.
package raster

import (
	"errors"
	"fmt"

	"github.com/mlnoga/imalign/internal/stats"
)

// An 8-bit raster image. Channels are interleaved, rows are stored top to bottom.
type Image struct {
	ID       int    // Sequential ID number, for log output. By convention, the reference frame is 0
	FileName string // Original file name, if any, for log output.

	Width    int     // Width in pixels
	Height   int     // Height in pixels
	Channels int     // Samples per pixel, 1 for gray or 3 for RGB
	Data     []uint8 // Pixel samples, len(Data)==Width*Height*Channels

	Stats *stats.Basic // Basic sample statistics, calculated on demand
}

// Creates a zero-filled image with the given dimensions
func NewImage(width, height, channels int) *Image {
	img, err := NewImageFromData(width, height, channels, nil)
	if err != nil {
		panic(err)
	}
	return img
}

// Creates an image from given dimensions and data. Data is not copied, allocated if nil
func NewImageFromData(width, height, channels int, data []uint8) (*Image, error) {
	if width < 0 || height < 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	size := width * height * channels
	if data == nil {
		data = make([]uint8, size)
	} else if len(data) != size {
		return nil, fmt.Errorf("data length %d does not match %dx%dx%d", len(data), width, height, channels)
	}
	return &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Data:     data,
	}, nil
}

// Returns a deep copy of the image
func (img *Image) Clone() *Image {
	res := *img
	res.Data = append([]uint8(nil), img.Data...)
	return &res
}

func (img *Image) DimensionsToString() string {
	return fmt.Sprintf("%dx%dx%d", img.Width, img.Height, img.Channels)
}

// Returns the sample of channel c at pixel (x,y)
func (img *Image) At(x, y, c int) uint8 {
	return img.Data[(y*img.Width+x)*img.Channels+c]
}

// Sets the sample of channel c at pixel (x,y)
func (img *Image) Set(x, y, c int, v uint8) {
	img.Data[(y*img.Width+x)*img.Channels+c] = v
}

// Returns basic statistics over all samples, calculating them on first use
func (img *Image) GetStats() *stats.Basic {
	if img.Stats == nil {
		img.Stats = stats.CalcBasicStats(img.Data)
	}
	return img.Stats
}

// Converts to a new single channel image using ITU-R BT.601 luma weights.
// Gray images are copied
func (img *Image) Gray() (*Image, error) {
	switch img.Channels {
	case 1:
		res := img.Clone()
		res.Stats = nil
		return res, nil
	case 3:
		res := NewImage(img.Width, img.Height, 1)
		res.ID, res.FileName = img.ID, img.FileName
		for i := range res.Data {
			r, g, b := uint32(img.Data[3*i]), uint32(img.Data[3*i+1]), uint32(img.Data[3*i+2])
			// fixed point with 14 fractional bits, rounded
			res.Data[i] = uint8((r*4899 + g*9617 + b*1868 + 8192) >> 14)
		}
		return res, nil
	}
	return nil, errors.New(fmt.Sprintf("%d: cannot convert %d channel image to gray", img.ID, img.Channels))
}
