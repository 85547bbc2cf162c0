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


package raster

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Reads an image from the given file. Format is detected from the content:
// JPEG, PNG, GIF, TIFF and BMP are supported
func NewImageFromFile(fileName string, id int, logWriter io.Writer) (*Image, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := NewImageFromReader(bufio.NewReader(f), id, logWriter)
	if err != nil {
		return nil, fmt.Errorf("%d: reading %s: %w", id, fileName, err)
	}
	img.FileName = fileName
	return img, nil
}

// Decodes an image from the given reader
func NewImageFromReader(r io.Reader, id int, logWriter io.Writer) (*Image, error) {
	goImg, format, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	img := NewImageFromGoImage(goImg)
	img.ID = id
	if logWriter != nil {
		fmt.Fprintf(logWriter, "%d: Decoded %s image with %s pixels\n", id, format, img.DimensionsToString())
	}
	return img, nil
}

// Converts a Go image. Gray and 16-bit gray images become single channel, all others RGB
func NewImageFromGoImage(src image.Image) *Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	switch s := src.(type) {
	case *image.Gray:
		img := NewImage(w, h, 1)
		for y := 0; y < h; y++ {
			copy(img.Data[y*w:(y+1)*w], s.Pix[y*s.Stride:y*s.Stride+w])
		}
		return img
	case *image.Gray16:
		img := NewImage(w, h, 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.Data[y*w+x] = uint8(s.Gray16At(b.Min.X+x, b.Min.Y+y).Y >> 8)
			}
		}
		return img
	case *image.RGBA:
		img := NewImage(w, h, 3)
		for y := 0; y < h; y++ {
			row := s.Pix[y*s.Stride:]
			for x := 0; x < w; x++ {
				copy(img.Data[(y*w+x)*3:(y*w+x)*3+3], row[x*4:x*4+3])
			}
		}
		return img
	}

	img := NewImage(w, h, 3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			i := (y*w + x) * 3
			img.Data[i], img.Data[i+1], img.Data[i+2] = c.R, c.G, c.B
		}
	}
	return img
}

// Reads the width and height of an image file from its header, without decoding the pixels
func ReadDimensions(fileName string) (width, height int, err error) {
	f, err := os.Open(fileName)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		return 0, 0, fmt.Errorf("reading %s: %w", fileName, err)
	}
	return cfg.Width, cfg.Height, nil
}
