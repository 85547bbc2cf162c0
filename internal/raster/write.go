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
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Converts to a Go image. Single channel images become *image.Gray, RGB images *image.RGBA
func (img *Image) ToGoImage() image.Image {
	rect := image.Rect(0, 0, img.Width, img.Height)
	if img.Channels == 1 {
		g := image.NewGray(rect)
		for y := 0; y < img.Height; y++ {
			copy(g.Pix[y*g.Stride:y*g.Stride+img.Width], img.Data[y*img.Width:(y+1)*img.Width])
		}
		return g
	}
	rgba := image.NewRGBA(rect)
	for y := 0; y < img.Height; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < img.Width; x++ {
			i := (y*img.Width + x) * 3
			row[x*4], row[x*4+1], row[x*4+2], row[x*4+3] = img.Data[i], img.Data[i+1], img.Data[i+2], 255
		}
	}
	return rgba
}

// Writes the image to a file. The format is selected by suffix: .jpg/.jpeg, .png, .tif/.tiff or .bmp
func (img *Image) WriteFile(fileName string, quality int) error {
	return WriteGoImageToFile(img.ToGoImage(), fileName, quality)
}

// Writes a Go image to a file, with the format selected by suffix
func WriteGoImageToFile(goImg image.Image, fileName string, quality int) error {
	format, err := FormatFromFileName(fileName)
	if err != nil {
		return err
	}
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := Encode(writer, goImg, format, quality); err != nil {
		return err
	}
	return writer.Flush()
}

// Returns the encoding format for a file name suffix
func FormatFromFileName(fileName string) (string, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".jpg", ".jpeg":
		return "jpeg", nil
	case ".png":
		return "png", nil
	case ".tif", ".tiff":
		return "tiff", nil
	case ".bmp":
		return "bmp", nil
	}
	return "", errors.New(fmt.Sprintf("unknown image suffix in file name '%s'", fileName))
}

// Encodes a Go image in the given format. Quality applies to JPEG only
func Encode(w io.Writer, goImg image.Image, format string, quality int) error {
	switch format {
	case "jpeg":
		return jpeg.Encode(w, goImg, &jpeg.Options{Quality: quality})
	case "png":
		return png.Encode(w, goImg)
	case "tiff":
		return tiff.Encode(w, goImg, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	case "bmp":
		return bmp.Encode(w, goImg)
	}
	return errors.New(fmt.Sprintf("unknown image format '%s'", format))
}
