package main

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"
)

// ImageToTensor resizes img to size x size and writes it into a
// (3, size, size) channel-first tensor with values in [0, 1].
func ImageToTensor(img image.Image, size int) *Tensor {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	t := NewTensor(3, size, size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := dst.PixOffset(x, y)
			i := y*size + x
			t.data[i] = float64(dst.Pix[off]) / 255
			t.data[plane+i] = float64(dst.Pix[off+1]) / 255
			t.data[2*plane+i] = float64(dst.Pix[off+2]) / 255
		}
	}
	return t
}

// LoadImage decodes a PNG or JPEG file.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// LoadImageBatch decodes every path, resizes each to size x size and stacks
// them into one (len(paths), 3, size, size) tensor.
func LoadImageBatch(paths []string, size int) (*Tensor, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images given")
	}
	if size <= 0 {
		return nil, configErrorf(-1, "image_size", "must be positive, got %d", size)
	}

	batch := NewTensor(len(paths), 3, size, size)
	for n, path := range paths {
		img, err := LoadImage(path)
		if err != nil {
			return nil, err
		}
		copy(batch.Sample(n).data, ImageToTensor(img, size).data)
	}
	return batch, nil
}
