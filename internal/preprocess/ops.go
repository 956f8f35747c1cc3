package preprocess

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// CenterCrop crops img to a centred square whose side is the shorter of its
// width and height.
func CenterCrop(img image.Image) *image.NRGBA {
	b := img.Bounds()
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	return CropOrPad(img, side, side)
}

// CropOrPad centres img on a width x height canvas. Dimensions larger than the
// target are cropped symmetrically; smaller ones are padded with black.
func CropOrPad(img image.Image, width, height int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() >= width && b.Dy() >= height {
		return imaging.CropCenter(img, width, height)
	}
	canvas := imaging.New(width, height, color.Black)
	cropW, cropH := min(b.Dx(), width), min(b.Dy(), height)
	return imaging.PasteCenter(canvas, imaging.CropCenter(img, cropW, cropH))
}

// Resize scales img to exactly width x height with nearest-neighbour sampling
func Resize(img image.Image, width, height int) *image.NRGBA {
	return imaging.Resize(img, width, height, imaging.NearestNeighbor)
}

// Rotate90 rotates img by k quarter turns counter-clockwise. Negative k turns
// clockwise. k == 0 (mod 4) returns img unchanged.
func Rotate90(img *image.NRGBA, k int) *image.NRGBA {
	switch ((k % 4) + 4) % 4 {
	case 1:
		return imaging.Rotate90(img)
	case 2:
		return imaging.Rotate180(img)
	case 3:
		return imaging.Rotate270(img)
	default:
		return img
	}
}

// QuarterTurns converts a rotation hint in degrees into the quarter turns
// that undo it.
func QuarterTurns(rotationDegrees int) int {
	return -rotationDegrees / 90
}

// Normalize writes the RGB channels of img into a tensor. Uint8 specs copy
// bytes unchanged; Float32 specs apply (v - Mean) / Std.
func Normalize(img *image.NRGBA, spec InputSpec) *Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	t := &Tensor{Height: h, Width: w, DataType: spec.DataType}

	switch spec.DataType {
	case Float32:
		t.F32 = make([]float32, w*h*Channels)
		i := 0
		for y := 0; y < h; y++ {
			row := img.Pix[y*img.Stride : y*img.Stride+w*4]
			for x := 0; x < w*4; x += 4 {
				t.F32[i] = (float32(row[x]) - spec.Mean) / spec.Std
				t.F32[i+1] = (float32(row[x+1]) - spec.Mean) / spec.Std
				t.F32[i+2] = (float32(row[x+2]) - spec.Mean) / spec.Std
				i += 3
			}
		}
	default:
		t.U8 = make([]uint8, w*h*Channels)
		i := 0
		for y := 0; y < h; y++ {
			row := img.Pix[y*img.Stride : y*img.Stride+w*4]
			for x := 0; x < w*4; x += 4 {
				t.U8[i] = row[x]
				t.U8[i+1] = row[x+1]
				t.U8[i+2] = row[x+2]
				i += 3
			}
		}
	}
	return t
}
