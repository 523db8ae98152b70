package rembg

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
)

// maskOf extracts the foreground mask of a removal result. Grayscale results
// are already masks; everything else contributes its alpha channel.
func maskOf(img image.Image) *image.Gray {
	b := img.Bounds()
	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < b.Dy(); y++ {
			copy(mask.Pix[y*mask.Stride:y*mask.Stride+b.Dx()], src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		return mask
	case *image.NRGBA:
		for y := 0; y < b.Dy(); y++ {
			row := src.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < b.Dx(); x++ {
				mask.Pix[y*mask.Stride+x] = src.Pix[row+x*4+3]
			}
		}
		return mask
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			_, _, _, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			mask.Pix[y*mask.Stride+x] = uint8(a >> 8)
		}
	}
	return mask
}

// scaleMask resizes mask to w x h.
func scaleMask(mask *image.Gray, w, h int) *image.Gray {
	if mask.Bounds().Dx() == w && mask.Bounds().Dy() == h {
		return mask
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), mask, mask.Bounds(), xdraw.Src, nil)
	return dst
}

// postProcessMask removes speckles and jagged edges: binarize, open with a 3x3
// kernel, blur, binarize again.
func postProcessMask(mask *image.Gray) *image.Gray {
	binary := threshold(mask, 127)
	opened := dilate(erode(binary))

	blurred := imaging.Blur(opened, 2)
	out := image.NewGray(mask.Bounds())
	for i := range out.Pix {
		if blurred.Pix[i*4] >= 128 {
			out.Pix[i] = 255
		}
	}
	return out
}

func threshold(mask *image.Gray, th uint8) *image.Gray {
	out := image.NewGray(mask.Bounds())
	for i, v := range mask.Pix {
		if v > th {
			out.Pix[i] = 255
		}
	}
	return out
}

func erode(mask *image.Gray) *image.Gray {
	return morph(mask, func(a, b uint8) uint8 { return min(a, b) })
}

func dilate(mask *image.Gray) *image.Gray {
	return morph(mask, func(a, b uint8) uint8 { return max(a, b) })
}

// morph folds op over the 3x3 neighbourhood of every pixel; the border is
// clamped.
func morph(mask *image.Gray, op func(a, b uint8) uint8) *image.Gray {
	w, h := mask.Bounds().Dx(), mask.Bounds().Dy()
	out := image.NewGray(mask.Bounds())
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := mask.Pix[y*mask.Stride+x]
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					v = op(v, mask.Pix[ny*mask.Stride+nx])
				}
			}
			out.Pix[y*out.Stride+x] = v
		}
	}
	return out
}

// applyMask returns a copy of src whose alpha is multiplied by mask.
func applyMask(src *image.NRGBA, mask *image.Gray) *image.NRGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		srow := src.PixOffset(src.Bounds().Min.X, src.Bounds().Min.Y+y)
		drow := y * dst.Stride
		for x := 0; x < w; x++ {
			s, d := srow+x*4, drow+x*4
			dst.Pix[d] = src.Pix[s]
			dst.Pix[d+1] = src.Pix[s+1]
			dst.Pix[d+2] = src.Pix[s+2]
			dst.Pix[d+3] = uint8(uint16(src.Pix[s+3]) * uint16(mask.Pix[y*mask.Stride+x]) / 255)
		}
	}
	return dst
}

// composite draws img over a solid background.
func composite(img image.Image, bg color.Color) *image.NRGBA {
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), bg)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}

// ParseHexColor parses "#rrggbb" or "#rrggbbaa"; the leading '#' is optional.
func ParseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	if len(hex) == 6 {
		v = v<<8 | 0xff
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
