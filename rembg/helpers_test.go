package rembg

import (
	"image"
	"image/color"
)

var (
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	red   = color.NRGBA{R: 220, G: 20, B: 20, A: 255}
)

// subjectImage draws a red square on a white background.
func subjectImage(w, h int, subject image.Rectangle) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := white
			if (image.Point{X: x, Y: y}).In(subject) {
				c = red
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func alphaAt(img image.Image, x, y int) uint8 {
	_, _, _, a := img.At(x, y).RGBA()
	return uint8(a >> 8)
}
