package rembg

import (
	"context"
	"image"
	"slices"
)

const defaultTolerance = 40.0

// ChromaRemBG removes a uniform background without a model. The background
// color is the median of the border pixels; every pixel reachable from the
// border through colors within Tolerance of it becomes transparent.
type ChromaRemBG struct {
	Tolerance float64
}

func NewChromaRemBG(tolerance float64) *ChromaRemBG {
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	return &ChromaRemBG{Tolerance: tolerance}
}

func (c *ChromaRemBG) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	src := toNRGBA(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()

	bg := borderMedian(src)
	tol2 := c.Tolerance * c.Tolerance
	near := func(i int) bool {
		return colorDist2(src.Pix[i*4:i*4+3], bg) <= tol2
	}

	// flood fill from every matching border pixel
	visited := make([]bool, w*h)
	queue := make([]int, 0, 2*(w+h))
	push := func(x, y int) {
		i := y*w + x
		if visited[i] || !near(i) {
			return
		}
		visited[i] = true
		queue = append(queue, i)
	}
	for x := 0; x < w; x++ {
		push(x, 0)
		push(x, h-1)
	}
	for y := 0; y < h; y++ {
		push(0, y)
		push(w-1, y)
	}

	for n := 0; len(queue) > 0; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		i := queue[0]
		queue = queue[1:]
		x, y := i%w, i/w
		if x > 0 {
			push(x-1, y)
		}
		if x < w-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < h-1 {
			push(x, y+1)
		}
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	copy(out.Pix, src.Pix)
	for i, bgPixel := range visited {
		if bgPixel {
			out.Pix[i*4+3] = 0
		}
	}
	return out, nil
}

// borderMedian is the per-channel median of the outermost ring of pixels.
func borderMedian(img *image.NRGBA) [3]uint8 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	var channels [3][]uint8
	add := func(x, y int) {
		i := img.PixOffset(x, y)
		for c := 0; c < 3; c++ {
			channels[c] = append(channels[c], img.Pix[i+c])
		}
	}
	for x := 0; x < w; x++ {
		add(x, 0)
		if h > 1 {
			add(x, h-1)
		}
	}
	for y := 1; y < h-1; y++ {
		add(0, y)
		if w > 1 {
			add(w-1, y)
		}
	}

	var med [3]uint8
	for c := range channels {
		slices.Sort(channels[c])
		med[c] = channels[c][len(channels[c])/2]
	}
	return med
}

func colorDist2(p []uint8, c [3]uint8) float64 {
	var sum float64
	for i := 0; i < 3; i++ {
		d := float64(p[i]) - float64(c[i])
		sum += d * d
	}
	return sum
}

