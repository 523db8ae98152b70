package rembg

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"

	"github.com/disintegration/imaging"
)

const defaultMaxSize = 1024

// Options control the work done around a Remover.
type Options struct {
	// MaxSize bounds the longest side of the image sent to the backend. The
	// mask is scaled back so the result keeps the input size. Zero disables.
	MaxSize int
	// KeepAlpha skips the backend for inputs that already carry transparency.
	KeepAlpha bool
	// PostProcess smooths the mask edges and drops isolated specks.
	PostProcess bool
	// OnlyMask returns the grayscale mask instead of the cut-out.
	OnlyMask bool
	// Background, when set, is composited behind the cut-out.
	Background *color.NRGBA
	// Trim crops the result to the bounding box of the foreground.
	Trim bool
}

func DefaultOptions() Options {
	return Options{MaxSize: defaultMaxSize}
}

// Remove runs r on img and returns an image of the same size whose alpha
// channel holds the foreground mask.
func Remove(ctx context.Context, r Remover, img image.Image, opts Options) (image.Image, error) {
	src := toNRGBA(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image %dx%d", w, h)
	}

	var mask *image.Gray
	if opts.KeepAlpha && hasUsefulAlpha(src) {
		slog.Debug("input already has transparency, skipping backend")
		mask = maskOf(src)
	} else {
		small := resizeWithinMax(src, opts.MaxSize)
		out, err := r.Remove(ctx, small)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, fmt.Errorf("backend returned no image")
		}
		mask = scaleMask(maskOf(out), w, h)
	}

	if opts.PostProcess {
		mask = postProcessMask(mask)
	}

	var result image.Image = mask
	if !opts.OnlyMask {
		cut := applyMask(src, mask)
		result = cut
		if opts.Background != nil {
			result = composite(cut, *opts.Background)
		}
	}

	if opts.Trim {
		bbox, err := alphaBBox(toNRGBAMask(mask), 0.8)
		if err != nil {
			return nil, err
		}
		return imaging.Crop(result, bbox), nil
	}
	return result, nil
}

// toNRGBAMask lifts a mask into the alpha channel of a white NRGBA.
func toNRGBAMask(mask *image.Gray) *image.NRGBA {
	out := image.NewNRGBA(mask.Bounds())
	for i, v := range mask.Pix {
		out.Pix[i*4] = 255
		out.Pix[i*4+1] = 255
		out.Pix[i*4+2] = 255
		out.Pix[i*4+3] = v
	}
	return out
}
