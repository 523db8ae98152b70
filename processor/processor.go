// Package processor turns an input image file into a background-free output file.
package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/chaos-io/rembg/rembg"
	"github.com/chaos-io/rembg/util"
	nhttp "github.com/chaos-io/rembg/util/http"
)

// Failure kinds, matched with errors.Is.
var (
	ErrNotFound = errors.New("input not found")
	ErrDecode   = errors.New("decode failed")
	ErrRemove   = errors.New("background removal failed")
	ErrEncode   = errors.New("encode failed")
)

// Kind names the failure kind of err, or "unknown".
func Kind(err error) string {
	for _, kind := range []error{ErrNotFound, ErrDecode, ErrRemove, ErrEncode} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "unknown"
}

// Processor runs the background removal for one input/output pair at a time.
// It is safe for concurrent use.
type Processor struct {
	RemBG   rembg.Remover
	Options rembg.Options

	// Matte fills transparent pixels for formats without alpha (JPEG).
	Matte       color.Color
	JPEGQuality int

	// Client downloads http(s) inputs.
	Client nhttp.IClient
	// Out receives the "Error: ..." line of ProcessImage.
	Out io.Writer
	Log *slog.Logger
}

func New(r rembg.Remover, opts rembg.Options) *Processor {
	return &Processor{
		RemBG:       r,
		Options:     opts,
		Matte:       color.White,
		JPEGQuality: 95,
		Client:      nhttp.NewHTTPClient(),
		Out:         os.Stdout,
		Log:         slog.Default(),
	}
}

// ProcessImage runs Process and reports any failure as a printed line and a
// false result.
func (p *Processor) ProcessImage(ctx context.Context, inputPath, outputPath string) bool {
	if err := p.Process(ctx, inputPath, outputPath); err != nil {
		p.Log.Debug("process failed", "kind", Kind(err), "input", inputPath, "output", outputPath)
		_, _ = fmt.Fprintf(p.Out, "Error: %v\n", err)
		return false
	}
	return true
}

// Process decodes inputPath, removes its background and writes the result to
// outputPath in the format named by its extension.
func (p *Processor) Process(ctx context.Context, inputPath, outputPath string) error {
	defer util.Trace("process " + inputPath)()

	img, err := p.load(ctx, inputPath)
	if err != nil {
		return err
	}

	out, err := p.Remove(ctx, img)
	if err != nil {
		return err
	}

	format, err := imaging.FormatFromFilename(outputPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEncode, outputPath, err)
	}

	if err := p.save(out, outputPath, format); err != nil {
		return err
	}

	p.Log.Info("background removed", "input", inputPath, "output", outputPath,
		"width", out.Bounds().Dx(), "height", out.Bounds().Dy())
	return nil
}

// Decode reads an image from r.
func (p *Processor) Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, nil
}

// Remove runs the removal pipeline on an already decoded image.
func (p *Processor) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	return p.RemoveWithOptions(ctx, img, p.Options)
}

// RemoveWithOptions is Remove with per-call options.
func (p *Processor) RemoveWithOptions(ctx context.Context, img image.Image, opts rembg.Options) (image.Image, error) {
	out, err := rembg.Remove(ctx, p.RemBG, img, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemove, err)
	}
	return out, nil
}

// Encode writes img to w in format, flattening transparency onto the matte
// when the format has no alpha channel.
func (p *Processor) Encode(w io.Writer, img image.Image, format imaging.Format) error {
	if format == imaging.JPEG {
		img = flatten(img, p.Matte)
	}
	if err := imaging.Encode(w, img, format, imaging.JPEGQuality(p.JPEGQuality)); err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return nil
}

func (p *Processor) load(ctx context.Context, path string) (image.Image, error) {
	var (
		img image.Image
		err error
	)
	if util.IsURL(path) {
		img, err = util.DownloadImage(ctx, p.Client, path)
	} else {
		img, err = util.OpenImage(path)
	}

	switch {
	case err == nil:
		return img, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
}

func (p *Processor) save(img image.Image, path string, format imaging.Format) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}

	err = p.Encode(f, img, format)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: %w", ErrEncode, cerr)
	}
	if err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

func flatten(img image.Image, matte color.Color) image.Image {
	if matte == nil {
		matte = color.White
	}
	b := img.Bounds()
	return imaging.Overlay(imaging.New(b.Dx(), b.Dy(), matte), img, image.Pt(0, 0), 1.0)
}
