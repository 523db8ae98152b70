package main

import (
	"flag"
	"fmt"
	"image/color"
	"time"

	"github.com/chaos-io/rembg/processor"
	"github.com/chaos-io/rembg/rembg"
)

type config struct {
	rembg.Config

	timeout     time.Duration
	maxSize     int
	onlyMask    bool
	postProcess bool
	bgColor     string
	keepAlpha   bool
	trim        bool
	jpegQuality int
	matte       string
	logLevel    string

	serve      bool
	listen     string
	cachePurge string
}

func defaultConfig() *config {
	return &config{
		Config:      rembg.DefaultConfig(),
		timeout:     2 * time.Minute,
		maxSize:     rembg.DefaultOptions().MaxSize,
		jpegQuality: 95,
		matte:       "#ffffff",
		logLevel:    "info",
		listen:      ":8080",
		cachePurge:  "@every 30m",
	}
}

// register binds the flags; envy maps each one to REMBG_<NAME>.
func (c *config) register(fs *flag.FlagSet) {
	fs.StringVar(&c.Backend, "backend", c.Backend, "background removal backend (server, birefnet, chroma)")
	fs.StringVar(&c.ServerURL, "server-url", c.ServerURL, "rembg server base url")
	fs.StringVar(&c.BiRefNetURL, "birefnet-url", c.BiRefNetURL, "ComfyUI base url for the birefnet backend")
	fs.StringVar(&c.WorkflowPath, "birefnet-workflow", c.WorkflowPath, "ComfyUI API workflow file replacing the embedded one")
	fs.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "ComfyUI history poll interval")
	fs.Float64Var(&c.Tolerance, "tolerance", c.Tolerance, "color distance treated as background by the chroma backend")

	fs.DurationVar(&c.timeout, "timeout", c.timeout, "timeout for processing one image (0 disables)")
	fs.IntVar(&c.maxSize, "max-size", c.maxSize, "longest side sent to the backend (0 keeps the input size)")
	fs.BoolVar(&c.onlyMask, "only-mask", c.onlyMask, "write the foreground mask instead of the cut-out")
	fs.BoolVar(&c.postProcess, "post-process", c.postProcess, "smooth the mask edges")
	fs.StringVar(&c.bgColor, "bgcolor", c.bgColor, "composite the cut-out over this color (#rrggbb[aa])")
	fs.BoolVar(&c.keepAlpha, "keep-alpha", c.keepAlpha, "skip the backend for inputs that already have transparency")
	fs.BoolVar(&c.trim, "trim", c.trim, "crop the output to the foreground")
	fs.IntVar(&c.jpegQuality, "jpeg-quality", c.jpegQuality, "quality of jpeg output")
	fs.StringVar(&c.matte, "matte", c.matte, "color behind transparent pixels in formats without alpha")
	fs.StringVar(&c.logLevel, "log-level", c.logLevel, "log level (debug, info, warn, error)")

	fs.BoolVar(&c.serve, "serve", c.serve, "serve the http api instead of processing one file")
	fs.StringVar(&c.listen, "listen", c.listen, "listen address in serve mode")
	fs.StringVar(&c.cachePurge, "cache-purge", c.cachePurge, "cron schedule for purging the result cache in serve mode")
}

func (c *config) options() (rembg.Options, error) {
	opts := rembg.Options{
		MaxSize:     c.maxSize,
		KeepAlpha:   c.keepAlpha,
		PostProcess: c.postProcess,
		OnlyMask:    c.onlyMask,
		Trim:        c.trim,
	}
	if c.bgColor != "" {
		bg, err := rembg.ParseHexColor(c.bgColor)
		if err != nil {
			return opts, fmt.Errorf("bgcolor: %w", err)
		}
		opts.Background = &bg
	}
	return opts, nil
}

func (c *config) processor() (*processor.Processor, error) {
	remover, err := rembg.New(c.Config)
	if err != nil {
		return nil, err
	}
	opts, err := c.options()
	if err != nil {
		return nil, err
	}

	p := processor.New(remover, opts)
	p.JPEGQuality = c.jpegQuality
	if c.matte != "" {
		matte, err := rembg.ParseHexColor(c.matte)
		if err != nil {
			return nil, fmt.Errorf("matte: %w", err)
		}
		p.Matte = color.Color(matte)
	}
	return p, nil
}
