// Package rembg removes image backgrounds.
//
// A Remover turns an image into a cut-out whose alpha channel marks the
// foreground. Remove wraps any Remover with the resizing and mask handling
// shared by all backends.
package rembg

import (
	"context"
	"fmt"
	"image"
	"time"

	nhttp "github.com/chaos-io/rembg/util/http"
)

type Remover interface {
	Remove(ctx context.Context, img image.Image) (image.Image, error)
}

// Backend names accepted by New.
const (
	BackendServer   = "server"
	BackendBiRefNet = "birefnet"
	BackendChroma   = "chroma"
)

type Config struct {
	Backend string

	// ServerURL is the base URL of a rembg HTTP server.
	ServerURL string

	// BiRefNetURL is the base URL of a ComfyUI instance with the BiRefNet nodes.
	BiRefNetURL string
	// WorkflowPath replaces the embedded ComfyUI workflow when set.
	WorkflowPath string
	PollInterval time.Duration

	// Tolerance is the RGB distance under which a pixel matches the background color.
	Tolerance float64

	// Client overrides the HTTP client used by the remote backends.
	Client nhttp.IClient
}

func DefaultConfig() Config {
	return Config{
		Backend:      BackendServer,
		ServerURL:    "http://127.0.0.1:7000",
		BiRefNetURL:  "http://127.0.0.1:8188",
		PollInterval: 500 * time.Millisecond,
		Tolerance:    defaultTolerance,
	}
}

// New returns the Remover named by cfg.Backend.
func New(cfg Config) (Remover, error) {
	cli := cfg.Client
	if cli == nil {
		cli = nhttp.NewHTTPClient()
	}

	switch cfg.Backend {
	case BackendServer:
		return NewServerRemBG(cfg.ServerURL, cli), nil
	case BackendBiRefNet:
		b := NewBiRefNetRemBG(cfg.BiRefNetURL, cli)
		if cfg.PollInterval > 0 {
			b.pollInterval = cfg.PollInterval
		}
		if cfg.WorkflowPath != "" {
			if err := b.LoadWorkflow(cfg.WorkflowPath); err != nil {
				return nil, err
			}
		}
		return b, nil
	case BackendChroma:
		return NewChromaRemBG(cfg.Tolerance), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
