package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/twmb/murmur3"

	"github.com/chaos-io/rembg/processor"
	"github.com/chaos-io/rembg/rembg"
)

var contentTypes = map[imaging.Format]string{
	imaging.PNG:  "image/png",
	imaging.JPEG: "image/jpeg",
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) remove(c *gin.Context) {
	opts, format, err := s.requestOptions(c)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		s.fail(c, http.StatusBadRequest, fmt.Errorf("missing file: %w", err))
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	key := cacheKey(data, opts, format)
	out, hit, err := s.auto.Get(c.Request.Context(), key, func(ctx context.Context) ([]byte, error) {
		return s.process(ctx, data, opts, format)
	})
	if err != nil {
		s.metrics.processed.WithLabelValues("error").Inc()
		s.fail(c, statusFor(err), err)
		return
	}

	if hit {
		c.Header("X-Cache", "HIT")
		s.metrics.processed.WithLabelValues("cached").Inc()
	} else {
		c.Header("X-Cache", "MISS")
		s.metrics.processed.WithLabelValues("ok").Inc()
	}
	c.Data(http.StatusOK, contentTypes[format], out)
}

func (s *Server) process(ctx context.Context, data []byte, opts rembg.Options, format imaging.Format) ([]byte, error) {
	start := time.Now()
	defer func() {
		s.metrics.processDuration.Observe(time.Since(start).Seconds())
	}()

	img, err := s.Processor.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	out, err := s.Processor.RemoveWithOptions(ctx, img, opts)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	if err := s.Processor.Encode(buf, out, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) requestOptions(c *gin.Context) (rembg.Options, imaging.Format, error) {
	opts := s.Processor.Options

	var err error
	if opts.OnlyMask, err = queryBool(c, "only_mask", opts.OnlyMask); err != nil {
		return opts, 0, err
	}
	if opts.PostProcess, err = queryBool(c, "post_process", opts.PostProcess); err != nil {
		return opts, 0, err
	}
	if v := c.Query("bgcolor"); v != "" {
		bg, err := rembg.ParseHexColor(v)
		if err != nil {
			return opts, 0, err
		}
		opts.Background = &bg
	}

	switch strings.ToLower(c.DefaultQuery("format", "png")) {
	case "png":
		return opts, imaging.PNG, nil
	case "jpg", "jpeg":
		return opts, imaging.JPEG, nil
	default:
		return opts, 0, fmt.Errorf("unsupported format %q", c.Query("format"))
	}
}

func queryBool(c *gin.Context, name string, def bool) (bool, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q", name, v)
	}
	return b, nil
}

// cacheKey identifies a result by the uploaded bytes and everything that
// changes the output.
func cacheKey(data []byte, opts rembg.Options, format imaging.Format) string {
	h := murmur3.New64()
	_, _ = h.Write(data)

	bg := "none"
	if opts.Background != nil {
		bg = fmt.Sprintf("%02x%02x%02x%02x", opts.Background.R, opts.Background.G, opts.Background.B, opts.Background.A)
	}
	return fmt.Sprintf("%016x:%t:%t:%t:%t:%d:%s:%d",
		h.Sum64(), opts.OnlyMask, opts.PostProcess, opts.KeepAlpha, opts.Trim, opts.MaxSize, bg, format)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, processor.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, processor.ErrRemove):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, code int, err error) {
	s.Log.Warn("request failed", "request_id", c.GetString(requestIDKey), "status", code, "error", err)
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}
