package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/rembg/cache/memory"
	"github.com/chaos-io/rembg/processor"
	"github.com/chaos-io/rembg/rembg"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type removerFunc func(ctx context.Context, img image.Image) (image.Image, error)

func (f removerFunc) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	return f(ctx, img)
}

func newTestServer(r rembg.Remover) (*Server, *memory.Provider) {
	provider := memory.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := processor.New(r, rembg.DefaultOptions())
	p.Log = log
	return New(p, provider, log), provider
}

func subjectPNG(t *testing.T) []byte {
	t.Helper()

	img := imaging.New(20, 20, color.White)
	for y := 5; y < 15; y++ {
		for x := 5; x < 15; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, A: 255})
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, query string, data []byte) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "upload.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/remove"+query, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestRemove(t *testing.T) {
	s, provider := newTestServer(rembg.NewChromaRemBG(0))
	router := s.Router()
	data := subjectPNG(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "", data))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 20), img.Bounds())
	_, _, _, a := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0), a)
	assert.Equal(t, 1, provider.Len())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "", data))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))

	// different options are cached separately
	w = httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "?only_mask=true", data))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.Equal(t, 2, provider.Len())
}

func TestRemove_JPEGWithBackground(t *testing.T) {
	s, _ := newTestServer(rembg.NewChromaRemBG(0))

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, uploadRequest(t, "?format=jpg&bgcolor=%230000ff", subjectPNG(t)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))

	img, err := jpeg.Decode(w.Body)
	require.NoError(t, err)
	r, _, b, _ := img.At(1, 1).RGBA()
	assert.Greater(t, b>>8, uint32(200))
	assert.Less(t, r>>8, uint32(40))
}

func TestRemove_Errors(t *testing.T) {
	failing := removerFunc(func(ctx context.Context, img image.Image) (image.Image, error) {
		return nil, errors.New("model unavailable")
	})

	tests := []struct {
		name     string
		remover  rembg.Remover
		req      func(t *testing.T) *http.Request
		wantCode int
		wantErr  string
	}{
		{
			name:    "no file",
			remover: rembg.NewChromaRemBG(0),
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/remove", strings.NewReader(""))
			},
			wantCode: http.StatusBadRequest,
			wantErr:  "missing file",
		},
		{
			name:    "not an image",
			remover: rembg.NewChromaRemBG(0),
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "", []byte("hello"))
			},
			wantCode: http.StatusBadRequest,
			wantErr:  "decode failed",
		},
		{
			name:    "bad format",
			remover: rembg.NewChromaRemBG(0),
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "?format=tiff", subjectPNG(t))
			},
			wantCode: http.StatusBadRequest,
			wantErr:  "unsupported format",
		},
		{
			name:    "bad bool",
			remover: rembg.NewChromaRemBG(0),
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "?only_mask=maybe", subjectPNG(t))
			},
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid only_mask",
		},
		{
			name:    "backend failure",
			remover: failing,
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "", subjectPNG(t))
			},
			wantCode: http.StatusBadGateway,
			wantErr:  "model unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, provider := newTestServer(tt.remover)

			w := httptest.NewRecorder()
			s.Router().ServeHTTP(w, tt.req(t))
			assert.Equal(t, tt.wantCode, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Contains(t, body["error"], tt.wantErr)
			assert.Equal(t, 0, provider.Len())
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(rembg.NewChromaRemBG(0))
	router := s.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "", subjectPNG(t)))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `rembg_images_processed_total{result="ok"} 1`)
	assert.Contains(t, w.Body.String(), `rembg_http_request_duration_seconds_count{code="200",route="/health"} 1`)
}

func TestSchedulePurge(t *testing.T) {
	s, _ := newTestServer(rembg.NewChromaRemBG(0))

	assert.NoError(t, s.SchedulePurge(""))
	assert.NoError(t, s.SchedulePurge("@every 30m"))
	assert.Error(t, s.SchedulePurge("every now and then"))
	assert.Len(t, s.cron.Entries(), 1)
}

func TestRequestIDIsPropagated(t *testing.T) {
	s, _ := newTestServer(rembg.NewChromaRemBG(0))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get(requestIDHeader))
}
