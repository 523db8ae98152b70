package rembg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"strings"

	nhttp "github.com/chaos-io/rembg/util/http"
)

// ServerRemBG calls a rembg HTTP server ("rembg s").
type ServerRemBG struct {
	baseURL string
	cli     nhttp.IClient

	// Model selects the server side model, e.g. "u2net" or "isnet-general-use".
	// Empty leaves the server default.
	Model string
}

func NewServerRemBG(baseURL string, cli nhttp.IClient) *ServerRemBG {
	return &ServerRemBG{
		baseURL: strings.TrimRight(baseURL, "/"),
		cli:     cli,
	}
}

/*
	curl -X POST "$BASE_URL/api/remove" -F "file=@my_image.png" -o out.png
*/
func (s *ServerRemBG) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if err := png.Encode(part, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	if s.Model != "" {
		_ = writer.WriteField("model", s.Model)
	}
	_ = writer.Close()

	var data []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: s.baseURL + "/api/remove",
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   &data,
	}
	if err := s.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	out, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
