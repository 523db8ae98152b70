package util

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	nhttp "github.com/chaos-io/rembg/util/http"
)

// IsURL reports whether path should be fetched over HTTP instead of read from disk.
func IsURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// DownloadImage 下载图片
func DownloadImage(ctx context.Context, cli nhttp.IClient, url string) (image.Image, error) {
	var data []byte
	err := cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: url,
		Method:     http.MethodGet,
		Response:   &data,
	})
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}

	return imaging.Decode(bytes.NewReader(data))
}

// OpenImage 打开本地图片
func OpenImage(path string) (image.Image, error) {
	return imaging.Open(path)
}
