package rembg

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/segmentio/ksuid"

	nhttp "github.com/chaos-io/rembg/util/http"
)

const (
	BiRefNetModel = "BiRefNet"

	// workflowImagePlaceholder marks the LoadImage input in a workflow file.
	workflowImagePlaceholder = "MyImage.png"
)

//go:embed workflow.json
var workflowData string

// BiRefNetRemBG runs a BiRefNet workflow on a ComfyUI instance.
type BiRefNetRemBG struct {
	baseURL      string
	cli          nhttp.IClient
	workflow     string
	clientID     string
	pollInterval time.Duration
}

func NewBiRefNetRemBG(baseURL string, cli nhttp.IClient) *BiRefNetRemBG {
	return &BiRefNetRemBG{
		baseURL:      strings.TrimRight(baseURL, "/"),
		cli:          cli,
		workflow:     workflowData,
		clientID:     ksuid.New().String(),
		pollInterval: 500 * time.Millisecond,
	}
}

// LoadWorkflow replaces the embedded workflow with the API-format workflow at
// path. Its image loader must reference MyImage.png.
func (b *BiRefNetRemBG) LoadWorkflow(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read workflow: %w", err)
	}
	if !strings.Contains(string(data), workflowImagePlaceholder) {
		return fmt.Errorf("workflow %s does not reference %s", path, workflowImagePlaceholder)
	}
	if !json.Valid(data) {
		return fmt.Errorf("workflow %s is not valid json", path)
	}
	b.workflow = string(data)
	return nil
}

func (b *BiRefNetRemBG) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	uploaded, err := b.uploadImage(ctx, img)
	if err != nil {
		return nil, err
	}

	promptID, err := b.prompt(ctx, uploaded)
	if err != nil {
		return nil, err
	}

	out, err := b.waitForOutput(ctx, promptID)
	if err != nil {
		return nil, err
	}

	return b.download(ctx, out)
}

// comfyImage identifies a file known to ComfyUI.
type comfyImage struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

/*
	curl -X POST "$BASE_URL/api/upload/image" \
	  -F "image=@my_image.png" \
	  -F "type=input" \
	  -F "overwrite=true"

{"name": "my_image1.png", "subfolder": "", "type": "input"}
*/
func (b *BiRefNetRemBG) uploadImage(ctx context.Context, img image.Image) (*comfyImage, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", ksuid.New().String()+".png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if err := png.Encode(part, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	_ = writer.WriteField("type", "input")
	_ = writer.WriteField("overwrite", "true")
	_ = writer.Close()

	resp := &comfyImage{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + "/api/upload/image",
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   resp,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	if resp.Name == "" {
		return nil, errors.New("upload image: empty file name in response")
	}

	slog.Debug("uploaded image", "name", resp.Name, "subfolder", resp.Subfolder)
	return resp, nil
}

type promptResp struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors"`
}

/*
	curl -X POST "$BASE_URL/api/prompt" \
	  -H "Content-Type: application/json" \
	  -d '{"prompt": '"$(cat workflow.json)"'}'
*/
func (b *BiRefNetRemBG) prompt(ctx context.Context, uploaded *comfyImage) (string, error) {
	name := uploaded.Name
	if uploaded.Subfolder != "" {
		name = uploaded.Subfolder + "/" + name
	}

	// marshal the name so quotes and backslashes survive the substitution
	quoted, err := json.Marshal(name)
	if err != nil {
		return "", fmt.Errorf("marshal image name: %w", err)
	}
	workflow := strings.Replace(b.workflow, `"`+workflowImagePlaceholder+`"`, string(quoted), 1)

	wk := map[string]any{}
	if err := json.Unmarshal([]byte(workflow), &wk); err != nil {
		return "", fmt.Errorf("unmarshal workflow data: %w", err)
	}

	resp := &promptResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + "/api/prompt",
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": "application/json"},
		Body:       map[string]any{"prompt": wk, "client_id": b.clientID},
		Response:   resp,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return "", fmt.Errorf("queue prompt: %w", err)
	}
	if len(resp.NodeErrors) > 0 {
		return "", fmt.Errorf("queue prompt: node errors %v", resp.NodeErrors)
	}
	if resp.PromptID == "" {
		return "", errors.New("queue prompt: empty prompt id")
	}

	slog.Debug("queued prompt", "model", BiRefNetModel, "prompt_id", resp.PromptID, "number", resp.Number)
	return resp.PromptID, nil
}

type historyEntry struct {
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []comfyImage `json:"images"`
	} `json:"outputs"`
}

// waitForOutput polls the prompt history until the prompt produced an image.
func (b *BiRefNetRemBG) waitForOutput(ctx context.Context, promptID string) (*comfyImage, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		out, done, err := b.checkHistory(ctx, promptID)
		if err != nil || done {
			return out, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for prompt %s: %w", promptID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (b *BiRefNetRemBG) checkHistory(ctx context.Context, promptID string) (*comfyImage, bool, error) {
	history := map[string]historyEntry{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + "/api/history/" + promptID,
		Method:     http.MethodGet,
		Response:   &history,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, false, fmt.Errorf("get history: %w", err)
	}

	entry, ok := history[promptID]
	if !ok {
		return nil, false, nil
	}
	if entry.Status.StatusStr == "error" {
		return nil, true, fmt.Errorf("prompt %s failed", promptID)
	}
	for _, output := range entry.Outputs {
		if len(output.Images) > 0 {
			return &output.Images[0], true, nil
		}
	}
	if entry.Status.Completed {
		return nil, true, fmt.Errorf("prompt %s completed without images", promptID)
	}
	return nil, false, nil
}

func (b *BiRefNetRemBG) download(ctx context.Context, out *comfyImage) (image.Image, error) {
	var data []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + "/api/view",
		Method:     http.MethodGet,
		Query: map[string]string{
			"filename":  out.Filename,
			"subfolder": out.Subfolder,
			"type":      out.Type,
		},
		Response: &data,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("download output: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	return img, nil
}
