package segment

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
	"net/url"
	"strings"
	"time"

	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/util"
	nhttp "github.com/chaos-io/cutout/util/http"
	"github.com/segmentio/ksuid"
)

const (
	BiRefNetModel = "BiRefNet-general"

	uploadPath  = "api/upload/image"
	promptPath  = "api/prompt"
	historyPath = "api/history/"
	viewPath    = "api/view"

	defaultPollInterval = 500 * time.Millisecond
)

//go:embed workflow.json
var workflowData []byte

// RemoteConfig ComfyUI 兼容推理服务的配置
type RemoteConfig struct {
	BaseURL string
	// Model 写入 workflow 中带 model 输入的节点，为空时保留 workflow 里的值
	Model string
	// Workflow API 格式的 workflow，为空时使用内置的 BiRefNet 去背景 workflow
	Workflow []byte
	Shape    MaskShape
	// Confidence 固定置信度；<= 0 时按覆盖率估计
	Confidence   float64
	PollInterval time.Duration
}

// RemoteSource 通过 ComfyUI HTTP API 调用分割模型：
// 上传图片 → 提交 workflow → 轮询 history → 下载输出图片
type RemoteSource struct {
	cfg RemoteConfig
	cli nhttp.IClient
}

func NewRemoteSource(cfg RemoteConfig, cli nhttp.IClient) *RemoteSource {
	if cli == nil {
		cli = nhttp.NewHTTPClient()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if len(cfg.Workflow) == 0 {
		cfg.Workflow = workflowData
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/"
	return &RemoteSource{cfg: cfg, cli: cli}
}

func (b *RemoteSource) Segment(ctx context.Context, img image.Image) (*Outcome, error) {
	if strings.Trim(b.cfg.BaseURL, "/") == "" {
		return nil, fmt.Errorf("remote model: %w", ErrUnavailable)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	ReportProgress(ctx, "upload", 10)
	uploaded, err := b.uploadImage(ctx, ksuid.New().String()+".png", buf.Bytes())
	if err != nil {
		return nil, err
	}

	ReportProgress(ctx, "queue", 30)
	promptID, err := b.prompt(ctx, uploaded)
	if err != nil {
		return nil, err
	}

	out, err := b.waitForOutput(ctx, promptID)
	if err != nil {
		return nil, err
	}

	ReportProgress(ctx, "download", 85)
	result, err := b.download(ctx, out)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	r := Normalize(result, b.cfg.Shape, mask.Dims{Width: bounds.Dx(), Height: bounds.Dy()})
	confidence := b.cfg.Confidence
	if confidence <= 0 {
		confidence = CoverageConfidence(r)
	}
	return &Outcome{Raster: r, Confidence: confidence}, nil
}

type imageRef struct {
	Name      string `json:"name,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// LoadImage 节点引用的文件名，带子目录
func (r imageRef) inputName() string {
	if r.Subfolder == "" {
		return r.Name
	}
	return r.Subfolder + "/" + r.Name
}

/*
	curl -X POST "$BASE_URL/api/upload/image" \
	  -F "image=@my_image.png" \
	  -F "type=input" \
	  -F "overwrite=true"

{"name": "my_image1.png", "subfolder": "", "type": "input"}%
*/
func (b *RemoteSource) uploadImage(ctx context.Context, name string, data []byte) (*imageRef, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	// image 文件字段
	part, err := writer.CreateFormFile("image", name)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}

	// 其他字段
	_ = writer.WriteField("type", "input")
	_ = writer.WriteField("overwrite", "true")
	_ = writer.Close()

	resp := &imageRef{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.cfg.BaseURL + uploadPath,
		Method:     "POST",
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

	slog.Debug("get the upload response", "response", resp)
	return resp, nil
}

type promptResp struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors"`
}

/*
	curl -X POST "$BASE_URL/api/prompt" \
	  -H "Content-Type: application/json" \
	  -d '{"prompt": '"$(cat workflow.json)"'}'
*/
func (b *RemoteSource) prompt(ctx context.Context, uploaded *imageRef) (string, error) {
	wk := map[string]map[string]any{}
	if err := json.Unmarshal(b.cfg.Workflow, &wk); err != nil {
		return "", fmt.Errorf("unmarshal workflow data: %w", err)
	}

	for id, node := range wk {
		inputs, _ := node["inputs"].(map[string]any)
		if inputs == nil {
			continue
		}
		switch node["class_type"] {
		case "LoadImage":
			inputs["image"] = uploaded.inputName()
		case "SaveImage":
			inputs["filename_prefix"] = "cutout_" + strings.TrimSuffix(uploaded.Name, ".png")
		default:
			if _, ok := inputs["model"]; ok && b.cfg.Model != "" {
				inputs["model"] = b.cfg.Model
				slog.Debug("set workflow model", "node", id, "model", b.cfg.Model)
			}
		}
	}

	resp := &promptResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.cfg.BaseURL + promptPath,
		Method:     "POST",
		Header:     map[string]string{"Content-Type": "application/json"},
		Body:       map[string]any{"prompt": wk, "client_id": "cutout"},
		Response:   resp,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return "", fmt.Errorf("queue prompt: %w", err)
	}
	if len(resp.NodeErrors) > 0 && string(resp.NodeErrors) != "{}" && string(resp.NodeErrors) != "null" {
		return "", fmt.Errorf("queue prompt: node errors: %s", resp.NodeErrors)
	}
	if resp.PromptID == "" {
		return "", errors.New("queue prompt: empty prompt id")
	}

	slog.Debug("prompt queued", "prompt_id", resp.PromptID, "number", resp.Number)
	return resp.PromptID, nil
}

type historyEntry struct {
	Outputs map[string]struct {
		Images []imageRef `json:"images"`
	} `json:"outputs"`
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
}

// waitForOutput 轮询 history 直到 prompt 完成，返回第一张输出图片
func (b *RemoteSource) waitForOutput(ctx context.Context, promptID string) (*imageRef, error) {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	percent := 30
	for {
		history := map[string]historyEntry{}
		reqParam := &nhttp.RequestParam{
			RequestURI: b.cfg.BaseURL + historyPath + url.PathEscape(promptID),
			Method:     "GET",
			Response:   &history,
		}
		if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
			return nil, fmt.Errorf("get history: %w", err)
		}

		if entry, ok := history[promptID]; ok {
			if entry.Status.StatusStr == "error" {
				return nil, fmt.Errorf("prompt %s: execution error", promptID)
			}
			for _, out := range entry.Outputs {
				if len(out.Images) > 0 {
					return &out.Images[0], nil
				}
			}
			if entry.Status.Completed {
				return nil, fmt.Errorf("prompt %s: completed without output image", promptID)
			}
		}

		// check status
		if percent < 80 {
			percent += 5
		}
		ReportProgress(ctx, "inference", percent)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for prompt %s: %w", promptID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (b *RemoteSource) download(ctx context.Context, ref *imageRef) (image.Image, error) {
	var data []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: b.cfg.BaseURL + viewPath,
		Method:     "GET",
		Query: map[string]string{
			"filename":  ref.Filename,
			"subfolder": ref.Subfolder,
			"type":      ref.Type,
		},
		Response: &data,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("download output: %w", err)
	}

	img, err := util.DecodeImage(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("download output: %w", err)
	}
	return img, nil
}
