package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/makeasinger/mediagen/internal/apperr"
	"github.com/makeasinger/mediagen/internal/model"
)

const (
	giteeUpscaleModel = "SeedVR2-3B"
	giteeMattingModel = "RMBG-2.0"
)

// GiteeAdapter serves text-to-image plus the upscale and background-removal
// tools on Gitee AI.
type GiteeAdapter struct {
	base
}

func NewGiteeAdapter(b base) *GiteeAdapter {
	return &GiteeAdapter{base: b}
}

func (a *GiteeAdapter) root() string {
	return strings.TrimRight(a.channel.BaseURL, "/") + "/"
}

func (a *GiteeAdapter) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	key, err := a.ready()
	if err != nil {
		return nil, err
	}

	switch {
	case req.Kind == model.KindGiteeUpscale || req.Model.APIModel == giteeUpscaleModel:
		return a.tool(ctx, key, req, toolSpec{
			path:     "v1/images/upscaling",
			filename: "input.jpg",
			fields:   map[string]string{"outscale": "1", "output_format": "jpg"},
			mime:     "image/jpeg",
		})
	case req.Kind == model.KindGiteeMatting || req.Model.APIModel == giteeMattingModel:
		return a.tool(ctx, key, req, toolSpec{
			path:     "v1/images/mattings",
			filename: "input.webp",
			headers:  map[string]string{"X-Failover-Enabled": "true"},
			mime:     "image/png",
		})
	}

	payload := imagesRequest{
		Model:  req.Model.APIModel,
		Prompt: req.Prompt,
		Size:   req.Model.SizeFor(req.Params.AspectRatio, req.Params.ImageSize),
	}
	var resp imagesResponse
	headers := map[string]string{"Authorization": "Bearer " + key}
	if err := a.postJSON(ctx, a.root()+"v1/images/generations", headers, payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, apperr.Provider(a.provider, 0, "response contained no image")
	}
	u, _ := resp.first("image/png")
	return &GenerateResult{URL: u}, nil
}

type toolSpec struct {
	path     string
	filename string
	fields   map[string]string
	headers  map[string]string
	// mime is used for inline results that carry no type
	mime string
}

func (a *GiteeAdapter) tool(ctx context.Context, key string, req *GenerateRequest, spec toolSpec) (*GenerateResult, error) {
	if len(req.Params.Images) == 0 || req.Params.Images[0].Data == "" {
		return nil, apperr.Provider(a.provider, 0, "reference image required")
	}
	input := req.Params.Images[0]

	var raw []byte
	var inputMime string
	if !isRemote(input.Data) {
		var payload string
		inputMime, payload = splitDataURL(input.Data, orDefault(input.MimeType, "application/octet-stream"))
		var err error
		raw, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, apperr.Provider(a.provider, 0, "reference image is not valid base64")
		}
	}

	build := func() (*http.Request, error) {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		_ = w.WriteField("model", req.Model.APIModel)
		for k, v := range spec.fields {
			_ = w.WriteField(k, v)
		}
		if raw == nil {
			_ = w.WriteField("image_url", input.Data)
		} else {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, spec.filename))
			h.Set("Content-Type", inputMime)
			part, err := w.CreatePart(h)
			if err != nil {
				return nil, err
			}
			if _, err := part.Write(raw); err != nil {
				return nil, err
			}
		}
		if err := w.Close(); err != nil {
			return nil, err
		}

		r, err := http.NewRequestWithContext(ctx, http.MethodPost, a.root()+spec.path, &body)
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", w.FormDataContentType())
		r.Header.Set("Authorization", "Bearer "+key)
		for k, v := range spec.headers {
			r.Header.Set(k, v)
		}
		return r, nil
	}

	resp, err := a.doWithRetry(ctx, build)
	if err != nil {
		return nil, err
	}
	var out imagesResponse
	if err := a.decode(resp, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, apperr.Provider(a.provider, 0, "response contained no image")
	}
	if out.Data[0].URL != "" {
		return &GenerateResult{URL: out.Data[0].URL}, nil
	}
	u, ok := out.first(spec.mime)
	if !ok {
		return nil, apperr.Provider(a.provider, 0, "response contained no image")
	}
	return &GenerateResult{URL: u}, nil
}
