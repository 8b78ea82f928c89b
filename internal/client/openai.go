package client

import (
	"context"

	"github.com/makeasinger/mediagen/internal/apperr"
)

var openAISizes = map[string]string{
	"1:1":  "1024x1024",
	"16:9": "1792x1024",
	"9:16": "1024x1792",
	"3:2":  "1536x1024",
	"2:3":  "1024x1536",
}

// OpenAIImageAdapter calls an OpenAI-compatible /v1/images/generations.
type OpenAIImageAdapter struct {
	base
}

func NewOpenAIImageAdapter(b base) *OpenAIImageAdapter {
	return &OpenAIImageAdapter{base: b}
}

type imagesRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
	InputImage     string `json:"input_image,omitempty"`
}

type imagesResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
		Type    string `json:"type"`
	} `json:"data"`
}

// first returns the first image as a URL, using mime for inline payloads.
func (r *imagesResponse) first(mime string) (string, bool) {
	if len(r.Data) == 0 {
		return "", false
	}
	d := r.Data[0]
	if d.B64JSON != "" {
		if d.Type != "" {
			mime = d.Type
		}
		return "data:" + mime + ";base64," + d.B64JSON, true
	}
	if d.URL != "" {
		return d.URL, true
	}
	return "", false
}

func (a *OpenAIImageAdapter) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	key, err := a.ready()
	if err != nil {
		return nil, err
	}

	payload := imagesRequest{
		Model:          req.Model.APIModel,
		Prompt:         req.Prompt,
		N:              1,
		ResponseFormat: "b64_json",
	}
	if req.Params.AspectRatio != "" {
		size := req.Model.SizeFor(req.Params.AspectRatio, req.Params.ImageSize)
		if size == "" {
			size = openAISizes[req.Params.AspectRatio]
		}
		if size == "" {
			size = "1024x1024"
		}
		payload.Size = size
	}

	var resp imagesResponse
	headers := map[string]string{"Authorization": "Bearer " + key}
	if err := a.postJSON(ctx, a.endpoint("/v1/images/generations"), headers, payload, &resp); err != nil {
		return nil, err
	}
	u, ok := resp.first("image/png")
	if !ok {
		return nil, apperr.Provider(a.provider, 0, "response contained no image")
	}
	return &GenerateResult{URL: u}, nil
}
