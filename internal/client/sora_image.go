package client

import (
	"context"

	"github.com/makeasinger/mediagen/internal/apperr"
)

// SoraImageAdapter calls the Sora proxy's image endpoint. The aspect ratio
// selects both the model variant and the size.
type SoraImageAdapter struct {
	base
}

func NewSoraImageAdapter(b base) *SoraImageAdapter {
	return &SoraImageAdapter{base: b}
}

func soraImageVariant(apiModel, aspectRatio string) (model, size string) {
	switch aspectRatio {
	case "16:9":
		return "sora-image-landscape", "1792x1024"
	case "9:16":
		return "sora-image-portrait", "1024x1792"
	case "":
		if apiModel != "" {
			return apiModel, "1024x1024"
		}
	}
	return "sora-image", "1024x1024"
}

func (a *SoraImageAdapter) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	key, err := a.ready()
	if err != nil {
		return nil, err
	}

	m, size := soraImageVariant(req.Model.APIModel, req.Params.AspectRatio)
	payload := imagesRequest{
		Model:          m,
		Prompt:         req.Prompt,
		N:              1,
		Size:           size,
		ResponseFormat: "url",
	}
	if len(req.Params.Images) > 0 {
		img := req.Params.Images[0]
		payload.InputImage = asDataURL(img.Data, img.MimeType)
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
