package client

import (
	"context"
	"net/url"

	"github.com/makeasinger/mediagen/internal/apperr"
)

// GeminiAdapter calls the native generateContent API.
type GeminiAdapter struct {
	base
}

func NewGeminiAdapter(b base) *GeminiAdapter {
	return &GeminiAdapter{base: b}
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		ImageConfig struct {
			AspectRatio string `json:"aspectRatio"`
			ImageSize   string `json:"imageSize,omitempty"`
		} `json:"imageConfig"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (a *GeminiAdapter) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	key, err := a.ready()
	if err != nil {
		return nil, err
	}

	var parts []geminiPart
	for _, img := range req.Params.Images {
		mime, data := splitDataURL(img.Data, img.MimeType)
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{MimeType: mime, Data: data}})
	}
	if req.Prompt != "" {
		parts = append(parts, geminiPart{Text: req.Prompt})
	}

	payload := geminiRequest{Contents: []geminiContent{{Parts: parts}}}
	payload.GenerationConfig.ImageConfig.AspectRatio = req.Params.AspectRatio
	if payload.GenerationConfig.ImageConfig.AspectRatio == "" {
		payload.GenerationConfig.ImageConfig.AspectRatio = "1:1"
	}
	payload.GenerationConfig.ImageConfig.ImageSize = req.Params.ImageSize

	endpoint := a.endpoint("/v1beta/models/"+url.PathEscape(req.Model.APIModel)+":generateContent") + "?key=" + url.QueryEscape(key)

	var resp geminiResponse
	if err := a.postJSON(ctx, endpoint, nil, payload, &resp); err != nil {
		return nil, err
	}

	if len(resp.Candidates) == 0 {
		return nil, apperr.Provider(a.provider, 0, "response contained no image")
	}
	var text string
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.InlineData != nil && p.InlineData.Data != "" {
			mime := p.InlineData.MimeType
			if mime == "" {
				mime = "image/png"
			}
			return &GenerateResult{URL: "data:" + mime + ";base64," + p.InlineData.Data}, nil
		}
		if text == "" && p.Text != "" {
			text = p.Text
		}
	}
	if text != "" {
		return nil, apperr.Provider(a.provider, 0, "generation failed: "+text)
	}
	return nil, apperr.Provider(a.provider, 0, "response contained no image")
}
