package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/makeasinger/mediagen/internal/apperr"
	"github.com/makeasinger/mediagen/internal/config"
	"github.com/makeasinger/mediagen/internal/extract"
)

var sizeLikeRe = regexp.MustCompile(`^\d+x\d+$`)

// OpenAIChatAdapter generates images through a streaming chat-completions
// endpoint whose reply carries the image URL in its text.
type OpenAIChatAdapter struct {
	base
}

func NewOpenAIChatAdapter(b base) *OpenAIChatAdapter {
	return &OpenAIChatAdapter{base: b}
}

type chatContentPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *chatURLObject `json:"image_url,omitempty"`
	VideoURL *chatURLObject `json:"video_url,omitempty"`
}

type chatURLObject struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// chatModelFor maps aspect ratio (and optionally image size) to a concrete
// model name via the catalog resolutions. Size strings such as 1024x1024 are
// not model names and are ignored.
func chatModelFor(m config.ModelConfig, aspectRatio, imageSize string) string {
	if aspectRatio == "" || m.Resolutions == nil {
		return m.APIModel
	}
	switch v := m.Resolutions[aspectRatio].(type) {
	case string:
		if v != "" && !sizeLikeRe.MatchString(v) {
			return v
		}
	case map[string]any:
		if s, ok := v[imageSize].(string); ok && imageSize != "" && s != "" && !sizeLikeRe.MatchString(s) {
			return s
		}
	case map[string]string:
		if s := v[imageSize]; imageSize != "" && s != "" && !sizeLikeRe.MatchString(s) {
			return s
		}
	}
	return m.APIModel
}

// userContent collapses a lone text part into a plain string.
func userContent(parts []chatContentPart) any {
	if len(parts) == 1 && parts[0].Type == "text" {
		return parts[0].Text
	}
	return parts
}

func (a *OpenAIChatAdapter) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	key, err := a.ready()
	if err != nil {
		return nil, err
	}

	var parts []chatContentPart
	for _, img := range req.Params.Images {
		parts = append(parts, chatContentPart{Type: "image_url", ImageURL: &chatURLObject{URL: asDataURL(img.Data, img.MimeType)}})
	}
	if req.Prompt != "" {
		parts = append(parts, chatContentPart{Type: "text", Text: req.Prompt})
	}

	payload := chatRequest{
		Model:    chatModelFor(req.Model, req.Params.AspectRatio, req.Params.ImageSize),
		Messages: []chatMessage{{Role: "user", Content: userContent(parts)}},
		Stream:   true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := a.doWithRetry(ctx, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint("/v1/chat/completions"), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Authorization", "Bearer "+key)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	acc := extract.NewAccumulator(func(delta string) { req.progress(-1, delta) })
	err = readSSE(resp.Body, func(data []byte) error {
		chunk, ok := decodeChunk(data)
		if !ok || len(chunk.Choices) == 0 {
			return nil
		}
		acc.Add(chunk.Choices[0].Delta.Content)
		return nil
	})
	if err != nil && acc.Content() == "" {
		return nil, apperr.Provider(a.provider, 0, "stream interrupted: "+err.Error())
	}

	u, perr := parseChatImage(acc.Content())
	if perr != nil {
		return nil, apperr.Provider(a.provider, 0, perr.Error())
	}
	return &GenerateResult{URL: u}, nil
}

// parseChatImage reads {"url": ...}, else the first http(s) URL, else a bare
// data:image/ payload.
func parseChatImage(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.New("API returned success but no content")
	}
	var obj struct {
		URL string `json:"url"`
	}
	if json.Unmarshal([]byte(content), &obj) == nil && obj.URL != "" {
		return obj.URL, nil
	}
	if u := bareURL(content); u != "" {
		return u, nil
	}
	if strings.HasPrefix(content, "data:image/") {
		return content, nil
	}
	return "", errors.New("cannot parse response: " + truncate(content, 200))
}

var bareURLRe = regexp.MustCompile(`https?://[^\s"'<>]+`)

func bareURL(s string) string { return bareURLRe.FindString(s) }
