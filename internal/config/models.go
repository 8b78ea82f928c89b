package config

import "strings"

// DefaultModels is the catalog used when config.yaml declares none.
// A zero Cost falls back to the pricing rules in CostFor.
func DefaultModels() []ModelConfig {
	return []ModelConfig{
		{ID: "sora-video-landscape-10s", Name: "Sora Video Landscape 10s", Channel: "sora", APIModel: "sora-video-landscape-10s", Kind: "sora-video", Enabled: true},
		{ID: "sora-video-portrait-10s", Name: "Sora Video Portrait 10s", Channel: "sora", APIModel: "sora-video-portrait-10s", Kind: "sora-video", Enabled: true},
		{ID: "sora-video-landscape-15s", Name: "Sora Video Landscape 15s", Channel: "sora", APIModel: "sora-video-landscape-15s", Kind: "sora-video", Enabled: true},
		{ID: "sora-video-portrait-15s", Name: "Sora Video Portrait 15s", Channel: "sora", APIModel: "sora-video-portrait-15s", Kind: "sora-video", Enabled: true},
		{ID: "sora-image", Name: "Sora Image", Channel: "sora", APIModel: "sora-image", Kind: "sora-image", Cost: 5, Enabled: true},
		{ID: "gemini-nano", Name: "Gemini Flash Image", Channel: "gemini", APIModel: "gemini-2.5-flash-image", Kind: "gemini-image", Enabled: true},
		{ID: "gemini-pro", Name: "Gemini Pro Image", Channel: "gemini", APIModel: "gemini-3-pro-image-preview", Kind: "gemini-image", Enabled: true},
		{ID: "z-image-turbo", Name: "Z-Image Turbo", Channel: "gitee", APIModel: "z-image-turbo", Kind: "gitee-image", Cost: 2, Enabled: true,
			Resolutions: map[string]any{"1:1": "1024x1024", "16:9": "1344x768", "9:16": "768x1344"}},
		{ID: "upscale", Name: "SeedVR2 Upscale", Channel: "gitee", APIModel: "SeedVR2-3B", Kind: "gitee-upscale", Cost: 2, Enabled: true},
		{ID: "matting", Name: "RMBG Background Removal", Channel: "gitee", APIModel: "RMBG-2.0", Kind: "gitee-matting", Cost: 1, Enabled: true},
		{ID: "qwen-image", Name: "Qwen Image", Channel: "modelscope", APIModel: "Qwen/Qwen-Image", Kind: "modelscope-image", Cost: 3, Enabled: true,
			Resolutions: map[string]any{"1:1": "1328x1328", "16:9": "1664x928", "9:16": "928x1664"}},
		{ID: "gpt-image", Name: "GPT Image", Channel: "openai", APIModel: "gpt-image-1", Kind: "openai-image", Cost: 8, Enabled: true},
		{ID: "chat-image", Name: "Chat Image", Channel: "openaichat", APIModel: "gemini-2.5-flash-image", Kind: "chat-image", Cost: 5, Enabled: true},
	}
}

// CharacterCardModel is the fixed entry character registration runs on.
// Character cards are free.
func CharacterCardModel() ModelConfig {
	return ModelConfig{
		ID:       "character-card",
		Name:     "Sora Character Card",
		Channel:  "sora",
		APIModel: "sora-video-landscape-10s",
		Kind:     "character-card",
		Enabled:  true,
	}
}

// Model looks up an enabled catalog entry by id.
func (c *Config) Model(id string) (ModelConfig, bool) {
	for _, m := range c.Models {
		if m.ID == id && m.Enabled {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// CostFor returns the credit cost of one generation with m.
func (p PricingConfig) CostFor(m ModelConfig) int64 {
	if m.Cost > 0 {
		return m.Cost
	}
	switch m.Kind {
	case "sora-video":
		if strings.Contains(m.APIModel, "15s") {
			return p.SoraVideo15s
		}
		return p.SoraVideo10s
	case "gemini-image":
		if strings.Contains(strings.ToLower(m.APIModel), "pro") {
			return p.GeminiPro
		}
		return p.GeminiNano
	}
	return 0
}

// SizeFor resolves the provider size string for an aspect ratio and optional
// image size. Nested maps are keyed by image size first.
func (m ModelConfig) SizeFor(aspectRatio, imageSize string) string {
	if aspectRatio == "" || m.Resolutions == nil {
		return ""
	}
	if imageSize != "" {
		if nested, ok := asStringMap(m.Resolutions[imageSize]); ok {
			return nested[aspectRatio]
		}
	}
	if s, ok := m.Resolutions[aspectRatio].(string); ok {
		return s
	}
	return ""
}

func asStringMap(v any) (map[string]string, bool) {
	switch t := v.(type) {
	case map[string]string:
		return t, true
	case map[string]any:
		out := make(map[string]string, len(t))
		for k, val := range t {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out, true
	}
	return nil, false
}
