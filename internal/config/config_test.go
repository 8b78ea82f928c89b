package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SORA_BASE_URL", "https://sora.example.com")
	t.Setenv("SORA_API_KEY", "k1, k2,,k3")
	t.Setenv("PRICING_SORA_VIDEO_15S", "60")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	sora := cfg.Channels["sora"]
	assert.Equal(t, ChannelSora, sora.Type)
	assert.Equal(t, "https://sora.example.com", sora.BaseURL)
	assert.Equal(t, []string{"k1", "k2", "k3"}, sora.Keys())
	assert.EqualValues(t, 60, cfg.Pricing.SoraVideo15s)
	assert.NotEmpty(t, cfg.Models)
}

func TestLoad_SecretFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	secret := filepath.Join(dir, "gemini_key")
	require.NoError(t, os.WriteFile(secret, []byte("from-file\n"), 0o600))
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY_FILE", secret)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Channels["gemini"].APIKeys)
}

func TestLoad_ConfigFileCatalog(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := `
channels:
  backup-gemini:
    type: gemini
    base_url: https://backup.example.com
    api_keys: abc
models:
  - id: my-model
    channel: backup-gemini
    api_model: gemini-pro-vision
    kind: gemini-image
    enabled: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load()
	require.NoError(t, err)

	ch, ok := cfg.Channels["backup-gemini"]
	require.True(t, ok)
	assert.Equal(t, ChannelGemini, ch.Type)
	m, ok := cfg.Model("my-model")
	require.True(t, ok)
	assert.Equal(t, "backup-gemini", m.Channel)
	_, ok = cfg.Model("sora-image")
	assert.False(t, ok, "declared catalog replaces defaults")
}

func TestPricing_CostFor(t *testing.T) {
	p := PricingConfig{SoraVideo10s: 30, SoraVideo15s: 45, GeminiPro: 10, GeminiNano: 4}

	assert.EqualValues(t, 45, p.CostFor(ModelConfig{Kind: "sora-video", APIModel: "sora-video-landscape-15s"}))
	assert.EqualValues(t, 30, p.CostFor(ModelConfig{Kind: "sora-video", APIModel: "sora-video-landscape-10s"}))
	assert.EqualValues(t, 10, p.CostFor(ModelConfig{Kind: "gemini-image", APIModel: "gemini-3-Pro-image"}))
	assert.EqualValues(t, 4, p.CostFor(ModelConfig{Kind: "gemini-image", APIModel: "gemini-2.5-flash-image"}))
	assert.EqualValues(t, 7, p.CostFor(ModelConfig{Kind: "gemini-image", Cost: 7}))
}

func TestModel_SizeFor(t *testing.T) {
	m := ModelConfig{Resolutions: map[string]any{
		"1:1": "1024x1024",
		"2K":  map[string]any{"1:1": "2048x2048", "16:9": "2560x1440"},
	}}

	assert.Equal(t, "1024x1024", m.SizeFor("1:1", ""))
	assert.Equal(t, "2560x1440", m.SizeFor("16:9", "2K"))
	assert.Equal(t, "", m.SizeFor("16:9", ""))
	assert.Equal(t, "", m.SizeFor("", "2K"))
}
