package extract

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/makeasinger/mediagen/internal/apperr"
)

func TestVideoURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"video tag", `...<video src="https://x/y.mp4">...`, "https://x/y.mp4"},
		{"tag with attrs", `<VIDEO controls src='https://cdn/a.mp4' width="100">`, "https://cdn/a.mp4"},
		{"fenced html", "```html\n<video controls src=\"https://cdn/b.mp4\"></video>\n```", "https://cdn/b.mp4"},
		{"bare url", "Your video is ready: https://cdn/c.mp4 enjoy", "https://cdn/c.mp4"},
		{"tag beats earlier bare url", `see https://docs/help then <video src="https://cdn/d.mp4">`, "https://cdn/d.mp4"},
		{"nothing", "still rendering 42%", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VideoURL(tt.in))
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, "<b>x</b>\n", StripCodeFence("```html\n<b>x</b>\n```"))
	assert.Equal(t, "plain", StripCodeFence("  plain  "))
}

func TestViolation(t *testing.T) {
	reason, ok := Violation(`{"kind":"sora_moderation","reason_str":"face detected"}`)
	assert.True(t, ok)
	assert.Equal(t, "face detected", reason)

	reason, ok = Violation(`content_violation {"markdown_reason_str":"too spicy"}`)
	assert.True(t, ok)
	assert.Equal(t, "too spicy", reason)

	reason, ok = Violation("We do not support uploads of photorealistic people")
	assert.True(t, ok)
	assert.Equal(t, "content policy violation", reason)

	_, ok = Violation("Generating video, progress 80%")
	assert.False(t, ok)
}

func TestResolve(t *testing.T) {
	out := Resolve(`...<video src="https://x/y.mp4">...`, true)
	require.NoError(t, out.Err)
	assert.Equal(t, "https://x/y.mp4", out.URL)

	out = Resolve("This request may violate our policies https://x/y.mp4", true)
	var policyErr *apperr.ContentPolicyError
	require.True(t, errors.As(out.Err, &policyErr))
	assert.Empty(t, out.URL)

	out = Resolve("progress 10%", false)
	assert.False(t, out.Decided())

	out = Resolve(strings.Repeat("a", 300), true)
	var provErr *apperr.ProviderError
	require.True(t, errors.As(out.Err, &provErr))
	assert.Equal(t, "no result url in response: "+strings.Repeat("a", 200), provErr.Message)
}

func TestCharacterName(t *testing.T) {
	assert.Equal(t, "lotuswhisp719", CharacterName("创建成功，角色名 @lotuswhisp719 (@other)"))
	assert.Equal(t, "lotuswhisp719", CharacterName("Lotus Whisper (@lotuswhisp719) by @creator"))
	assert.Equal(t, "second", CharacterName("@first then @second"))
	assert.Equal(t, "", CharacterName("no handle here"))
}

func TestAccumulator(t *testing.T) {
	var emitted []string
	acc := NewAccumulator(func(d string) { emitted = append(emitted, d) })

	acc.Add("<video ")
	acc.Add("")
	acc.Add(`src="https://x/y.mp4">`)
	assert.Equal(t, []string{"<video ", `src="https://x/y.mp4">`}, emitted)
	assert.False(t, acc.Finished())

	acc.Finish()
	out := acc.Resolve()
	assert.Equal(t, "https://x/y.mp4", out.URL)
}

func TestResolve_ViolationAlwaysWins(t *testing.T) {
	signatures := []string{
		"sora_content_violation",
		"CONTENT_VIOLATION",
		"this would violate policy",
		`{"kind": "sora_block"}`,
		"we do not support editing photorealistic people",
	}
	rapid.Check(t, func(t *rapid.T) {
		prose := rapid.StringMatching(`[a-h ,.]{0,40}`).Draw(t, "prose")
		path := rapid.StringMatching(`[a-z0-9]{1,16}`).Draw(t, "path")
		sig := rapid.SampledFrom(signatures).Draw(t, "signature")
		content := prose + ` <video src="https://cdn/` + path + `.mp4"> ` + sig

		out := Resolve(content, rapid.Bool().Draw(t, "finished"))
		if out.URL != "" {
			t.Fatalf("resolved to url %q despite violation", out.URL)
		}
		var policyErr *apperr.ContentPolicyError
		if !errors.As(out.Err, &policyErr) {
			t.Fatalf("expected policy error, got %v", out.Err)
		}
	})
}

func TestResolve_VideoTagRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		before := rapid.StringMatching(`[a-h ,.]{0,40}`).Draw(t, "before")
		after := rapid.StringMatching(`[a-h ,.]{0,40}`).Draw(t, "after")
		path := rapid.StringMatching(`[a-z0-9]{1,16}(/[a-z0-9]{1,8}){0,2}`).Draw(t, "path")
		want := "https://cdn.example/" + path + ".mp4"
		content := before + `<video src="` + want + `">` + after

		out := Resolve(content, true)
		if out.Err != nil || out.URL != want {
			t.Fatalf("got %+v, want url %q", out, want)
		}
	})
}

func TestProgress(t *testing.T) {
	p, ok := Progress("生成中 12% ... 45.5%")
	assert.True(t, ok)
	assert.Equal(t, 45, p)

	_, ok = Progress("no numbers")
	assert.False(t, ok)

	_, ok = Progress("999%")
	assert.False(t, ok)
}
