package apperr

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"config", Config("sora", "api key"), false},
		{"policy", &ContentPolicyError{Reason: "nsfw"}, false},
		{"timeout", &TimeoutError{Op: "poll", After: time.Minute}, false},
		{"4xx", Provider("gitee", 400, "bad prompt"), false},
		{"5xx", Provider("gitee", 503, "busy"), true},
		{"wrapped 5xx", fmt.Errorf("submit: %w", Provider("gitee", 502, "bad gateway")), true},
		{"cancelled", context.Canceled, false},
		{"transport", fmt.Errorf("dial tcp: connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "service unavailable", UserMessage(Config("gemini", "base url")))
	assert.Equal(t, "Content rejected by moderation: faces", UserMessage(&ContentPolicyError{Reason: "faces"}))
	assert.Equal(t, "generation timed out", UserMessage(fmt.Errorf("wait: %w", context.DeadlineExceeded)))
	assert.Equal(t, "gitee API error (500): boom", UserMessage(Provider("gitee", 500, "boom")))
	assert.Equal(t, "", UserMessage(nil))
}
