package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/makeasinger/mediagen/internal/apperr"
	"github.com/makeasinger/mediagen/internal/extract"
)

// SoraVideoAdapter drives the streaming chat-completions endpoint of a Sora
// proxy. The video URL is not a field of the response; it is extracted from
// the streamed prose.
type SoraVideoAdapter struct {
	base
}

func NewSoraVideoAdapter(b base) *SoraVideoAdapter {
	return &SoraVideoAdapter{base: b}
}

var connectionErrorHints = []string{"terminated", "socket", "closed", "econnreset", "etimedout", "enotfound", "network", "connection reset", "broken pipe"}

// isConnectionError reports transport-level failures worth reconnecting for.
func isConnectionError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, h := range connectionErrorHints {
		if strings.Contains(msg, h) {
			return true
		}
	}
	return false
}

func (a *SoraVideoAdapter) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	key, err := a.ready()
	if err != nil {
		return nil, err
	}

	var parts []chatContentPart
	if req.Prompt != "" {
		parts = append(parts, chatContentPart{Type: "text", Text: req.Prompt})
	}
	for _, f := range req.Params.Files {
		u := asDataURL(f.Data, f.MimeType)
		switch {
		case strings.HasPrefix(f.MimeType, "image/"):
			parts = append(parts, chatContentPart{Type: "image_url", ImageURL: &chatURLObject{URL: u}})
		case strings.HasPrefix(f.MimeType, "video/"):
			parts = append(parts, chatContentPart{Type: "video_url", VideoURL: &chatURLObject{URL: u}})
		}
	}

	payload := chatRequest{
		Model:    req.Model.APIModel,
		Messages: []chatMessage{{Role: "user", Content: userContent(parts)}},
		Stream:   true,
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.StreamTimeout)
	defer cancel()

	resp, err := a.openStream(ctx, key, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	acc := extract.NewAccumulator(func(delta string) {
		pct := -1
		if p, ok := extract.Progress(delta); ok {
			pct = p
		}
		req.progress(pct, delta)
	})
	streamErr := readSSE(resp.Body, func(data []byte) error {
		chunk, ok := decodeChunk(data)
		if !ok || len(chunk.Choices) == 0 {
			return nil
		}
		d := chunk.Choices[0].Delta
		if d.Content != "" {
			acc.Add(d.Content)
		} else {
			acc.Add(d.ReasoningContent)
		}
		if chunk.finished() {
			acc.Finish()
			return errStopStream
		}
		return nil
	})

	if streamErr != nil {
		// Salvage whatever the stream delivered before breaking.
		if out := acc.Resolve(); out.Decided() {
			if out.Err != nil {
				return nil, out.Err
			}
			a.log.Info().Str("task_id", req.TaskID).Msg("Recovered result from interrupted stream")
			return &GenerateResult{URL: out.URL}, nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &apperr.TimeoutError{Op: "video generation", After: a.opts.StreamTimeout}
		}
		if isConnectionError(streamErr) {
			return nil, apperr.Provider(a.provider, 0, "connection closed by remote server; the result may still appear in history")
		}
		return nil, fmt.Errorf("failed to read stream: %w", streamErr)
	}

	acc.Finish()
	out := acc.Resolve()
	if out.Err != nil {
		return nil, out.Err
	}
	return &GenerateResult{URL: out.URL}, nil
}

// openStream connects with up to three attempts, retrying only connection
// failures. HTTP error statuses are final.
func (a *SoraVideoAdapter) openStream(ctx context.Context, key string, payload chatRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	op := func() (*http.Response, error) {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint("/v1/chat/completions"), bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Authorization", "Bearer "+key)

		a.log.Debug().Str("model", payload.Model).Msg("→ opening stream")
		resp, err := a.opts.StreamClient.Do(r)
		if err != nil {
			if ctx.Err() == nil && isConnectionError(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		a.log.Debug().Int("status", resp.StatusCode).Msg("← stream opened")
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, backoff.Permanent(a.responseError(resp))
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(a.opts.StreamBackOff()),
		backoff.WithMaxTries(3),
		backoff.WithNotify(func(err error, d time.Duration) {
			a.log.Warn().Err(err).Dur("retry_in", d).Msg("Stream connection failed, retrying")
		}),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		var provErr *apperr.ProviderError
		if !errors.As(err, &provErr) && isConnectionError(err) {
			return nil, fmt.Errorf("cannot reach %s: %w", a.provider, err)
		}
		return nil, err
	}
	return resp, nil
}
