package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/makeasinger/mediagen/internal/apperr"
	"github.com/makeasinger/mediagen/internal/config"
)

const maxErrorBody = 2000

// Options carries the collaborators shared by every adapter.
type Options struct {
	// HTTPClient serves bounded request/response calls.
	HTTPClient *http.Client
	// StreamClient serves long-lived streams and should have no overall timeout.
	StreamClient *http.Client
	// BackOff builds the schedule between submit retries.
	BackOff func() backoff.BackOff
	// StreamBackOff builds the schedule between stream connection retries.
	StreamBackOff func() backoff.BackOff
	StreamTimeout time.Duration
	PollInterval  time.Duration
	PollAttempts  int
	Storage       StorageClient
	Log           zerolog.Logger
}

func (o *Options) withDefaults() {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 180 * time.Second}
	}
	if o.StreamClient == nil {
		o.StreamClient = &http.Client{}
	}
	if o.BackOff == nil {
		o.BackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 8 * time.Second
			return b
		}
	}
	if o.StreamBackOff == nil {
		o.StreamBackOff = func() backoff.BackOff { return &linearBackOff{step: 2 * time.Second} }
	}
	if o.StreamTimeout == 0 {
		o.StreamTimeout = 20 * time.Minute
	}
	if o.PollInterval == 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.PollAttempts == 0 {
		o.PollAttempts = 60
	}
}

// linearBackOff waits step, 2*step, 3*step, ...
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }

// base is the transport shared by all adapters of one channel.
type base struct {
	provider string
	channel  config.ChannelConfig
	keys     *KeyRotator
	limiter  *rate.Limiter
	opts     Options
	log      zerolog.Logger
}

func newBase(provider string, ch config.ChannelConfig, limiter *rate.Limiter, opts Options) base {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return base{
		provider: provider,
		channel:  ch,
		keys:     NewKeyRotator(ch.Keys()),
		limiter:  limiter,
		opts:     opts,
		log:      opts.Log.With().Str("component", "adapter").Str("channel", ch.ID).Logger(),
	}
}

// ready fails before any I/O when the channel lacks a base URL or key.
func (b *base) ready() (string, error) {
	if strings.TrimSpace(b.channel.BaseURL) == "" {
		return "", apperr.Config(b.channel.ID, "base URL")
	}
	key, ok := b.keys.Next()
	if !ok {
		return "", apperr.Config(b.channel.ID, "API key")
	}
	return key, nil
}

func (b *base) endpoint(path string) string {
	return strings.TrimRight(b.channel.BaseURL, "/") + path
}

// doWithRetry sends the request produced by build, retrying transport
// failures and 502/503/504 responses. Any other non-2xx is returned as a
// ProviderError. build is called once per attempt so bodies can be replayed.
func (b *base) doWithRetry(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	op := func() (*http.Response, error) {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		req, err := build()
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		start := time.Now()
		b.log.Debug().Str("method", req.Method).Str("path", req.URL.Path).Msg("→ provider request")

		resp, err := b.opts.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			b.log.Warn().Err(err).Str("path", req.URL.Path).Msg("✗ provider request failed")
			return nil, fmt.Errorf("failed to send request: %w", err)
		}

		b.log.Debug().Int("status", resp.StatusCode).Str("path", req.URL.Path).Dur("took", time.Since(start)).Msg("← provider response")

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		perr := b.responseError(resp)
		switch resp.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return nil, perr
		}
		return nil, backoff.Permanent(perr)
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b.opts.BackOff()),
		backoff.WithMaxTries(3),
		backoff.WithNotify(func(err error, d time.Duration) {
			b.log.Info().Err(err).Dur("retry_in", d).Msg("Retrying provider request")
		}),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return nil, err
	}
	return resp, nil
}

// responseError drains resp and converts it into a ProviderError.
func (b *base) responseError(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return apperr.Provider(b.provider, resp.StatusCode, providerMessage(body))
}

// postJSON sends payload and decodes a 2xx JSON response into out.
func (b *base) postJSON(ctx context.Context, url string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	resp, err := b.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	return b.decode(resp, out)
}

func (b *base) getJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	resp, err := b.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	return b.decode(resp, out)
}

func (b *base) decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Provider(b.provider, 0, "invalid JSON response: "+truncate(string(body), 200))
	}
	return nil
}

// providerMessage extracts error.message, then message, else the raw body.
func providerMessage(body []byte) string {
	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &env) == nil {
		if len(env.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(env.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
			var s string
			if json.Unmarshal(env.Error, &s) == nil && s != "" {
				return s
			}
		}
		if env.Message != "" {
			return env.Message
		}
	}
	return strings.TrimSpace(string(body))
}

// downloadAsDataURL fetches url and inlines it as a base64 data URL.
func (b *base) downloadAsDataURL(ctx context.Context, url string) (string, error) {
	resp, err := b.doWithRetry(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
	if err != nil {
		return "", fmt.Errorf("failed to download result: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read result: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// splitDataURL separates "data:<mime>;base64,<payload>". Input without the
// prefix is returned as payload with fallbackMime.
func splitDataURL(s, fallbackMime string) (mime, payload string) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ";base64,"); i > 0 {
			return s[len("data:"):i], s[i+len(";base64,"):]
		}
	}
	return fallbackMime, s
}

// asDataURL normalises inline image input to a data URL.
func asDataURL(data, mime string) string {
	if strings.HasPrefix(data, "data:") || strings.HasPrefix(data, "http://") || strings.HasPrefix(data, "https://") {
		return data
	}
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + data
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
