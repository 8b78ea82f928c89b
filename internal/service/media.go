package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/makeasinger/mediagen/internal/model"
)

const mediaFetchTimeout = 5 * time.Minute

// ErrMediaUnavailable means a hosted result could not be fetched.
var ErrMediaUnavailable = errors.New("failed to fetch media")

// Media is a task result ready to stream to the client. Size is -1 when the
// upstream did not announce a length. The caller closes Body.
type Media struct {
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

var dataURLRe = regexp.MustCompile(`^data:([^;]+);base64,(.+)$`)

// Media resolves the result of a task owned by userID. Inline payloads are
// decoded; hosted results are fetched server-side so providers that require
// our key, or refuse cross-origin loads, are reachable from the browser.
func (s *GenerationService) Media(ctx context.Context, userID, taskID string) (*Media, error) {
	t, err := s.owned(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	u := t.ResultURL
	switch {
	case u == "":
		return nil, ErrNoMedia
	case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
		return s.proxyMedia(ctx, t)
	}

	m := dataURLRe.FindStringSubmatch(u)
	if m == nil {
		return nil, ErrNoMedia
	}
	data, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return nil, fmt.Errorf("invalid media payload: %w", err)
	}
	return &Media{ContentType: m[1], Size: int64(len(data)), Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (s *GenerationService) proxyMedia(ctx context.Context, t *model.Task) (*Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.ResultURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	if key := s.channelKeyFor(t.ResultURL); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := s.fetch.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		s.log.Warn().Str("task_id", t.ID).Int("status", resp.StatusCode).Msg("Media fetch failed")
		return nil, fmt.Errorf("%w: upstream status %d", ErrMediaUnavailable, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
		if t.Kind.Category() == model.CategoryVideo {
			contentType = "video/mp4"
		}
	}
	return &Media{ContentType: contentType, Size: resp.ContentLength, Body: resp.Body}, nil
}

// channelKeyFor returns the first key of the channel hosting u, if any.
func (s *GenerationService) channelKeyFor(u string) string {
	for _, ch := range s.cfg.Channels {
		base := strings.TrimRight(ch.BaseURL, "/")
		if base == "" || !strings.HasPrefix(u, base+"/") {
			continue
		}
		if keys := ch.Keys(); len(keys) > 0 {
			return keys[0]
		}
	}
	return ""
}

// MediaURL is the URL a client should load for t's result. Inline payloads
// and provider content URLs go through /api/media.
func MediaURL(t *model.Task) string {
	u := t.ResultURL
	if u == "" {
		return ""
	}
	if strings.Contains(u, "/v1/videos/") && strings.Contains(u, "/content") {
		return "/api/media/" + t.ID
	}
	if strings.HasPrefix(u, "data:") || strings.HasPrefix(u, "file:") {
		return "/api/media/" + t.ID
	}
	return u
}
