package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/makeasinger/mediagen/internal/model"
)

// HTTPFetcher reads task status from a running mediagen server.
type HTTPFetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPFetcher(baseURL, token string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

type statusEnvelope struct {
	Success bool                     `json:"success"`
	Data    model.TaskStatusResponse `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (f *HTTPFetcher) Status(ctx context.Context, taskID string) (*model.TaskStatusResponse, error) {
	body, err := f.do(ctx, http.MethodGet, "/api/generate/status/"+taskID)
	if err != nil {
		return nil, err
	}
	var env statusEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}
	if env.Data.Status == "" {
		return nil, fmt.Errorf("invalid response: missing status")
	}
	return &env.Data, nil
}

func (f *HTTPFetcher) Cancel(ctx context.Context, taskID string) error {
	_, err := f.do(ctx, http.MethodDelete, "/api/tasks/"+taskID)
	return err
}

func (f *HTTPFetcher) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("connection error reading body: %w", err)
	}

	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		var env errorEnvelope
		if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
			msg = env.Error.Message
		}
		return nil, fmt.Errorf("request failed (status: %d): %s", resp.StatusCode, msg)
	}
	return body, nil
}
