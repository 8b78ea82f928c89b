package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/makeasinger/mediagen/internal/apperr"
)

// modelScopeAsyncModels must be submitted in async mode and polled.
var modelScopeAsyncModels = map[string]bool{
	"Qwen/Qwen-Image":              true,
	"Qwen/Qwen-Image-2512":         true,
	"Qwen/Qwen-Image-Edit-2509":    true,
	"Qwen/Qwen-Image-Edit-2511":    true,
	"black-forest-labs/FLUX.2-dev": true,
}

// ModelScopeAdapter calls the ModelScope inference API. Reference images
// must be reachable URLs, so inline ones are uploaded to storage first.
type ModelScopeAdapter struct {
	base
	storage StorageClient
}

func NewModelScopeAdapter(b base, storage StorageClient) *ModelScopeAdapter {
	return &ModelScopeAdapter{base: b, storage: storage}
}

type modelScopeRequest struct {
	Model    string   `json:"model"`
	Prompt   string   `json:"prompt"`
	Size     string   `json:"size,omitempty"`
	ImageURL []string `json:"image_url,omitempty"`
}

type modelScopeSubmitResponse struct {
	TaskID string `json:"task_id"`
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

type modelScopeTaskResponse struct {
	TaskStatus   string   `json:"task_status"`
	OutputImages []string `json:"output_images"`
	Message      string   `json:"message"`
}

func (a *ModelScopeAdapter) root() string {
	return strings.TrimRight(a.channel.BaseURL, "/") + "/"
}

func (a *ModelScopeAdapter) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	key, err := a.ready()
	if err != nil {
		return nil, err
	}

	imageURLs, err := a.hostReferences(ctx, req)
	if err != nil {
		return nil, err
	}

	async := modelScopeAsyncModels[req.Model.APIModel]
	headers := map[string]string{"Authorization": "Bearer " + key}
	if async {
		headers["X-ModelScope-Async-Mode"] = "true"
	}

	payload := modelScopeRequest{
		Model:    req.Model.APIModel,
		Prompt:   req.Prompt,
		Size:     req.Model.SizeFor(req.Params.AspectRatio, req.Params.ImageSize),
		ImageURL: imageURLs,
	}

	var submit modelScopeSubmitResponse
	if err := a.postJSON(ctx, a.root()+"v1/images/generations", headers, payload, &submit); err != nil {
		return nil, err
	}

	var resultURL string
	if async {
		if submit.TaskID == "" {
			return nil, apperr.Provider(a.provider, 0, "no task id returned")
		}
		req.progress(10, "submitted")
		resultURL, err = a.poll(ctx, key, submit.TaskID, req)
		if err != nil {
			return nil, err
		}
	} else {
		if len(submit.Images) == 0 || submit.Images[0].URL == "" {
			return nil, apperr.Provider(a.provider, 0, "response contained no image")
		}
		resultURL = submit.Images[0].URL
	}

	inline, err := a.downloadAsDataURL(ctx, resultURL)
	if err != nil {
		return nil, err
	}
	return &GenerateResult{URL: inline}, nil
}

// hostReferences uploads inline reference images in parallel, keeping order.
func (a *ModelScopeAdapter) hostReferences(ctx context.Context, req *GenerateRequest) ([]string, error) {
	images := req.Params.Images
	if len(images) == 0 {
		return nil, nil
	}
	if a.storage == nil {
		for _, img := range images {
			if !isRemote(img.Data) {
				return nil, apperr.Config("storage", "bucket for reference images")
			}
		}
	}

	urls := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	for i, img := range images {
		if isRemote(img.Data) {
			urls[i] = img.Data
			continue
		}
		g.Go(func() error {
			u, err := UploadDataURL(gctx, a.storage, "inputs/"+req.TaskID, img.Data, orDefault(img.MimeType, "image/jpeg"))
			if err != nil {
				return fmt.Errorf("reference image %d: %w", i, err)
			}
			urls[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

func (a *ModelScopeAdapter) poll(ctx context.Context, key, taskID string, req *GenerateRequest) (string, error) {
	headers := map[string]string{
		"Authorization":          "Bearer " + key,
		"X-ModelScope-Task-Type": "image_generation",
	}
	attempts := a.opts.PollAttempts
	for attempt := 0; attempt < attempts; attempt++ {
		var st modelScopeTaskResponse
		if err := a.getJSON(ctx, a.root()+"v1/tasks/"+taskID, headers, &st); err != nil {
			return "", err
		}
		switch st.TaskStatus {
		case "SUCCEED":
			if len(st.OutputImages) == 0 || st.OutputImages[0] == "" {
				return "", apperr.Provider(a.provider, 0, "task succeeded without an image")
			}
			return st.OutputImages[0], nil
		case "FAILED":
			return "", apperr.Provider(a.provider, 0, orDefault(st.Message, "task failed"))
		}
		req.progress(10+80*(attempt+1)/attempts, strings.ToLower(st.TaskStatus))

		t := time.NewTimer(a.opts.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
	return "", &apperr.TimeoutError{Op: "modelscope task", After: time.Duration(attempts) * a.opts.PollInterval}
}

func isRemote(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
