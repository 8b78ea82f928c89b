package model

import "time"

// GenerateRequest is the body of POST /api/generate
type GenerateRequest struct {
	Model       string           `json:"model" validate:"required,max=128"`
	Prompt      string           `json:"prompt" validate:"max=8000"`
	AspectRatio string           `json:"aspectRatio,omitempty" validate:"omitempty,oneof=1:1 16:9 9:16 3:2 2:3 4:3 3:4 21:9"`
	ImageSize   string           `json:"imageSize,omitempty" validate:"max=16"`
	Duration    string           `json:"duration,omitempty" validate:"max=16"`
	Images      []ReferenceImage `json:"images,omitempty" validate:"max=8,dive"`
	Files       []ReferenceImage `json:"files,omitempty" validate:"max=4,dive"`
}

// CharacterCardRequest is the body of POST /api/generate/character-card
type CharacterCardRequest struct {
	VideoBase64      string `json:"videoBase64" validate:"required"`
	FirstFrameBase64 string `json:"firstFrameBase64" validate:"required"`
}

// GenerateResponse is returned when a task has been accepted
type GenerateResponse struct {
	ID      string     `json:"id"`
	Status  TaskStatus `json:"status"`
	Cost    int64      `json:"cost"`
	Message string     `json:"message,omitempty"`
}

// TaskStatusResponse is the payload of GET /api/generate/status/:id
type TaskStatusResponse struct {
	ID           string         `json:"id"`
	Status       TaskStatus     `json:"status"`
	Type         TaskKind       `json:"type"`
	URL          string         `json:"url"`
	Cost         int64          `json:"cost"`
	Progress     int            `json:"progress"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// CancelResponse is returned by the cancel endpoints
type CancelResponse struct {
	Success   bool       `json:"success"`
	Cancelled bool       `json:"cancelled"`
	ID        string     `json:"id"`
	Status    TaskStatus `json:"status"`
}

// PendingTask is one entry of GET /api/tasks/pending
type PendingTask struct {
	ID        string     `json:"id"`
	Prompt    string     `json:"prompt"`
	Type      TaskKind   `json:"type"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// BalanceResponse is returned by GET /api/user/balance
type BalanceResponse struct {
	Balance   int64 `json:"balance"`
	Held      int64 `json:"held"`
	Available int64 `json:"available"`
}

// VideoStatusTask is one row of the cached video status snapshot
type VideoStatusTask struct {
	ID         string     `json:"id"`
	Status     TaskStatus `json:"status"`
	CreatedAt  int64      `json:"createdAt"`
	UpdatedAt  int64      `json:"updatedAt"`
	DurationMs *int64     `json:"durationMs,omitempty"`
	ElapsedMs  *int64     `json:"elapsedMs,omitempty"`
}

// VideoStatusSnapshot is the per-user summary served by GET /api/user/status
type VideoStatusSnapshot struct {
	UpdatedAt int64             `json:"updatedAt"`
	Tasks     []VideoStatusTask `json:"tasks"`
}

// Envelope wraps successful API payloads
type Envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}
