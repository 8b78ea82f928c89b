package model

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle state of a generation task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// OpenStatuses are the states a task may still leave.
var OpenStatuses = []TaskStatus{TaskStatusPending, TaskStatusProcessing}

// TaskKind classifies a task by provider family and output
type TaskKind string

const (
	KindSoraVideo       TaskKind = "sora-video"
	KindCharacterCard   TaskKind = "character-card"
	KindGeminiImage     TaskKind = "gemini-image"
	KindOpenAIImage     TaskKind = "openai-image"
	KindChatImage       TaskKind = "chat-image"
	KindSoraImage       TaskKind = "sora-image"
	KindModelScopeImage TaskKind = "modelscope-image"
	KindGiteeImage      TaskKind = "gitee-image"
	KindGiteeUpscale    TaskKind = "gitee-upscale"
	KindGiteeMatting    TaskKind = "gitee-matting"
)

// Valid reports whether k is one of the known kinds.
func (k TaskKind) Valid() bool {
	switch k {
	case KindSoraVideo, KindCharacterCard, KindGeminiImage, KindOpenAIImage, KindChatImage,
		KindSoraImage, KindModelScopeImage, KindGiteeImage, KindGiteeUpscale, KindGiteeMatting:
		return true
	}
	return false
}

// Category groups kinds by how long they are expected to take.
type Category string

const (
	CategoryImage Category = "image"
	CategoryVideo Category = "video"
)

// Category returns the polling category for the kind.
func (k TaskKind) Category() Category {
	switch k {
	case KindSoraVideo, KindCharacterCard:
		return CategoryVideo
	default:
		return CategoryImage
	}
}

// VideoKinds are included in the per-user video status snapshot.
var VideoKinds = []TaskKind{KindSoraVideo, KindCharacterCard}

// Task is one user submission tracked from pending to a terminal state.
// ResultURL is non-empty only when Status is completed; Cost and UserID are
// written once at creation.
type Task struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	UserID       string     `gorm:"size:64;index;not null" json:"userId"`
	Kind         TaskKind   `gorm:"type:varchar(32);index;not null" json:"type"`
	ModelID      string     `gorm:"size:128" json:"model"`
	Prompt       string     `gorm:"type:text" json:"prompt"`
	Params       string     `gorm:"type:text" json:"-"`
	Status       TaskStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	ResultURL    string     `gorm:"type:text" json:"resultUrl,omitempty"`
	ResultMeta   string     `gorm:"type:text" json:"-"`
	Cost         int64      `gorm:"not null" json:"cost"`
	Progress     int        `json:"progress"`
	ErrorMessage string     `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `gorm:"index" json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// ReferenceImage is an inline image payload supplied with a prompt.
// Data is either a data URL, bare base64, or an http(s) URL.
type ReferenceImage struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data" validate:"required"`
}

// TaskParams is the parameter bag persisted with a task and replayed by the worker.
type TaskParams struct {
	AspectRatio   string           `json:"aspectRatio,omitempty"`
	ImageSize     string           `json:"imageSize,omitempty"`
	Size          string           `json:"size,omitempty"`
	Duration      string           `json:"duration,omitempty"`
	Images        []ReferenceImage `json:"images,omitempty"`
	Files         []ReferenceImage `json:"files,omitempty"`
	FirstFrame    string           `json:"firstFrame,omitempty"`
	NumInferSteps int              `json:"numInferenceSteps,omitempty"`
	ResolvedModel string           `json:"resolvedModel,omitempty"`
}

// DecodeParams unmarshals the stored parameter bag.
func (t *Task) DecodeParams() (TaskParams, error) {
	var p TaskParams
	if len(t.Params) == 0 {
		return p, nil
	}
	err := json.Unmarshal([]byte(t.Params), &p)
	return p, err
}

// DecodeMeta unmarshals the adapter metadata stored on completion.
func (t *Task) DecodeMeta() map[string]any {
	if t.ResultMeta == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(t.ResultMeta), &m); err != nil {
		return nil
	}
	return m
}
