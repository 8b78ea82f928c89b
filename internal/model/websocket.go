package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeStream   = "stream"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage represents a status or progress update
type WSProgressMessage struct {
	Type     string     `json:"type"`
	TaskID   string     `json:"taskId"`
	Progress int        `json:"progress"`
	Status   TaskStatus `json:"status"`
	Message  string     `json:"message,omitempty"`
}

// WSStreamMessage carries one raw line of provider output
type WSStreamMessage struct {
	Type   string `json:"type"`
	TaskID string `json:"taskId"`
	Delta  string `json:"delta"`
}

// WSCompleteMessage represents task completion
type WSCompleteMessage struct {
	Type   string `json:"type"`
	TaskID string `json:"taskId"`
	URL    string `json:"url"`
	Meta   any    `json:"meta,omitempty"`
}

// WSErrorMessage represents a terminal failure
type WSErrorMessage struct {
	Type   string  `json:"type"`
	TaskID string  `json:"taskId"`
	Error  WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
