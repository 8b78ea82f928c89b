package client

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// chatChunk is one streamed chat-completions event.
type chatChunk struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *chatChunk) finished() bool {
	if len(c.Choices) == 0 || c.Choices[0].FinishReason == nil {
		return false
	}
	r := *c.Choices[0].FinishReason
	return r == "stop" || r == "STOP"
}

var errStopStream = errors.New("stop stream")

// readSSE feeds the payload of every "data:" line to fn until the stream ends
// or fn returns errStopStream. The [DONE] sentinel is skipped. A final line
// without a trailing newline is still delivered.
func readSSE(r io.Reader, fn func(data []byte) error) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, readErr := br.ReadBytes('\n')
		if len(line) > 0 {
			if err := handleSSELine(line, fn); err != nil {
				if errors.Is(err, errStopStream) {
					return nil
				}
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func handleSSELine(line []byte, fn func([]byte) error) error {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil
	}
	data := bytes.TrimSpace(line[len("data:"):])
	if len(data) == 0 || bytes.Equal(data, []byte("[DONE]")) {
		return nil
	}
	return fn(data)
}

// decodeChunk parses a chat event, reporting false for malformed payloads
// which are skipped.
func decodeChunk(data []byte) (*chatChunk, bool) {
	var c chatChunk
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, false
	}
	return &c, true
}
