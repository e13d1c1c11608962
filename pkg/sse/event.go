package sse

import (
	"encoding/json"
	"fmt"
	"io"
)

// DataPrefix marks a line that carries one event frame payload.
const DataPrefix = "data: "

// ContentType is the media type of an event-stream response.
const ContentType = "text/event-stream"

// Frame is the JSON payload of one event frame sent by the query endpoint.
type Frame struct {
	Type       string         `json:"type"`
	Content    string         `json:"content,omitempty"`
	Citations  []any          `json:"citations,omitempty"`
	UsedChunks []any          `json:"used_chunks,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Code       string         `json:"code,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// WriteFrame encodes payload as a single event frame followed by a blank
// line.
func WriteFrame(w io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s%s\n\n", DataPrefix, data)
	return err
}
