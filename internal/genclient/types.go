package genclient

import (
	"context"
	"encoding/json"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// KickoffText stands in for an empty history so the coordinator opens the
// conversation itself.
const KickoffText = "Greet user and start conversation."

// Part is either plain text or inline binary data.
type Part struct {
	Text     string `json:"text,omitempty"`
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
}

func (p Part) Inline() bool {
	return p.MIMEType != "" && p.Data != ""
}

type Message struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{{Text: text}}}
}

type ToolSpec struct {
	Type        string         `json:"type"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

func WebSearchTool() ToolSpec {
	return ToolSpec{Type: "web_search_preview"}
}

type JSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

type Request struct {
	// Call names the call site for logs and metrics.
	Call            string
	Model           string
	System          string
	History         []Message
	Tools           []ToolSpec
	JSONSchema      *JSONSchema
	Temperature     *float64
	MaxOutputTokens int
	DeepThinking    bool
}

type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

type ToolCall struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

type Chunk struct {
	Text    string
	Sources []Source
}

type Response struct {
	ID        string
	Text      string
	Sources   []Source
	ToolCalls []ToolCall
}

// Stream iterates incremental output. Callers must Close it.
type Stream interface {
	Next() bool
	Chunk() Chunk
	Err() error
	Close() error
}

// Generator is the text generation boundary. OpenStream reports transport and
// status failures before returning so that stream establishment can be retried.
type Generator interface {
	OpenStream(ctx context.Context, req Request) (Stream, error)
	Complete(ctx context.Context, req Request) (*Response, error)
}

func Float(v float64) *float64 {
	return &v
}
