package genclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"sitecrew/cli/internal/retry"

	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	DeepModel   string
	TraceStream bool
}

// APIError is a non-2xx answer from the responses endpoint. Its message keeps
// the status code and body so transient classification can inspect it.
type APIError struct {
	Status    int
	RequestID string
	Call      string
	Body      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("responses api status %d request_id=%q call=%s response=%s", e.Status, e.RequestID, e.Call, e.Body)
}

type ResponsesClient struct {
	cfg     Config
	service responses.ResponseService
	logger  *slog.Logger
}

func NewResponsesClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *ResponsesClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	// Retries belong to the caller's retry policy.
	opts := []option.RequestOption{option.WithHTTPClient(httpClient), option.WithMaxRetries(0)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	return &ResponsesClient{
		cfg:     cfg,
		service: responses.NewResponseService(opts...),
		logger:  logger.With("component", "genclient"),
	}
}

func (c *ResponsesClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := c.toSDKRequest(req)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	var rawResp *http.Response
	var rawBody []byte
	_, err = c.service.New(
		ctx,
		params,
		option.WithResponseInto(&rawResp),
		option.WithResponseBodyInto(&rawBody),
	)
	if err != nil {
		return nil, c.wrapRequestError(err, req, rawResp)
	}
	if len(rawBody) == 0 {
		return nil, fmt.Errorf("responses api returned empty response call=%s", req.Call)
	}
	out, err := parseResponseResult(rawBody)
	if err != nil {
		return nil, fmt.Errorf("decode response call=%s: %w", req.Call, err)
	}
	c.logger.Debug("responses call completed", "call", req.Call, "model", params.Model, "elapsed_ms", time.Since(started).Milliseconds(), "text_len", len(out.Text))
	return out, nil
}

func (c *ResponsesClient) OpenStream(ctx context.Context, req Request) (Stream, error) {
	params, err := c.toSDKRequest(req)
	if err != nil {
		return nil, err
	}
	var rawResp *http.Response
	stream := c.service.NewStreaming(ctx, params, option.WithResponseInto(&rawResp))
	if stream == nil {
		return nil, fmt.Errorf("responses stream unavailable call=%s", req.Call)
	}
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, c.wrapRequestError(err, req, rawResp)
	}
	return &responsesStream{
		events: stream,
		wrap: func(err error) error {
			return c.wrapRequestError(err, req, rawResp)
		},
		trace:  c.cfg.TraceStream,
		logger: c.logger,
		call:   req.Call,
	}, nil
}

type sdkEventStream interface {
	Next() bool
	Current() responses.ResponseStreamEventUnion
	Err() error
	Close() error
}

type responsesStream struct {
	events sdkEventStream
	wrap   func(error) error
	cur    Chunk
	err    error
	done   bool
	trace  bool
	logger *slog.Logger
	call   string
}

func (s *responsesStream) Next() bool {
	if s.done {
		return false
	}
	for s.events.Next() {
		raw := s.events.Current().RawJSON()
		if s.trace {
			s.logger.Debug("responses stream event", "call", s.call, "event", raw)
		}
		chunk, ok, err := decodeStreamEvent(raw)
		if err != nil {
			s.err = err
			s.done = true
			return false
		}
		if ok {
			s.cur = chunk
			return true
		}
	}
	s.done = true
	if err := s.events.Err(); err != nil {
		s.err = s.wrap(err)
	}
	return false
}

func (s *responsesStream) Chunk() Chunk {
	return s.cur
}

func (s *responsesStream) Err() error {
	return s.err
}

func (s *responsesStream) Close() error {
	s.done = true
	return s.events.Close()
}

type streamEvent struct {
	Type       string             `json:"type"`
	Delta      string             `json:"delta"`
	Message    string             `json:"message"`
	Code       string             `json:"code"`
	Annotation responseAnnotation `json:"annotation"`
	Response   struct {
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

// decodeStreamEvent reports whether raw carries text or sources for the caller.
func decodeStreamEvent(raw string) (Chunk, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Chunk{}, false, nil
	}
	var evt streamEvent
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		return Chunk{}, false, fmt.Errorf("invalid responses stream event: %w data=%q", err, clip(raw, 600))
	}
	switch strings.TrimSpace(evt.Type) {
	case "response.output_text.delta":
		if evt.Delta == "" {
			return Chunk{}, false, nil
		}
		return Chunk{Text: evt.Delta}, true, nil
	case "response.output_text.annotation.added":
		if src, ok := evt.Annotation.source(); ok {
			return Chunk{Sources: []Source{src}}, true, nil
		}
	case "error":
		return Chunk{}, false, fmt.Errorf("responses stream error code=%s: %s", evt.Code, evt.Message)
	case "response.failed":
		if evt.Response.Error != nil {
			return Chunk{}, false, fmt.Errorf("responses stream failed code=%s: %s", evt.Response.Error.Code, evt.Response.Error.Message)
		}
		return Chunk{}, false, errors.New("responses stream failed")
	}
	return Chunk{}, false, nil
}

func (c *ResponsesClient) resolveModel(req Request) string {
	if model := strings.TrimSpace(req.Model); model != "" {
		return model
	}
	if req.DeepThinking && strings.TrimSpace(c.cfg.DeepModel) != "" {
		return strings.TrimSpace(c.cfg.DeepModel)
	}
	return strings.TrimSpace(c.cfg.Model)
}

func (c *ResponsesClient) toSDKRequest(req Request) (responses.ResponseNewParams, error) {
	var out responses.ResponseNewParams
	if model := c.resolveModel(req); model != "" {
		out.Model = model
	}
	if system := strings.TrimSpace(req.System); system != "" {
		out.Instructions = param.NewOpt(req.System)
	}
	if req.Temperature != nil {
		out.Temperature = param.NewOpt(*req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		out.MaxOutputTokens = param.NewOpt(int64(req.MaxOutputTokens))
	}
	history := req.History
	if len(history) == 0 {
		history = []Message{UserText(KickoffText)}
	}
	items := make(responses.ResponseInputParam, 0, len(history))
	for i, msg := range history {
		item, err := toSDKInputItem(toInputItem(msg))
		if err != nil {
			return responses.ResponseNewParams{}, fmt.Errorf("invalid response input item[%d]: %w", i, err)
		}
		items = append(items, item)
	}
	out.Input = responses.ResponseNewParamsInputUnion{OfInputItemList: items}
	if len(req.Tools) > 0 {
		tools, err := toSDKTools(req.Tools)
		if err != nil {
			return responses.ResponseNewParams{}, err
		}
		out.Tools = tools
	}
	if req.JSONSchema != nil {
		text, err := toSDKTextFormat(*req.JSONSchema)
		if err != nil {
			return responses.ResponseNewParams{}, err
		}
		out.Text = text
	}
	return out, nil
}

// toInputItem maps a history message onto the responses input item shape.
func toInputItem(msg Message) map[string]any {
	if msg.Role == RoleModel {
		texts := make([]string, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			if part.Text != "" {
				texts = append(texts, part.Text)
			}
		}
		return map[string]any{"role": "assistant", "content": strings.Join(texts, "\n")}
	}
	content := make([]map[string]any, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		switch {
		case part.Inline() && strings.HasPrefix(part.MIMEType, "image/"):
			content = append(content, map[string]any{
				"type":      "input_image",
				"detail":    "auto",
				"image_url": dataURL(part),
			})
		case part.Inline():
			name := part.Name
			if name == "" {
				name = "attachment"
			}
			content = append(content, map[string]any{
				"type":      "input_file",
				"filename":  name,
				"file_data": dataURL(part),
			})
		case part.Text != "":
			content = append(content, map[string]any{"type": "input_text", "text": part.Text})
		}
	}
	if len(content) == 0 {
		content = append(content, map[string]any{"type": "input_text", "text": " "})
	}
	return map[string]any{"role": "user", "content": content}
}

func dataURL(part Part) string {
	return "data:" + part.MIMEType + ";base64," + part.Data
}

func toSDKInputItem(rawItem any) (responses.ResponseInputItemUnionParam, error) {
	raw, err := json.Marshal(rawItem)
	if err != nil {
		return responses.ResponseInputItemUnionParam{}, fmt.Errorf("marshal response input item failed: %w", err)
	}
	var out responses.ResponseInputItemUnionParam
	if err := json.Unmarshal(raw, &out); err != nil {
		return responses.ResponseInputItemUnionParam{}, fmt.Errorf("decode response input item failed: %w", err)
	}
	return out, nil
}

func toSDKTools(tools []ToolSpec) ([]responses.ToolUnionParam, error) {
	out := make([]responses.ToolUnionParam, 0, len(tools))
	for i, spec := range tools {
		raw, err := json.Marshal(spec)
		if err != nil {
			return nil, fmt.Errorf("marshal response tool[%d] failed: %w", i, err)
		}
		var tool responses.ToolUnionParam
		if err := json.Unmarshal(raw, &tool); err != nil {
			return nil, fmt.Errorf("decode response tool[%d] failed: %w", i, err)
		}
		out = append(out, tool)
	}
	return out, nil
}

func toSDKTextFormat(schema JSONSchema) (responses.ResponseTextConfigParam, error) {
	raw, err := json.Marshal(map[string]any{
		"format": map[string]any{
			"type":   "json_schema",
			"name":   schema.Name,
			"schema": schema.Schema,
			"strict": true,
		},
	})
	if err != nil {
		return responses.ResponseTextConfigParam{}, fmt.Errorf("marshal text format failed: %w", err)
	}
	var out responses.ResponseTextConfigParam
	if err := json.Unmarshal(raw, &out); err != nil {
		return responses.ResponseTextConfigParam{}, fmt.Errorf("decode text format failed: %w", err)
	}
	return out, nil
}

type responseAnnotation struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

func (a responseAnnotation) source() (Source, bool) {
	if strings.TrimSpace(a.Type) != "url_citation" || strings.TrimSpace(a.URL) == "" {
		return Source{}, false
	}
	return Source{URI: strings.TrimSpace(a.URL), Title: strings.TrimSpace(a.Title)}, true
}

type responseContentPart struct {
	Type        string               `json:"type"`
	Text        string               `json:"text"`
	Annotations []responseAnnotation `json:"annotations"`
}

type responseItem struct {
	Type      string                `json:"type"`
	ID        string                `json:"id"`
	CallID    string                `json:"call_id"`
	Name      string                `json:"name"`
	Arguments string                `json:"arguments"`
	Content   []responseContentPart `json:"content"`
}

type responsePayload struct {
	ID     string         `json:"id"`
	Output []responseItem `json:"output"`
}

func parseResponseResult(raw []byte) (*Response, error) {
	var decoded responsePayload
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	out := &Response{ID: strings.TrimSpace(decoded.ID)}
	seen := map[string]bool{}
	for _, item := range decoded.Output {
		if strings.TrimSpace(item.Type) == "function_call" {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				CallID:    strings.TrimSpace(item.CallID),
				Name:      strings.TrimSpace(item.Name),
				Arguments: json.RawMessage(item.Arguments),
			})
			continue
		}
		for _, content := range item.Content {
			if strings.TrimSpace(content.Type) != "output_text" {
				continue
			}
			if content.Text != "" {
				if out.Text == "" {
					out.Text = content.Text
				} else {
					out.Text += "\n" + content.Text
				}
			}
			for _, ann := range content.Annotations {
				if src, ok := ann.source(); ok && !seen[src.URI] {
					seen[src.URI] = true
					out.Sources = append(out.Sources, src)
				}
			}
		}
	}
	return out, nil
}

func (c *ResponsesClient) wrapRequestError(err error, req Request, rawResp *http.Response) error {
	var apiErr *responses.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("responses request failed call=%s: %w", req.Call, err)
	}
	resp := rawResp
	if resp == nil {
		resp = apiErr.Response
	}
	body := strings.TrimSpace(apiErr.RawJSON())
	if body == "" {
		body = strings.TrimSpace(err.Error())
	}
	out := &APIError{
		Status:    apiErr.StatusCode,
		RequestID: responseRequestID(resp),
		Call:      req.Call,
		Body:      body,
	}
	if resp != nil && resp.Header != nil {
		if after, ok := retry.ParseRetryAfterHeaders(resp.Header.Get); ok {
			return &retry.RetryAfterError{Err: out, After: after}
		}
	}
	return out
}

func responseRequestID(resp *http.Response) string {
	if resp == nil || resp.Header == nil {
		return ""
	}
	for _, key := range []string{"x-request-id", "request-id", "openai-request-id", "x-openai-request-id"} {
		value := strings.TrimSpace(resp.Header.Get(key))
		if value != "" {
			return value
		}
	}
	return ""
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
