package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const (
	DefaultRealtimeURL = "wss://api.openai.com/v1/realtime"
	// EndConversationTool is the function the voice agent calls once it has
	// enough requirements for a PRD.
	EndConversationTool = "endConversationAndCreatePrd"

	readLimit = 4 << 20
)

// Server event types the relay reacts to.
const (
	EventSessionCreated       = "session.created"
	EventAudioDelta           = "response.audio.delta"
	EventAudioTranscriptDelta = "response.audio_transcript.delta"
	EventAudioTranscriptDone  = "response.audio_transcript.done"
	EventInputTranscriptDone  = "conversation.item.input_audio_transcription.completed"
	EventFunctionCallDone     = "response.function_call_arguments.done"
	EventError                = "error"
)

type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// EndConversationToolSpec declares endConversationAndCreatePrd(summary).
func EndConversationToolSpec() Tool {
	return Tool{
		Type:        "function",
		Name:        EndConversationTool,
		Description: "Ends the voice conversation and hands a complete summary of the gathered requirements to the team so the PRD can be written.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary": map[string]any{
					"type":        "string",
					"description": "A detailed summary of the website requirements discussed.",
				},
			},
			"required": []string{"summary"},
		},
	}
}

type Config struct {
	URL          string
	APIKey       string
	Model        string
	Instructions string
	Voice        string
	Tools        []Tool
	HTTPClient   *http.Client
}

// ServerEvent is one upstream message. Raw keeps the full payload.
type ServerEvent struct {
	Type       string          `json:"type"`
	EventID    string          `json:"event_id,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	CallID     string          `json:"call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Arguments  string          `json:"arguments,omitempty"`
	Error      *ServerError    `json:"error,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Audio decodes the base64 payload of an audio delta.
func (e ServerEvent) Audio() ([]byte, error) {
	return base64.StdEncoding.DecodeString(e.Delta)
}

type Callbacks struct {
	OnOpen    func()
	OnMessage func(ServerEvent)
	OnError   func(error)
	OnClose   func(reason string)
}

// Session is a live realtime connection. Callbacks run on the read loop.
type Session struct {
	conn      *websocket.Conn
	cb        Callbacks
	logger    *slog.Logger
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	cancel    context.CancelFunc
}

// Dial opens the upstream session, sends the session configuration and starts
// the read loop. OnOpen fires once the configuration is sent.
func Dial(ctx context.Context, cfg Config, cb Callbacks, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	endpoint, err := realtimeURL(cfg)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")
	conn, resp, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPHeader: header, HTTPClient: cfg.HTTPClient})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime dial status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:   conn,
		cb:     cb,
		logger: logger.With("component", "voice"),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	if err := s.send(ctx, sessionUpdate(cfg)); err != nil {
		cancel()
		_ = conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("realtime session update: %w", err)
	}
	if cb.OnOpen != nil {
		cb.OnOpen()
	}
	go s.readLoop(readCtx)
	return s, nil
}

func realtimeURL(cfg Config) (string, error) {
	base := strings.TrimSpace(cfg.URL)
	if base == "" {
		base = DefaultRealtimeURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("realtime url: %w", err)
	}
	if cfg.Model != "" {
		q := u.Query()
		q.Set("model", cfg.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func sessionUpdate(cfg Config) map[string]any {
	session := map[string]any{
		"modalities":                []string{"audio", "text"},
		"instructions":              cfg.Instructions,
		"input_audio_format":        "pcm16",
		"output_audio_format":       "pcm16",
		"input_audio_transcription": map[string]any{"model": "whisper-1"},
		"turn_detection":            map[string]any{"type": "server_vad"},
	}
	if cfg.Voice != "" {
		session["voice"] = cfg.Voice
	}
	if len(cfg.Tools) > 0 {
		session["tools"] = cfg.Tools
		session["tool_choice"] = "auto"
	}
	return map[string]any{"type": "session.update", "event_id": newEventID(), "session": session}
}

func (s *Session) readLoop(ctx context.Context) {
	defer close(s.done)
	reason := "closed"
	defer func() {
		if s.cb.OnClose != nil {
			s.cb.OnClose(reason)
		}
	}()
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure, errors.Is(err, context.Canceled):
			default:
				reason = err.Error()
				if s.cb.OnError != nil {
					s.cb.OnError(err)
				}
			}
			return
		}
		var evt ServerEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Debug("skip malformed realtime event", "err", err)
			continue
		}
		evt.Raw = data
		if evt.Type == EventError && evt.Error != nil && s.cb.OnError != nil {
			s.cb.OnError(fmt.Errorf("realtime %s: %s", evt.Error.Type, evt.Error.Message))
		}
		if s.cb.OnMessage != nil {
			s.cb.OnMessage(evt)
		}
	}
}

// SendRealtimeInput appends raw pcm16 audio to the upstream input buffer.
func (s *Session) SendRealtimeInput(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	return s.send(ctx, map[string]any{
		"type":     "input_audio_buffer.append",
		"event_id": newEventID(),
		"audio":    base64.StdEncoding.EncodeToString(audio),
	})
}

// SendToolResponse answers a function call and lets the agent continue.
func (s *Session) SendToolResponse(ctx context.Context, callID string, output any) error {
	b, err := json.Marshal(output)
	if err != nil {
		return err
	}
	if err := s.send(ctx, map[string]any{
		"type":     "conversation.item.create",
		"event_id": newEventID(),
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  string(b),
		},
	}); err != nil {
		return err
	}
	return s.send(ctx, map[string]any{"type": "response.create", "event_id": newEventID()})
}

func (s *Session) send(ctx context.Context, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, s.conn, v)
}

// Close ends the session. It is safe to call from a callback; use Done to
// wait for the read loop.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close(websocket.StatusNormalClosure, "")
		s.cancel()
	})
	return err
}

// Done is closed when the read loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func newEventID() string {
	return "evt_" + uuid.NewString()
}
