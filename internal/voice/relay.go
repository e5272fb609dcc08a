// Package voice relays a browser audio connection to a realtime voice
// session. Binary frames carry pcm16 audio both ways; text frames carry JSON
// ClientEvents.
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"sitecrew/cli/internal/workflow"
)

// ClientEvent is a text frame sent to or received from the browser.
type ClientEvent struct {
	Type    string `json:"type"`
	Role    string `json:"role,omitempty"`
	Text    string `json:"text,omitempty"`
	Final   bool   `json:"final,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	ClientOpen         = "open"
	ClientTranscript   = "transcript"
	ClientPRDRequested = "prd_requested"
	ClientError        = "error"
	ClientClosed       = "closed"
	ClientEnd          = "end"
)

type Recorder interface {
	RecordVoiceTranscript(ctx context.Context, projectID string, agent workflow.Agent, text string) error
	SubmitVoiceSummary(ctx context.Context, projectID, summary string) (workflow.Project, error)
}

type Relay struct {
	Config   Config
	Recorder Recorder
	Logger   *slog.Logger
	// OnSession is told +1 when a session opens and -1 when it ends.
	OnSession func(delta int)
}

type clientWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *clientWriter) write(typ websocket.MessageType, b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return w.conn.Write(ctx, typ, b)
}

func (w *clientWriter) event(evt ClientEvent) {
	b, err := json.Marshal(evt)
	if err != nil {
		return
	}
	_ = w.write(websocket.MessageText, b)
}

// Serve runs one voice session for projectID until the browser leaves, the
// upstream closes or the agent asks for the PRD.
func (r *Relay) Serve(ctx context.Context, client *websocket.Conn, projectID string) error {
	logger := r.logger().With("project_id", projectID)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := &clientWriter{conn: client}
	events := make(chan ServerEvent, 64)
	cfg := r.Config
	cfg.Tools = append(append([]Tool(nil), cfg.Tools...), EndConversationToolSpec())

	session, err := Dial(ctx, cfg, Callbacks{
		OnOpen: func() { out.event(ClientEvent{Type: ClientOpen}) },
		OnMessage: func(evt ServerEvent) {
			select {
			case events <- evt:
			case <-ctx.Done():
			}
		},
		OnError: func(err error) {
			logger.Warn("voice session error", "err", err)
			out.event(ClientEvent{Type: ClientError, Message: err.Error()})
		},
		OnClose: func(reason string) {
			out.event(ClientEvent{Type: ClientClosed, Message: reason})
			cancel()
		},
	}, logger)
	if err != nil {
		out.event(ClientEvent{Type: ClientError, Message: err.Error()})
		return err
	}
	defer session.Close()
	if r.OnSession != nil {
		r.OnSession(1)
		defer r.OnSession(-1)
	}
	logger.Info("voice session started")

	go func() {
		defer cancel()
		for {
			typ, data, err := client.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				if err := session.SendRealtimeInput(ctx, data); err != nil {
					logger.Warn("forward audio failed", "err", err)
					return
				}
				continue
			}
			var evt ClientEvent
			if err := json.Unmarshal(data, &evt); err == nil && evt.Type == ClientEnd {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("voice session ended")
			return nil
		case evt := <-events:
			if r.handle(ctx, session, projectID, evt, out, logger) {
				logger.Info("voice session handed off to coordinator")
				return nil
			}
		}
	}
}

// handle reacts to one upstream event and reports whether the session is done.
func (r *Relay) handle(ctx context.Context, session *Session, projectID string, evt ServerEvent, out *clientWriter, logger *slog.Logger) bool {
	switch evt.Type {
	case EventAudioDelta:
		audio, err := evt.Audio()
		if err != nil {
			logger.Debug("skip undecodable audio delta", "err", err)
			return false
		}
		_ = out.write(websocket.MessageBinary, audio)
	case EventAudioTranscriptDelta:
		out.event(ClientEvent{Type: ClientTranscript, Role: string(workflow.AgentManager), Text: evt.Delta})
	case EventAudioTranscriptDone:
		r.record(ctx, projectID, workflow.AgentManager, evt.Transcript, logger)
		out.event(ClientEvent{Type: ClientTranscript, Role: string(workflow.AgentManager), Text: evt.Transcript, Final: true})
	case EventInputTranscriptDone:
		r.record(ctx, projectID, workflow.AgentUser, evt.Transcript, logger)
		out.event(ClientEvent{Type: ClientTranscript, Role: string(workflow.AgentUser), Text: evt.Transcript, Final: true})
	case EventFunctionCallDone:
		if evt.Name != EndConversationTool {
			_ = session.SendToolResponse(ctx, evt.CallID, map[string]string{"error": "unknown function " + evt.Name})
			return false
		}
		var args struct {
			Summary string `json:"summary"`
		}
		if err := json.Unmarshal([]byte(evt.Arguments), &args); err != nil || strings.TrimSpace(args.Summary) == "" {
			_ = session.SendToolResponse(ctx, evt.CallID, map[string]string{"error": "summary is required"})
			return false
		}
		if err := session.SendToolResponse(ctx, evt.CallID, map[string]string{"result": "ok"}); err != nil {
			logger.Warn("tool response failed", "err", err)
		}
		if _, err := r.Recorder.SubmitVoiceSummary(ctx, projectID, args.Summary); err != nil {
			logger.Error("submit voice summary failed", "err", err)
			out.event(ClientEvent{Type: ClientError, Message: err.Error()})
			return true
		}
		out.event(ClientEvent{Type: ClientPRDRequested})
		return true
	}
	return false
}

func (r *Relay) record(ctx context.Context, projectID string, agent workflow.Agent, text string, logger *slog.Logger) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if err := r.Recorder.RecordVoiceTranscript(ctx, projectID, agent, text); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, workflow.ErrBusy) {
			level = slog.LevelDebug
		}
		logger.Log(ctx, level, "record voice transcript failed", "agent", string(agent), "err", err)
	}
}

func (r *Relay) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
