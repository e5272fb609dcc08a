package localapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/go-playground/validator/v10"

	"sitecrew/cli/internal/metrics"
	"sitecrew/cli/internal/orchestrator"
	"sitecrew/cli/internal/workflow"
)

const maxBodyBytes = 20 << 20

type ProjectStore interface {
	Get(id string) (workflow.Project, error)
	List() []workflow.Project
	Subscribe(fn func(workflow.Event)) func()
}

type Workflow interface {
	CreateProject(ctx context.Context) (workflow.Project, error)
	StartDemo(ctx context.Context) (workflow.Project, error)
	SendMessage(ctx context.Context, projectID, content string, attachment *workflow.Attachment) (workflow.Project, error)
	DecidePRD(ctx context.Context, projectID string, approved bool) (workflow.Project, error)
	EditPRD(ctx context.Context, projectID, content string) (workflow.Project, error)
	Stop(ctx context.Context, projectID string) (workflow.Project, error)
	UpdateSettings(ctx context.Context, projectID string, patch orchestrator.SettingsPatch) (workflow.Project, error)
	DeleteProject(ctx context.Context, projectID string) error
	Enhance(ctx context.Context, prompt string) string
	Suggestions(ctx context.Context, fileName, codeBeforeCursor string) []string
}

type KnowledgeStore interface {
	List(ctx context.Context) ([]workflow.KnowledgeEntry, error)
	Clear(ctx context.Context) error
}

type VoiceRelay interface {
	Serve(ctx context.Context, client *websocket.Conn, projectID string) error
}

type Deps struct {
	Projects  ProjectStore
	Workflow  Workflow
	Knowledge KnowledgeStore
	Voice     VoiceRelay
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

type Server struct {
	deps     Deps
	mux      *http.ServeMux
	hub      *WSHub
	validate *validator.Validate
	logger   *slog.Logger
	unsub    func()
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:     deps,
		mux:      http.NewServeMux(),
		hub:      NewWSHub(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("component", "localapi"),
	}
	s.registerProjectRoutes()
	s.registerKnowledgeRoutes()
	s.registerAssistRoutes()
	s.registerVoiceRoutes()
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /ws", s.hub.HandleWS)
	if deps.Metrics != nil {
		s.mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
	if deps.Projects != nil {
		s.unsub = deps.Projects.Subscribe(s.forwardProjectEvent)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	if s.deps.Metrics == nil {
		return s.mux
	}
	return instrument(s.mux, s.deps.Metrics)
}

// Close detaches the server from the project store and drops hub clients.
func (s *Server) Close() {
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	s.hub.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, map[string]any{"status": "ok"})
}

func (s *Server) forwardProjectEvent(evt workflow.Event) {
	switch evt.Kind {
	case workflow.EventProjectDeleted:
		s.hub.Publish(string(evt.Kind), evt.ProjectID, nil)
	default:
		s.hub.Publish(string(evt.Kind), evt.ProjectID, map[string]any{"project": evt.Project})
	}
}

// PublishKnowledge announces a change to the knowledge base.
func (s *Server) PublishKnowledge(entries []workflow.KnowledgeEntry) {
	if entries == nil {
		entries = []workflow.KnowledgeEntry{}
	}
	s.hub.Publish(TopicKnowledgeUpdated, "", map[string]any{"entries": entries})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func (s *Server) respondWorkflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrProjectNotFound):
		respondError(w, http.StatusNotFound, "PROJECT_NOT_FOUND", err.Error())
	case errors.Is(err, workflow.ErrFileNotFound):
		respondError(w, http.StatusNotFound, "FILE_NOT_FOUND", err.Error())
	case errors.Is(err, workflow.ErrDelivered):
		respondError(w, http.StatusConflict, "PROJECT_DELIVERED", err.Error())
	case errors.Is(err, workflow.ErrBusy):
		respondError(w, http.StatusConflict, "PROJECT_BUSY", err.Error())
	case errors.Is(err, workflow.ErrInvalidStage):
		respondError(w, http.StatusConflict, "INVALID_STAGE", err.Error())
	case errors.Is(err, workflow.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, "EMPTY_MESSAGE", err.Error())
	case errors.Is(err, orchestrator.ErrRuntimeClosed):
		respondError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error())
	default:
		s.logger.Error("request failed", "err", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func respondOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": data})
}

func respondError(w http.ResponseWriter, code int, errCode string, msg string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": map[string]any{"code": errCode, "message": msg}})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
