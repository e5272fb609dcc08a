package localapi

import (
	"fmt"
	"net/http"

	"sitecrew/cli/internal/orchestrator"
	"sitecrew/cli/internal/workflow"
)

type messageRequest struct {
	Content    string             `json:"content" validate:"max=100000"`
	Attachment *attachmentRequest `json:"attachment,omitempty" validate:"omitempty"`
}

type attachmentRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	MIMEType string `json:"mime_type" validate:"required"`
	Data     string `json:"data" validate:"required,base64"`
}

type prdDecisionRequest struct {
	Approved *bool `json:"approved" validate:"required"`
}

type prdEditRequest struct {
	Content string `json:"content" validate:"required"`
}

type settingsRequest struct {
	DeepThinking *bool   `json:"deep_thinking,omitempty"`
	ActiveFile   *string `json:"active_file,omitempty" validate:"omitempty,min=1,max=255"`
	CloseFile    *string `json:"close_file,omitempty" validate:"omitempty,min=1,max=255"`
}

func (s *Server) registerProjectRoutes() {
	s.mux.HandleFunc("GET /api/v1/projects", s.handleListProjects)
	s.mux.HandleFunc("POST /api/v1/projects", s.handleCreateProject)
	s.mux.HandleFunc("GET /api/v1/projects/{id}", s.handleGetProject)
	s.mux.HandleFunc("DELETE /api/v1/projects/{id}", s.handleDeleteProject)
	s.mux.HandleFunc("POST /api/v1/projects/{id}/messages", s.handleSendMessage)
	s.mux.HandleFunc("POST /api/v1/projects/{id}/prd/decision", s.handlePRDDecision)
	s.mux.HandleFunc("PUT /api/v1/projects/{id}/prd", s.handleEditPRD)
	s.mux.HandleFunc("POST /api/v1/projects/{id}/stop", s.handleStop)
	s.mux.HandleFunc("PUT /api/v1/projects/{id}/settings", s.handleSettings)
	s.mux.HandleFunc("GET /api/v1/projects/{id}/bundle", s.handleBundle)
	s.mux.HandleFunc("POST /api/v1/demo", s.handleDemo)
}

func (s *Server) handleListProjects(w http.ResponseWriter, _ *http.Request) {
	projects := s.deps.Projects.List()
	if projects == nil {
		projects = []workflow.Project{}
	}
	respondOK(w, projects)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Workflow.CreateProject(r.Context())
	if err != nil {
		s.respondWorkflowError(w, err)
		return
	}
	respondOK(w, p)
}

func (s *Server) handleDemo(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Workflow.StartDemo(r.Context())
	if err != nil {
		s.respondWorkflowError(w, err)
		return
	}
	respondOK(w, p)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Projects.Get(r.PathValue("id"))
	if err != nil {
		s.respondWorkflowError(w, err)
		return
	}
	respondOK(w, p)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Workflow.DeleteProject(r.Context(), id); err != nil {
		s.respondWorkflowError(w, err)
		return
	}
	respondOK(w, map[string]any{"project_id": id})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	var attachment *workflow.Attachment
	if req.Attachment != nil {
		attachment = &workflow.Attachment{
			Name:     req.Attachment.Name,
			MIMEType: req.Attachment.MIMEType,
			Data:     req.Attachment.Data,
		}
	}
	p, err := s.deps.Workflow.SendMessage(r.Context(), r.PathValue("id"), req.Content, attachment)
	if err != nil {
		s.respondWorkflowError(w, err)
		return
	}
	respondOK(w, p)
}

func (s *Server) handlePRDDecision(w http.ResponseWriter, r *http.Request) {
	var req prdDecisionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	p, err := s.deps.Workflow.DecidePRD(r.Context(), r.PathValue("id"), *req.Approved)
	if err != nil {
		s.respondWorkflowError(w, err)
		return
	}
	respondOK(w, p)
}

func (s *Server) handleEditPRD(w http.ResponseWriter, r *http.Request) {
	var req prdEditRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	p, err := s.deps.Workflow.EditPRD(r.Context(), r.PathValue("id"), req.Content)
	if err != nil {
		s.respondWorkflowError(w, err)
		return
	}
	respondOK(w, p)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Workflow.Stop(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondWorkflowError(w, err)
		return
	}
	respondOK(w, p)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	p, err := s.deps.Workflow.UpdateSettings(r.Context(), r.PathValue("id"), orchestrator.SettingsPatch{
		DeepThinking: req.DeepThinking,
		ActiveFile:   req.ActiveFile,
		CloseFile:    req.CloseFile,
	})
	if err != nil {
		s.respondWorkflowError(w, err)
		return
	}
	respondOK(w, p)
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Projects.Get(r.PathValue("id"))
	if err != nil {
		s.respondWorkflowError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", orchestrator.BundleName(p)))
	if err := orchestrator.WriteBundle(w, p); err != nil {
		s.logger.Error("write bundle failed", "project_id", p.ID, "err", err)
	}
}
