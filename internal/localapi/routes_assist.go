package localapi

import "net/http"

type enhanceRequest struct {
	Prompt string `json:"prompt" validate:"max=20000"`
}

type suggestionsRequest struct {
	FileName         string `json:"file_name" validate:"required,max=255"`
	CodeBeforeCursor string `json:"code_before_cursor" validate:"max=200000"`
}

func (s *Server) registerAssistRoutes() {
	s.mux.HandleFunc("POST /api/v1/assist/enhance", s.handleEnhance)
	s.mux.HandleFunc("POST /api/v1/assist/suggestions", s.handleSuggestions)
}

func (s *Server) handleEnhance(w http.ResponseWriter, r *http.Request) {
	var req enhanceRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	respondOK(w, map[string]any{"prompt": s.deps.Workflow.Enhance(r.Context(), req.Prompt)})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	var req suggestionsRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	suggestions := s.deps.Workflow.Suggestions(r.Context(), req.FileName, req.CodeBeforeCursor)
	if suggestions == nil {
		suggestions = []string{}
	}
	respondOK(w, map[string]any{"suggestions": suggestions})
}
