package localapi

import (
	"net/http"

	"sitecrew/cli/internal/workflow"
)

func (s *Server) registerKnowledgeRoutes() {
	s.mux.HandleFunc("GET /api/v1/knowledge", s.handleListKnowledge)
	s.mux.HandleFunc("DELETE /api/v1/knowledge", s.handleClearKnowledge)
}

func (s *Server) handleListKnowledge(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Knowledge.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "KNOWLEDGE_LIST_FAILED", err.Error())
		return
	}
	if entries == nil {
		entries = []workflow.KnowledgeEntry{}
	}
	respondOK(w, entries)
}

func (s *Server) handleClearKnowledge(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Knowledge.Clear(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "KNOWLEDGE_CLEAR_FAILED", err.Error())
		return
	}
	s.logger.Info("knowledge base cleared")
	s.PublishKnowledge(nil)
	respondOK(w, map[string]any{"cleared": true})
}
