package localapi

import (
	"errors"
	"net/http"

	"github.com/coder/websocket"
)

func (s *Server) registerVoiceRoutes() {
	s.mux.HandleFunc("GET /api/v1/projects/{id}/voice", s.handleVoice)
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if s.deps.Voice == nil {
		respondError(w, http.StatusServiceUnavailable, "VOICE_UNAVAILABLE", "voice sessions are not configured")
		return
	}
	id := r.PathValue("id")
	if _, err := s.deps.Projects.Get(id); err != nil {
		s.respondWorkflowError(w, err)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("voice upgrade failed", "project_id", id, "err", err)
		return
	}
	defer conn.CloseNow()

	if err := s.deps.Voice.Serve(r.Context(), conn, id); err != nil && !errors.Is(err, r.Context().Err()) {
		s.logger.Warn("voice session ended with error", "project_id", id, "err", err)
		_ = conn.Close(websocket.StatusInternalError, "voice session failed")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}
