package appserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type WebUIConfig struct {
	// Mode is "prod" (serve DistDir), "dev" (proxy DevProxyURL) or "off".
	Mode        string
	DevProxyURL string
	DistDir     string
}

type Deps struct {
	API   http.Handler
	WebUI WebUIConfig
}

// Server is the single listener: API, event socket and metrics go to the
// local API handler, everything else to the web UI.
type Server struct {
	api   http.Handler
	webui http.Handler
}

func NewServer(deps Deps) (*Server, error) {
	if deps.API == nil {
		return nil, routeError("api handler is required")
	}
	webui, err := newWebUIHandler(deps.WebUI)
	if err != nil {
		return nil, err
	}
	return &Server{api: deps.API, webui: webui}, nil
}

func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveHTTP)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	switch {
	case p == "/ws" || p == "/healthz" || p == "/metrics" || strings.HasPrefix(p, "/api/"):
		s.api.ServeHTTP(w, r)
	default:
		s.webui.ServeHTTP(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func routeError(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
