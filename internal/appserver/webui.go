package appserver

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const defaultDevProxyURL = "http://127.0.0.1:15173"

func newWebUIHandler(cfg WebUIConfig) (http.Handler, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case "", "off":
		return http.HandlerFunc(noWebUI), nil
	case "prod":
		dist := strings.TrimSpace(cfg.DistDir)
		if dist == "" {
			return nil, routeError("webui dist dir is required in prod mode")
		}
		return newSPAHandler(dist), nil
	case "dev":
		proxyURL := strings.TrimSpace(cfg.DevProxyURL)
		if proxyURL == "" {
			proxyURL = defaultDevProxyURL
		}
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, routeError("invalid dev proxy url: %w", err)
		}
		proxy := httputil.NewSingleHostReverseProxy(u)
		proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, e error) {
			http.Error(w, "webui dev server unavailable at "+proxyURL, http.StatusBadGateway)
		}
		return proxy, nil
	default:
		return nil, routeError("unsupported webui mode: %s", mode)
	}
}

func noWebUI(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"ok":    false,
		"error": map[string]any{"code": "NOT_FOUND", "message": "web ui is not enabled"},
	})
}

type spaHandler struct {
	dist string
}

func newSPAHandler(dist string) http.Handler {
	return &spaHandler{dist: dist}
}

func (h *spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clean := filepath.Clean("/" + r.URL.Path)
	indexPath := filepath.Join(h.dist, "index.html")
	if clean == "/" {
		http.ServeFile(w, r, indexPath)
		return
	}
	candidate := filepath.Join(h.dist, strings.TrimPrefix(clean, "/"))
	if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
		http.ServeFile(w, r, candidate)
		return
	}
	http.ServeFile(w, r, indexPath)
}
