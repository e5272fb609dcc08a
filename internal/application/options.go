package application

import (
	"log/slog"

	"sitecrew/cli/internal/genclient"
)

// StartOptions defines startup options for the local server.
type StartOptions struct {
	ConfigDir string
	DBDSN     string
	LocalHost string
	LocalPort int
	LogLevel  string
	OpenAI    OpenAIOptions
	WebUI     WebUIOptions

	// Generator replaces the OpenAI client, e.g. with a scripted one in tests.
	Generator genclient.Generator
	Logger    *slog.Logger
}

// OpenAIOptions carries connection settings. Non-empty model names override
// the ones in settings.toml.
type OpenAIOptions struct {
	Endpoint      string
	APIKey        string
	Model         string
	DeepModel     string
	RealtimeModel string
	TraceStream   bool
}

type WebUIOptions struct {
	Mode        string
	DevProxyURL string
	DistDir     string
}
