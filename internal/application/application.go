package application

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sitecrew/cli/internal/appserver"
	"sitecrew/cli/internal/genclient"
	"sitecrew/cli/internal/global"
	"sitecrew/cli/internal/knowledge"
	"sitecrew/cli/internal/lifecycle"
	"sitecrew/cli/internal/localapi"
	"sitecrew/cli/internal/logging"
	"sitecrew/cli/internal/metrics"
	"sitecrew/cli/internal/orchestrator"
	"sitecrew/cli/internal/projectstate"
	"sitecrew/cli/internal/retry"
	"sitecrew/cli/internal/voice"
	"sitecrew/cli/internal/workflow"
)

const (
	defaultLocalHost = "127.0.0.1"
	defaultLocalPort = 4731
	dbFileName       = "sitecrew.db"
	metricsNamespace = "sitecrew"
)

type shutdownStep struct {
	name string
	fn   func(context.Context) error
}

type Application struct {
	localAPIBaseURL string
	dbDSN           string
	settings        global.Settings
	restored        int

	mgr     *lifecycle.Manager
	cleanup []shutdownStep

	mu        sync.Mutex
	started   bool
	stopped   bool
	cancelRun context.CancelFunc
	done      chan struct{}
}

// StartApplication wires every component and returns an application ready to
// Run. Stored projects are restored before it returns.
func StartApplication(ctx context.Context, opts StartOptions) (*Application, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger(logging.Options{Level: opts.LogLevel, Component: "sitecrew"})
	}
	configDir := strings.TrimSpace(opts.ConfigDir)
	if configDir == "" {
		dir, err := global.DefaultConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		configDir = dir
	}
	settings, err := global.NewSettingsStore(configDir).LoadOrInit()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = applyModelOverrides(settings, opts.OpenAI)

	dsn := strings.TrimSpace(opts.DBDSN)
	if dsn == "" {
		dsn = filepath.Join(configDir, dbFileName)
	}
	if err := projectstate.InitGlobalDBWithDSN(dsn); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	gdb, err := projectstate.GlobalDBGORM()
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Application, error) {
		_ = projectstate.CloseGlobalDB()
		return nil, err
	}

	collector := metrics.NewCollector(metricsNamespace)
	executor := retry.NewExecutor(logger)
	executor.OnRetry = collector.ObserveRetry

	gen := opts.Generator
	if gen == nil {
		gen = genclient.NewResponsesClient(genclient.Config{
			BaseURL:     opts.OpenAI.Endpoint,
			APIKey:      opts.OpenAI.APIKey,
			Model:       settings.Models.Fast,
			DeepModel:   settings.Models.Deep,
			TraceStream: opts.OpenAI.TraceStream,
		}, nil, logger)
	}
	gen = genclient.NewBreakerGenerator(gen, genclient.BreakerConfig{
		ConsecutiveFailures: uint32(settings.Breaker.ConsecutiveFailures),
		OpenTimeout:         settings.Breaker.OpenTimeout(),
	}, logger)
	gen = metrics.InstrumentGenerator(gen, collector)

	projects := workflow.NewStore()
	persister := projectstate.NewPersister(projectstate.NewStore(gdb), projects, settings.Persistence.Debounce(), logger)
	persister.OnFlush = func(_, _ int, err error) { collector.ObserveFlush(err) }
	restored, err := persister.Restore(ctx)
	if err != nil {
		persister.Close()
		return fail(fmt.Errorf("restore projects: %w", err))
	}

	knowledgeStore, err := knowledge.NewStore(gdb)
	if err != nil {
		persister.Close()
		return fail(err)
	}
	learner := &knowledge.Learner{
		Store:     knowledgeStore,
		Projects:  projects,
		Generator: gen,
		Retry:     executor,
		Policy:    settings.Retry.Summary.Policy(),
		Logger:    logger,
	}
	orch := orchestrator.New(orchestrator.Options{
		Projects:  projects,
		Generator: gen,
		Knowledge: knowledgeStore,
		Learner:   learner,
		Retry:     executor,
		Settings:  settings,
		Observer:  collector,
		Logger:    logger,
	})
	relay := &voice.Relay{
		Config: voice.Config{
			URL:          voice.DefaultRealtimeURL,
			APIKey:       opts.OpenAI.APIKey,
			Model:        settings.Models.Realtime,
			Instructions: orchestrator.VoiceInstructions,
		},
		Recorder:  orch,
		Logger:    logger,
		OnSession: func(delta int) { collector.ActiveVoiceConns.Add(float64(delta)) },
	}
	api := localapi.NewServer(localapi.Deps{
		Projects:  projects,
		Workflow:  orch,
		Knowledge: knowledgeStore,
		Voice:     relay,
		Metrics:   collector,
		Logger:    logger,
	})
	learner.OnLearned = func(entry workflow.KnowledgeEntry) {
		collector.ProjectsLearned.Inc()
		entries, err := knowledgeStore.List(context.Background())
		if err != nil {
			logger.Warn("list knowledge after learning failed", "project_id", entry.ProjectID, "err", err)
			return
		}
		api.PublishKnowledge(entries)
	}

	front, err := appserver.NewServer(appserver.Deps{
		API: api.Handler(),
		WebUI: appserver.WebUIConfig{
			Mode:        opts.WebUI.Mode,
			DevProxyURL: opts.WebUI.DevProxyURL,
			DistDir:     opts.WebUI.DistDir,
		},
	})
	if err != nil {
		api.Close()
		orch.Close()
		persister.Close()
		return fail(err)
	}

	host := strings.TrimSpace(opts.LocalHost)
	if host == "" {
		host = defaultLocalHost
	}
	port := opts.LocalPort
	if port <= 0 {
		port = defaultLocalPort
	}
	addr := net.JoinHostPort(host, fmt.Sprint(port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           front.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	app := &Application{
		localAPIBaseURL: "http://" + addr,
		dbDSN:           dsn,
		settings:        settings,
		restored:        restored,
		mgr:             lifecycle.NewManager(),
		done:            make(chan struct{}),
	}
	app.cleanup = []shutdownStep{
		{"http-server", func(ctx context.Context) error {
			if err := httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}},
		{"local-api", func(context.Context) error {
			api.Close()
			return nil
		}},
		{"orchestrator", func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				orch.Close()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("orchestrator drain: %w", ctx.Err())
			}
		}},
		{"flush-projects", func(ctx context.Context) error {
			persister.Close()
			return persister.Flush(ctx)
		}},
		{"database", func(context.Context) error {
			return projectstate.CloseGlobalDB()
		}},
	}

	app.mgr.AddRun("http-server", func(runCtx context.Context) error {
		go func() {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
		logger.Info("listening", "addr", addr, "restored_projects", restored)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	app.mgr.AddRun("persister", persister.Run)
	for _, step := range app.cleanup {
		app.mgr.AddShutdown(step.name, step.fn)
	}
	return app, nil
}

func applyModelOverrides(s global.Settings, o OpenAIOptions) global.Settings {
	if m := strings.TrimSpace(o.Model); m != "" {
		s.Models.Fast = m
	}
	if m := strings.TrimSpace(o.DeepModel); m != "" {
		s.Models.Deep = m
	}
	if m := strings.TrimSpace(o.RealtimeModel); m != "" {
		s.Models.Realtime = m
	}
	return s
}

func (a *Application) LocalAPIBaseURL() string {
	if a == nil {
		return ""
	}
	return strings.TrimSpace(a.localAPIBaseURL)
}

func (a *Application) DBDSN() string {
	if a == nil {
		return ""
	}
	return strings.TrimSpace(a.dbDSN)
}

func (a *Application) Settings() global.Settings {
	if a == nil {
		return global.Settings{}
	}
	return a.settings
}

// RestoredProjects is the number of projects loaded from storage at startup.
func (a *Application) RestoredProjects() int {
	if a == nil {
		return 0
	}
	return a.restored
}

// Run serves until ctx ends or Shutdown is called, then releases every
// resource.
func (a *Application) Run(ctx context.Context) error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	if a.started || a.stopped {
		a.mu.Unlock()
		return errors.New("application already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.started = true
	a.cancelRun = cancel
	a.mu.Unlock()

	defer close(a.done)
	defer cancel()
	return a.mgr.StartAndWait(runCtx)
}

// Shutdown stops a running application and waits for Run to finish. An
// application that never ran has its resources released directly.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	started := a.started
	cancel := a.cancelRun
	a.mu.Unlock()

	if !started {
		var errs []error
		for _, step := range a.cleanup {
			if err := step.fn(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", step.name, err))
			}
		}
		return errors.Join(errs...)
	}
	cancel()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
