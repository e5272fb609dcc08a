package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"sitecrew/cli/internal/genclient"
	"sitecrew/cli/internal/retry"
	"sitecrew/cli/internal/workflow"
)

const summarizerSystem = "You are an expert summarizer. Be brief and factual."

type ProjectSource interface {
	Get(id string) (workflow.Project, error)
}

// Learner turns delivered projects into knowledge entries, at most once per
// project. Failures are logged and never reach the workflow.
type Learner struct {
	Store     *Store
	Projects  ProjectSource
	Generator genclient.Generator
	Retry     *retry.Executor
	Policy    retry.Policy
	Logger    *slog.Logger
	Now       func() time.Time
	OnLearned func(entry workflow.KnowledgeEntry)

	mu       sync.Mutex
	inflight map[string]bool
}

// Learn summarizes projectID and stores the entry unless one exists.
func (l *Learner) Learn(ctx context.Context, projectID string) {
	logger := l.logger().With("project_id", projectID)
	if !l.claim(projectID) {
		return
	}
	defer l.release(projectID)

	has, err := l.Store.Has(ctx, projectID)
	if err != nil {
		logger.Error("knowledge lookup failed", "err", err)
		return
	}
	if has {
		logger.Debug("knowledge entry exists, skipping")
		return
	}
	project, err := l.Projects.Get(projectID)
	if err != nil {
		logger.Error("learn from project failed", "err", err)
		return
	}
	entry := workflow.KnowledgeEntry{
		ProjectID: project.ID,
		Title:     project.Title,
		Summary:   l.summarize(ctx, project),
		CreatedAt: l.now().UnixMilli(),
	}
	written, err := l.Store.Put(ctx, entry)
	if err != nil {
		logger.Error("store knowledge entry failed", "err", err)
		return
	}
	if written {
		logger.Info("project learned", "title", project.Title)
		if l.OnLearned != nil {
			l.OnLearned(entry)
		}
	}
}

func (l *Learner) summarize(ctx context.Context, p workflow.Project) string {
	policy := l.Policy
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	resp, err := retry.Do(ctx, l.Retry, "summary", policy, retry.IsTransient, func(ctx context.Context) (*genclient.Response, error) {
		return l.Generator.Complete(ctx, genclient.Request{
			Call:    "summary",
			System:  summarizerSystem,
			History: []genclient.Message{genclient.UserText(SummaryPrompt(p))},
		})
	})
	if err != nil {
		l.logger().Error("summarize project failed", "project_id", p.ID, "err", err)
		return fmt.Sprintf("Failed to summarize project %q.", p.Title)
	}
	if text := strings.TrimSpace(resp.Text); text != "" {
		return text
	}
	return "Could not summarize project."
}

func SummaryPrompt(p workflow.Project) string {
	names := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		names = append(names, f.Name)
	}
	var b strings.Builder
	b.WriteString("Write a concise one-paragraph summary of this web project for future reference by another AI. ")
	b.WriteString("Cover the core purpose, key features and design aesthetic. No conversational filler.\n\n")
	fmt.Fprintf(&b, "Project Title: %q\n\n", p.Title)
	b.WriteString("Product Requirements Document (PRD):\n---\n")
	b.WriteString(p.PRD)
	b.WriteString("\n---\n\n")
	fmt.Fprintf(&b, "Final generated files: %s\n", strings.Join(names, ", "))
	return b.String()
}

func (l *Learner) claim(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight == nil {
		l.inflight = map[string]bool{}
	}
	if l.inflight[id] {
		return false
	}
	l.inflight[id] = true
	return true
}

func (l *Learner) release(id string) {
	l.mu.Lock()
	delete(l.inflight, id)
	l.mu.Unlock()
}

func (l *Learner) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l *Learner) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}
