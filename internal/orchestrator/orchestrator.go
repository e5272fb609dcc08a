package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"sitecrew/cli/internal/cancellation"
	"sitecrew/cli/internal/genclient"
	"sitecrew/cli/internal/global"
	"sitecrew/cli/internal/retry"
	"sitecrew/cli/internal/workflow"
)

// errCancelled discards a state update whose turn was stopped or replaced.
var errCancelled = errors.New("turn cancelled")

type KnowledgeBase interface {
	List(ctx context.Context) ([]workflow.KnowledgeEntry, error)
}

type Learner interface {
	Learn(ctx context.Context, projectID string)
}

type TurnObserver interface {
	ObserveTurn(persona, outcome string)
}

type Options struct {
	Projects     *workflow.Store
	Generator    genclient.Generator
	Knowledge    KnowledgeBase
	Learner      Learner
	Cancellation *cancellation.Coordinator
	Retry        *retry.Executor
	Settings     global.Settings
	Observer     TurnObserver
	Logger       *slog.Logger
}

// Orchestrator runs agent turns against the workflow store. Public methods
// apply the synchronous part of an operation and queue the agent work on the
// project's runtime.
type Orchestrator struct {
	projects  *workflow.Store
	gen       genclient.Generator
	knowledge KnowledgeBase
	learner   Learner
	cancel    *cancellation.Coordinator
	retry     *retry.Executor
	settings  global.Settings
	observer  TurnObserver
	logger    *slog.Logger
	runtime   *Runtime
}

// task is the payload queued on the runtime.
type task struct {
	kind        workflow.FollowUpKind
	prompt      string
	placeholder string
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cancel := opts.Cancellation
	if cancel == nil {
		cancel = cancellation.New()
	}
	o := &Orchestrator{
		projects:  opts.Projects,
		gen:       opts.Generator,
		knowledge: opts.Knowledge,
		learner:   opts.Learner,
		cancel:    cancel,
		retry:     opts.Retry,
		settings:  global.NormalizeSettings(opts.Settings),
		observer:  opts.Observer,
		logger:    logger.With("component", "orchestrator"),
	}
	o.runtime = NewRuntime(o.handle, o.logger)
	return o
}

func (o *Orchestrator) Close() {
	o.runtime.Close()
}

// Idle reports whether the project has no queued or running agent work.
func (o *Orchestrator) Idle(projectID string) bool {
	return o.runtime.Idle(projectID)
}

func (o *Orchestrator) handle(ctx context.Context, evt RuntimeEvent) error {
	t, ok := evt.Payload.(task)
	if !ok {
		return errors.New("unexpected runtime payload")
	}
	switch t.kind {
	case workflow.FollowUpCoordinator:
		o.runCoordinator(ctx, evt.Key, t.placeholder)
	case workflow.FollowUpCodegen:
		o.runCodegen(ctx, evt.Key, t.prompt, t.placeholder)
	case workflow.FollowUpLearn:
		if o.learner != nil {
			o.learner.Learn(ctx, evt.Key)
		}
	}
	return nil
}

// prepare runs inside the Update that produced out. It binds the follow-up
// to the placeholder it will resolve, reserving one for the coordinator.
func prepare(p *workflow.Project, out workflow.Outcome) task {
	t := task{kind: out.FollowUp.Kind, prompt: out.FollowUp.Prompt, placeholder: out.FollowUp.Placeholder}
	if t.kind == workflow.FollowUpCoordinator {
		t.placeholder = workflow.BeginTurn(p, workflow.AgentManager)
	}
	return t
}

func (o *Orchestrator) schedule(projectID string, t task) {
	if t.kind == workflow.FollowUpNone {
		return
	}
	if t.kind != workflow.FollowUpLearn && o.cancel.Cancelled(projectID) {
		o.logger.Debug("follow-up dropped after cancel", "project_id", projectID, "kind", string(t.kind))
		return
	}
	if err := o.runtime.TryEnqueue(RuntimeEvent{Key: projectID, Payload: t}); err != nil {
		o.logger.Error("enqueue follow-up failed", "project_id", projectID, "kind", string(t.kind), "err", err)
	}
}

// live reports whether a turn started for placeholder may still write to p.
func (o *Orchestrator) live(p *workflow.Project, placeholder string) bool {
	if o.cancel.Cancelled(p.ID) {
		return false
	}
	return p.UpdateTurn(placeholder, func(*workflow.Turn) {})
}

func (o *Orchestrator) observe(persona Persona, outcome string) {
	if o.observer != nil {
		o.observer.ObserveTurn(string(persona), outcome)
	}
}

// History converts the conversation into generation messages. Placeholders
// and error turns are left out.
func History(p workflow.Project) []genclient.Message {
	out := make([]genclient.Message, 0, len(p.Turns))
	for _, turn := range p.Turns {
		if turn.Placeholder() || turn.Error {
			continue
		}
		msg := genclient.Message{Role: genclient.RoleModel}
		if turn.Agent == workflow.AgentUser {
			msg.Role = genclient.RoleUser
		}
		if text := turn.HistoryText(); strings.TrimSpace(text) != "" {
			msg.Parts = append(msg.Parts, genclient.Part{Text: text})
		}
		if att := turn.Attachment; att != nil && att.Data != "" {
			msg.Parts = append(msg.Parts, genclient.Part{Name: att.Name, MIMEType: att.MIMEType, Data: att.Data})
		}
		if len(msg.Parts) > 0 {
			out = append(out, msg)
		}
	}
	return out
}

func toSources(in []genclient.Source) []workflow.Source {
	out := make([]workflow.Source, 0, len(in))
	for _, s := range in {
		out = append(out, workflow.Source{URI: s.URI, Title: s.Title})
	}
	return out
}

func quietErr(err error) bool {
	return errors.Is(err, errCancelled) || errors.Is(err, workflow.ErrProjectNotFound) || errors.Is(err, context.Canceled)
}
