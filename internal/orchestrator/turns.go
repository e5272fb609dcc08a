package orchestrator

import (
	"context"
	"errors"
	"strings"

	"sitecrew/cli/internal/directive"
	"sitecrew/cli/internal/genclient"
	"sitecrew/cli/internal/knowledge"
	"sitecrew/cli/internal/retry"
	"sitecrew/cli/internal/streamparse"
	"sitecrew/cli/internal/workflow"
)

func (o *Orchestrator) openStream(ctx context.Context, req genclient.Request) (genclient.Stream, error) {
	return retry.Do(ctx, o.retry, req.Call, o.settings.Retry.Primary.Policy(), retry.IsTransient, func(ctx context.Context) (genclient.Stream, error) {
		return o.gen.OpenStream(ctx, req)
	})
}

func (o *Orchestrator) knowledgePreamble(ctx context.Context) string {
	if o.knowledge == nil {
		return ""
	}
	entries, err := o.knowledge.List(ctx)
	if err != nil {
		o.logger.Warn("load knowledge base failed", "err", err)
		return ""
	}
	return knowledge.Preamble(entries)
}

func (o *Orchestrator) runCoordinator(ctx context.Context, projectID, placeholder string) {
	logger := o.logger.With("project_id", projectID, "persona", string(PersonaCoordinator))
	p, err := o.projects.Get(projectID)
	if err != nil || !o.live(&p, placeholder) {
		return
	}
	req := genclient.Request{
		Call:    "coordinator",
		System:  CoordinatorSystem(o.knowledgePreamble(ctx)),
		History: History(p),
		Tools:   []genclient.ToolSpec{genclient.WebSearchTool()},
	}
	text, meta, err := o.streamText(ctx, projectID, placeholder, req)
	if err != nil {
		if quietErr(err) {
			o.observe(PersonaCoordinator, "cancelled")
			return
		}
		logger.Error("coordinator turn failed", "err", err)
		o.observe(PersonaCoordinator, "error")
		_, _ = o.projects.Update(projectID, func(p *workflow.Project) error {
			if !o.live(p, placeholder) {
				return errCancelled
			}
			workflow.FailTurn(p, placeholder, workflow.AgentManager, err)
			return nil
		})
		return
	}

	var next task
	updated, err := o.projects.Update(projectID, func(p *workflow.Project) error {
		if !o.live(p, placeholder) {
			return errCancelled
		}
		next = prepare(p, workflow.ApplyDirective(p, placeholder, text, meta))
		return nil
	})
	if err != nil {
		o.observe(PersonaCoordinator, "cancelled")
		return
	}
	o.observe(PersonaCoordinator, "ok")
	logger.Info("coordinator turn finished", "stage", string(updated.Stage), "follow_up", string(next.kind))
	o.schedule(projectID, next)
}

// streamText streams a coordinator answer into its placeholder and returns
// the text after the thoughts block.
func (o *Orchestrator) streamText(ctx context.Context, projectID, placeholder string, req genclient.Request) (string, workflow.TurnMeta, error) {
	var meta workflow.TurnMeta
	stream, err := o.openStream(ctx, req)
	if err != nil {
		return "", meta, err
	}
	defer stream.Close()

	parser := streamparse.New(streamparse.Options{Mode: streamparse.ModeText, ThoughtsLimit: o.settings.Parser.TextThoughtsLimit})
	var text strings.Builder
	var collected []genclient.Source
	seen := map[string]bool{}
	thoughtsSet, sourcesSet := false, false

	apply := func(events []streamparse.Event, sources []genclient.Source) error {
		changed := false
		for _, evt := range events {
			switch evt.Kind {
			case streamparse.EventThoughts:
				if !thoughtsSet {
					meta.Thoughts = evt.Thoughts
					thoughtsSet = true
					changed = true
				}
			case streamparse.EventText:
				text.WriteString(evt.Text)
				changed = true
			}
		}
		var first []workflow.Source
		for _, s := range sources {
			if s.URI == "" || seen[s.URI] {
				continue
			}
			seen[s.URI] = true
			collected = append(collected, s)
		}
		if !sourcesSet && len(collected) > 0 {
			sourcesSet = true
			first = toSources(collected)
			changed = true
		}
		if !changed {
			return nil
		}
		content := text.String()
		thoughts := meta.Thoughts
		_, err := o.projects.Update(projectID, func(p *workflow.Project) error {
			if !o.live(p, placeholder) {
				return errCancelled
			}
			p.UpdateTurn(placeholder, func(t *workflow.Turn) {
				t.Content = content
				t.Thoughts = thoughts
				if first != nil {
					t.Sources = first
				}
			})
			return nil
		})
		return err
	}

	for stream.Next() {
		if o.cancel.Cancelled(projectID) {
			return "", meta, errCancelled
		}
		chunk := stream.Chunk()
		if err := apply(parser.Feed(chunk.Text), chunk.Sources); err != nil {
			return "", meta, err
		}
	}
	if err := stream.Err(); err != nil {
		return "", meta, err
	}
	if err := apply(parser.Flush(), nil); err != nil {
		return "", meta, err
	}
	if len(collected) > 0 {
		meta.Sources = toSources(collected)
	}
	return text.String(), meta, nil
}

func (o *Orchestrator) runCodegen(ctx context.Context, projectID, prompt, placeholder string) {
	logger := o.logger.With("project_id", projectID, "persona", string(PersonaBuilder))
	p, err := o.projects.Update(projectID, func(p *workflow.Project) error {
		if !o.live(p, placeholder) || !workflow.BeginCodegen(p, placeholder) {
			return errCancelled
		}
		return nil
	})
	if err != nil {
		logger.Debug("stale code generation dropped", "err", err)
		return
	}

	originals := make(map[string]workflow.GeneratedFile, len(p.Files))
	for _, f := range p.Files {
		originals[f.Name] = f
	}
	req := genclient.Request{
		Call:         "builder",
		System:       builderSystem,
		History:      []genclient.Message{genclient.UserText(BuildPrompt(prompt, p.Files))},
		DeepThinking: p.DeepThinking,
	}
	stream, err := o.openStream(ctx, req)
	if err != nil {
		o.failCodegen(projectID, placeholder, err)
		return
	}
	defer stream.Close()

	parser := streamparse.New(streamparse.Options{Mode: streamparse.ModeFiles, ThoughtsLimit: o.settings.Parser.FileThoughtsLimit})
	var thoughts string
	thoughtsSet := false
	apply := func(events []streamparse.Event) error {
		var files []streamparse.File
		setThoughts := false
		for _, evt := range events {
			switch evt.Kind {
			case streamparse.EventThoughts:
				if !thoughtsSet {
					thoughts, thoughtsSet, setThoughts = evt.Thoughts, true, true
				}
			case streamparse.EventFile:
				files = append(files, evt.File)
			}
		}
		if len(files) == 0 && !setThoughts {
			return nil
		}
		_, err := o.projects.Update(projectID, func(p *workflow.Project) error {
			if !o.live(p, placeholder) {
				return errCancelled
			}
			if setThoughts {
				p.UpdateTurn(placeholder, func(t *workflow.Turn) { t.Thoughts = thoughts })
			}
			for _, f := range files {
				p.PutFile(workflow.GeneratedFile{Name: f.Name, Content: f.Content, Type: f.Type})
				if strings.HasSuffix(f.Name, ".html") {
					p.OpenFile(f.Name)
				}
			}
			return nil
		})
		return err
	}

	for stream.Next() {
		if o.cancel.Cancelled(projectID) {
			o.discardOpenFile(projectID, parser, originals)
			o.observe(PersonaBuilder, "cancelled")
			return
		}
		if err := apply(parser.Feed(stream.Chunk().Text)); err != nil {
			if errors.Is(err, errCancelled) {
				o.discardOpenFile(projectID, parser, originals)
			}
			o.observe(PersonaBuilder, "cancelled")
			return
		}
	}
	if err := stream.Err(); err != nil {
		o.failCodegen(projectID, placeholder, err)
		return
	}
	if err := apply(parser.Flush()); err != nil {
		o.observe(PersonaBuilder, "cancelled")
		return
	}

	var reviewer string
	updated, err := o.projects.Update(projectID, func(p *workflow.Project) error {
		if !o.live(p, placeholder) {
			return errCancelled
		}
		reviewer = workflow.CompleteCodegen(p, placeholder, workflow.TurnMeta{Thoughts: thoughts})
		return nil
	})
	if err != nil {
		o.observe(PersonaBuilder, "cancelled")
		return
	}
	o.observe(PersonaBuilder, "ok")
	logger.Info("code generation finished", "files", len(updated.Files), "active_file", updated.ActiveFile)
	o.runReview(ctx, projectID, reviewer)
}

// discardOpenFile drops the partial content of the file that was being
// written when the turn stopped.
func (o *Orchestrator) discardOpenFile(projectID string, parser *streamparse.Parser, originals map[string]workflow.GeneratedFile) {
	open, ok := parser.OpenFile()
	if !ok {
		return
	}
	_, _ = o.projects.Update(projectID, func(p *workflow.Project) error {
		if orig, existed := originals[open.Name]; existed {
			p.PutFile(orig)
			return nil
		}
		p.RemoveFile(open.Name)
		p.CloseFile(open.Name)
		if p.ActiveFile == open.Name {
			p.SelectActiveFile()
		}
		return nil
	})
}

func (o *Orchestrator) failCodegen(projectID, placeholder string, err error) {
	if quietErr(err) {
		o.observe(PersonaBuilder, "cancelled")
		return
	}
	o.logger.Error("code generation failed", "project_id", projectID, "err", err)
	o.observe(PersonaBuilder, "error")
	_, _ = o.projects.Update(projectID, func(p *workflow.Project) error {
		if !o.live(p, placeholder) {
			return errCancelled
		}
		workflow.FailCodegen(p, placeholder, err)
		return nil
	})
}

func (o *Orchestrator) runReview(ctx context.Context, projectID, placeholder string) {
	logger := o.logger.With("project_id", projectID, "persona", string(PersonaReviewer))
	p, err := o.projects.Get(projectID)
	if err != nil || !o.live(&p, placeholder) {
		return
	}
	req := genclient.Request{
		Call:    "reviewer",
		System:  reviewerSystem,
		History: []genclient.Message{genclient.UserText(ReviewPrompt(p.PRD, p.Files))},
	}
	resp, err := retry.Do(ctx, o.retry, req.Call, o.settings.Retry.Primary.Policy(), retry.IsTransient, func(ctx context.Context) (*genclient.Response, error) {
		return o.gen.Complete(ctx, req)
	})

	var next task
	_, updateErr := o.projects.Update(projectID, func(p *workflow.Project) error {
		if !o.live(p, placeholder) {
			return errCancelled
		}
		if err != nil {
			if quietErr(err) {
				return errCancelled
			}
			next = prepare(p, workflow.FailReview(p, placeholder, err))
			return nil
		}
		thoughts, _, rest := streamparse.SplitThoughts(resp.Text, o.settings.Parser.TextThoughtsLimit)
		review := directive.ParseReview(resp.Text, rest)
		next = prepare(p, workflow.ApplyReview(p, placeholder, resp.Text, review, workflow.TurnMeta{Thoughts: thoughts}))
		return nil
	})
	switch {
	case updateErr != nil:
		o.observe(PersonaReviewer, "cancelled")
		return
	case err != nil:
		logger.Error("review failed", "err", err)
		o.observe(PersonaReviewer, "error")
	default:
		o.observe(PersonaReviewer, "ok")
		logger.Info("review finished", "follow_up", string(next.kind))
	}
	o.schedule(projectID, next)
}
