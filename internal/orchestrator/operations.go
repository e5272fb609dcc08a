package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"sitecrew/cli/internal/workflow"
)

// CreateProject starts a project and lets the coordinator open the
// conversation.
func (o *Orchestrator) CreateProject(ctx context.Context) (workflow.Project, error) {
	var next task
	p, err := o.projects.Create(workflow.DefaultTitle, workflow.StageRequirementGathering, func(p *workflow.Project) error {
		next = prepare(p, workflow.Outcome{FollowUp: workflow.FollowUp{Kind: workflow.FollowUpCoordinator}})
		return nil
	})
	if err != nil {
		return workflow.Project{}, err
	}
	o.cancel.Reset(p.ID)
	o.schedule(p.ID, next)
	return p, nil
}

// StartDemo creates a project from the sample PRD and goes straight to code
// generation.
func (o *Orchestrator) StartDemo(ctx context.Context) (workflow.Project, error) {
	var next task
	p, err := o.projects.Create(workflow.DemoTitle, workflow.StageCodeGeneration, func(p *workflow.Project) error {
		next = prepare(p, workflow.StartDemo(p, SamplePRD))
		return nil
	})
	if err != nil {
		return workflow.Project{}, err
	}
	o.cancel.Reset(p.ID)
	o.schedule(p.ID, next)
	return p, nil
}

func (o *Orchestrator) SendMessage(ctx context.Context, projectID, content string, attachment *workflow.Attachment) (workflow.Project, error) {
	return o.userTurn(projectID, func(p *workflow.Project) (workflow.Outcome, error) {
		if _, err := workflow.AppendUserTurn(p, content, attachment, false); err != nil {
			return workflow.Outcome{}, err
		}
		return workflow.Outcome{FollowUp: workflow.FollowUp{Kind: workflow.FollowUpCoordinator}}, nil
	})
}

func (o *Orchestrator) DecidePRD(ctx context.Context, projectID string, approved bool) (workflow.Project, error) {
	return o.userTurn(projectID, func(p *workflow.Project) (workflow.Outcome, error) {
		return workflow.ApplyPRDDecision(p, approved)
	})
}

// SubmitVoiceSummary records the requirements summary captured by a voice
// session and asks the coordinator to write the PRD.
func (o *Orchestrator) SubmitVoiceSummary(ctx context.Context, projectID, summary string) (workflow.Project, error) {
	return o.userTurn(projectID, func(p *workflow.Project) (workflow.Outcome, error) {
		return workflow.ApplyVoiceSummary(p, summary)
	})
}

// userTurn applies a user-initiated transition and queues its follow-up.
func (o *Orchestrator) userTurn(projectID string, fn func(*workflow.Project) (workflow.Outcome, error)) (workflow.Project, error) {
	var next task
	p, err := o.projects.Update(projectID, func(p *workflow.Project) error {
		out, err := fn(p)
		if err != nil {
			return err
		}
		o.cancel.Reset(p.ID)
		next = prepare(p, out)
		return nil
	})
	if err != nil {
		return workflow.Project{}, err
	}
	o.schedule(projectID, next)
	return p, nil
}

// RecordVoiceTranscript appends a finished voice utterance to the
// conversation without starting an agent turn.
func (o *Orchestrator) RecordVoiceTranscript(ctx context.Context, projectID string, agent workflow.Agent, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	_, err := o.projects.Update(projectID, func(p *workflow.Project) error {
		if agent == workflow.AgentUser {
			_, err := workflow.AppendUserTurn(p, text, nil, true)
			return err
		}
		workflow.AppendAgentTurn(p, agent, text, true)
		return nil
	})
	return err
}

func (o *Orchestrator) EditPRD(ctx context.Context, projectID, content string) (workflow.Project, error) {
	return o.projects.Update(projectID, func(p *workflow.Project) error {
		return workflow.EditPRD(p, content)
	})
}

// Stop flags the running turn as cancelled and returns the project to the
// user. In-flight requests finish on their own and their output is dropped.
func (o *Orchestrator) Stop(ctx context.Context, projectID string) (workflow.Project, error) {
	p, err := o.projects.Update(projectID, func(p *workflow.Project) error {
		if err := workflow.ApplyCancel(p); err != nil {
			return err
		}
		o.cancel.Cancel(p.ID)
		return nil
	})
	if err != nil {
		return workflow.Project{}, err
	}
	o.logger.Info("project stopped", "project_id", projectID)
	return p, nil
}

type SettingsPatch struct {
	DeepThinking *bool
	ActiveFile   *string
	CloseFile    *string
}

func (o *Orchestrator) UpdateSettings(ctx context.Context, projectID string, patch SettingsPatch) (workflow.Project, error) {
	return o.projects.Update(projectID, func(p *workflow.Project) error {
		if patch.DeepThinking != nil {
			p.DeepThinking = *patch.DeepThinking
		}
		if patch.ActiveFile != nil {
			name := *patch.ActiveFile
			if _, ok := p.File(name); !ok && name != workflow.PRDFileName {
				return fmt.Errorf("active file %q: %w", name, workflow.ErrFileNotFound)
			}
			p.OpenFile(name)
			p.ActiveFile = name
		}
		if patch.CloseFile != nil {
			p.CloseFile(*patch.CloseFile)
			if p.ActiveFile == *patch.CloseFile {
				p.ActiveFile = ""
				if len(p.OpenFiles) > 0 {
					p.ActiveFile = p.OpenFiles[0]
				}
			}
		}
		return nil
	})
}

func (o *Orchestrator) DeleteProject(ctx context.Context, projectID string) error {
	o.cancel.Cancel(projectID)
	o.runtime.Cancel(projectID)
	if err := o.projects.Delete(projectID); err != nil {
		return err
	}
	o.cancel.Forget(projectID)
	return nil
}
