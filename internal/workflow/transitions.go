package workflow

import (
	"fmt"
	"strings"
	"time"

	"sitecrew/cli/internal/directive"

	"github.com/google/uuid"
)

const (
	msgDraftingPRD     = "I'm drafting the Product Requirements Document (PRD)..."
	msgHandoff         = "Great! I'm handing off to our Frontend AI to start building."
	msgComplete        = "Project is complete!"
	msgCodegenComplete = "Code generation complete. Sending for review."
	msgReviewApproved  = "Code passed all checks. The project is now ready for your review."
	msgReviewFixing    = "The Reviewer AI found some issues. I'm sending it back to our Frontend AI for corrections."
	msgCancelled       = "Operation cancelled by the user."
	msgDemoIntro       = "Demo initiated with a sample portfolio PRD."
	msgInterrupted     = "The previous operation was interrupted before it finished."

	PRDApprovedMessage = "The PRD is approved. Please proceed."
	PRDChangesMessage  = "I have feedback on the PRD."
	DemoPromptPrefix   = "Generate a website based on this PRD:\n\n"
)

type FollowUpKind string

const (
	FollowUpNone        FollowUpKind = ""
	FollowUpCodegen     FollowUpKind = "codegen"
	FollowUpCoordinator FollowUpKind = "coordinator"
	FollowUpLearn       FollowUpKind = "learn"
)

type FollowUp struct {
	Kind   FollowUpKind
	Prompt string
	// Placeholder is the builder turn a codegen follow-up resolves.
	Placeholder string
}

// Outcome names the work a transition defers to the project's runtime queue.
type Outcome struct {
	FollowUp FollowUp
}

func (o Outcome) HasFollowUp() bool {
	return o.FollowUp.Kind != FollowUpNone
}

// TurnMeta carries stream metadata attached to a resolved agent turn.
type TurnMeta struct {
	Thoughts string
	Sources  []Source
}

var (
	newTurnID = func() string { return uuid.NewString() }
	nowMillis = func() int64 { return time.Now().UnixMilli() }
)

func newTurn(agent Agent, content string) Turn {
	return Turn{ID: newTurnID(), Agent: agent, Content: content, CreatedAt: nowMillis()}
}

func (p *Project) turnIndex(id string) int {
	for i := range p.Turns {
		if p.Turns[i].ID == id {
			return i
		}
	}
	return -1
}

// UpdateTurn applies fn to the turn with the given id and reports whether it exists.
func (p *Project) UpdateTurn(id string, fn func(*Turn)) bool {
	i := p.turnIndex(id)
	if i < 0 {
		return false
	}
	fn(&p.Turns[i])
	return true
}

// resolveTurn replaces a placeholder in place, or appends when it is gone.
func (p *Project) resolveTurn(id string, turn Turn) {
	if i := p.turnIndex(id); i >= 0 {
		turn.ID = p.Turns[i].ID
		turn.CreatedAt = p.Turns[i].CreatedAt
		p.Turns[i] = turn
		return
	}
	p.Turns = append(p.Turns, turn)
}

func AppendUserTurn(p *Project, content string, attachment *Attachment, voice bool) (Turn, error) {
	if p.Stage == StageDelivery {
		return Turn{}, ErrDelivered
	}
	if strings.TrimSpace(content) == "" && attachment == nil {
		return Turn{}, ErrEmptyMessage
	}
	if p.HasPlaceholder() {
		return Turn{}, ErrBusy
	}
	turn := newTurn(AgentUser, content)
	turn.Attachment = attachment
	turn.Voice = voice
	p.Turns = append(p.Turns, turn)
	return turn, nil
}

// AppendAgentTurn records a finished agent turn that needs no transition.
func AppendAgentTurn(p *Project, agent Agent, content string, voice bool) Turn {
	turn := newTurn(agent, content)
	turn.Voice = voice
	p.Turns = append(p.Turns, turn)
	return turn
}

// BeginTurn appends an awaiting-response placeholder for agent.
func BeginTurn(p *Project, agent Agent) string {
	turn := newTurn(agent, "")
	turn.Loading = true
	p.Turns = append(p.Turns, turn)
	return turn.ID
}

func enterCodeGeneration(p *Project) string {
	p.Stage = StageCodeGeneration
	turn := newTurn(AgentFrontend, "")
	turn.Generating = true
	p.Turns = append(p.Turns, turn)
	return turn.ID
}

// BeginCodegen starts the builder turn reserved as placeholderID. It reports
// false when that placeholder is gone or the project left CODE_GENERATION,
// in which case the codegen follow-up is stale.
func BeginCodegen(p *Project, placeholderID string) bool {
	if p.Stage != StageCodeGeneration {
		return false
	}
	idx := p.turnIndex(placeholderID)
	if idx < 0 || !p.Turns[idx].Generating {
		return false
	}
	p.PinOpenFile(PRDFileName)
	return true
}

// ApplyDirective resolves a coordinator placeholder from the assembled
// response text and performs the transition the directive asks for.
func ApplyDirective(p *Project, placeholderID, text string, meta TurnMeta) Outcome {
	d := directive.Parse(text)
	turn := newTurn(AgentManager, "")
	turn.Thoughts = meta.Thoughts
	turn.Sources = meta.Sources
	turn.APIContent = text

	switch d.Kind {
	case directive.KindCreatePRD:
		if strings.TrimSpace(d.Payload) == "" {
			break
		}
		turn.Content = msgDraftingPRD
		p.resolveTurn(placeholderID, turn)
		p.PRD = d.Payload
		if title, ok := directive.ExtractTitle(d.Payload); ok {
			p.Title = title
		}
		p.Stage = StagePRDReview
		p.ActiveFile = PRDFileName
		p.PinOpenFile(PRDFileName)
		return Outcome{}
	case directive.KindGenerate:
		turn.Content = msgHandoff
		p.resolveTurn(placeholderID, turn)
		id := enterCodeGeneration(p)
		return Outcome{FollowUp: FollowUp{Kind: FollowUpCodegen, Prompt: d.Payload, Placeholder: id}}
	case directive.KindProjectComplete:
		turn.Content = strings.TrimSpace(d.Payload)
		if turn.Content == "" {
			turn.Content = msgComplete
		}
		turn.Sources = nil
		p.resolveTurn(placeholderID, turn)
		p.Stage = StageDelivery
		return Outcome{FollowUp: FollowUp{Kind: FollowUpLearn}}
	}

	turn.Content = text
	p.resolveTurn(placeholderID, turn)
	return Outcome{}
}

// FailTurn replaces a placeholder with a visible error turn; the stage is kept.
func FailTurn(p *Project, placeholderID string, agent Agent, err error) {
	turn := newTurn(agent, "Error: "+errorText(err))
	turn.Error = true
	p.resolveTurn(placeholderID, turn)
}

// CompleteCodegen resolves the builder placeholder, moves to REVIEW and
// returns the reviewer placeholder id.
func CompleteCodegen(p *Project, placeholderID string, meta TurnMeta) string {
	turn := newTurn(AgentFrontend, msgCodegenComplete)
	turn.Thoughts = meta.Thoughts
	p.resolveTurn(placeholderID, turn)
	p.SelectActiveFile()
	p.Stage = StageReview
	return BeginTurn(p, AgentReviewer)
}

func FailCodegen(p *Project, placeholderID string, err error) {
	turn := newTurn(AgentFrontend, "Code generation error: "+errorText(err))
	turn.Error = true
	p.resolveTurn(placeholderID, turn)
	p.Stage = StagePRDReview
}

func FixPrompt(feedback, prd string) string {
	return "The previous code generation was rejected by the reviewer. Please fix the following issues and regenerate ALL the files. Do not apologize, just provide the corrected code.\n\n**Reviewer Feedback:**\n" +
		feedback + "\n\n---\n\n**Original Product Requirements Document (for context):**\n" + prd
}

// ApplyReview resolves the reviewer placeholder. Approval hands the project to
// the user; rejection loops back into code generation with fix instructions.
func ApplyReview(p *Project, placeholderID, raw string, review directive.Review, meta TurnMeta) Outcome {
	turn := newTurn(AgentReviewer, "")
	turn.Thoughts = meta.Thoughts
	turn.APIContent = raw
	if review.Approved {
		turn.Content = msgReviewApproved
		p.resolveTurn(placeholderID, turn)
		p.Stage = StageUserReview
		return Outcome{FollowUp: FollowUp{Kind: FollowUpCoordinator}}
	}
	turn.Content = "Review found issues:\n" + review.Feedback
	p.resolveTurn(placeholderID, turn)
	AppendAgentTurn(p, AgentManager, msgReviewFixing, false)
	id := enterCodeGeneration(p)
	return Outcome{FollowUp: FollowUp{Kind: FollowUpCodegen, Prompt: FixPrompt(review.Feedback, p.PRD), Placeholder: id}}
}

func FailReview(p *Project, placeholderID string, err error) Outcome {
	turn := newTurn(AgentReviewer, "Review error: "+errorText(err))
	turn.Error = true
	p.resolveTurn(placeholderID, turn)
	p.Stage = StageDelivery
	return Outcome{FollowUp: FollowUp{Kind: FollowUpLearn}}
}

func ApplyPRDDecision(p *Project, approved bool) (Outcome, error) {
	if p.Stage != StagePRDReview {
		return Outcome{}, fmt.Errorf("prd decision in %s: %w", p.Stage, ErrInvalidStage)
	}
	if p.HasPlaceholder() {
		return Outcome{}, ErrBusy
	}
	content := PRDChangesMessage
	if approved {
		content = PRDApprovedMessage
	}
	p.Turns = append(p.Turns, newTurn(AgentUser, content))
	p.Stage = StageUserReview
	return Outcome{FollowUp: FollowUp{Kind: FollowUpCoordinator}}, nil
}

func EditPRD(p *Project, content string) error {
	if p.Stage != StagePRDReview {
		return fmt.Errorf("prd edit in %s: %w", p.Stage, ErrInvalidStage)
	}
	p.PRD = content
	return nil
}

// ApplyCancel prunes unresolved placeholders, records the cancellation and
// returns the project to a user-interactive stage.
func ApplyCancel(p *Project) error {
	if p.Stage == StageDelivery {
		return ErrDelivered
	}
	kept := p.Turns[:0]
	for _, turn := range p.Turns {
		if !turn.Placeholder() {
			kept = append(kept, turn)
		}
	}
	p.Turns = kept
	p.Turns = append(p.Turns, newTurn(AgentManager, msgCancelled))
	p.Stage = StageUserReview
	return nil
}

// RecoverInterrupted repairs a restored project whose turn was in flight when
// the process stopped. It reports whether anything changed.
func RecoverInterrupted(p *Project) bool {
	busy := p.Stage == StageCodeGeneration || p.Stage == StageReview || p.HasPlaceholder()
	if !busy {
		return false
	}
	kept := p.Turns[:0]
	for _, turn := range p.Turns {
		if !turn.Placeholder() {
			kept = append(kept, turn)
		}
	}
	p.Turns = kept
	if p.Stage == StageCodeGeneration || p.Stage == StageReview {
		p.Turns = append(p.Turns, newTurn(AgentManager, msgInterrupted))
		p.Stage = StageUserReview
	}
	return true
}

// StartDemo seeds a project with prd and queues a builder turn for it.
func StartDemo(p *Project, prd string) Outcome {
	p.Title = DemoTitle
	p.PRD = prd
	AppendAgentTurn(p, AgentManager, msgDemoIntro, false)
	id := enterCodeGeneration(p)
	return Outcome{FollowUp: FollowUp{Kind: FollowUpCodegen, Prompt: DemoPromptPrefix + prd, Placeholder: id}}
}

// ApplyVoiceSummary records the requirements summary captured by a voice
// session as a user turn and asks the coordinator to draft the PRD.
func ApplyVoiceSummary(p *Project, summary string) (Outcome, error) {
	if _, err := AppendUserTurn(p, summary, nil, true); err != nil {
		return Outcome{}, err
	}
	return Outcome{FollowUp: FollowUp{Kind: FollowUpCoordinator}}, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
