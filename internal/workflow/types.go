package workflow

import (
	"errors"
	"path"
	"strings"
	"time"
)

type Stage string

const (
	StageWelcome              Stage = "WELCOME"
	StageRequirementGathering Stage = "REQUIREMENT_GATHERING"
	// StagePlanning is declared but no transition reaches it yet.
	StagePlanning       Stage = "PLANNING"
	StagePRDReview      Stage = "PRD_REVIEW"
	StageCodeGeneration Stage = "CODE_GENERATION"
	StageReview         Stage = "REVIEW"
	StageUserReview     Stage = "USER_REVIEW"
	StageDelivery       Stage = "DELIVERY"
)

var Stages = []Stage{
	StageRequirementGathering,
	StagePlanning,
	StagePRDReview,
	StageCodeGeneration,
	StageReview,
	StageUserReview,
	StageDelivery,
}

func (s Stage) Valid() bool {
	if s == StageWelcome {
		return true
	}
	for _, item := range Stages {
		if item == s {
			return true
		}
	}
	return false
}

type Agent string

const (
	AgentUser     Agent = "User"
	AgentManager  Agent = "Manager"
	AgentFrontend Agent = "Frontend"
	AgentReviewer Agent = "Reviewer"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

const (
	DefaultTitle = "New Project"
	DemoTitle    = "Demo Project"
	PRDFileName  = "PRD.md"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrDelivered       = errors.New("project is delivered")
	ErrBusy            = errors.New("project has a turn in flight")
	ErrInvalidStage    = errors.New("operation not allowed in current stage")
	ErrEmptyMessage    = errors.New("message content or attachment is required")
	ErrFileNotFound    = errors.New("file not found")
)

type Attachment struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

type Turn struct {
	ID         string      `json:"id"`
	Agent      Agent       `json:"agent"`
	Content    string      `json:"content"`
	APIContent string      `json:"api_content,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Loading    bool        `json:"loading,omitempty"`
	Generating bool        `json:"generating,omitempty"`
	Error      bool        `json:"error,omitempty"`
	Voice      bool        `json:"voice,omitempty"`
	Thoughts   string      `json:"thoughts,omitempty"`
	Sources    []Source    `json:"sources,omitempty"`
	CreatedAt  int64       `json:"created_at"`
}

func (t Turn) Role() string {
	if t.Agent == AgentUser {
		return RoleUser
	}
	return RoleModel
}

func (t Turn) Placeholder() bool {
	return t.Loading || t.Generating
}

// HistoryText is the text sent back to the generation service for this turn.
func (t Turn) HistoryText() string {
	if t.APIContent != "" {
		return t.APIContent
	}
	return t.Content
}

type GeneratedFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

type Project struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Stage        Stage           `json:"stage"`
	Turns        []Turn          `json:"turns"`
	Files        []GeneratedFile `json:"files"`
	PRD          string          `json:"prd"`
	OpenFiles    []string        `json:"open_files"`
	ActiveFile   string          `json:"active_file,omitempty"`
	DeepThinking bool            `json:"deep_thinking"`
	CreatedAt    int64           `json:"created_at"`
	UpdatedAt    int64           `json:"updated_at"`
}

type KnowledgeEntry struct {
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	CreatedAt int64  `json:"created_at"`
}

func NewProject(id, title string, stage Stage, now time.Time) *Project {
	return &Project{
		ID:        id,
		Title:     title,
		Stage:     stage,
		Turns:     []Turn{},
		Files:     []GeneratedFile{},
		OpenFiles: []string{},
		CreatedAt: now.UnixMilli(),
		UpdatedAt: now.UnixMilli(),
	}
}

func (p *Project) Clone() Project {
	out := *p
	out.Turns = make([]Turn, len(p.Turns))
	for i, turn := range p.Turns {
		if turn.Attachment != nil {
			att := *turn.Attachment
			turn.Attachment = &att
		}
		if turn.Sources != nil {
			turn.Sources = append([]Source(nil), turn.Sources...)
		}
		out.Turns[i] = turn
	}
	out.Files = append([]GeneratedFile{}, p.Files...)
	out.OpenFiles = append([]string{}, p.OpenFiles...)
	return out
}

func (p *Project) HasPlaceholder() bool {
	for _, turn := range p.Turns {
		if turn.Placeholder() {
			return true
		}
	}
	return false
}

func (p *Project) File(name string) (GeneratedFile, bool) {
	for _, f := range p.Files {
		if f.Name == name {
			return f, true
		}
	}
	return GeneratedFile{}, false
}

// PutFile replaces a file by name or appends it, keeping first-seen order.
func (p *Project) PutFile(file GeneratedFile) {
	for i := range p.Files {
		if p.Files[i].Name == file.Name {
			p.Files[i] = file
			return
		}
	}
	p.Files = append(p.Files, file)
}

func (p *Project) RemoveFile(name string) {
	out := p.Files[:0]
	for _, f := range p.Files {
		if f.Name != name {
			out = append(out, f)
		}
	}
	p.Files = out
}

func (p *Project) OpenFile(name string) {
	for _, item := range p.OpenFiles {
		if item == name {
			return
		}
	}
	p.OpenFiles = append(p.OpenFiles, name)
}

func (p *Project) CloseFile(name string) {
	out := p.OpenFiles[:0]
	for _, item := range p.OpenFiles {
		if item != name {
			out = append(out, item)
		}
	}
	p.OpenFiles = out
}

// PinOpenFile moves name to the front of the open list.
func (p *Project) PinOpenFile(name string) {
	out := []string{name}
	for _, item := range p.OpenFiles {
		if item != name {
			out = append(out, item)
		}
	}
	p.OpenFiles = out
}

// SelectActiveFile keeps a still-present active file, else prefers index.html,
// then the first html file, then the first file.
func (p *Project) SelectActiveFile() {
	if p.ActiveFile != "" {
		if _, ok := p.File(p.ActiveFile); ok {
			return
		}
	}
	if _, ok := p.File("index.html"); ok {
		p.ActiveFile = "index.html"
		return
	}
	for _, f := range p.Files {
		if strings.HasSuffix(f.Name, ".html") {
			p.ActiveFile = f.Name
			return
		}
	}
	if len(p.Files) > 0 {
		p.ActiveFile = p.Files[0].Name
		return
	}
	p.ActiveFile = ""
}

// ValidFileName reports whether name is a clean relative forward-slash path.
func ValidFileName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	clean := path.Clean(name)
	return clean == name && clean != "." && !strings.HasPrefix(clean, "../") && clean != ".."
}
