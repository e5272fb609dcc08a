package db

type Project struct {
	ProjectID    string `gorm:"column:project_id;primaryKey"`
	Title        string `gorm:"column:title;not null;default:''"`
	Stage        string `gorm:"column:stage;not null;default:'REQUIREMENT_GATHERING'"`
	PRD          string `gorm:"column:prd;not null;default:''"`
	OpenFiles    string `gorm:"column:open_files_json;not null;default:'[]'"`
	ActiveFile   string `gorm:"column:active_file;not null;default:''"`
	DeepThinking bool   `gorm:"column:deep_thinking;not null;default:false"`
	CreatedAt    int64  `gorm:"column:created_at;not null;default:0"`
	UpdatedAt    int64  `gorm:"column:updated_at;not null;default:0"`
}

func (Project) TableName() string { return "projects" }

type Turn struct {
	TurnID     string `gorm:"column:turn_id;primaryKey"`
	ProjectID  string `gorm:"column:project_id;not null;index"`
	Seq        int    `gorm:"column:seq;not null;default:0"`
	Agent      string `gorm:"column:agent;not null;default:''"`
	Content    string `gorm:"column:content;not null;default:''"`
	APIContent string `gorm:"column:api_content;not null;default:''"`
	Attachment string `gorm:"column:attachment_json;not null;default:''"`
	Pending    string `gorm:"column:pending;not null;default:''"`
	IsError    bool   `gorm:"column:is_error;not null;default:false"`
	Voice      bool   `gorm:"column:voice;not null;default:false"`
	Thoughts   string `gorm:"column:thoughts;not null;default:''"`
	Sources    string `gorm:"column:sources_json;not null;default:''"`
	CreatedAt  int64  `gorm:"column:created_at;not null;default:0"`
}

func (Turn) TableName() string { return "turns" }

type File struct {
	ProjectID string `gorm:"column:project_id;primaryKey"`
	Name      string `gorm:"column:name;primaryKey"`
	Seq       int    `gorm:"column:seq;not null;default:0"`
	FileType  string `gorm:"column:file_type;not null;default:''"`
	Content   string `gorm:"column:content;not null;default:''"`
}

func (File) TableName() string { return "files" }

type KnowledgeEntry struct {
	ProjectID string `gorm:"column:project_id;primaryKey"`
	Title     string `gorm:"column:title;not null;default:''"`
	Summary   string `gorm:"column:summary;not null;default:''"`
	CreatedAt int64  `gorm:"column:created_at;not null;default:0"`
}

func (KnowledgeEntry) TableName() string { return "knowledge_entries" }
