package db

import (
	"time"

	"gorm.io/gorm"
)

// Processing status values persisted verbatim in Document.ProcessingStatus.
const (
	StatusPending           = "pending"
	StatusParsing           = "parsing"
	StatusParsed            = "parsed"
	StatusGraphitiIngesting = "graphiti_ingesting"
	StatusGraphitiIngested  = "graphiti_ingested"
	StatusAnalyzing         = "analyzing"
	StatusAnalyzed          = "analyzed"
	StatusEmbedding         = "embedding"
	StatusEmbedded          = "embedded"
	StatusComplete          = "complete"
	StatusCompleted         = "completed"
	StatusFailed            = "failed"
	StatusEmbeddingFailed   = "embedding_failed"
	StatusAnalysisFailed    = "analysis_failed"
)

// Completed stage markers for Document.LastCompletedStage. Empty means no
// stage has durably completed yet.
const (
	StageParsed           = "parsed"
	StageGraphitiIngested = "graphiti_ingested"
	StageAnalyzed         = "analyzed"
	StageComplete         = "complete"
)

// Document reliability after analyst corrections.
const (
	ReliabilityTrusted        = "trusted"
	ReliabilityContainsErrors = "contains_errors"
	ReliabilitySuperseded     = "superseded"
)

// RetryHistoryCap bounds the Document retry history.
const RetryHistoryCap = 10

// Organization is the root of tenancy. Every deal, and through it every
// document, chunk, and finding, is scoped to exactly one organization.
type Organization struct {
	ID        string `gorm:"primaryKey;type:uuid"`
	Name      string `gorm:"not null"`
	Slug      string `gorm:"uniqueIndex;not null"`
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrganizationMember links users to organizations with a role.
type OrganizationMember struct {
	OrganizationID string `gorm:"primaryKey;type:uuid"`
	UserID         string `gorm:"primaryKey"`
	Role           string `gorm:"not null;default:member"` // superadmin, admin, member
	CreatedAt      time.Time
}

// Deal is the working unit of a due-diligence engagement.
type Deal struct {
	ID             string `gorm:"primaryKey;type:uuid"`
	OrganizationID string `gorm:"index;not null"`
	UserID         string `gorm:"not null"`
	Name           string `gorm:"not null"`
	CompanyName    string
	Industry       string
	Status         string  `gorm:"not null;default:active"` // active, archived, completed
	Metadata       JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Document is an uploaded file tracked through the ingestion pipeline.
type Document struct {
	ID                 string `gorm:"primaryKey;type:uuid"`
	DealID             string `gorm:"index;not null"`
	Name               string `gorm:"not null"`
	BlobPath           string `gorm:"not null"`
	FileSize           int64
	MimeType           string
	FolderPath         string `gorm:"default:/"`
	Category           string
	UploadStatus       string `gorm:"not null;default:pending"`
	ProcessingStatus   string `gorm:"not null;default:pending;index"`
	LastCompletedStage string
	RetryHistory       JSONList `gorm:"type:jsonb"`
	ProcessingError    JSONMap  `gorm:"type:jsonb"`
	// ParseNotes records extraction caveats: pages skipped for want of a text
	// layer, hidden sheets excluded from the workbook, OCR involvement.
	ParseNotes JSONMap `gorm:"type:jsonb"`
	ReliabilityStatus  string   `gorm:"not null;default:trusted"`
	ErrorCount         int      `gorm:"not null;default:0"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DocumentChunk is a parsed slice of a document with provenance. Embeddings
// are not stored here; they live with the knowledge graph episodes.
type DocumentChunk struct {
	ID         string `gorm:"primaryKey;type:uuid"`
	DocumentID string `gorm:"not null;uniqueIndex:idx_chunk_doc_index,priority:1"`
	ChunkIndex int    `gorm:"not null;uniqueIndex:idx_chunk_doc_index,priority:2"`
	Content    string `gorm:"not null"`
	ChunkType  string `gorm:"not null;default:text"` // text, table, formula, image
	PageNumber *int
	SheetName  string
	CellRef    string `gorm:"column:cell_reference"`
	TokenCount int
	// EpisodeID back-references the graph episode created from this chunk,
	// making graph ingestion idempotent per chunk.
	EpisodeID string  `gorm:"index"`
	Metadata  JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time
}

// Folder provides a virtual hierarchy for documents within a deal.
type Folder struct {
	ID         string `gorm:"primaryKey;type:uuid"`
	DealID     string `gorm:"not null;uniqueIndex:idx_folder_deal_path,priority:1"`
	Name       string `gorm:"not null"`
	Path       string `gorm:"not null;uniqueIndex:idx_folder_deal_path,priority:2"`
	ParentPath string
	SortOrder  int
	CreatedAt  time.Time
}

// Finding is a structured fact extracted from a document by the analysis
// stage, or derived from contradiction checks.
type Finding struct {
	ID              string  `gorm:"primaryKey;type:uuid"`
	DealID          string  `gorm:"index;not null"`
	DocumentID      *string `gorm:"index"`
	ChunkID         *string
	Text            string  `gorm:"not null"`
	SourceDocument  string
	PageNumber      *int
	Confidence      float64 `gorm:"not null;default:0"`
	FindingType     string  `gorm:"not null;default:fact"`    // metric, fact, risk, opportunity, contradiction
	Domain          string  `gorm:"not null;default:financial"` // financial, operational, market, legal, technical
	Status          string  `gorm:"not null;default:pending"` // pending, validated, rejected
	ValidationHistory JSONList `gorm:"type:jsonb"`
	NeedsReview     bool
	ReviewReason    string
	LastCorrectedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FindingCorrection records an analyst correction. Append-only: row updates
// and deletes are rejected by a database trigger.
type FindingCorrection struct {
	ID                  string `gorm:"primaryKey;type:uuid"`
	FindingID           string `gorm:"index;not null"`
	OriginalValue       string
	CorrectedValue      string
	CorrectionType      string `gorm:"not null"` // value, source, confidence, text
	Reason              string
	UserSourceReference string
	ValidationStatus    string `gorm:"not null;default:pending"` // pending, confirmed_with_source, override_without_source, source_error
	AnalystID           string `gorm:"not null"`
	CreatedAt           time.Time
}

// ValidationFeedback records validate/reject actions on findings. Append-only.
type ValidationFeedback struct {
	ID        string `gorm:"primaryKey;type:uuid"`
	FindingID string `gorm:"index;not null"`
	Action    string `gorm:"not null"` // validate, reject
	Reason    string
	AnalystID string `gorm:"not null"`
	CreatedAt time.Time
}

// FinancialMetric is a structured metric extracted from spreadsheet cells or
// statement tables, with full cell-level provenance.
type FinancialMetric struct {
	ID             string  `gorm:"primaryKey;type:uuid"`
	DocumentID     string  `gorm:"index;not null"`
	FindingID      *string
	MetricName     string  `gorm:"not null"`
	MetricCategory string
	Value          float64
	Unit           string
	PeriodType     string
	FiscalYear     *int
	FiscalQuarter  *int
	SourceCell     string
	SourceSheet    string
	SourcePage     *int
	SourceFormula  string
	IsActual       bool
	Confidence     float64
	CreatedAt      time.Time
}

// Contradiction links two findings whose values conflict.
type Contradiction struct {
	ID         string  `gorm:"primaryKey;type:uuid"`
	DealID     string  `gorm:"index;not null"`
	FindingAID string  `gorm:"not null"`
	FindingBID string  `gorm:"not null"`
	Confidence float64
	Status     string `gorm:"not null;default:unresolved"` // unresolved, resolved, noted, investigating
	Resolution string
	ResolvedBy string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// QAItem is a diligence question; DateAnswered nil means pending. UpdatedAt
// doubles as the optimistic-concurrency token for updates.
type QAItem struct {
	ID              string `gorm:"primaryKey;type:uuid"`
	DealID          string `gorm:"index;not null"`
	Question        string `gorm:"not null"`
	Category        string `gorm:"not null;default:Financials"` // Financials, Legal, Operations, Market, Technology, HR
	Priority        string `gorm:"not null;default:medium"`     // high, medium, low
	Answer          string
	SourceFindingID *string
	DateAdded       time.Time
	DateAnswered    *time.Time
	UpdatedAt       time.Time
}

// IRL is an information request list: a categorized checklist of documents
// requested from counterparties.
type IRL struct {
	ID        string `gorm:"primaryKey;type:uuid"`
	DealID    string `gorm:"index;not null"`
	Name      string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IRLItem is a single checklist entry; Fulfilled items may reference the
// document that satisfied them.
type IRLItem struct {
	ID                   string `gorm:"primaryKey;type:uuid"`
	IRLID                string `gorm:"index;not null"`
	Category             string
	Description          string `gorm:"not null"`
	Priority             string `gorm:"not null;default:medium"`
	Status               string `gorm:"not null;default:open"`
	Fulfilled            bool
	FulfillingDocumentID *string
	SortOrder            int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Conversation groups chat messages for a deal.
type Conversation struct {
	ID        string `gorm:"primaryKey;type:uuid"`
	DealID    string `gorm:"index;not null"`
	UserID    string `gorm:"not null"`
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message roles accepted at write time.
var ValidMessageRoles = map[string]bool{
	"user": true, "assistant": true, "system": true, "tool": true,
}

// Message is a single conversation turn entry.
type Message struct {
	ID             string `gorm:"primaryKey;type:uuid"`
	ConversationID string `gorm:"index;not null"`
	Role           string `gorm:"not null"` // user, assistant, system, tool
	Content        string
	Sources        JSONList `gorm:"type:jsonb"`
	TokensUsed     int
	ToolCalls      JSONList `gorm:"type:jsonb"`
	CreatedAt      time.Time
}

// LLMUsage records every model invocation for cost accounting.
type LLMUsage struct {
	ID           string  `gorm:"primaryKey;type:uuid"`
	OrgID        string  `gorm:"index;not null"`
	DealID       *string `gorm:"index"`
	UserID       string
	Provider     string `gorm:"not null"`
	Model        string `gorm:"not null"`
	Feature      string `gorm:"index"`
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	LatencyMS    int64
	Status       string `gorm:"not null;default:success"` // success, error, timeout
	ErrorMessage string
	Metadata     JSONMap `gorm:"type:jsonb"`
	CreatedAt    time.Time `gorm:"index"`
}

// FeatureUsage records high-level feature events (upload, chat turn, search).
type FeatureUsage struct {
	ID        string  `gorm:"primaryKey;type:uuid"`
	OrgID     string  `gorm:"index;not null"`
	DealID    *string
	UserID    string
	Feature   string `gorm:"index;not null"`
	Metadata  JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time `gorm:"index"`
}

// AuditLog is immutable; a trigger rejects UPDATE and DELETE.
type AuditLog struct {
	ID        string `gorm:"primaryKey;type:uuid"`
	EventType string `gorm:"index;not null"`
	UserID    *string
	IP        string
	UserAgent string
	Metadata  JSONMap `gorm:"type:jsonb"`
	Success   bool
	CreatedAt time.Time `gorm:"index"`
}

// FeatureFlag gates risky behavior; all cascade flags default off.
type FeatureFlag struct {
	Name      string `gorm:"primaryKey"`
	Enabled   bool
	RiskLevel string `gorm:"not null;default:low"` // low, medium, high
	UpdatedAt time.Time
}

// CIM holds the working state of a Confidential Information Memorandum
// authoring workflow. The live workflow state is checkpointed separately
// (see the checkpoint package); this row carries the durable artifacts.
type CIM struct {
	ID                  string `gorm:"primaryKey;type:uuid"`
	DealID              string `gorm:"index;not null"`
	Name                string `gorm:"not null"`
	WorkflowState       JSONMap  `gorm:"type:jsonb"`
	Slides              JSONList `gorm:"type:jsonb"`
	BuyerPersona        string
	InvestmentThesis    string
	Outline             JSONList `gorm:"type:jsonb"`
	DependencyGraph     JSONMap  `gorm:"type:jsonb"`
	ConversationHistory JSONList `gorm:"type:jsonb"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// AllModels lists every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&Organization{}, &OrganizationMember{}, &Deal{}, &Document{},
		&DocumentChunk{}, &Folder{}, &Finding{}, &FindingCorrection{},
		&ValidationFeedback{}, &FinancialMetric{}, &Contradiction{},
		&QAItem{}, &IRL{}, &IRLItem{}, &Conversation{}, &Message{},
		&LLMUsage{}, &FeatureUsage{}, &AuditLog{}, &FeatureFlag{},
		&CIM{},
	}
}

// BeforeCreate validates message roles at write time.
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if !ValidMessageRoles[m.Role] {
		return gorm.ErrInvalidData
	}
	return nil
}
