// Package repository provides the metadata storage interfaces for dealgraph.
//
// Architecture:
//
//	The repository pattern abstracts database operations into domain-specific
//	interfaces so handlers and job workers never touch GORM directly. Each
//	repository type serves a distinct slice of the schema:
//
//	- DealRepository: organizations, memberships, deals
//	- DocumentRepository: documents, chunks, folders
//	- FindingRepository: findings, corrections, feedback, metrics, contradictions
//	- WorkRepository: Q&A items and information request lists
//	- ConversationRepository: chat conversations and messages
//	- CIMRepository: CIM authoring artifacts
//	- AuditRepository: append-only audit events
//	- FlagRepository: feature flags
//
// Tenancy:
//
//	Every read and write is scoped by a Scope carrying the caller's
//	organization. Rows outside the caller's organization behave exactly like
//	rows that do not exist: repositories return ErrNotFound, never a
//	permission error, so the API cannot leak resource existence across
//	tenants.
package repository

import (
	"context"
	"errors"
	"time"

	"dealgraph.org/db"
)

// ErrNotFound is returned for missing rows and for rows outside the caller's
// organization.
var ErrNotFound = errors.New("not found")

// ErrStaleUpdate is returned when an optimistic-concurrency check fails.
var ErrStaleUpdate = errors.New("stale update")

// Scope identifies the caller for tenant filtering. Superadmin scopes may
// read across organizations for usage reporting only; all other repositories
// treat the scope's organization as a hard filter.
type Scope struct {
	OrgID      string
	UserID     string
	Role       string
	Superadmin bool
}

// DealRepository manages organizations and deals.
type DealRepository interface {
	CreateOrganization(ctx context.Context, org *db.Organization) error
	GetOrganization(ctx context.Context, scope Scope, orgID string) (*db.Organization, error)
	AddMember(ctx context.Context, scope Scope, member *db.OrganizationMember) error
	MemberRole(ctx context.Context, orgID, userID string) (string, error)

	CreateDeal(ctx context.Context, scope Scope, deal *db.Deal) error
	GetDeal(ctx context.Context, scope Scope, dealID string) (*db.Deal, error)
	ListDeals(ctx context.Context, scope Scope) ([]db.Deal, error)
	UpdateDeal(ctx context.Context, scope Scope, deal *db.Deal) error
	// DeleteDeal removes the deal row only; callers cascade blob, graph, and
	// checkpoint cleanup through their own stores first.
	DeleteDeal(ctx context.Context, scope Scope, dealID string) error
}

// DocumentRepository manages documents, chunks, and the folder hierarchy.
type DocumentRepository interface {
	CreateDocument(ctx context.Context, scope Scope, doc *db.Document) error
	GetDocument(ctx context.Context, scope Scope, documentID string) (*db.Document, error)
	ListDocuments(ctx context.Context, scope Scope, dealID, folderPath string) ([]db.Document, error)
	DeleteDocument(ctx context.Context, scope Scope, documentID string) error

	// UpdateStatus transitions processing status and, when stage is non-empty,
	// advances last_completed_stage. Persisted atomically.
	UpdateStatus(ctx context.Context, documentID, status, stage string) error
	// RecordRetry appends an entry to the bounded retry history.
	RecordRetry(ctx context.Context, documentID string, entry map[string]interface{}) error
	// RecordError stores the structured processing error and bumps error_count.
	RecordError(ctx context.Context, documentID string, procErr map[string]interface{}) error
	// SetParseNotes stores extraction caveats such as skipped pages or sheets.
	SetParseNotes(ctx context.Context, documentID string, notes map[string]interface{}) error
	SetReliability(ctx context.Context, scope Scope, documentID, reliability string) error

	ReplaceChunks(ctx context.Context, documentID string, chunks []db.DocumentChunk) error
	ListChunks(ctx context.Context, documentID string) ([]db.DocumentChunk, error)
	SetChunkEpisode(ctx context.Context, chunkID, episodeID string) error

	CreateFolder(ctx context.Context, scope Scope, folder *db.Folder) error
	ListFolders(ctx context.Context, scope Scope, dealID string) ([]db.Folder, error)
	DeleteFolder(ctx context.Context, scope Scope, dealID, path string) error
}

// FindingRepository manages extracted findings and their correction trail.
type FindingRepository interface {
	CreateFindings(ctx context.Context, findings []db.Finding) error
	GetFinding(ctx context.Context, scope Scope, findingID string) (*db.Finding, error)
	ListFindings(ctx context.Context, scope Scope, dealID string, status string) ([]db.Finding, error)
	ListFindingsByDocument(ctx context.Context, documentID string) ([]db.Finding, error)
	UpdateFinding(ctx context.Context, scope Scope, finding *db.Finding) error

	// RecordCorrection inserts the append-only correction row and applies the
	// corrected value to the finding in one transaction.
	RecordCorrection(ctx context.Context, scope Scope, corr *db.FindingCorrection) error
	RecordFeedback(ctx context.Context, scope Scope, fb *db.ValidationFeedback) error
	ListCorrections(ctx context.Context, scope Scope, findingID string) ([]db.FindingCorrection, error)
	// CountSourceErrors returns confirmed source_error corrections per document.
	CountSourceErrors(ctx context.Context, documentID string) (int64, error)
	// FlagSiblings marks unvalidated findings from the same document for review.
	FlagSiblings(ctx context.Context, documentID, exceptFindingID, reason string) (int64, error)

	CreateMetrics(ctx context.Context, metrics []db.FinancialMetric) error
	ListMetrics(ctx context.Context, scope Scope, documentID string) ([]db.FinancialMetric, error)

	CreateContradiction(ctx context.Context, c *db.Contradiction) error
	ListContradictions(ctx context.Context, scope Scope, dealID string) ([]db.Contradiction, error)
	ResolveContradiction(ctx context.Context, scope Scope, id, status, resolution, userID string) error
}

// WorkRepository manages Q&A items and information request lists.
type WorkRepository interface {
	CreateQAItem(ctx context.Context, scope Scope, item *db.QAItem) error
	ListQAItems(ctx context.Context, scope Scope, dealID string) ([]db.QAItem, error)
	// UpdateQAItem enforces optimistic concurrency on expectedUpdatedAt and
	// returns ErrStaleUpdate on mismatch.
	UpdateQAItem(ctx context.Context, scope Scope, item *db.QAItem, expectedUpdatedAt time.Time) error
	DeleteQAItem(ctx context.Context, scope Scope, itemID string) error

	CreateIRL(ctx context.Context, scope Scope, irl *db.IRL, items []db.IRLItem) error
	GetIRL(ctx context.Context, scope Scope, irlID string) (*db.IRL, []db.IRLItem, error)
	ListIRLs(ctx context.Context, scope Scope, dealID string) ([]db.IRL, error)
	UpdateIRLItem(ctx context.Context, scope Scope, item *db.IRLItem) error
}

// ConversationRepository manages chat history.
type ConversationRepository interface {
	CreateConversation(ctx context.Context, scope Scope, conv *db.Conversation) error
	GetConversation(ctx context.Context, scope Scope, convID string) (*db.Conversation, error)
	ListConversations(ctx context.Context, scope Scope, dealID string) ([]db.Conversation, error)
	AppendMessage(ctx context.Context, scope Scope, msg *db.Message) error
	ListMessages(ctx context.Context, scope Scope, convID string, limit int) ([]db.Message, error)
}

// CIMRepository manages CIM authoring artifacts.
type CIMRepository interface {
	CreateCIM(ctx context.Context, scope Scope, cim *db.CIM) error
	GetCIM(ctx context.Context, scope Scope, cimID string) (*db.CIM, error)
	ListCIMs(ctx context.Context, scope Scope, dealID string) ([]db.CIM, error)
	UpdateCIM(ctx context.Context, scope Scope, cim *db.CIM) error
}

// AuditRepository records security-relevant events. Append-only at the
// database level; there is deliberately no update or delete operation.
type AuditRepository interface {
	Record(ctx context.Context, event *db.AuditLog) error
	List(ctx context.Context, scope Scope, eventType string, since time.Time, limit int) ([]db.AuditLog, error)
}

// FlagRepository manages feature flags. Reads consult FEATURE_* environment
// overrides before the stored value.
type FlagRepository interface {
	IsEnabled(ctx context.Context, name string) bool
	Set(ctx context.Context, scope Scope, name string, enabled bool, riskLevel string) error
	ListFlags(ctx context.Context, scope Scope) ([]db.FeatureFlag, error)
}
