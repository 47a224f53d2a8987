package repository

import (
	"gorm.io/gorm"
)

// Store combines all metadata repositories behind a single handle.
//
// Usage:
//
//	gdb, _ := db.NewGormDB(cfg.Database.URL)
//	store := repository.NewStore(gdb)
//	store.Deals.GetDeal(ctx, scope, dealID)
//	store.Documents.UpdateStatus(ctx, docID, db.StatusParsing, "")
//
// All fields share one GORM connection; cross-repository transactions go
// through the individual methods that need them.
type Store struct {
	Deals         DealRepository
	Documents     DocumentRepository
	Findings      FindingRepository
	Work          WorkRepository
	Conversations ConversationRepository
	CIMs          CIMRepository
	Audit         AuditRepository
	Flags         FlagRepository
}

// NewStore builds the composite metadata store on a GORM connection.
func NewStore(gdb *gorm.DB) *Store {
	s := &metadataStore{gdb: gdb}
	return &Store{
		Deals:         s,
		Documents:     s,
		Findings:      s,
		Work:          s,
		Conversations: s,
		CIMs:          s,
		Audit:         s,
		Flags:         s,
	}
}
