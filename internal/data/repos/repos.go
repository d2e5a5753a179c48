package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/quickentry-backend/internal/data/repos/entries"
	"github.com/yungbote/quickentry-backend/internal/data/repos/stats"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

type QuickEntryRepo = entries.QuickEntryRepo
type RecordRepo = entries.RecordRepo
type EmbeddingRepo = entries.EmbeddingRepo
type UserEntryStatsRepo = stats.UserEntryStatsRepo
type AICallLogRepo = stats.AICallLogRepo

func NewQuickEntryRepo(db *gorm.DB, baseLog *logger.Logger) QuickEntryRepo {
	return entries.NewQuickEntryRepo(db, baseLog)
}
func NewRecordRepo(db *gorm.DB, baseLog *logger.Logger) RecordRepo {
	return entries.NewRecordRepo(db, baseLog)
}
func NewEmbeddingRepo(db *gorm.DB, baseLog *logger.Logger) EmbeddingRepo {
	return entries.NewEmbeddingRepo(db, baseLog)
}
func NewUserEntryStatsRepo(db *gorm.DB, baseLog *logger.Logger) UserEntryStatsRepo {
	return stats.NewUserEntryStatsRepo(db, baseLog)
}
func NewAICallLogRepo(db *gorm.DB, baseLog *logger.Logger) AICallLogRepo {
	return stats.NewAICallLogRepo(db, baseLog)
}

// Set bundles every repository the engine uses.
type Set struct {
	QuickEntries QuickEntryRepo
	Records      RecordRepo
	Embeddings   EmbeddingRepo
	Stats        UserEntryStatsRepo
	CallLogs     AICallLogRepo
}

func NewSet(db *gorm.DB, baseLog *logger.Logger) Set {
	return Set{
		QuickEntries: NewQuickEntryRepo(db, baseLog),
		Records:      NewRecordRepo(db, baseLog),
		Embeddings:   NewEmbeddingRepo(db, baseLog),
		Stats:        NewUserEntryStatsRepo(db, baseLog),
		CallLogs:     NewAICallLogRepo(db, baseLog),
	}
}
