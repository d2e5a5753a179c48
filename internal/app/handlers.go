package app

import (
	"context"

	"gorm.io/gorm"

	httpH "github.com/yungbote/quickentry-backend/internal/http/handlers"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

type Handlers struct {
	Health     *httpH.HealthHandler
	QuickEntry *httpH.QuickEntryHandler
	Chat       *httpH.ChatHandler
}

func wireHandlers(log *logger.Logger, gdb *gorm.DB, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:     httpH.NewHealthHandler(pingDB(gdb)),
		QuickEntry: httpH.NewQuickEntryHandler(log, services.Coordinator),
		Chat:       httpH.NewChatHandler(services.Coordinator),
	}
}

func pingDB(gdb *gorm.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}
