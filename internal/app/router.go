package app

import (
	apphttp "github.com/yungbote/quickentry-backend/internal/http"
	"github.com/yungbote/quickentry-backend/internal/observability"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, metrics *observability.Metrics) *apphttp.Server {
	return apphttp.NewServer(cfg.HTTPAddr, apphttp.RouterConfig{
		Log:               log,
		Metrics:           metrics,
		ServiceName:       cfg.ServiceName,
		CORSOrigins:       cfg.CORSOrigins,
		HealthHandler:     handlers.Health,
		QuickEntryHandler: handlers.QuickEntry,
		ChatHandler:       handlers.Chat,
	})
}
