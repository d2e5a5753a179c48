package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/quickentry-backend/internal/http/handlers"
	httpMW "github.com/yungbote/quickentry-backend/internal/http/middleware"
	"github.com/yungbote/quickentry-backend/internal/observability"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	CORSOrigins []string

	HealthHandler     *httpH.HealthHandler
	QuickEntryHandler *httpH.QuickEntryHandler
	ChatHandler       *httpH.ChatHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "quickentry"
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	{
		// Quick entries
		if cfg.QuickEntryHandler != nil {
			api.POST("/quick-entries", cfg.QuickEntryHandler.Submit)
			api.POST("/quick-entries/preview", cfg.QuickEntryHandler.Preview)
			api.GET("/quick-entries/:id", cfg.QuickEntryHandler.Get)
			api.POST("/quick-entries/:id/commit", cfg.QuickEntryHandler.Commit)
			api.DELETE("/quick-entries/:id", cfg.QuickEntryHandler.Retire)
		}

		// Chat
		if cfg.ChatHandler != nil {
			api.POST("/chat/context", cfg.ChatHandler.Context)
		}
	}

	return r
}
