package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"helpdesk/backend/internal/config"
	"helpdesk/backend/internal/health"
	"helpdesk/backend/internal/middleware"
	"helpdesk/backend/internal/monitoring"
	"helpdesk/backend/internal/storage"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	Store         storage.Store
	Webhook       *WebhookHandler
	Messages      *MessageHandler
	Metrics       *monitoring.Metrics   // 可选
	HealthChecker *health.HealthChecker // 可选
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestLogger(deps.Logger))

	if deps.Metrics != nil {
		mm := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
		router.Use(mm.PanicRecovery())
		router.Use(mm.HTTPMetrics())
	} else {
		router.Use(gin.Recovery())
	}

	// Webhook 通知批次很小，限制请求体兜住异常负载
	maxBody := deps.Config.Webhook.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = middleware.DefaultBodyLimit
	}
	router.Use(middleware.BodySizeLimit(maxBody))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 运维端点
	if deps.HealthChecker != nil {
		router.GET("/live", gin.WrapH(deps.HealthChecker.Handler()))
		router.GET("/ready", gin.WrapH(deps.HealthChecker.Handler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// Webhook 入口（握手可能以 GET 或 POST 到达）
	router.GET("/v1/webhooks/mail", deps.Webhook.Handle)
	router.POST("/v1/webhooks/mail", deps.Webhook.Handle)

	// 只读查询接口
	v1 := router.Group("/v1")
	{
		v1.GET("/desks/:id/messages", deps.Messages.ListDeskMessages)
		v1.GET("/desks/:id/conversations/:conversationId/messages", deps.Messages.ListConversation)
		v1.GET("/messages/:id", deps.Messages.GetMessage)
		v1.GET("/tickets/:id", deps.Messages.GetTicket)
	}

	// 附件下载（URL 前缀与 Blob 存储生成的下载地址一致）
	router.GET("/attachments/:key", deps.Messages.DownloadAttachment)

	return router
}
