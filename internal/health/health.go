package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"helpdesk/backend/internal/storage"
)

// Pinger 可探活的外部依赖（Redis 缓存实现）。
type Pinger interface {
	Health(ctx context.Context) error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  storage.Store
	cache  Pinger // 可选
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器。cache 为 nil 时跳过缓存检查。
func NewHealthChecker(store storage.Store, cache Pinger, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		cache:  cache,
		logger: logger,
	}

	// 添加健康检查
	hc.addChecks()

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	// 存储层连接检查
	hc.health.AddLivenessCheck("storage", func() error {
		return hc.store.Health()
	})

	// Redis 连接检查（已配置时）
	if hc.cache != nil {
		hc.health.AddReadinessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return hc.cache.Health(ctx)
		})
	}
}

// Handler 返回健康检查处理器
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}
