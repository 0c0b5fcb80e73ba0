package httptransport

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"helpdesk/backend/internal/domain"
	"helpdesk/backend/internal/pool"
	"helpdesk/backend/internal/service"
	"helpdesk/backend/internal/storage"
)

// MessageFetcher 按服务商邮件 ID 拉取完整内容（provider.Client 实现）。
type MessageFetcher interface {
	FetchMessage(ctx context.Context, deskID, messageID string) (*domain.InboundMessage, error)
}

// webhookNotification 服务商推送的单条变更通知。
type webhookNotification struct {
	SubscriptionID string `json:"subscriptionId"`
	ChangeType     string `json:"changeType"`
	ResourceData   struct {
		ID string `json:"id"`
	} `json:"resourceData"`
}

// webhookBatch 服务商推送的通知批次。
type webhookBatch struct {
	Value []webhookNotification `json:"value"`
}

// WebhookHandler 接收服务商的订阅握手与变更通知。
//
// 批次确认（202）与实际处理解耦：通知入队后立即响应，
// 每条通知由协程池异步处理，处理失败只记录日志，
// 依赖服务商自身的重试与下一个轮询周期兜底。
type WebhookHandler struct {
	desks    storage.DeskRepository
	fetcher  MessageFetcher
	ingestor *service.Ingestor
	workers  *pool.WorkerPool
	timeout  time.Duration
	logger   *zap.Logger
}

// NewWebhookHandler 创建 Webhook 处理器。
func NewWebhookHandler(
	desks storage.DeskRepository,
	fetcher MessageFetcher,
	ingestor *service.Ingestor,
	workers *pool.WorkerPool,
	logger *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		desks:    desks,
		fetcher:  fetcher,
		ingestor: ingestor,
		workers:  workers,
		timeout:  2 * time.Minute,
		logger:   logger,
	}
}

// Handle 处理 Webhook 请求。
//
// 带 validationToken 查询参数的请求是订阅握手，原样回显为纯文本；
// 其余请求解析为通知批次，逐条入队后返回 202。
func (h *WebhookHandler) Handle(c *gin.Context) {
	if token := c.Query("validationToken"); token != "" {
		c.String(200, "%s", token)
		return
	}

	var batch webhookBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		BadRequest(c, MsgWebhookInvalidBody)
		return
	}

	accepted := 0
	for _, n := range batch.Value {
		notification := n
		if !h.workers.TrySubmit(func() { h.process(notification) }) {
			h.logger.Warn("webhook queue full, dropping notification",
				zap.String("subscription_id", notification.SubscriptionID),
				zap.String("resource_id", notification.ResourceData.ID),
			)
			continue
		}
		accepted++
	}

	Accepted(c, gin.H{"received": len(batch.Value), "accepted": accepted})
}

// process 处理单条通知：解析客服组 → 存在性检查 → 拉取全文 → 摄取。
//
// 响应早已发出，这里的失败只能记录，由服务商重试或轮询兜底。
func (h *WebhookHandler) process(n webhookNotification) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	desk, err := h.desks.GetDeskBySubscriptionID(n.SubscriptionID)
	if err != nil {
		h.logger.Warn("unknown webhook subscription",
			zap.String("subscription_id", n.SubscriptionID),
			zap.Error(err),
		)
		return
	}

	// 已落库的邮件直接跳过，避免无谓的服务商全文拉取
	exists, err := h.ingestor.Exists(ctx, n.ResourceData.ID)
	if err != nil {
		h.logger.Error("failed to check message existence",
			zap.String("provider_message_id", n.ResourceData.ID),
			zap.Error(err),
		)
		return
	}
	if exists {
		return
	}

	inbound, err := h.fetcher.FetchMessage(ctx, desk.ID, n.ResourceData.ID)
	if err != nil {
		h.logger.Error("failed to fetch message detail",
			zap.String("desk_id", desk.ID),
			zap.String("provider_message_id", n.ResourceData.ID),
			zap.Error(err),
		)
		return
	}

	if _, err := h.ingestor.Ingest(ctx, desk, *inbound, service.SourceWebhook); err != nil {
		// 重复投递不算失败，其余错误留给下一个轮询周期
		if errors.Is(err, storage.ErrDuplicateMessage) {
			return
		}
		h.logger.Error("failed to ingest webhook message",
			zap.String("desk_id", desk.ID),
			zap.String("provider_message_id", n.ResourceData.ID),
			zap.Error(err),
		)
	}
}
