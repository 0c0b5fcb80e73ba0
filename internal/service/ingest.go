package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"helpdesk/backend/internal/domain"
	"helpdesk/backend/internal/events"
	"helpdesk/backend/internal/monitoring"
	"helpdesk/backend/internal/storage"
)

// Source 标识摄取入口。
type Source string

const (
	// SourceWebhook Webhook 推送入口
	SourceWebhook Source = "webhook"
	// SourcePoller 定时轮询入口
	SourcePoller Source = "poller"
)

// DedupHint 最近摄取记录的快速提示缓存（Redis 实现，可选）。
//
// 只承担优化：SeenRecently 为假不代表数据库中不存在，
// 正确性仍由存储层唯一索引保证。
type DedupHint interface {
	MarkIngested(ctx context.Context, provider, providerMessageID string, ttl time.Duration) error
	SeenRecently(ctx context.Context, provider, providerMessageID string) (bool, error)
}

// dedupHintTTL 去重提示的保留时长，覆盖服务商的通知重试窗口。
const dedupHintTTL = 24 * time.Hour

// Ingestor 驱动单封邮件的完整摄取流水线：
// 存在性检查 → 附件物化 → 分配（线程亲和优先） → 落库 → 工单核对。
//
// 两条入口（Webhook、轮询）共用同一个 Ingestor；去重的最终仲裁
// 在存储层的唯一索引，这里的存在性检查只是避免无谓物化的优化。
type Ingestor struct {
	store        storage.Store
	assigner     *AssignmentEngine
	materializer *AttachmentMaterializer
	reconciler   *TicketReconciler
	events       events.Publisher
	metrics      *monitoring.Metrics // 可选
	dedup        DedupHint           // 可选
	logger       *zap.Logger
	providerName string
}

// NewIngestor 创建摄取编排器。
func NewIngestor(
	store storage.Store,
	assigner *AssignmentEngine,
	materializer *AttachmentMaterializer,
	reconciler *TicketReconciler,
	publisher events.Publisher,
	providerName string,
	logger *zap.Logger,
) *Ingestor {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Ingestor{
		store:        store,
		assigner:     assigner,
		materializer: materializer,
		reconciler:   reconciler,
		events:       publisher,
		logger:       logger,
		providerName: providerName,
	}
}

// SetMetrics 设置监控指标（可选，测试中不设置以免重复注册）。
func (s *Ingestor) SetMetrics(metrics *monitoring.Metrics) {
	s.metrics = metrics
}

// SetDedupHint 设置去重提示缓存（可选）。
func (s *Ingestor) SetDedupHint(dedup DedupHint) {
	s.dedup = dedup
}

// Exists 判断服务商邮件是否已落库（Webhook 路径的提前跳过优化）。
// 先查提示缓存，未命中再回源存储。
func (s *Ingestor) Exists(ctx context.Context, providerMessageID string) (bool, error) {
	if s.dedup != nil {
		if seen, err := s.dedup.SeenRecently(ctx, s.providerName, providerMessageID); err == nil && seen {
			return true, nil
		}
	}

	_, err := s.store.GetMessageByProviderID(s.providerName, providerMessageID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrMessageNotFound) {
		return false, nil
	}
	return false, err
}

// Ingest 摄取一封规范化邮件，返回落库后的记录。
//
// 重复投递（无论来自哪条入口）只合并可变字段，不重新分配、
// 不重新核对工单。工单核对失败只记录日志，邮件本身已落库。
func (s *Ingestor) Ingest(ctx context.Context, desk *domain.Desk, inbound domain.InboundMessage, source Source) (*domain.Message, error) {
	started := time.Now()

	existing, err := s.store.GetMessageByProviderID(s.providerName, inbound.ProviderMessageID)
	if err != nil && !errors.Is(err, storage.ErrMessageNotFound) {
		return nil, fmt.Errorf("failed to check message existence: %w", err)
	}
	if err == nil {
		return s.mergeDuplicate(existing, inbound, source)
	}

	refs := s.materializer.MaterializeAll(inbound.Attachments)
	if s.metrics != nil {
		for _, ref := range refs {
			s.metrics.RecordAttachmentStored(ref.Size)
		}
		for i := len(refs); i < len(inbound.Attachments); i++ {
			s.metrics.RecordAttachmentFailure()
		}
	}

	agentID, err := s.resolveAgent(desk.ID, inbound.ConversationID)
	if err != nil {
		return nil, err
	}

	message := s.buildMessage(desk, inbound, refs, agentID)
	stored, created, err := s.store.UpsertMessage(message)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordIngestFailure(string(source), "persist")
		}
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}
	if !created {
		// 输掉了与另一条入口的唯一索引竞争，按重复投递处理
		if s.metrics != nil {
			s.metrics.RecordDuplicate()
		}
		s.logger.Debug("lost upsert race, folded into existing row",
			zap.String("provider_message_id", inbound.ProviderMessageID),
			zap.String("source", string(source)),
		)
		return stored, nil
	}

	outcome, err := s.reconciler.Reconcile(ctx, stored)
	if err != nil {
		s.logger.Error("ticket reconciliation failed",
			zap.String("message_id", stored.ID),
			zap.String("conversation_id", stored.ConversationID),
			zap.Error(err),
		)
	} else if s.metrics != nil {
		switch outcome {
		case OutcomeAttached:
			s.metrics.RecordTicketAttached()
		case OutcomeReopened:
			s.metrics.RecordTicketReopened()
		}
	}

	if s.dedup != nil {
		if err := s.dedup.MarkIngested(ctx, s.providerName, inbound.ProviderMessageID, dedupHintTTL); err != nil {
			s.logger.Debug("failed to record dedup hint", zap.Error(err))
		}
	}

	if s.metrics != nil {
		s.metrics.RecordIngested(string(source), time.Since(started))
	}
	s.logger.Info("message ingested",
		zap.String("message_id", stored.ID),
		zap.String("desk_id", desk.ID),
		zap.String("conversation_id", stored.ConversationID),
		zap.String("source", string(source)),
		zap.Bool("has_attachments", stored.HasAttachments),
	)

	if err := s.events.Publish(ctx, events.KeyMessageIngested, events.MessageIngested{
		MessageID:      stored.ID,
		DeskID:         desk.ID,
		ConversationID: stored.ConversationID,
		FromAddress:    stored.FromAddress,
		Subject:        stored.Subject,
		AssignedAgent:  stored.AssignedAgentID,
		Source:         string(source),
		IngestedAt:     time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to publish ingest event", zap.Error(err))
	}

	return stored, nil
}

// mergeDuplicate 处理重复投递：只补齐可变字段，身份字段不变。
func (s *Ingestor) mergeDuplicate(existing *domain.Message, inbound domain.InboundMessage, source Source) (*domain.Message, error) {
	update := &domain.Message{
		Provider:          s.providerName,
		ProviderMessageID: inbound.ProviderMessageID,
		DeskID:            existing.DeskID,
		BodyHTML:          inbound.BodyHTML,
		BodyText:          inbound.BodyText,
		IsRead:            inbound.IsRead,
		HasAttachments:    inbound.HasAttachments,
	}
	// 首次投递丢失了附件时补一次物化
	if len(existing.Attachments) == 0 && len(inbound.Attachments) > 0 {
		update.Attachments = s.materializer.MaterializeAll(inbound.Attachments)
	}

	merged, _, err := s.store.UpsertMessage(update)
	if err != nil {
		return nil, fmt.Errorf("failed to merge duplicate message: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordDuplicate()
	}
	s.logger.Debug("duplicate delivery merged",
		zap.String("provider_message_id", inbound.ProviderMessageID),
		zap.String("source", string(source)),
	)
	return merged, nil
}

// resolveAgent 解析归属客服：会话已有客服时沿用（线程亲和），
// 否则向分配引擎申请下一位。
func (s *Ingestor) resolveAgent(deskID, conversationID string) (*string, error) {
	if conversationID != "" {
		agentID, err := s.store.ConversationAgent(deskID, conversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve conversation agent: %w", err)
		}
		if agentID != nil {
			return agentID, nil
		}
	}

	agentID, err := s.assigner.AssignNext(deskID)
	if err != nil {
		return nil, fmt.Errorf("failed to assign agent: %w", err)
	}
	if agentID != nil && s.metrics != nil {
		s.metrics.RecordAssignment()
	}
	return agentID, nil
}

func (s *Ingestor) buildMessage(desk *domain.Desk, inbound domain.InboundMessage, refs []*domain.AttachmentRef, agentID *string) *domain.Message {
	direction := domain.DirectionIncoming
	if inbound.FromAddress != "" && strings.EqualFold(inbound.FromAddress, desk.Email) {
		direction = domain.DirectionOutgoing
	}

	return &domain.Message{
		ID:                uuid.NewString(),
		DeskID:            desk.ID,
		Provider:          s.providerName,
		ProviderMessageID: inbound.ProviderMessageID,
		ConversationID:    inbound.ConversationID,
		Direction:         direction,
		Subject:           inbound.Subject,
		BodyHTML:          inbound.BodyHTML,
		BodyText:          inbound.BodyText,
		FromAddress:       inbound.FromAddress,
		FromName:          inbound.FromName,
		ToRecipients:      inbound.To,
		CcRecipients:      inbound.Cc,
		ReceivedAt:        inbound.ReceivedAt,
		SentAt:            inbound.SentAt,
		IsRead:            inbound.IsRead,
		HasAttachments:    inbound.HasAttachments || len(refs) > 0,
		AssignedAgentID:   agentID,
		Status:            domain.MessageStatusOpen,
		Attachments:       refs,
	}
}
