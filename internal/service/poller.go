package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"helpdesk/backend/internal/credential"
	"helpdesk/backend/internal/domain"
	"helpdesk/backend/internal/monitoring"
	"helpdesk/backend/internal/storage"
)

// MailSource 轮询使用的服务商邮件读取接口（provider.Client 实现）。
type MailSource interface {
	Name() string
	ListUnread(ctx context.Context, deskID string, top int) ([]domain.InboundMessage, error)
	MarkRead(ctx context.Context, deskID, messageID string) error
}

// Poller 定期拉取各客服组的未读邮件并走摄取流水线。
//
// 同一时刻最多一个轮询周期在运行（上一周期未结束时本次直接跳过），
// 周期内按客服组顺序串行处理以控制服务商限流敞口；
// 与 Webhook 路径对同一客服组的并发由存储层去重兜底。
type Poller struct {
	desks    storage.DeskRepository
	source   MailSource
	ingestor *Ingestor
	logger   *zap.Logger
	metrics  *monitoring.Metrics // 可选

	interval time.Duration
	pageSize int
	limiter  *rate.Limiter
	running  atomic.Bool
}

// NewPoller 创建轮询器。requestsPerSecond <= 0 时不限流。
func NewPoller(
	desks storage.DeskRepository,
	source MailSource,
	ingestor *Ingestor,
	interval time.Duration,
	pageSize int,
	requestsPerSecond float64,
	logger *zap.Logger,
) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	if pageSize <= 0 {
		pageSize = 25
	}
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return &Poller{
		desks:    desks,
		source:   source,
		ingestor: ingestor,
		logger:   logger,
		interval: interval,
		pageSize: pageSize,
		limiter:  limiter,
	}
}

// SetMetrics 设置监控指标（可选）。
func (p *Poller) SetMetrics(metrics *monitoring.Metrics) {
	p.metrics = metrics
}

// Run 按固定间隔执行轮询周期，直到 ctx 取消。
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("poller started",
		zap.Duration("interval", p.interval),
		zap.Int("page_size", p.pageSize),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce 执行一个轮询周期；上一周期尚未结束时直接返回 false。
func (p *Poller) PollOnce(ctx context.Context) bool {
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Warn("previous poll cycle still running, skipping")
		return false
	}
	defer p.running.Store(false)

	desks, err := p.desks.ListDesks()
	if err != nil {
		p.logger.Error("failed to list desks", zap.Error(err))
		return false
	}

	for i := range desks {
		if ctx.Err() != nil {
			return false
		}
		p.pollDesk(ctx, &desks[i])
	}

	if p.metrics != nil {
		p.metrics.RecordPollCycle()
	}
	return true
}

// pollDesk 拉取并摄取单个客服组的未读邮件。
//
// 凭据错误对该客服组的本周期是致命的：记录后跳过，等下一周期。
// 单封邮件的失败不影响同批其余邮件。
func (p *Poller) pollDesk(ctx context.Context, desk *domain.Desk) {
	if err := p.wait(ctx); err != nil {
		return
	}

	messages, err := p.source.ListUnread(ctx, desk.ID, p.pageSize)
	if err != nil {
		if errors.Is(err, credential.ErrCredential) {
			p.logger.Warn("skipping desk, credential unavailable",
				zap.String("desk_id", desk.ID),
				zap.Error(err),
			)
		} else {
			p.logger.Error("failed to list unread messages",
				zap.String("desk_id", desk.ID),
				zap.Error(err),
			)
		}
		if p.metrics != nil {
			p.metrics.RecordPollError(desk.ID)
		}
		return
	}

	for _, inbound := range messages {
		if ctx.Err() != nil {
			return
		}

		if _, err := p.ingestor.Ingest(ctx, desk, inbound, SourcePoller); err != nil {
			p.logger.Error("failed to ingest polled message",
				zap.String("desk_id", desk.ID),
				zap.String("provider_message_id", inbound.ProviderMessageID),
				zap.Error(err),
			)
			if p.metrics != nil {
				p.metrics.RecordPollError(desk.ID)
			}
			continue
		}

		// 标记已读失败只导致下一周期重复拉取，去重由存储层兜底
		if err := p.wait(ctx); err != nil {
			return
		}
		if err := p.source.MarkRead(ctx, desk.ID, inbound.ProviderMessageID); err != nil {
			p.logger.Warn("failed to mark message read",
				zap.String("desk_id", desk.ID),
				zap.String("provider_message_id", inbound.ProviderMessageID),
				zap.Error(err),
			)
		}
	}
}

func (p *Poller) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
