package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"helpdesk/backend/internal/domain"
	"helpdesk/backend/internal/events"
	"helpdesk/backend/internal/storage"
)

// ReconcileOutcome 表示工单核对的结果。
type ReconcileOutcome string

const (
	// OutcomeAttached 邮件挂到现有打开工单
	OutcomeAttached ReconcileOutcome = "attached"
	// OutcomeReopened 已关闭工单被回复，创建重开工单
	OutcomeReopened ReconcileOutcome = "reopened"
	// OutcomeNone 无工单关联，留待外部工单流程处理
	OutcomeNone ReconcileOutcome = "none"
)

// defaultResolutionMarkers 结案通知的默认识别标记（全小写匹配）。
var defaultResolutionMarkers = []string{
	"your ticket has been resolved",
	"this ticket is now closed",
	"工单已解决",
	"工单已关闭",
}

// TicketReconciler 决定新邮件与工单的关联方式。
//
// 会话命中打开工单时直接挂靠；命中已关闭工单且判定为用户回复时
// 创建重开工单。识别标记匹配是尽力而为的启发式，不保证分类准确。
type TicketReconciler struct {
	tickets  storage.TicketRepository
	messages storage.MessageRepository
	events   events.Publisher
	logger   *zap.Logger
	markers  []string
}

// NewTicketReconciler 创建工单核对器。markers 为空时使用默认识别标记。
func NewTicketReconciler(
	tickets storage.TicketRepository,
	messages storage.MessageRepository,
	publisher events.Publisher,
	markers []string,
	logger *zap.Logger,
) *TicketReconciler {
	if len(markers) == 0 {
		markers = defaultResolutionMarkers
	}
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			lowered = append(lowered, m)
		}
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &TicketReconciler{
		tickets:  tickets,
		messages: messages,
		events:   publisher,
		logger:   logger,
		markers:  lowered,
	}
}

// Reconcile 把新落库的邮件核对到工单。
//
// 规则：
//   - 会话命中打开工单：更新消息计数与最后活动时间并挂靠
//   - 会话命中已关闭工单且（会话中已有历史邮件，或正文含结案标记）：
//     创建重开工单并回链旧工单
//   - 其余情况不做关联
func (r *TicketReconciler) Reconcile(ctx context.Context, message *domain.Message) (ReconcileOutcome, error) {
	if message.ConversationID == "" {
		return OutcomeNone, nil
	}

	ticket, err := r.tickets.GetOpenTicketByConversation(message.DeskID, message.ConversationID)
	if err == nil {
		return r.attach(message, ticket)
	}
	if !errors.Is(err, storage.ErrTicketNotFound) {
		return OutcomeNone, err
	}

	latest, err := r.tickets.GetLatestTicketByConversation(message.DeskID, message.ConversationID)
	if err != nil {
		if errors.Is(err, storage.ErrTicketNotFound) {
			return OutcomeNone, nil
		}
		return OutcomeNone, err
	}
	if latest.Status != domain.TicketStatusClosed {
		return OutcomeNone, nil
	}

	if !r.looksLikeReply(message) {
		return OutcomeNone, nil
	}
	return r.reopen(ctx, message, latest)
}

func (r *TicketReconciler) attach(message *domain.Message, ticket *domain.Ticket) (ReconcileOutcome, error) {
	ticket.MessageCount++
	ticket.LastMessageAt = lastActivity(message)
	if err := r.tickets.UpdateTicket(ticket); err != nil {
		return OutcomeNone, err
	}
	if err := r.messages.SetMessageTicket(message.ID, ticket.ID); err != nil {
		return OutcomeNone, err
	}
	message.TicketID = &ticket.ID
	return OutcomeAttached, nil
}

func (r *TicketReconciler) reopen(ctx context.Context, message *domain.Message, closed *domain.Ticket) (ReconcileOutcome, error) {
	reopened := &domain.Ticket{
		ID:             uuid.NewString(),
		DeskID:         message.DeskID,
		ConversationID: message.ConversationID,
		Subject:        message.Subject,
		Status:         domain.TicketStatusOpen,
		MessageCount:   1,
		LastMessageAt:  lastActivity(message),
		ReopenedFrom:   &closed.ID,
	}
	if err := r.tickets.SaveTicket(reopened); err != nil {
		return OutcomeNone, err
	}
	if err := r.messages.SetMessageTicket(message.ID, reopened.ID); err != nil {
		return OutcomeNone, err
	}
	message.TicketID = &reopened.ID

	r.logger.Info("closed ticket reopened by reply",
		zap.String("desk_id", message.DeskID),
		zap.String("conversation_id", message.ConversationID),
		zap.String("ticket_id", reopened.ID),
		zap.String("previous_ticket", closed.ID),
	)

	if err := r.events.Publish(ctx, events.KeyTicketReopened, events.TicketReopened{
		TicketID:       reopened.ID,
		PreviousTicket: closed.ID,
		DeskID:         message.DeskID,
		ConversationID: message.ConversationID,
		MessageID:      message.ID,
		ReopenedAt:     time.Now().UTC(),
	}); err != nil {
		r.logger.Warn("failed to publish reopen event", zap.Error(err))
	}
	return OutcomeReopened, nil
}

// looksLikeReply 启发式判定邮件是否为关闭会话的用户回复：
// 会话中已有历史邮件，或正文包含结案通知标记。
func (r *TicketReconciler) looksLikeReply(message *domain.Message) bool {
	prior, err := r.messages.ListMessagesByConversation(message.DeskID, message.ConversationID)
	if err == nil {
		for _, m := range prior {
			if m.ID != message.ID {
				return true
			}
		}
	}

	body := strings.ToLower(message.BodyText)
	if body == "" {
		body = strings.ToLower(message.BodyHTML)
	}
	for _, marker := range r.markers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

func lastActivity(message *domain.Message) time.Time {
	if !message.ReceivedAt.IsZero() {
		return message.ReceivedAt
	}
	return time.Now().UTC()
}
