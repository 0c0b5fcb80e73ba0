package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// 路由键
const (
	// KeyMessageIngested 新邮件落库事件
	KeyMessageIngested = "helpdesk.message.ingested"
	// KeyTicketReopened 已关闭工单被回复重开事件
	KeyTicketReopened = "helpdesk.ticket.reopened"
)

// MessageIngested 新邮件落库事件负载。
type MessageIngested struct {
	MessageID      string    `json:"messageId"`
	DeskID         string    `json:"deskId"`
	ConversationID string    `json:"conversationId"`
	FromAddress    string    `json:"fromAddress"`
	Subject        string    `json:"subject"`
	AssignedAgent  *string   `json:"assignedAgent,omitempty"`
	Source         string    `json:"source"`
	IngestedAt     time.Time `json:"ingestedAt"`
}

// TicketReopened 工单重开事件负载。
type TicketReopened struct {
	TicketID       string    `json:"ticketId"`
	PreviousTicket string    `json:"previousTicket"`
	DeskID         string    `json:"deskId"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	ReopenedAt     time.Time `json:"reopenedAt"`
}

// Publisher 领域事件发布接口。
type Publisher interface {
	Publish(ctx context.Context, key string, payload any) error
	Close() error
}

// NopPublisher 空实现，未配置消息队列时使用。
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }
func (NopPublisher) Close() error                               { return nil }

// AMQPPublisher 基于 RabbitMQ topic 交换机的事件发布器。
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
	logger   *zap.Logger
}

// NewAMQPPublisher 连接消息队列并声明持久化 topic 交换机。
func NewAMQPPublisher(url, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQPPublisher{conn: conn, exchange: exchange, logger: logger}, nil
}

// Publish 以持久化投递模式发布一条 JSON 事件，等到 broker 确认后才返回。
func (p *AMQPPublisher) Publish(ctx context.Context, key string, payload any) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	// 发布通道进入确认模式，逐条等待 broker ack
	if err := ch.Confirm(false); err != nil {
		return err
	}
	confirms := ch.NotifyPublish(make(chan amqp091.Confirmation, 1))

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(
		ctx, p.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return err
	}
	if err := awaitConfirm(ctx, confirms); err != nil {
		return err
	}

	p.logger.Debug("event published",
		zap.String("key", key),
		zap.String("exchange", p.exchange),
	)
	return nil
}

// awaitConfirm 等待 broker 对单条发布的确认结果。
func awaitConfirm(ctx context.Context, confirms <-chan amqp091.Confirmation) error {
	select {
	case confirmation, ok := <-confirms:
		if !ok {
			return amqp091.ErrClosed
		}
		if !confirmation.Ack {
			return fmt.Errorf("publish nacked by broker (delivery tag %d)", confirmation.DeliveryTag)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 关闭底层连接。
func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}
