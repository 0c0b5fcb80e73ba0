package domain

import "time"

// Direction 表示邮件方向。
type Direction string

const (
	// DirectionIncoming 外部发来的邮件
	DirectionIncoming Direction = "incoming"
	// DirectionOutgoing 客服回复的邮件
	DirectionOutgoing Direction = "outgoing"
)

// MessageStatus 表示邮件状态。
type MessageStatus string

const (
	// MessageStatusOpen 邮件处于待处理状态
	MessageStatusOpen MessageStatus = "open"
	// MessageStatusClosed 邮件已关闭
	MessageStatusClosed MessageStatus = "closed"
)

// Message 表示一封远程邮件的规范化记录。
//
// 去重键为 (Provider, ProviderMessageID)：同一远程邮件无论通过
// Webhook 还是轮询到达多少次，系统中最多只存在一行。唯一索引
// 是两条摄取路径竞争时的最终仲裁（见 storage 层 UpsertMessage）。
type Message struct {
	ID                string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	DeskID            string    `json:"deskId" gorm:"type:varchar(36);index;not null"`
	Provider          string    `json:"provider" gorm:"type:varchar(32);uniqueIndex:idx_provider_message,priority:1;not null"`
	ProviderMessageID string    `json:"providerMessageId" gorm:"type:varchar(255);uniqueIndex:idx_provider_message,priority:2;not null"`
	ConversationID    string    `json:"conversationId" gorm:"type:varchar(255);index"`
	Direction         Direction `json:"direction" gorm:"type:varchar(16)"`
	Subject           string    `json:"subject" gorm:"type:varchar(500)"`
	BodyHTML          string    `json:"bodyHtml,omitempty" gorm:"type:text"`
	BodyText          string    `json:"bodyText,omitempty" gorm:"type:text"`
	FromAddress       string    `json:"fromAddress" gorm:"type:varchar(255)"`
	FromName          string    `json:"fromName" gorm:"type:varchar(255)"`
	ToRecipients      []string  `json:"toRecipients" gorm:"serializer:json;type:text"`
	CcRecipients      []string  `json:"ccRecipients,omitempty" gorm:"serializer:json;type:text"`
	ReceivedAt        time.Time `json:"receivedAt"`
	SentAt            time.Time `json:"sentAt"`
	IsRead            bool      `json:"isRead" gorm:"default:false"`
	HasAttachments    bool      `json:"hasAttachments" gorm:"default:false"`
	AssignedAgentID   *string   `json:"assignedAgentId,omitempty" gorm:"type:varchar(36);index"`
	TicketID          *string   `json:"ticketId,omitempty" gorm:"type:varchar(36);index"`
	Status            MessageStatus `json:"status" gorm:"type:varchar(16);default:open"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`

	// 附件引用列表（单独建表，按 Position 排序加载）
	Attachments []*AttachmentRef `json:"attachments,omitempty" gorm:"-"`
}
