package domain

import "time"

// TicketStatus 表示工单状态。
type TicketStatus string

const (
	// TicketStatusOpen 工单处理中
	TicketStatusOpen TicketStatus = "open"
	// TicketStatusClosed 工单已关闭
	TicketStatusClosed TicketStatus = "closed"
)

// Ticket 表示一张由邮件会话驱动的工单。
//
// 核心摄取流程只读写其中的状态、会话 ID、消息计数与最后活动时间，
// 工单的增删改查界面属于外部协作方。
type Ticket struct {
	ID             string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	DeskID         string       `json:"deskId" gorm:"type:varchar(36);index;not null"`
	ConversationID string       `json:"conversationId" gorm:"type:varchar(255);index"`
	Subject        string       `json:"subject" gorm:"type:varchar(500)"`
	Status         TicketStatus `json:"status" gorm:"type:varchar(16);index;default:open"`
	MessageCount   int          `json:"messageCount" gorm:"default:0"`
	LastMessageAt  time.Time    `json:"lastMessageAt"`
	// ReopenedFrom 指向被重新打开的旧工单 ID（关闭后又收到回复时创建新单）
	ReopenedFrom *string   `json:"reopenedFrom,omitempty" gorm:"type:varchar(36)"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
