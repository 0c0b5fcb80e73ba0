package storage

import (
	"errors"

	"helpdesk/backend/internal/domain"
)

var (
	// ErrMessageNotFound 邮件未找到错误
	ErrMessageNotFound = errors.New("message not found")
	// ErrDuplicateMessage 服务商邮件 ID 冲突错误（唯一索引仲裁）
	ErrDuplicateMessage = errors.New("duplicate provider message id")
	// ErrDeskNotFound 客服组未找到错误
	ErrDeskNotFound = errors.New("desk not found")
	// ErrAgentNotFound 客服未找到错误
	ErrAgentNotFound = errors.New("agent not found")
	// ErrCursorNotFound 分配游标未找到错误
	ErrCursorNotFound = errors.New("assignment cursor not found")
	// ErrCredentialNotFound 集成凭据未找到错误
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrTicketNotFound 工单未找到错误
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrAttachmentNotFound 附件引用未找到错误
	ErrAttachmentNotFound = errors.New("attachment not found")
)

// MessageRepository 定义规范化邮件的存取操作。
type MessageRepository interface {
	// UpsertMessage 以 (provider, providerMessageId) 为去重键写入邮件。
	//
	// 不存在时插入并返回 created=true；已存在（包括并发写入输掉
	// 唯一索引竞争的情况）时只合并可变字段（已读标记、附件引用、
	// 原先为空的正文），身份字段保持不变并返回 created=false。
	UpsertMessage(message *domain.Message) (*domain.Message, bool, error)
	GetMessage(id string) (*domain.Message, error)
	GetMessageByProviderID(provider, providerMessageID string) (*domain.Message, error)
	ListMessagesByDesk(deskID string, limit, offset int) ([]domain.Message, error)
	ListMessagesByConversation(deskID, conversationID string) ([]domain.Message, error)
	// ConversationAgent 返回会话中已有邮件携带的客服 ID（线程亲和）。
	// 会话中尚无已分配邮件时返回 nil。
	ConversationAgent(deskID, conversationID string) (*string, error)
	SetMessageTicket(messageID, ticketID string) error
}

// AttachmentRepository 定义附件引用的存取操作。
type AttachmentRepository interface {
	GetAttachmentByKey(storageKey string) (*domain.AttachmentRef, error)
	ListAttachments(messageID string) ([]*domain.AttachmentRef, error)
}

// DeskRepository 定义客服组数据存取操作。
type DeskRepository interface {
	SaveDesk(desk *domain.Desk) error
	GetDesk(id string) (*domain.Desk, error)
	GetDeskBySubscriptionID(subscriptionID string) (*domain.Desk, error)
	ListDesks() ([]domain.Desk, error)
}

// AgentRepository 定义客服数据存取操作（分配校验的权威数据源）。
type AgentRepository interface {
	SaveAgent(agent *domain.Agent) error
	GetAgent(id string) (*domain.Agent, error)
	ListDeskAgents(deskID string) ([]domain.Agent, error)
	DeleteAgent(id string) error
}

// CursorRepository 定义轮转分配游标的存取操作。
type CursorRepository interface {
	GetCursor(deskID string) (*domain.AssignmentCursor, error)
	SaveCursor(cursor *domain.AssignmentCursor) error
}

// CredentialRepository 定义集成凭据的存取操作。
type CredentialRepository interface {
	GetCredential(deskID string) (*domain.Credential, error)
	SaveCredential(credential *domain.Credential) error
}

// TicketRepository 定义工单（核心只读写窄接口部分）的存取操作。
type TicketRepository interface {
	SaveTicket(ticket *domain.Ticket) error
	GetTicket(id string) (*domain.Ticket, error)
	// GetOpenTicketByConversation 返回会话对应的打开状态工单。
	GetOpenTicketByConversation(deskID, conversationID string) (*domain.Ticket, error)
	// GetLatestTicketByConversation 返回会话对应的最新工单（不限状态）。
	GetLatestTicketByConversation(deskID, conversationID string) (*domain.Ticket, error)
	UpdateTicket(ticket *domain.Ticket) error
}

// Store 定义完整的存储接口。
type Store interface {
	MessageRepository
	AttachmentRepository
	DeskRepository
	AgentRepository
	CursorRepository
	CredentialRepository
	TicketRepository

	// 工具方法
	Close() error
	Health() error
}
