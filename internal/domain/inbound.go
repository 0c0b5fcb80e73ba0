package domain

import "time"

// InboundMessage 是摄取边界上的规范化输入。
//
// 邮件服务商的原始负载在 provider 包内立即转换为本结构，
// 服务商私有字段名不允许泄漏到归一化层之后。
type InboundMessage struct {
	ProviderMessageID string
	ConversationID    string
	Subject           string
	BodyHTML          string
	BodyText          string
	FromAddress       string
	FromName          string
	To                []string
	Cc                []string
	ReceivedAt        time.Time
	SentAt            time.Time
	IsRead            bool
	HasAttachments    bool
	Attachments       []InboundAttachment
}

// InboundAttachment 表示服务商返回的待物化附件。
type InboundAttachment struct {
	Name         string
	ContentType  string
	ContentBytes string // base64 编码的原始内容
	ContentID    string
	IsInline     bool
}
