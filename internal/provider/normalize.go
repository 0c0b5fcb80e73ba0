package provider

import (
	"strings"
	"time"

	"helpdesk/backend/internal/domain"
)

// messageResource 服务商返回的邮件原始负载。
// 动态、弱类型的服务商字段在此立即收敛为强类型结构，
// 归一化之后这些字段名不再出现。
type messageResource struct {
	ID               string               `json:"id"`
	ConversationID   string               `json:"conversationId"`
	Subject          string               `json:"subject"`
	Body             bodyResource         `json:"body"`
	BodyPreview      string               `json:"bodyPreview"`
	From             recipientResource    `json:"from"`
	ToRecipients     []recipientResource  `json:"toRecipients"`
	CcRecipients     []recipientResource  `json:"ccRecipients"`
	ReceivedDateTime string               `json:"receivedDateTime"`
	SentDateTime     string               `json:"sentDateTime"`
	IsRead           bool                 `json:"isRead"`
	HasAttachments   bool                 `json:"hasAttachments"`
	Attachments      []attachmentResource `json:"attachments"`
}

type bodyResource struct {
	ContentType string `json:"contentType"` // "html" 或 "text"
	Content     string `json:"content"`
}

type recipientResource struct {
	EmailAddress emailAddressResource `json:"emailAddress"`
}

type emailAddressResource struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type attachmentResource struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
	ContentBytes string `json:"contentBytes"` // base64
	ContentID    string `json:"contentId"`
	IsInline     bool   `json:"isInline"`
}

// normalizeMessage 把服务商负载转换为规范化的摄取输入。
func normalizeMessage(res *messageResource) domain.InboundMessage {
	inbound := domain.InboundMessage{
		ProviderMessageID: res.ID,
		ConversationID:    res.ConversationID,
		Subject:           res.Subject,
		FromAddress:       strings.ToLower(res.From.EmailAddress.Address),
		FromName:          res.From.EmailAddress.Name,
		To:                normalizeRecipients(res.ToRecipients),
		Cc:                normalizeRecipients(res.CcRecipients),
		ReceivedAt:        parseTime(res.ReceivedDateTime),
		SentAt:            parseTime(res.SentDateTime),
		IsRead:            res.IsRead,
		HasAttachments:    res.HasAttachments || len(res.Attachments) > 0,
	}

	if strings.EqualFold(res.Body.ContentType, "html") {
		inbound.BodyHTML = res.Body.Content
		inbound.BodyText = res.BodyPreview
	} else {
		inbound.BodyText = res.Body.Content
	}

	for _, att := range res.Attachments {
		inbound.Attachments = append(inbound.Attachments, domain.InboundAttachment{
			Name:         att.Name,
			ContentType:  att.ContentType,
			ContentBytes: att.ContentBytes,
			ContentID:    att.ContentID,
			IsInline:     att.IsInline,
		})
	}

	return inbound
}

func normalizeRecipients(recipients []recipientResource) []string {
	if len(recipients) == 0 {
		return nil
	}
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if addr := strings.TrimSpace(r.EmailAddress.Address); addr != "" {
			out = append(out, strings.ToLower(addr))
		}
	}
	return out
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
