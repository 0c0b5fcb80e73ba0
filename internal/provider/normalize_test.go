package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMessage(t *testing.T) {
	t.Run("HTML 正文与收件人归一化", func(t *testing.T) {
		res := &messageResource{
			ID:             "pm1",
			ConversationID: "c1",
			Subject:        "printer on fire",
			Body:           bodyResource{ContentType: "HTML", Content: "<p>help</p>"},
			BodyPreview:    "help",
			From: recipientResource{EmailAddress: emailAddressResource{
				Name: "Alice", Address: "Alice@Example.COM",
			}},
			ToRecipients: []recipientResource{
				{EmailAddress: emailAddressResource{Address: "Support@Acme.com"}},
				{EmailAddress: emailAddressResource{Address: "  "}}, // 空地址被丢弃
			},
			CcRecipients: []recipientResource{
				{EmailAddress: emailAddressResource{Address: "boss@acme.com"}},
			},
			ReceivedDateTime: "2024-05-01T10:30:00Z",
			SentDateTime:     "2024-05-01T10:29:00Z",
			IsRead:           false,
			HasAttachments:   false,
		}

		inbound := normalizeMessage(res)

		assert.Equal(t, "pm1", inbound.ProviderMessageID)
		assert.Equal(t, "c1", inbound.ConversationID)
		assert.Equal(t, "alice@example.com", inbound.FromAddress)
		assert.Equal(t, "Alice", inbound.FromName)
		assert.Equal(t, []string{"support@acme.com"}, inbound.To)
		assert.Equal(t, []string{"boss@acme.com"}, inbound.Cc)
		assert.Equal(t, "<p>help</p>", inbound.BodyHTML)
		assert.Equal(t, "help", inbound.BodyText)
		assert.Equal(t, time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC), inbound.ReceivedAt)
	})

	t.Run("纯文本正文落入 BodyText", func(t *testing.T) {
		res := &messageResource{
			ID:   "pm1",
			Body: bodyResource{ContentType: "text", Content: "plain words"},
		}

		inbound := normalizeMessage(res)
		assert.Empty(t, inbound.BodyHTML)
		assert.Equal(t, "plain words", inbound.BodyText)
	})

	t.Run("附件展开结果携带进归一化输出", func(t *testing.T) {
		res := &messageResource{
			ID:             "pm1",
			HasAttachments: true,
			Attachments: []attachmentResource{
				{Name: "a.txt", ContentType: "text/plain", ContentBytes: "aGk=", IsInline: false},
				{Name: "logo.png", ContentType: "image/png", ContentBytes: "aGk=", ContentID: "cid:logo", IsInline: true},
			},
		}

		inbound := normalizeMessage(res)
		assert.True(t, inbound.HasAttachments)
		require.Len(t, inbound.Attachments, 2)
		assert.Equal(t, "a.txt", inbound.Attachments[0].Name)
		assert.True(t, inbound.Attachments[1].IsInline)
		assert.Equal(t, "cid:logo", inbound.Attachments[1].ContentID)
	})

	t.Run("附件列表非空时强制认定有附件", func(t *testing.T) {
		res := &messageResource{
			ID:             "pm1",
			HasAttachments: false, // 服务商偶尔漏报
			Attachments:    []attachmentResource{{Name: "a.txt", ContentBytes: "aGk="}},
		}

		inbound := normalizeMessage(res)
		assert.True(t, inbound.HasAttachments)
	})

	t.Run("非法时间字符串归一化为零值", func(t *testing.T) {
		res := &messageResource{ID: "pm1", ReceivedDateTime: "not-a-time"}

		inbound := normalizeMessage(res)
		assert.True(t, inbound.ReceivedAt.IsZero())
	})
}
