package httptransport

import (
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"helpdesk/backend/internal/storage"
	"helpdesk/backend/internal/storage/blob"
)

// BlobReader 按存储键读取附件内容（storage/blob 实现）。
type BlobReader interface {
	Open(key string) (io.ReadCloser, error)
	Stat(key string) (*blob.Metadata, error)
}

// MessageHandler 已落库邮件与工单的只读查询接口。
type MessageHandler struct {
	store  storage.Store
	blobs  BlobReader
	logger *zap.Logger
}

// NewMessageHandler 创建查询处理器。
func NewMessageHandler(store storage.Store, blobs BlobReader, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{store: store, blobs: blobs, logger: logger}
}

// ListDeskMessages 分页列出客服组的邮件（按接收时间倒序）。
func (h *MessageHandler) ListDeskMessages(c *gin.Context) {
	deskID := c.Param("id")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	messages, err := h.store.ListMessagesByDesk(deskID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list desk messages", zap.String("desk_id", deskID), zap.Error(err))
		InternalError(c, MsgMessageListFailed)
		return
	}

	Success(c, gin.H{"messages": messages, "limit": limit, "offset": offset})
}

// GetMessage 查询单封邮件详情（含附件引用）。
func (h *MessageHandler) GetMessage(c *gin.Context) {
	message, err := h.store.GetMessage(c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			NotFound(c, MsgMessageNotFound)
			return
		}
		h.logger.Error("failed to get message", zap.String("message_id", c.Param("id")), zap.Error(err))
		InternalError(c, MsgMessageGetFailed)
		return
	}

	Success(c, message)
}

// ListConversation 列出客服组内一个会话的全部邮件（按接收时间升序）。
func (h *MessageHandler) ListConversation(c *gin.Context) {
	deskID := c.Param("id")
	conversationID := c.Param("conversationId")

	messages, err := h.store.ListMessagesByConversation(deskID, conversationID)
	if err != nil {
		h.logger.Error("failed to list conversation",
			zap.String("desk_id", deskID),
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		InternalError(c, MsgMessageListFailed)
		return
	}

	Success(c, gin.H{"conversationId": conversationID, "messages": messages})
}

// GetTicket 查询工单详情。
func (h *MessageHandler) GetTicket(c *gin.Context) {
	ticket, err := h.store.GetTicket(c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrTicketNotFound) {
			NotFound(c, MsgTicketNotFound)
			return
		}
		h.logger.Error("failed to get ticket", zap.String("ticket_id", c.Param("id")), zap.Error(err))
		InternalError(c, MsgTicketGetFailed)
		return
	}

	Success(c, ticket)
}

// DownloadAttachment 按存储键下载附件内容。
func (h *MessageHandler) DownloadAttachment(c *gin.Context) {
	key := c.Param("key")

	ref, err := h.store.GetAttachmentByKey(key)
	if err != nil {
		if errors.Is(err, storage.ErrAttachmentNotFound) {
			NotFound(c, MsgAttachmentNotFound)
			return
		}
		h.logger.Error("failed to look up attachment", zap.String("key", key), zap.Error(err))
		InternalError(c, MsgAttachmentOpenFailed)
		return
	}

	reader, err := h.blobs.Open(key)
	if err != nil {
		h.logger.Error("failed to open attachment blob", zap.String("key", key), zap.Error(err))
		NotFound(c, MsgAttachmentNotFound)
		return
	}
	defer reader.Close()

	contentType := ref.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", `attachment; filename="`+ref.Filename+`"`)
	c.DataFromReader(200, ref.Size, contentType, reader, nil)
}
