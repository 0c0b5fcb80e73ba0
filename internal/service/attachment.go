package service

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"helpdesk/backend/internal/domain"
)

var (
	// ErrInvalidAttachment 附件负载为空或无法解码。
	// 局部恢复：跳过该附件，邮件本身照常落库。
	ErrInvalidAttachment = errors.New("invalid attachment payload")
)

// BlobStore Blob 存储接口（文件系统实现见 storage/blob）。
type BlobStore interface {
	Upload(key string, data []byte, contentType, filename string) (string, error)
}

// AttachmentMaterializer 把服务商附件物化为持久引用。
type AttachmentMaterializer struct {
	blobs  BlobStore
	logger *zap.Logger
}

// NewAttachmentMaterializer 创建附件物化器。
func NewAttachmentMaterializer(blobs BlobStore, logger *zap.Logger) *AttachmentMaterializer {
	return &AttachmentMaterializer{blobs: blobs, logger: logger}
}

// Materialize 解码单个附件并写入 Blob 存储，返回稳定引用。
//
// 存储键 = 随机标识 + 净化后缀，原始文件名与内容类型作为元数据保留。
func (m *AttachmentMaterializer) Materialize(att domain.InboundAttachment) (*domain.AttachmentRef, error) {
	decoded, err := base64.StdEncoding.DecodeString(att.ContentBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAttachment, err)
	}
	if len(decoded) == 0 {
		return nil, fmt.Errorf("%w: empty decoded payload", ErrInvalidAttachment)
	}

	key := uuid.NewString() + sanitizeExtension(att.Name)
	url, err := m.blobs.Upload(key, decoded, att.ContentType, att.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to upload attachment: %w", err)
	}

	return &domain.AttachmentRef{
		ID:          uuid.NewString(),
		Filename:    att.Name,
		ContentType: att.ContentType,
		Size:        int64(len(decoded)),
		StorageKey:  key,
		URL:         url,
		IsInline:    att.IsInline,
		ContentID:   att.ContentID,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// MaterializeAll 逐个物化附件，互不影响。
//
// 单个附件失败只记录日志并跳过，兄弟附件照常处理；
// 全部失败时返回空列表，邮件仍然落库（附件尽力而为）。
func (m *AttachmentMaterializer) MaterializeAll(attachments []domain.InboundAttachment) []*domain.AttachmentRef {
	refs := make([]*domain.AttachmentRef, 0, len(attachments))
	for i, att := range attachments {
		ref, err := m.Materialize(att)
		if err != nil {
			m.logger.Warn("attachment materialization failed, skipping",
				zap.String("filename", att.Name),
				zap.Int("position", i),
				zap.Error(err),
			)
			continue
		}
		ref.Position = i
		refs = append(refs, ref)
	}
	return refs
}

// sanitizeExtension 提取并净化文件后缀，只保留字母数字，最长 10 字符。
func sanitizeExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" || len(ext) > 10 {
		return ""
	}
	var b strings.Builder
	for _, r := range ext {
		if r == '.' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "." {
		return ""
	}
	return out
}
