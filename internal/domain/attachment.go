package domain

import "time"

// AttachmentRef 表示一条已落地的附件引用。
//
// 引用在附件成功物化（解码并写入 Blob 存储）后创建，创建后不可变。
type AttachmentRef struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MessageID   string    `json:"messageId" gorm:"type:varchar(36);index;not null"`
	Filename    string    `json:"filename" gorm:"type:varchar(255)"`
	ContentType string    `json:"contentType" gorm:"type:varchar(100)"`
	Size        int64     `json:"size"`
	StorageKey  string    `json:"storageKey" gorm:"type:varchar(255);index"` // Blob 存储键
	URL         string    `json:"url" gorm:"type:varchar(500)"`              // 下载地址
	IsInline    bool      `json:"isInline" gorm:"default:false"`             // 正文内嵌附件
	ContentID   string    `json:"contentId,omitempty" gorm:"type:varchar(255)"`
	Position    int       `json:"position"` // 在原邮件中的顺序
	CreatedAt   time.Time `json:"createdAt"`
}
