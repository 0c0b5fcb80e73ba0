package domain

import "time"

// AssignmentCursor 是客服组的轮转分配游标。
//
// Roster 是参与分配的客服 ID 有序名单，顺序决定轮转次序，
// LastAgentID 指向上一次新会话分配到的客服。
// 仅由 AssignmentEngine 在持有组级互斥锁时读写。
type AssignmentCursor struct {
	DeskID      string    `json:"deskId" gorm:"primaryKey;type:varchar(36)"`
	Roster      []string  `json:"roster" gorm:"serializer:json;type:text"`
	LastAgentID *string   `json:"lastAgentId,omitempty" gorm:"type:varchar(36)"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
