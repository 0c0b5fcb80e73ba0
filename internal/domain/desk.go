package domain

import "time"

// Desk 表示一个配置了邮件服务商集成的客服组。
type Desk struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name           string    `json:"name" gorm:"type:varchar(255);not null"`
	Email          string    `json:"email" gorm:"type:varchar(255)"` // 收件邮箱地址
	Provider       string    `json:"provider" gorm:"type:varchar(32);not null"`
	SubscriptionID string    `json:"subscriptionId" gorm:"type:varchar(255);index"` // Webhook 订阅标识
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Agent 表示客服组下的一名客服，是分配校验的权威数据源。
type Agent struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	DeskID      string    `json:"deskId" gorm:"type:varchar(36);index;not null"`
	Email       string    `json:"email" gorm:"type:varchar(255)"`
	DisplayName string    `json:"displayName" gorm:"type:varchar(255)"`
	IsActive    bool      `json:"isActive" gorm:"default:true"`
	CreatedAt   time.Time `json:"createdAt"`
}
