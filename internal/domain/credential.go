package domain

import "time"

// Credential 表示客服组的服务商 OAuth 凭据。
//
// 仅由 CredentialManager 在持有组级互斥锁时刷新；
// 所有服务商调用读取其访问令牌。
type Credential struct {
	DeskID       string    `json:"deskId" gorm:"primaryKey;type:varchar(36)"`
	Provider     string    `json:"provider" gorm:"type:varchar(32);not null"`
	ClientID     string    `json:"-" gorm:"type:varchar(255)"`
	ClientSecret string    `json:"-" gorm:"type:varchar(255)"`
	AccessToken  string    `json:"-" gorm:"type:text"`
	RefreshToken string    `json:"-" gorm:"type:text"`
	ExpiresAt    time.Time `json:"expiresAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Expired 判断访问令牌在给定缓冲时间内是否到期。
func (c *Credential) Expired(now time.Time, buffer time.Duration) bool {
	return !now.Add(buffer).Before(c.ExpiresAt)
}
