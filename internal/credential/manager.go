package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"helpdesk/backend/internal/domain"
	"helpdesk/backend/internal/monitoring"
	"helpdesk/backend/internal/provider"
	"helpdesk/backend/internal/storage"
)

var (
	// ErrCredential 凭据错误基类，errors.Is 检查用。
	// 对当前客服组的本轮操作是致命的：记录日志后跳过，等待下一周期。
	ErrCredential = errors.New("credential error")
	// ErrNoIntegration 客服组未配置服务商集成
	ErrNoIntegration = fmt.Errorf("%w: no integration configured for desk", ErrCredential)
	// ErrNoAccessToken 凭据中没有访问令牌
	ErrNoAccessToken = fmt.Errorf("%w: no access token stored", ErrCredential)
	// ErrNoRefreshToken 令牌已过期且没有可用的刷新令牌
	ErrNoRefreshToken = fmt.Errorf("%w: no refresh token available", ErrCredential)
)

// expiryBuffer 到期安全缓冲：到期前 5 分钟内视为已过期，提前刷新。
const expiryBuffer = 5 * time.Minute

// Refresher 用刷新令牌换取新令牌对（provider.TokenClient 实现）。
type Refresher interface {
	Refresh(ctx context.Context, credential *domain.Credential) (*provider.Token, error)
}

// TokenCache 访问令牌缓存（可选，Redis 实现）。
type TokenCache interface {
	CacheAccessToken(ctx context.Context, deskID, token string, ttl time.Duration) error
	GetAccessToken(ctx context.Context, deskID string) (string, error)
	InvalidateAccessToken(ctx context.Context, deskID string) error
}

// Manager 管理各客服组的服务商 OAuth 凭据。
//
// 同一客服组的刷新操作经组级互斥锁串行化，
// 避免并发调用方同时读到过期凭据后各自发起刷新。
type Manager struct {
	creds     storage.CredentialRepository
	refresher Refresher
	cache     TokenCache          // 可选
	metrics   *monitoring.Metrics // 可选
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // deskID -> lock
}

// NewManager 创建凭据管理器。
func NewManager(creds storage.CredentialRepository, refresher Refresher, logger *zap.Logger) *Manager {
	return &Manager{
		creds:     creds,
		refresher: refresher,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// SetTokenCache 设置访问令牌缓存（可选）。
func (m *Manager) SetTokenCache(cache TokenCache) {
	m.cache = cache
}

// SetMetrics 设置监控指标（可选）。
func (m *Manager) SetMetrics(metrics *monitoring.Metrics) {
	m.metrics = metrics
}

// AccessToken 返回客服组当前有效的访问令牌，必要时先刷新。
//
// 刷新成功后新令牌对先持久化再返回。实现 provider.TokenSource。
func (m *Manager) AccessToken(ctx context.Context, deskID string) (string, error) {
	// 缓存命中直接返回（TTL 已对齐到期缓冲，无需再验证）
	if m.cache != nil {
		if token, err := m.cache.GetAccessToken(ctx, deskID); err == nil && token != "" {
			return token, nil
		}
	}

	lock := m.deskLock(deskID)
	lock.Lock()
	defer lock.Unlock()

	credential, err := m.creds.GetCredential(deskID)
	if err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) {
			return "", ErrNoIntegration
		}
		return "", fmt.Errorf("failed to load credential: %w", err)
	}

	if credential.AccessToken == "" && credential.RefreshToken == "" {
		return "", ErrNoAccessToken
	}

	now := time.Now().UTC()
	if credential.AccessToken != "" && !credential.Expired(now, expiryBuffer) {
		m.cacheToken(ctx, deskID, credential.AccessToken, credential.ExpiresAt)
		return credential.AccessToken, nil
	}

	// 令牌已过期或即将过期，换取新令牌对
	if credential.RefreshToken == "" {
		return "", ErrNoRefreshToken
	}

	token, err := m.refresher.Refresh(ctx, credential)
	if err != nil {
		// 刷新失败时顺带清掉可能残留的缓存令牌
		if m.cache != nil {
			_ = m.cache.InvalidateAccessToken(ctx, deskID)
		}
		return "", fmt.Errorf("%w: refresh failed: %v", ErrCredential, err)
	}
	if m.metrics != nil {
		m.metrics.RecordTokenRefresh()
	}

	credential.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		credential.RefreshToken = token.RefreshToken
	}
	credential.ExpiresAt = now.Add(time.Duration(token.ExpiresIn) * time.Second)

	// 先持久化再返回，避免新刷新令牌丢失
	if err := m.creds.SaveCredential(credential); err != nil {
		return "", fmt.Errorf("failed to persist refreshed credential: %w", err)
	}

	m.logger.Info("access token refreshed",
		zap.String("desk_id", deskID),
		zap.Time("expires_at", credential.ExpiresAt),
	)

	m.cacheToken(ctx, deskID, credential.AccessToken, credential.ExpiresAt)
	return credential.AccessToken, nil
}

func (m *Manager) cacheToken(ctx context.Context, deskID, token string, expiresAt time.Time) {
	if m.cache == nil {
		return
	}
	ttl := time.Until(expiresAt) - expiryBuffer
	if ttl <= 0 {
		return
	}
	if err := m.cache.CacheAccessToken(ctx, deskID, token, ttl); err != nil {
		m.logger.Warn("failed to cache access token", zap.String("desk_id", deskID), zap.Error(err))
	}
}

func (m *Manager) deskLock(deskID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[deskID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[deskID] = lock
	}
	return lock
}
