package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"helpdesk/backend/internal/domain"
	"helpdesk/backend/internal/provider"
	"helpdesk/backend/internal/storage/memory"
)

// newTokenServer 返回模拟的 OAuth 令牌端点与请求计数器。
func newTokenServer(t *testing.T, accessToken, refreshToken string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.NotEmpty(t, r.FormValue("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_in":    3600,
			"token_type":    "Bearer",
		})
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func newManagerFixture(t *testing.T, endpoint string) (*Manager, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	refresher := provider.NewTokenClient(endpoint, 5*time.Second)
	return NewManager(store, refresher, zap.NewNop()), store
}

func TestAccessToken(t *testing.T) {
	ctx := context.Background()

	t.Run("有效令牌直接返回不触发刷新", func(t *testing.T) {
		server, calls := newTokenServer(t, "new-token", "new-refresh")
		manager, store := newManagerFixture(t, server.URL)
		require.NoError(t, store.SaveCredential(&domain.Credential{
			DeskID:       "desk-1",
			Provider:     "graph",
			AccessToken:  "valid-token",
			RefreshToken: "refresh-1",
			ExpiresAt:    time.Now().UTC().Add(time.Hour),
		}))

		token, err := manager.AccessToken(ctx, "desk-1")
		require.NoError(t, err)
		assert.Equal(t, "valid-token", token)
		assert.EqualValues(t, 0, calls.Load())
	})

	t.Run("过期令牌先刷新再返回并持久化", func(t *testing.T) {
		server, calls := newTokenServer(t, "new-token", "new-refresh")
		manager, store := newManagerFixture(t, server.URL)
		require.NoError(t, store.SaveCredential(&domain.Credential{
			DeskID:       "desk-1",
			Provider:     "graph",
			AccessToken:  "stale-token",
			RefreshToken: "refresh-1",
			ExpiresAt:    time.Now().UTC().Add(-time.Minute),
		}))

		token, err := manager.AccessToken(ctx, "desk-1")
		require.NoError(t, err)
		assert.Equal(t, "new-token", token)
		assert.EqualValues(t, 1, calls.Load())

		// 新令牌对已持久化
		stored, err := store.GetCredential("desk-1")
		require.NoError(t, err)
		assert.Equal(t, "new-token", stored.AccessToken)
		assert.Equal(t, "new-refresh", stored.RefreshToken)
		assert.True(t, stored.ExpiresAt.After(time.Now().UTC().Add(50*time.Minute)))
	})

	t.Run("临近过期的令牌也触发刷新", func(t *testing.T) {
		server, calls := newTokenServer(t, "new-token", "new-refresh")
		manager, store := newManagerFixture(t, server.URL)
		require.NoError(t, store.SaveCredential(&domain.Credential{
			DeskID:       "desk-1",
			Provider:     "graph",
			AccessToken:  "expiring-token",
			RefreshToken: "refresh-1",
			ExpiresAt:    time.Now().UTC().Add(time.Minute), // 在 5 分钟缓冲内
		}))

		token, err := manager.AccessToken(ctx, "desk-1")
		require.NoError(t, err)
		assert.Equal(t, "new-token", token)
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("刷新响应缺少新刷新令牌时保留旧值", func(t *testing.T) {
		server, _ := newTokenServer(t, "new-token", "")
		manager, store := newManagerFixture(t, server.URL)
		require.NoError(t, store.SaveCredential(&domain.Credential{
			DeskID:       "desk-1",
			Provider:     "graph",
			RefreshToken: "refresh-1",
		}))

		_, err := manager.AccessToken(ctx, "desk-1")
		require.NoError(t, err)

		stored, err := store.GetCredential("desk-1")
		require.NoError(t, err)
		assert.Equal(t, "refresh-1", stored.RefreshToken)
	})

	t.Run("未配置集成返回明确错误", func(t *testing.T) {
		server, _ := newTokenServer(t, "new-token", "new-refresh")
		manager, _ := newManagerFixture(t, server.URL)

		_, err := manager.AccessToken(ctx, "desk-unknown")
		assert.ErrorIs(t, err, ErrNoIntegration)
		assert.ErrorIs(t, err, ErrCredential)
	})

	t.Run("没有任何令牌返回明确错误", func(t *testing.T) {
		server, _ := newTokenServer(t, "new-token", "new-refresh")
		manager, store := newManagerFixture(t, server.URL)
		require.NoError(t, store.SaveCredential(&domain.Credential{
			DeskID:   "desk-1",
			Provider: "graph",
		}))

		_, err := manager.AccessToken(ctx, "desk-1")
		assert.ErrorIs(t, err, ErrNoAccessToken)
	})

	t.Run("过期且无刷新令牌返回明确错误", func(t *testing.T) {
		server, _ := newTokenServer(t, "new-token", "new-refresh")
		manager, store := newManagerFixture(t, server.URL)
		require.NoError(t, store.SaveCredential(&domain.Credential{
			DeskID:      "desk-1",
			Provider:    "graph",
			AccessToken: "stale-token",
			ExpiresAt:   time.Now().UTC().Add(-time.Minute),
		}))

		_, err := manager.AccessToken(ctx, "desk-1")
		assert.ErrorIs(t, err, ErrNoRefreshToken)
	})

	t.Run("令牌端点报错时包装为凭据错误", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
		}))
		t.Cleanup(server.Close)

		manager, store := newManagerFixture(t, server.URL)
		require.NoError(t, store.SaveCredential(&domain.Credential{
			DeskID:       "desk-1",
			Provider:     "graph",
			RefreshToken: "revoked",
		}))

		_, err := manager.AccessToken(ctx, "desk-1")
		assert.ErrorIs(t, err, ErrCredential)
	})

	t.Run("并发请求只触发一次刷新", func(t *testing.T) {
		server, calls := newTokenServer(t, "new-token", "new-refresh")
		manager, store := newManagerFixture(t, server.URL)
		require.NoError(t, store.SaveCredential(&domain.Credential{
			DeskID:       "desk-1",
			Provider:     "graph",
			AccessToken:  "stale-token",
			RefreshToken: "refresh-1",
			ExpiresAt:    time.Now().UTC().Add(-time.Minute),
		}))

		done := make(chan error, 8)
		for i := 0; i < 8; i++ {
			go func() {
				_, err := manager.AccessToken(ctx, "desk-1")
				done <- err
			}()
		}
		for i := 0; i < 8; i++ {
			require.NoError(t, <-done)
		}
		assert.EqualValues(t, 1, calls.Load())
	})
}
