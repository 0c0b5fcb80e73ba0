package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("默认配置", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "graph", cfg.Provider.Name)
		assert.Equal(t, "https://graph.microsoft.com/v1.0", cfg.Provider.BaseURL)
		assert.Equal(t, 30*time.Second, cfg.Provider.RequestTimeout)
		assert.Equal(t, time.Minute, cfg.Provider.PollInterval)
		assert.Equal(t, 25, cfg.Provider.PollPageSize)
		assert.Equal(t, 4.0, cfg.Provider.RateLimit)
		assert.Equal(t, 8, cfg.Webhook.Workers)
		assert.Equal(t, 256, cfg.Webhook.QueueSize)
		assert.EqualValues(t, 1<<20, cfg.Webhook.MaxBodyBytes)
		assert.Empty(t, cfg.Ticket.ResolutionMarkers)
		assert.Equal(t, "./data/attachments", cfg.Blob.Path)
		assert.Equal(t, "/attachments", cfg.Blob.URLPrefix)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Empty(t, cfg.Log.File) // 留空时不写日志文件
		assert.Equal(t, 100, cfg.Log.MaxSizeMB)
		assert.Equal(t, 3, cfg.Log.MaxBackups)
		assert.Equal(t, 28, cfg.Log.MaxAgeDays)
		assert.True(t, cfg.Log.Compress)
		assert.Empty(t, cfg.Database.Type) // 留空时走内存存储
		assert.Empty(t, cfg.Redis.Address)
		assert.Empty(t, cfg.Events.URL)
		assert.Equal(t, "helpdesk.events", cfg.Events.Exchange)
	})

	t.Run("环境变量覆盖默认值", func(t *testing.T) {
		t.Setenv("HELPDESK_SERVER_PORT", "9090")
		t.Setenv("HELPDESK_PROVIDER_BASE_URL", "https://mail.example.com/api/")
		t.Setenv("HELPDESK_PROVIDER_POLL_INTERVAL", "30s")
		t.Setenv("HELPDESK_TICKET_RESOLUTION_MARKERS", "resolved, closed")
		t.Setenv("HELPDESK_DATABASE_TYPE", "postgres")
		t.Setenv("HELPDESK_DATABASE_DSN", "host=localhost dbname=helpdesk")
		t.Setenv("HELPDESK_REDIS_ADDRESS", "localhost:6379")
		t.Setenv("HELPDESK_CORS_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
		t.Setenv("HELPDESK_LOG_FILE", "/var/log/helpdesk/server.log")
		t.Setenv("HELPDESK_LOG_MAX_SIZE_MB", "50")
		t.Setenv("HELPDESK_LOG_MAX_BACKUPS", "7")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "https://mail.example.com/api", cfg.Provider.BaseURL) // 末尾斜杠被去除
		assert.Equal(t, 30*time.Second, cfg.Provider.PollInterval)
		assert.Equal(t, []string{"resolved", "closed"}, cfg.Ticket.ResolutionMarkers)
		assert.Equal(t, "postgres", cfg.Database.Type)
		assert.Equal(t, "localhost:6379", cfg.Redis.Address)
		assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "/var/log/helpdesk/server.log", cfg.Log.File)
		assert.Equal(t, 50, cfg.Log.MaxSizeMB)
		assert.Equal(t, 7, cfg.Log.MaxBackups)
	})

	t.Run("非法的轮询间隔报错", func(t *testing.T) {
		t.Setenv("HELPDESK_PROVIDER_POLL_INTERVAL", "not-a-duration")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("非法的工作协程数回退默认", func(t *testing.T) {
		t.Setenv("HELPDESK_WEBHOOK_WORKERS", "-3")
		t.Setenv("HELPDESK_PROVIDER_POLL_PAGE_SIZE", "0")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.Webhook.Workers)
		assert.Equal(t, 25, cfg.Provider.PollPageSize)
	})
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseList("a, b"))
	assert.Equal(t, []string{"a"}, parseList("a,,  "))
	assert.Empty(t, parseList(""))
}
