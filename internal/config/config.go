package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// ProviderConfig 定义邮件服务商集成配置
type ProviderConfig struct {
	Name           string        // 服务商标识，写入 Message.Provider，默认 "graph"
	BaseURL        string        // 服务商 REST API 基地址
	TokenEndpoint  string        // OAuth 令牌端点
	RequestTimeout time.Duration // 单次服务商请求超时，默认 30s
	PollInterval   time.Duration // 轮询间隔，默认 1m
	PollPageSize   int           // 单次轮询拉取的未读邮件数上限，默认 25
	RateLimit      float64       // 服务商请求限速（次/秒），0 表示不限
}

// WebhookConfig 定义 Webhook 接收端配置
type WebhookConfig struct {
	Workers      int   // 异步处理协程数，默认 8
	QueueSize    int   // 通知任务队列长度，默认 256
	MaxBodyBytes int64 // 请求体大小上限，默认 1MB
}

// TicketConfig 定义工单核对配置
type TicketConfig struct {
	ResolutionMarkers []string // 结案通知识别标记，留空使用内置默认
}

// BlobConfig 定义附件 Blob 存储配置
type BlobConfig struct {
	Path      string // 本地存储根目录，默认 "./data/attachments"
	URLPrefix string // 生成下载 URL 的前缀，默认 "/attachments"
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到标准输出
	MaxSizeMB   int    // 单个日志文件大小上限（MB），默认 100
	MaxBackups  int    // 保留的轮转文件个数，默认 3
	MaxAgeDays  int    // 轮转文件保留天数，默认 28
	Compress    bool   // 轮转出的历史文件是否压缩，默认开启
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，留空禁用缓存
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// EventsConfig 定义领域事件发布配置
type EventsConfig struct {
	URL      string // 消息队列连接地址，留空禁用事件发布
	Exchange string // topic 交换机名称，默认 "helpdesk.events"
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig   // HTTP 服务器配置
	Provider ProviderConfig // 邮件服务商配置
	Webhook  WebhookConfig  // Webhook 接收端配置
	Ticket   TicketConfig   // 工单核对配置
	Blob     BlobConfig     // 附件存储配置
	CORS     CORSConfig     // 跨域配置
	Log      LogConfig      // 日志配置
	Database DatabaseConfig // 数据库配置
	Redis    RedisConfig    // Redis 配置
	Events   EventsConfig   // 事件发布配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: HELPDESK_
// 例如: HELPDESK_SERVER_HOST, HELPDESK_PROVIDER_BASE_URL
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("helpdesk")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("provider.name", "graph")
	viper.SetDefault("provider.base_url", "https://graph.microsoft.com/v1.0")
	viper.SetDefault("provider.token_endpoint", "https://login.microsoftonline.com/common/oauth2/v2.0/token")
	viper.SetDefault("provider.request_timeout", "30s")
	viper.SetDefault("provider.poll_interval", "1m")
	viper.SetDefault("provider.poll_page_size", 25)
	viper.SetDefault("provider.rate_limit", 4.0)
	viper.SetDefault("webhook.workers", 8)
	viper.SetDefault("webhook.queue_size", 256)
	viper.SetDefault("webhook.max_body_bytes", 1<<20)
	viper.SetDefault("ticket.resolution_markers", "")
	viper.SetDefault("blob.path", "./data/attachments")
	viper.SetDefault("blob.url_prefix", "/attachments")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age_days", 28)
	viper.SetDefault("log.compress", true)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("events.url", "")
	viper.SetDefault("events.exchange", "helpdesk.events")

	requestTimeout, err := time.ParseDuration(viper.GetString("provider.request_timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid provider.request_timeout: %w", err)
	}

	pollInterval, err := time.ParseDuration(viper.GetString("provider.poll_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid provider.poll_interval: %w", err)
	}

	pollPageSize := viper.GetInt("provider.poll_page_size")
	if pollPageSize <= 0 {
		pollPageSize = 25
	}

	baseURL := strings.TrimRight(viper.GetString("provider.base_url"), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("provider.base_url must not be empty")
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	workers := viper.GetInt("webhook.workers")
	if workers <= 0 {
		workers = 8
	}
	queueSize := viper.GetInt("webhook.queue_size")
	if queueSize <= 0 {
		queueSize = 256
	}
	maxBodyBytes := viper.GetInt64("webhook.max_body_bytes")
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Provider: ProviderConfig{
			Name:           viper.GetString("provider.name"),
			BaseURL:        baseURL,
			TokenEndpoint:  viper.GetString("provider.token_endpoint"),
			RequestTimeout: requestTimeout,
			PollInterval:   pollInterval,
			PollPageSize:   pollPageSize,
			RateLimit:      viper.GetFloat64("provider.rate_limit"),
		},
		Webhook: WebhookConfig{
			Workers:      workers,
			QueueSize:    queueSize,
			MaxBodyBytes: maxBodyBytes,
		},
		Ticket: TicketConfig{
			ResolutionMarkers: parseList(viper.GetString("ticket.resolution_markers")),
		},
		Blob: BlobConfig{
			Path:      viper.GetString("blob.path"),
			URLPrefix: viper.GetString("blob.url_prefix"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
			MaxSizeMB:   viper.GetInt("log.max_size_mb"),
			MaxBackups:  viper.GetInt("log.max_backups"),
			MaxAgeDays:  viper.GetInt("log.max_age_days"),
			Compress:    viper.GetBool("log.compress"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Events: EventsConfig{
			URL:      viper.GetString("events.url"),
			Exchange: viper.GetString("events.exchange"),
		},
	}

	return cfg, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（用于从 backend/ 子目录运行的情况）
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 环境变量不会被覆盖（已存在的环境变量优先级更高）
func loadEnvFile() {
	// 尝试当前目录的 .env
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	// 尝试父目录的 .env（从 backend/ 目录运行时）
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
