package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 摄取指标
	MessagesIngested  *prometheus.CounterVec
	DuplicateMessages prometheus.Counter
	IngestFailures    *prometheus.CounterVec
	IngestDuration    *prometheus.HistogramVec

	// 附件指标
	AttachmentsStored   prometheus.Counter
	AttachmentFailures  prometheus.Counter
	AttachmentSizeBytes prometheus.Histogram

	// 分配与工单指标
	AgentAssignments prometheus.Counter
	TicketsAttached  prometheus.Counter
	TicketsReopened  prometheus.Counter

	// 轮询指标
	PollCycles     prometheus.Counter
	PollErrors     *prometheus.CounterVec
	TokenRefreshes prometheus.Counter

	// 错误指标
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		// HTTP 请求指标
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helpdesk_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "helpdesk_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		// 摄取指标
		MessagesIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helpdesk_messages_ingested_total",
				Help: "Total number of messages ingested",
			},
			[]string{"source"},
		),

		DuplicateMessages: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "helpdesk_duplicate_messages_total",
				Help: "Total number of duplicate deliveries folded into existing rows",
			},
		),

		IngestFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helpdesk_ingest_failures_total",
				Help: "Total number of failed ingestion attempts",
			},
			[]string{"source", "stage"},
		),

		IngestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "helpdesk_ingest_duration_seconds",
				Help:    "Message ingestion duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),

		// 附件指标
		AttachmentsStored: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "helpdesk_attachments_stored_total",
				Help: "Total number of attachments materialized into blob storage",
			},
		),

		AttachmentFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "helpdesk_attachment_failures_total",
				Help: "Total number of attachments skipped due to decode/upload failure",
			},
		),

		AttachmentSizeBytes: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "helpdesk_attachment_size_bytes",
				Help:    "Attachment size in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 20),
			},
		),

		// 分配与工单指标
		AgentAssignments: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "helpdesk_agent_assignments_total",
				Help: "Total number of round-robin agent assignments",
			},
		),

		TicketsAttached: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "helpdesk_tickets_attached_total",
				Help: "Total number of messages attached to open tickets",
			},
		),

		TicketsReopened: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "helpdesk_tickets_reopened_total",
				Help: "Total number of closed tickets reopened by replies",
			},
		),

		// 轮询指标
		PollCycles: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "helpdesk_poll_cycles_total",
				Help: "Total number of completed poll cycles",
			},
		),

		PollErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helpdesk_poll_errors_total",
				Help: "Total number of poll errors",
			},
			[]string{"desk_id"},
		),

		TokenRefreshes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "helpdesk_token_refreshes_total",
				Help: "Total number of access token refreshes",
			},
		),

		// 错误指标
		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "helpdesk_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordIngested 记录一次成功摄取
func (m *Metrics) RecordIngested(source string, duration time.Duration) {
	m.MessagesIngested.WithLabelValues(source).Inc()
	m.IngestDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordDuplicate 记录一次重复投递
func (m *Metrics) RecordDuplicate() {
	m.DuplicateMessages.Inc()
}

// RecordIngestFailure 记录一次摄取失败
func (m *Metrics) RecordIngestFailure(source, stage string) {
	m.IngestFailures.WithLabelValues(source, stage).Inc()
}

// RecordAttachmentStored 记录附件物化成功
func (m *Metrics) RecordAttachmentStored(size int64) {
	m.AttachmentsStored.Inc()
	m.AttachmentSizeBytes.Observe(float64(size))
}

// RecordAttachmentFailure 记录附件物化失败
func (m *Metrics) RecordAttachmentFailure() {
	m.AttachmentFailures.Inc()
}

// RecordAssignment 记录一次轮转分配
func (m *Metrics) RecordAssignment() {
	m.AgentAssignments.Inc()
}

// RecordTicketAttached 记录邮件挂靠工单
func (m *Metrics) RecordTicketAttached() {
	m.TicketsAttached.Inc()
}

// RecordTicketReopened 记录工单重开
func (m *Metrics) RecordTicketReopened() {
	m.TicketsReopened.Inc()
}

// RecordPollCycle 记录一次轮询周期完成
func (m *Metrics) RecordPollCycle() {
	m.PollCycles.Inc()
}

// RecordPollError 记录轮询错误
func (m *Metrics) RecordPollError(deskID string) {
	m.PollErrors.WithLabelValues(deskID).Inc()
}

// RecordTokenRefresh 记录令牌刷新
func (m *Metrics) RecordTokenRefresh() {
	m.TokenRefreshes.Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
