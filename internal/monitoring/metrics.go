package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 网关监控指标
//
// 所有 Record/Update 方法在 nil 接收者上是空操作。
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// SMTP 会话指标
	SessionsTotal  prometheus.Counter
	SessionsActive prometheus.Gauge
	AuthFailures   prometheus.Counter

	// 邮件指标
	MessagesReceived  prometheus.Counter
	MessagesForwarded prometheus.Counter
	MessagesFailed    *prometheus.CounterVec
	MessagesRejected  *prometheus.CounterVec
	MessageSize       prometheus.Histogram

	// 投递指标
	ForwardDuration prometheus.Histogram
	QueuePending    prometheus.Gauge

	// 错误指标
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		// HTTP 请求指标
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smtpgw_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smtpgw_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		// SMTP 会话指标
		SessionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "smtpgw_smtp_sessions_total",
				Help: "Total number of SMTP sessions accepted",
			},
		),

		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "smtpgw_smtp_sessions_active",
				Help: "Number of SMTP sessions currently open",
			},
		),

		AuthFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "smtpgw_smtp_auth_failures_total",
				Help: "Total number of failed SMTP authentication attempts",
			},
		),

		// 邮件指标
		MessagesReceived: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "smtpgw_messages_received_total",
				Help: "Total number of messages accepted for forwarding",
			},
		),

		MessagesForwarded: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "smtpgw_messages_forwarded_total",
				Help: "Total number of messages forwarded to the relay",
			},
		),

		MessagesFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smtpgw_messages_failed_total",
				Help: "Total number of messages that failed processing",
			},
			[]string{"stage"},
		),

		MessagesRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smtpgw_messages_rejected_total",
				Help: "Total number of messages rejected at the SMTP layer",
			},
			[]string{"reason"},
		),

		MessageSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "smtpgw_message_size_bytes",
				Help:    "Size of accepted messages in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),

		// 投递指标
		ForwardDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "smtpgw_forward_duration_seconds",
				Help:    "Time spent forwarding a message to the relay",
				Buckets: prometheus.DefBuckets,
			},
		),

		QueuePending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "smtpgw_queue_pending",
				Help: "Number of submissions waiting in the worker pool queue",
			},
		),

		// 错误指标
		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "smtpgw_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordSessionOpened 记录 SMTP 会话建立
func (m *Metrics) RecordSessionOpened() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionClosed 记录 SMTP 会话结束
func (m *Metrics) RecordSessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// RecordAuthFailure 记录认证失败
func (m *Metrics) RecordAuthFailure() {
	if m == nil {
		return
	}
	m.AuthFailures.Inc()
}

// RecordMessageReceived 记录接收到的邮件及其大小
func (m *Metrics) RecordMessageReceived(size int64) {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
	m.MessageSize.Observe(float64(size))
}

// RecordMessageForwarded 记录成功投递
func (m *Metrics) RecordMessageForwarded(duration time.Duration) {
	if m == nil {
		return
	}
	m.MessagesForwarded.Inc()
	m.ForwardDuration.Observe(duration.Seconds())
}

// RecordMessageFailed 记录处理失败，stage 为 parse 或 forward
func (m *Metrics) RecordMessageFailed(stage string) {
	if m == nil {
		return
	}
	m.MessagesFailed.WithLabelValues(stage).Inc()
}

// RecordMessageRejected 记录 SMTP 层拒绝，reason 为 auth/size/recipients 等
func (m *Metrics) RecordMessageRejected(reason string) {
	if m == nil {
		return
	}
	m.MessagesRejected.WithLabelValues(reason).Inc()
}

// UpdateQueuePending 更新等待队列长度
func (m *Metrics) UpdateQueuePending(count int) {
	if m == nil {
		return
	}
	m.QueuePending.Set(float64(count))
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
