package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	registry prometheus.Registerer
	gatherer prometheus.Gatherer

	// 监听器指标
	WatchersActive    prometheus.Gauge
	WatcherReconnects prometheus.Counter
	TokenRefreshes    prometheus.Counter
	AuthGiveups       prometheus.Counter

	// 投递指标
	MessagesPersisted    prometheus.Counter
	DuplicateMessages    prometheus.Counter
	NotificationsSent    prometheus.Counter
	NotificationFailures prometheus.Counter
	FactQueueDrops       prometheus.Counter

	// 业务指标
	MailboxesProvisioned prometheus.Counter
	MailboxesRecovered   prometheus.Counter

	// 上游服务商指标
	ProviderRequests        *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec
}

// NewMetrics 创建注册到默认 registry 的监控指标。
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry 创建注册到独立 registry 的监控指标，测试中使用。
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		gatherer: gatherer,

		WatchersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mailbot_watchers_active",
			Help: "Number of live mailbox watchers",
		}),
		WatcherReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailbot_watcher_reconnects_total",
			Help: "Total number of watcher reconnect attempts",
		}),
		TokenRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailbot_token_refreshes_total",
			Help: "Total number of successful provider token refreshes",
		}),
		AuthGiveups: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailbot_auth_giveups_total",
			Help: "Total number of watchers closed after exhausting auth retries",
		}),

		MessagesPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailbot_messages_persisted_total",
			Help: "Total number of messages stored",
		}),
		DuplicateMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailbot_duplicate_messages_total",
			Help: "Total number of duplicate message events suppressed",
		}),
		NotificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailbot_notifications_sent_total",
			Help: "Total number of notifications delivered to users",
		}),
		NotificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailbot_notification_failures_total",
			Help: "Total number of failed notification sends",
		}),
		FactQueueDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailbot_fact_queue_drops_total",
			Help: "Total number of new-message facts dropped due to a full queue",
		}),

		MailboxesProvisioned: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailbot_mailboxes_provisioned_total",
			Help: "Total number of mailboxes provisioned",
		}),
		MailboxesRecovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailbot_mailboxes_recovered_total",
			Help: "Total number of mailbox recoveries",
		}),

		ProviderRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailbot_provider_requests_total",
				Help: "Total number of upstream provider API requests",
			},
			[]string{"endpoint", "outcome"},
		),
		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailbot_provider_request_duration_seconds",
				Help:    "Upstream provider API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
	}
}

// HTTPHandler 返回 Prometheus 指标的 HTTP 处理器。
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
