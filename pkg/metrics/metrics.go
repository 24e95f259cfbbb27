package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// Oracle 调用延迟（毫秒）
	OracleCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oracle_call_latency_ms",
			Help:    "Extraction oracle call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"operation", "status"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 入站邮件处理计数
	InboundProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbound_email_processed_count",
			Help: "Total number of inbound vendor emails processed",
		},
		[]string{"outcome"}, // outcome: processed, duplicate, correlation_failed, error
	)

	// 提案解析计数
	ProposalParsedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proposal_parsed_count",
			Help: "Total number of proposal parse attempts",
		},
		[]string{"status"}, // status: success, failed
	)

	// 对比分析计数
	ComparisonCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comparison_count",
			Help: "Total number of vendor comparisons run",
		},
		[]string{"status"}, // status: success, degraded, empty
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordOracleCallLatency 记录 Oracle 调用延迟
func RecordOracleCallLatency(operation, status string, duration time.Duration) {
	OracleCallLatency.WithLabelValues(operation, status).Observe(float64(duration.Milliseconds()))
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementInboundProcessed 增加入站邮件处理计数
func IncrementInboundProcessed(outcome string) {
	InboundProcessedCount.WithLabelValues(outcome).Inc()
}

// IncrementProposalParsed 增加提案解析计数
func IncrementProposalParsed(status string) {
	ProposalParsedCount.WithLabelValues(status).Inc()
}

// IncrementComparison 增加对比分析计数
func IncrementComparison(status string) {
	ComparisonCount.WithLabelValues(status).Inc()
}
