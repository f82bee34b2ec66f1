// Package metrics 流式对话相关的 Prometheus 指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chat_relay"

// 失败阶段，作为 ErrorsTotal 的 stage 标签
const (
	StageAuth       = "auth"
	StageValidation = "validation"
	StageLoad       = "load"
	StagePersist    = "persist"
	StageGenerate   = "generate"
	StageInternal   = "internal"
)

type Metrics struct {
	// ws 连接数
	ActiveConnections prometheus.Gauge
	// 正在生成的流
	ActiveStreams prometheus.Gauge
	// sendMessage 调用，status: success/error
	RequestsTotal *prometheus.CounterVec
	ChunksTotal   prometheus.Counter
	ErrorsTotal   *prometheus.CounterVec
	// 握手被拒绝的次数
	HandshakeFailures prometheus.Counter

	StreamDuration   prometheus.Histogram
	TimeToFirstChunk prometheus.Histogram
}

// New 在 reg 上注册全部指标，测试里传入独立的 prometheus.NewRegistry()
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Number of open websocket connections",
		}),
		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Number of sendMessage invocations in progress",
		}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_message_total",
			Help:      "Total sendMessage invocations by terminal status",
		}, []string{"status"}),
		ChunksTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Total streamChunk events emitted",
		}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_errors_total",
			Help:      "Total streamError events by failing stage",
		}, []string{"stage"}),
		HandshakeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_handshake_failures_total",
			Help:      "Websocket handshakes rejected for missing or invalid tokens",
		}),
		StreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Duration of sendMessage invocations",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms ~ 100s
		}),
		TimeToFirstChunk: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "time_to_first_chunk_seconds",
			Help:      "Latency from generation start to the first streamed chunk",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}

// StreamStarted 返回结束回调，调用方在终止事件之后调用
func (m *Metrics) StreamStarted() func(status string) {
	start := time.Now()
	m.ActiveStreams.Inc()
	return func(status string) {
		m.ActiveStreams.Dec()
		m.RequestsTotal.WithLabelValues(status).Inc()
		m.StreamDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) StreamFailed(stage string) {
	m.ErrorsTotal.WithLabelValues(stage).Inc()
}
