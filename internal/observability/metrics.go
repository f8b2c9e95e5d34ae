package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 聚合引擎的Prometheus指标集合
type Metrics struct {
	// 探测指标
	ProbesTotal   *prometheus.CounterVec
	ProbeDuration prometheus.Histogram

	// 样本写入指标
	SamplesDropped prometheus.Counter

	// 策略选择指标
	SelectionsTotal    *prometheus.CounterVec
	DegradedSelections prometheus.Counter

	// 节点状态指标
	NodesConnected prometheus.Gauge

	// DNS查询指标
	DNSQueriesTotal *prometheus.CounterVec
}

// NewMetrics 创建并注册Prometheus指标
func NewMetrics() *Metrics {
	return &Metrics{
		ProbesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_fleet_probes_total",
				Help: "健康探测总数",
			},
			[]string{"result"},
		),

		ProbeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_fleet_probe_duration_seconds",
				Help:    "健康探测耗时",
				Buckets: prometheus.DefBuckets,
			},
		),

		SamplesDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_fleet_samples_dropped_total",
				Help: "因重复时间戳等原因被丢弃的样本总数",
			},
		),

		SelectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_fleet_selections_total",
				Help: "策略选择总数",
			},
			[]string{"strategy"},
		),

		DegradedSelections: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_fleet_degraded_selections_total",
				Help: "所有成员均离线时的降级选择总数",
			},
		),

		NodesConnected: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_fleet_nodes_connected",
				Help: "当前已连接节点数量",
			},
		),

		DNSQueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_fleet_dns_queries_total",
				Help: "负载均衡主机DNS查询总数",
			},
			[]string{"result"},
		),
	}
}

// RecordProbe 记录一次探测结果。nil接收者直接跳过，
// 测试环境不注册全局指标时无需额外分支。
func (m *Metrics) RecordProbe(result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ProbesTotal.WithLabelValues(result).Inc()
	m.ProbeDuration.Observe(durationSeconds)
}

// RecordSampleDropped 记录一次样本丢弃
func (m *Metrics) RecordSampleDropped() {
	if m == nil {
		return
	}
	m.SamplesDropped.Inc()
}

// RecordSelection 记录一次策略选择
func (m *Metrics) RecordSelection(strategy string) {
	if m == nil {
		return
	}
	m.SelectionsTotal.WithLabelValues(strategy).Inc()
}

// RecordDegradedSelection 记录一次降级选择
func (m *Metrics) RecordDegradedSelection() {
	if m == nil {
		return
	}
	m.DegradedSelections.Inc()
}

// UpdateNodesConnected 更新已连接节点数量
func (m *Metrics) UpdateNodesConnected(count int) {
	if m == nil {
		return
	}
	m.NodesConnected.Set(float64(count))
}

// RecordDNSQuery 记录一次DNS查询
func (m *Metrics) RecordDNSQuery(result string) {
	if m == nil {
		return
	}
	m.DNSQueriesTotal.WithLabelValues(result).Inc()
}
