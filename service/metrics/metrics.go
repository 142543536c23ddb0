package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics hub 运行指标。所有方法对 nil 接收者安全，测试里可以直接传 nil。
type Metrics struct {
	reg *prometheus.Registry

	// Connections 当前在线连接数
	Connections prometheus.Gauge
	// Channels 当前存在成员的频道数
	Channels prometheus.Gauge

	// Events 服务端下发的事件数
	// Labels: kind (new-message|typing|presence|channel-history|member-left)
	Events *prometheus.CounterVec

	// Deliveries 单个接收者的投递结果
	// Labels: result (ok|dropped|missing)
	Deliveries *prometheus.CounterVec

	// Frames 客户端上行帧
	// Labels: event, status (ok|error)
	Frames *prometheus.CounterVec

	// SearchForward 索引转发结果
	// Labels: result (ok|error|dropped)
	SearchForward *prometheus.CounterVec

	// SearchQueryDuration 查询耗时（秒）
	// Labels: backend, status (ok|error)
	SearchQueryDuration *prometheus.HistogramVec

	// HTTPRequestDuration API 耗时
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// New 使用独立 Registry，避免多实例（测试）重复注册
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "pphub", Name: "connections",
			Help: "Live websocket connections",
		}),
		Channels: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "pphub", Name: "channels",
			Help: "Channels with at least one member",
		}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pphub", Name: "events_total",
			Help: "Server events emitted by kind",
		}, []string{"kind"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pphub", Name: "deliveries_total",
			Help: "Per-recipient delivery attempts by result",
		}, []string{"result"}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pphub", Name: "frames_total",
			Help: "Client frames handled by event and status",
		}, []string{"event", "status"}),
		SearchForward: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pphub", Name: "search_forward_total",
			Help: "Search index forwarding by result",
		}, []string{"result"}),
		SearchQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pphub", Name: "search_query_duration_seconds",
			Help:    "Search query latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 3, 5},
		}, []string{"backend", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pphub", Name: "http_request_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "path", "status_code"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) SetChannels(n int) {
	if m != nil {
		m.Channels.Set(float64(n))
	}
}

func (m *Metrics) Event(kind string) {
	if m != nil {
		m.Events.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Delivery(result string, n int) {
	if m != nil && n > 0 {
		m.Deliveries.WithLabelValues(result).Add(float64(n))
	}
}

func (m *Metrics) Frame(event, status string) {
	if m != nil {
		m.Frames.WithLabelValues(event, status).Inc()
	}
}

func (m *Metrics) Forward(result string) {
	if m != nil {
		m.SearchForward.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Query(backend, status string, seconds float64) {
	if m != nil {
		m.SearchQueryDuration.WithLabelValues(backend, status).Observe(seconds)
	}
}

func (m *Metrics) HTTP(method, path, code string, seconds float64) {
	if m != nil {
		m.HTTPRequestDuration.WithLabelValues(method, path, code).Observe(seconds)
	}
}
