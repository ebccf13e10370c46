package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StageDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "str_stage_duration_ms",
		Help:    "Analysis stage duration in milliseconds",
		Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000, 300000},
	}, []string{"stage"})
	PointsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "str_points_processed_total",
		Help: "Grid points processed by stage",
	}, []string{"stage"})
	PointsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "str_points_dropped_total",
		Help: "Grid points dropped by spatial join layer",
	}, []string{"layer"})
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "str_runs_total",
		Help: "Analysis runs by outcome",
	}, []string{"status"})
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "str_api_requests_total",
		Help: "Total API requests by route",
	}, []string{"route"})
	RequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "str_api_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"route"})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "str_cache_hits_total",
		Help: "Total report cache hits",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "str_cache_misses_total",
		Help: "Total report cache misses",
	})
)

func init() {
	prometheus.MustRegister(StageDurationMs)
	prometheus.MustRegister(PointsProcessedTotal)
	prometheus.MustRegister(PointsDroppedTotal)
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
}

// ObserveStage：记录一个分析阶段的耗时与处理点数
func ObserveStage(stage string, start time.Time, points int) {
	StageDurationMs.WithLabelValues(stage).Observe(float64(time.Since(start).Milliseconds()))
	if points > 0 {
		PointsProcessedTotal.WithLabelValues(stage).Add(float64(points))
	}
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标，供 Prometheus 抓取；在主入口挂载到 API 前缀下的 /metrics。
func Handler() http.Handler { return promhttp.Handler() }
