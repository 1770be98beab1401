package inference

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rushteam/pricekit/core"
)

const (
	// outcomeSuccess 是成功推理的 outcome 标签值
	outcomeSuccess = "success"
	// familyUnknown 是非法模型族共用的 family 标签值
	familyUnknown = "unknown"
)

// Metrics 记录推理次数与耗时
type Metrics struct {
	predictionsTotal *prometheus.CounterVec
	predictDuration  *prometheus.HistogramVec
}

// NewMetrics 创建指标（未注册）
func NewMetrics() *Metrics {
	return &Metrics{
		predictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pricekit",
				Subsystem: "inference",
				Name:      "predictions_total",
				Help:      "Number of predictions by model family and outcome.",
			},
			[]string{"family", "outcome"},
		),
		predictDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pricekit",
				Subsystem: "inference",
				Name:      "predict_duration_seconds",
				Help:      "End-to-end prediction latency including run lookup and model loading.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"family"},
		),
	}
}

// Register 注册到 registerer；同名指标已注册时复用已有的 collector
func (m *Metrics) Register(registerer prometheus.Registerer) error {
	var already prometheus.AlreadyRegisteredError
	if err := registerer.Register(m.predictionsTotal); err != nil {
		if !errors.As(err, &already) {
			return err
		}
		m.predictionsTotal = already.ExistingCollector.(*prometheus.CounterVec)
	}
	if err := registerer.Register(m.predictDuration); err != nil {
		if !errors.As(err, &already) {
			return err
		}
		m.predictDuration = already.ExistingCollector.(*prometheus.HistogramVec)
	}
	return nil
}

func (m *Metrics) observe(family core.ModelFamily, outcome *core.Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := outcomeSuccess
	if !outcome.Succeeded() {
		label = string(outcome.Kind())
	}
	fl := familyUnknown
	if family.Valid() {
		fl = family.String()
	}
	m.predictionsTotal.WithLabelValues(fl, label).Inc()
	m.predictDuration.WithLabelValues(fl).Observe(elapsed.Seconds())
}
