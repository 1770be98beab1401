// Package inference 编排一次房价预测：查找 run、加载模型、绑定特征、推理、读取指标。
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rushteam/pricekit/artifact"
	"github.com/rushteam/pricekit/core"
	"github.com/rushteam/pricekit/feature"
)

// 默认展示的 run 指标
const (
	MetricTestR2   = "test_r2"
	MetricCVR2Mean = "cv_r2_mean"
)

// DefaultMetricKeys 是默认读取的指标，顺序即展示顺序
var DefaultMetricKeys = []string{MetricTestR2, MetricCVR2Mean}

const tracerName = "github.com/rushteam/pricekit/inference"

// Service 是推理服务。Predict 的所有失败都以 Outcome.Failure 返回，不会 panic，也不会返回裸错误。
type Service struct {
	registry   core.RunRegistry
	loader     artifact.ModelLoader
	binder     *feature.Binder
	metricKeys []string
	logger     *zap.Logger
	tracer     trace.Tracer
	metrics    *Metrics
}

// Option Service 配置选项
type Option func(*Service)

// WithBinder 设置特征绑定器
func WithBinder(b *feature.Binder) Option {
	return func(s *Service) {
		if b != nil {
			s.binder = b
		}
	}
}

// WithMetricKeys 设置要读取的 run 指标
func WithMetricKeys(keys ...string) Option {
	return func(s *Service) {
		if len(keys) > 0 {
			s.metricKeys = keys
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer 设置 tracer，默认使用全局 TracerProvider
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithMetrics 设置 prometheus 指标
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(registry core.RunRegistry, loader artifact.ModelLoader, opts ...Option) *Service {
	s := &Service{
		registry:   registry,
		loader:     loader,
		binder:     feature.NewBinder(nil),
		metricKeys: DefaultMetricKeys,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schema 返回特征 schema
func (s *Service) Schema() *feature.Schema { return s.binder.Schema() }

// PredictByName 解析模型族名称后预测，未知名称返回 InvalidInput
func (s *Service) PredictByName(ctx context.Context, name string, raw map[string]any) *core.Outcome {
	family, err := core.ParseModelFamily(name)
	if err != nil {
		return core.Fail(core.FailureInvalidInput, err.Error(), err)
	}
	return s.Predict(ctx, family, raw)
}

// Predict 对 family 最近的 run 执行一次预测。
//
// 步骤：
//  1. LatestRun：找不到 run → NoRunsFound（不会加载任何 artifact）
//  2. Load：artifact 缺失或损坏 → ModelLoadError
//  3. Bind：特征校验失败 → InvalidInput
//  4. Predict：模型执行失败 → InferenceError
//  5. 读取 run 指标，缺失的标记为 not available
func (s *Service) Predict(ctx context.Context, family core.ModelFamily, raw map[string]any) (outcome *core.Outcome) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "inference.Predict",
		trace.WithAttributes(attribute.String("pricekit.family", family.String())))
	defer func() {
		if r := recover(); r != nil {
			outcome = core.Fail(core.FailureInferenceError, "Prediction failed: internal error", fmt.Errorf("panic: %v", r))
			s.logger.Error("predict panicked", zap.String("family", family.String()), zap.Any("panic", r))
		}
		if outcome.Succeeded() {
			span.SetAttributes(attribute.String("pricekit.run_id", outcome.Prediction.RunID))
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetAttributes(attribute.String("pricekit.failure", string(outcome.Kind())))
			span.SetStatus(codes.Error, outcome.Failure.Message)
			if outcome.Failure.Cause != nil {
				span.RecordError(outcome.Failure.Cause)
			}
		}
		span.End()
		s.metrics.observe(family, outcome, time.Since(start))
	}()

	if !family.Valid() {
		err := fmt.Errorf("unknown model family %q (supported: %v)", family, core.Families())
		return core.Fail(core.FailureInvalidInput, err.Error(), err)
	}

	run, err := s.registry.LatestRun(ctx, family)
	if err != nil {
		return s.lookupFailure(family, err)
	}
	log := s.logger.With(zap.String("family", family.String()), zap.String("run_id", run.RunID))
	log.Debug("resolved latest run", zap.Time("start_time", run.StartTime))

	model, err := s.loader.Load(ctx, run, family)
	if err != nil {
		log.Info("model load failed", zap.Error(err))
		return core.Fail(core.FailureModelLoadError,
			fmt.Sprintf("Failed to load %s model from run %s: %s", family, run.RunID, err), err)
	}

	rec, err := s.binder.Bind(raw)
	if err != nil {
		return invalidInput(err)
	}

	value, err := model.Predict(ctx, rec)
	if err != nil {
		log.Error("inference failed", zap.Error(err))
		return core.Fail(core.FailureInferenceError, "Prediction failed: "+err.Error(), err)
	}

	return core.Succeed(&core.Prediction{
		Family:  family,
		RunID:   run.RunID,
		Value:   value,
		Metrics: s.runMetrics(ctx, run, log),
	})
}

func (s *Service) lookupFailure(family core.ModelFamily, err error) *core.Outcome {
	log := s.logger.With(zap.String("family", family.String()))
	switch {
	case core.IsNotFound(err):
		log.Info("no runs found", zap.Error(err))
		return core.Fail(core.FailureNoRunsFound, fmt.Sprintf("No runs found for model type %s", family), err)
	case core.IsConfiguration(err):
		log.Error("registry misconfigured", zap.Error(err))
		return core.Fail(core.FailureConfiguration, "Configuration error: "+err.Error(), err)
	case core.IsInvalidInput(err):
		return core.Fail(core.FailureInvalidInput, err.Error(), err)
	default:
		log.Error("tracking backend unavailable", zap.Error(err))
		return core.Fail(core.FailureBackendUnavailable, "Tracking backend unavailable: "+err.Error(), err)
	}
}

func invalidInput(err error) *core.Outcome {
	var verr *feature.ValidationError
	if errors.As(err, &verr) {
		out := core.Fail(core.FailureInvalidInput, fmt.Sprintf("Invalid input for %s: %s", verr.Feature, verr.Reason), err)
		out.Failure.Feature = verr.Feature
		return out
	}
	return core.Fail(core.FailureInvalidInput, "Invalid input: "+err.Error(), err)
}

// runMetrics 优先读取最新的 run 指标，读取失败时退回 LatestRun 返回的指标
func (s *Service) runMetrics(ctx context.Context, run *core.RunRecord, log *zap.Logger) core.Metrics {
	source := run
	fresh, err := s.registry.GetRun(ctx, run.RunID)
	if err != nil {
		log.Warn("metrics refresh failed, using searched run", zap.Error(err))
	} else if fresh != nil {
		source = fresh
	}

	out := make(core.Metrics, 0, len(s.metricKeys))
	for _, key := range s.metricKeys {
		v, ok := source.Metric(key)
		out = append(out, core.MetricValue{Name: key, Value: v, Available: ok})
	}
	return out
}
