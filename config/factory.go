package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rushteam/pricekit/artifact"
	"github.com/rushteam/pricekit/core"
	"github.com/rushteam/pricekit/feature"
	"github.com/rushteam/pricekit/inference"
	"github.com/rushteam/pricekit/registry"
)

// Runtime 是按配置组装好的推理服务及其依赖
type Runtime struct {
	Config   *Config
	Service  *inference.Service
	Registry *registry.Client
	Metrics  *inference.Metrics

	closers []func() error
}

// Close 释放追踪后端与 artifact 存储
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildOption BuildService 选项
type BuildOption func(*buildOptions)

type buildOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// WithBuildLogger 设置日志
func WithBuildLogger(logger *zap.Logger) BuildOption {
	return func(o *buildOptions) {
		o.logger = logger
	}
}

// WithRegisterer 把推理指标注册到 registerer
func WithRegisterer(r prometheus.Registerer) BuildOption {
	return func(o *buildOptions) {
		o.registerer = r
	}
}

// BuildService 按配置组装推理服务：tracking → artifacts → schema → loader（可选缓存）→ service
func BuildService(ctx context.Context, cfg *Config, opts ...BuildOption) (*Runtime, error) {
	o := &buildOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, core.WrapDomainError(core.ModuleInference, core.ErrorCodeConfiguration, "invalid config", err)
	}

	rt := &Runtime{Config: cfg}

	backend, err := BuildTracking(ctx, cfg, o.logger)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, backend.Close)

	artifacts, err := BuildArtifactStore(ctx, cfg, o.logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, artifacts.Close)

	schema, err := loadSchema(ctx, cfg.Schema.File, artifacts)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	rt.Registry = registry.NewClient(backend,
		registry.WithExperiment(cfg.Experiment.Name),
		registry.WithRunFilter(cfg.Tracking.RunFilter),
		registry.WithTimeout(cfg.Tracking.Timeout),
		registry.WithLogger(o.logger.Named("registry")))

	var loader artifact.ModelLoader = artifact.NewLoader(artifacts,
		artifact.WithSchema(schema),
		artifact.WithTimeout(cfg.Artifacts.Timeout),
		artifact.WithLogger(o.logger.Named("artifact")))
	if cfg.Artifacts.CacheTTL > 0 {
		loader = artifact.NewCachingLoader(loader, cfg.Artifacts.CacheTTL, o.logger.Named("artifact"))
	}

	rt.Metrics = inference.NewMetrics()
	if o.registerer != nil {
		if err := rt.Metrics.Register(o.registerer); err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	rt.Service = inference.NewService(rt.Registry, loader,
		inference.WithBinder(feature.NewBinder(schema)),
		inference.WithMetricKeys(cfg.Metrics.Keys...),
		inference.WithLogger(o.logger.Named("inference")),
		inference.WithMetrics(rt.Metrics))
	return rt, nil
}

// loadSchema 按 schema.file 加载特征 schema，为空时使用 DefaultSchema。
// "store:" 前缀从 artifact 存储读取，http(s) 走 HTTP，其余按本地文件处理。
func loadSchema(ctx context.Context, source string, artifacts core.Store) (*feature.Schema, error) {
	if source == "" {
		return feature.DefaultSchema(), nil
	}
	var loader feature.SchemaLoader
	if feature.IsStoreSource(source) {
		loader = feature.NewStoreSchemaLoader(artifacts)
	} else {
		loader = feature.LoaderFor(source, 10*time.Second)
	}
	schema, err := loader.Load(ctx, source)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleSchema, core.ErrorCodeConfiguration,
			fmt.Sprintf("load schema %s", source), err)
	}
	return schema, nil
}
