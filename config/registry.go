package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/rushteam/pricekit/core"
)

// TrackingBuilder 根据配置构建实验追踪后端
type TrackingBuilder func(ctx context.Context, cfg *Config, logger *zap.Logger) (core.TrackingBackend, error)

// StoreBuilder 根据配置构建 artifact 存储
type StoreBuilder func(ctx context.Context, cfg *Config, logger *zap.Logger) (core.Store, error)

var (
	buildersMu       sync.RWMutex
	trackingBuilders = make(map[string]TrackingBuilder)
	storeBuilders    = make(map[string]StoreBuilder)
)

// RegisterTrackingBackend 注册一种追踪后端，建议在 init 中调用，
// 例如：func init() { config.RegisterTrackingBackend("mlflow", BuildMLflow) }
func RegisterTrackingBackend(name string, builder TrackingBuilder) {
	if name == "" || builder == nil {
		return
	}
	buildersMu.Lock()
	defer buildersMu.Unlock()
	trackingBuilders[name] = builder
}

// RegisterArtifactStore 注册一种 artifact 存储
func RegisterArtifactStore(name string, builder StoreBuilder) {
	if name == "" || builder == nil {
		return
	}
	buildersMu.Lock()
	defer buildersMu.Unlock()
	storeBuilders[name] = builder
}

// SupportedTrackingBackends 返回已注册的追踪后端（排序），用于错误提示与校验
func SupportedTrackingBackends() []string {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	return sortedKeys(trackingBuilders)
}

// SupportedArtifactStores 返回已注册的 artifact 存储（排序）
func SupportedArtifactStores() []string {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	return sortedKeys(storeBuilders)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildTracking 按 tracking.backend 构建追踪后端
func BuildTracking(ctx context.Context, cfg *Config, logger *zap.Logger) (core.TrackingBackend, error) {
	buildersMu.RLock()
	builder, ok := trackingBuilders[cfg.Tracking.Backend]
	buildersMu.RUnlock()
	if !ok {
		return nil, core.NewDomainError(core.ModuleRegistry, core.ErrorCodeConfiguration,
			fmt.Sprintf("unsupported tracking backend %q (supported: %v)", cfg.Tracking.Backend, SupportedTrackingBackends()))
	}
	return builder(ctx, cfg, logger)
}

// BuildArtifactStore 按 artifacts.backend 构建 artifact 存储
func BuildArtifactStore(ctx context.Context, cfg *Config, logger *zap.Logger) (core.Store, error) {
	buildersMu.RLock()
	builder, ok := storeBuilders[cfg.Artifacts.Backend]
	buildersMu.RUnlock()
	if !ok {
		return nil, core.NewDomainError(core.ModuleArtifact, core.ErrorCodeConfiguration,
			fmt.Sprintf("unsupported artifact store %q (supported: %v)", cfg.Artifacts.Backend, SupportedArtifactStores()))
	}
	return builder(ctx, cfg, logger)
}
