// Package builders 注册内置的追踪后端与 artifact 存储，
// 使用方式：import _ "github.com/rushteam/pricekit/config/builders"
package builders

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rushteam/pricekit/config"
	"github.com/rushteam/pricekit/core"
	"github.com/rushteam/pricekit/registry"
	"github.com/rushteam/pricekit/store"
)

func init() {
	config.RegisterTrackingBackend("memory", BuildMemoryTracking)
	config.RegisterTrackingBackend("redis", BuildRedisTracking)
	config.RegisterTrackingBackend(registry.DialectSQLite, BuildSQLTracking)
	config.RegisterTrackingBackend(registry.DialectPostgres, BuildSQLTracking)
	config.RegisterTrackingBackend("mlflow", BuildMLflowTracking)

	config.RegisterArtifactStore("file", BuildFileStore)
	config.RegisterArtifactStore("memory", BuildMemoryStore)
	config.RegisterArtifactStore("redis", BuildRedisStore)
}

func BuildMemoryTracking(ctx context.Context, cfg *config.Config, logger *zap.Logger) (core.TrackingBackend, error) {
	return registry.NewKVBackend(store.NewMemoryStore()), nil
}

func BuildRedisTracking(ctx context.Context, cfg *config.Config, logger *zap.Logger) (core.TrackingBackend, error) {
	s, err := newRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return registry.NewKVBackend(s), nil
}

// BuildSQLTracking 以只读方式打开 sqlite 文件，或连接 postgres
func BuildSQLTracking(ctx context.Context, cfg *config.Config, logger *zap.Logger) (core.TrackingBackend, error) {
	if cfg.Tracking.DSN == "" {
		return nil, core.NewDomainError(core.ModuleRegistry, core.ErrorCodeConfiguration,
			fmt.Sprintf("tracking.dsn is required for backend %q", cfg.Tracking.Backend))
	}
	db, err := registry.OpenSQL(ctx, cfg.Tracking.Backend, cfg.Tracking.DSN, true)
	if err != nil {
		return nil, err
	}
	logger.Debug("sql tracking store opened", zap.String("dialect", cfg.Tracking.Backend))
	return registry.NewSQLBackend(db, cfg.Tracking.Backend), nil
}

func BuildMLflowTracking(ctx context.Context, cfg *config.Config, logger *zap.Logger) (core.TrackingBackend, error) {
	if cfg.Tracking.URI == "" {
		return nil, core.NewDomainError(core.ModuleRegistry, core.ErrorCodeConfiguration,
			"tracking.uri is required for backend \"mlflow\"")
	}
	return registry.NewMLflowBackend(cfg.Tracking.URI, cfg.Tracking.Timeout), nil
}

func BuildFileStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (core.Store, error) {
	if cfg.Artifacts.Root == "" {
		return nil, core.NewDomainError(core.ModuleArtifact, core.ErrorCodeConfiguration,
			"artifacts.root is required for backend \"file\"")
	}
	return store.NewFileStore(cfg.Artifacts.Root), nil
}

func BuildMemoryStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (core.Store, error) {
	return store.NewMemoryStore(), nil
}

func BuildRedisStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (core.Store, error) {
	return newRedis(ctx, cfg)
}

func newRedis(ctx context.Context, cfg *config.Config) (*store.RedisStore, error) {
	return store.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.DB, store.WithKeyPrefix(cfg.Redis.KeyPrefix))
}
