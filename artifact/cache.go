package artifact

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rushteam/pricekit/core"
)

// CachingLoader 缓存已加载的模型，key 为 run_id/family。
// 同一 key 的并发加载只会真正执行一次；加载失败不缓存，下次请求重新加载。
type CachingLoader struct {
	next   ModelLoader
	cache  *cache.Cache
	group  singleflight.Group
	logger *zap.Logger
}

// NewCachingLoader 创建带缓存的加载器，ttl <= 0 表示不过期
func NewCachingLoader(next ModelLoader, ttl time.Duration, logger *zap.Logger) *CachingLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	expiration := ttl
	cleanup := 2 * ttl
	if ttl <= 0 {
		expiration = cache.NoExpiration
		cleanup = 0
	}
	return &CachingLoader{
		next:   next,
		cache:  cache.New(expiration, cleanup),
		logger: logger,
	}
}

func cacheKey(run *core.RunRecord, family core.ModelFamily) string {
	return run.RunID + "/" + family.String()
}

func (c *CachingLoader) Load(ctx context.Context, run *core.RunRecord, family core.ModelFamily) (*LoadedModel, error) {
	if run == nil {
		return c.next.Load(ctx, run, family)
	}
	key := cacheKey(run, family)
	if v, ok := c.cache.Get(key); ok {
		c.logger.Debug("model cache hit", zap.String("key", key))
		return v.(*LoadedModel), nil
	}

	// 共享加载不跟随单个调用方取消，由下游 Loader 的超时兜底；
	// 每个调用方只等待自己的 ctx
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if v, ok := c.cache.Get(key); ok {
			return v, nil
		}
		m, err := c.next.Load(loadCtx, run, family)
		if err != nil {
			return nil, err
		}
		c.cache.SetDefault(key, m)
		return m, nil
	})
	select {
	case <-ctx.Done():
		return nil, core.WrapDomainError(core.ModuleArtifact, core.ErrorCodeUnavailable,
			"wait for model "+key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("model load shared", zap.String("key", key))
		}
		return res.Val.(*LoadedModel), nil
	}
}

// Len 返回缓存条目数
func (c *CachingLoader) Len() int { return c.cache.ItemCount() }

// Purge 清空缓存
func (c *CachingLoader) Purge() { c.cache.Flush() }

var _ ModelLoader = (*CachingLoader)(nil)
