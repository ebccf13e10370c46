// 包 cache：报告读取的两级缓存（进程内 LRU → Redis JSON）；两级都关闭时直接读取
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"str-access/internal/logger"
	"str-access/internal/metrics"
)

type Cache struct {
	rc     *redis.Client
	local  *LRU
	ttl    time.Duration
	prefix string
}

// New：rc 为 nil 时关闭 Redis 层；localSize<=0 时关闭进程内层
func New(rc *redis.Client, ttl time.Duration, localSize int) *Cache {
	c := &Cache{rc: rc, ttl: ttl, prefix: "str:"}
	if localSize > 0 {
		c.local = NewLRU(localSize, ttl)
	}
	return c
}

func (c *Cache) Enabled() bool { return c != nil && (c.rc != nil || c.local != nil) }

func (c *Cache) get(ctx context.Context, k string) ([]byte, bool) {
	if c.local != nil {
		if b, ok := c.local.Get(k); ok {
			return b, true
		}
	}
	if c.rc == nil {
		return nil, false
	}
	b, err := c.rc.Get(ctx, k).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.L().Debug("cache_get_error", "key", k, "err", err)
		}
		return nil, false
	}
	if c.local != nil {
		c.local.Set(k, b)
	}
	return b, true
}

func (c *Cache) set(ctx context.Context, k string, b []byte) {
	if c.local != nil {
		c.local.Set(k, b)
	}
	if c.rc != nil {
		if err := c.rc.Set(ctx, k, b, c.ttl).Err(); err != nil {
			logger.L().Debug("cache_set_error", "key", k, "err", err)
		}
	}
}

// 文档注释：读穿缓存
// 背景：报告按运行编号不可变，命中后直接返回反序列化结果；未命中时调用 load 并以 JSON 写回两级缓存。
// 约束：Redis 读写失败只记录日志并按未命中处理，不影响接口返回；load 的错误原样返回且不写缓存。
func Fetch[T any](ctx context.Context, c *Cache, key string, load func(ctx context.Context) (T, error)) (T, error) {
	if !c.Enabled() {
		return load(ctx)
	}
	k := c.prefix + key
	if b, ok := c.get(ctx, k); ok {
		var v T
		err := json.Unmarshal(b, &v)
		if err == nil {
			metrics.CacheHitsTotal.Inc()
			return v, nil
		}
		logger.L().Debug("cache_decode_error", "key", k, "err", err)
	}
	metrics.CacheMissesTotal.Inc()
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if b, err := json.Marshal(v); err == nil {
		c.set(ctx, k, b)
	}
	return v, nil
}
