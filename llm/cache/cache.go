package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/internal/metrics"
)

// ComputeFunc 计算缓存未命中时的值。
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Entry 缓存条目。条目不可变，过期由存储层淘汰。
type Entry struct {
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	TTL       time.Duration   `json:"ttl"`
}

// Config 缓存层配置。
type Config struct {
	// DefaultTTL 条目的默认存活时间
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{DefaultTTL: 1 * time.Hour}
}

// inflightCall 一次进行中的计算。done 关闭后 value/err 只读。
type inflightCall struct {
	done  chan struct{}
	value []byte
	err   error
}

// Cache 内容寻址缓存层，提供 get-or-compute 语义与并发合并：
// 同一键同一时刻至多一次底层计算，后到的调用者等待进行中的计算
// 并共享其结果（或传播同一个错误）。这是对昂贵外部提供者调用
// 次数的核心约束。
type Cache struct {
	store     Store
	config    *Config
	logger    *zap.Logger
	collector *metrics.Collector

	// mu 只保护 inflight 表的短暂状态迁移（认领键），
	// 绝不跨外部计算持有。
	mu       sync.Mutex
	inflight map[string]*inflightCall
}

// NewCache 创建缓存层。
func NewCache(store Store, config *Config, logger *zap.Logger) *Cache {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:    store,
		config:   config,
		logger:   logger.With(zap.String("component", "cache")),
		inflight: make(map[string]*inflightCall),
	}
}

// WithCollector 挂接指标收集器。
func (c *Cache) WithCollector(collector *metrics.Collector) *Cache {
	c.collector = collector
	return c
}

// Options 控制单次 GetOrCompute 行为。
type Options struct {
	// TTL 覆盖默认 TTL（0 表示使用默认值）
	TTL time.Duration
	// Bypass 完全跳过缓存：不读、不写、不参与合并
	Bypass bool
}

// Option 单次调用选项。
type Option func(*Options)

// WithTTL 覆盖本次计算结果的 TTL。
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) { o.TTL = ttl }
}

// WithBypass 本次调用完全绕过缓存。
func WithBypass() Option {
	return func(o *Options) { o.Bypass = true }
}

// GetOrCompute 返回 key 对应的缓存值；未命中时调用 compute 计算并写入。
//
// 行为契约：
//   - 存在未过期条目时直接返回，不调用 compute；
//   - 无条目且无进行中计算时，恰好调用一次 compute；
//   - 已有同键计算进行中时，等待该计算并共享其结果或错误；
//   - 计算失败时立即淘汰该键，后续调用可以重试；
//   - 等待方的 ctx 取消只影响自身，不中断进行中的计算。
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc, opts ...Option) ([]byte, error) {
	options := &Options{TTL: c.config.DefaultTTL}
	for _, opt := range opts {
		opt(options)
	}
	if options.TTL <= 0 {
		options.TTL = c.config.DefaultTTL
	}

	if options.Bypass {
		return compute(ctx)
	}

	// 1. 查存储
	if value, ok := c.lookup(ctx, key); ok {
		c.collector.CacheHit()
		c.logger.Debug("cache hit", zap.String("key", key))
		return value, nil
	}
	c.collector.CacheMiss()

	// 2. 认领或加入进行中的计算
	c.mu.Lock()
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		c.collector.CacheCoalesced()
		c.logger.Debug("coalescing onto in-flight computation", zap.String("key", key))

		select {
		case <-call.done:
			return call.value, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	call := &inflightCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	// 3. 计算（不持锁）
	call.value, call.err = compute(ctx)

	if call.err == nil {
		c.put(ctx, key, call.value, options.TTL)
	} else {
		// 失败即淘汰，让后续调用重试
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("evict after failed compute", zap.String("key", key), zap.Error(err))
		}
	}

	// 4. 释放键并唤醒等待方
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	close(call.done)

	return call.value, call.err
}

// Invalidate 显式失效一个键。
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// lookup 读取并解包一个未过期条目。
func (c *Cache) lookup(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !IsCacheMiss(err) {
			c.logger.Warn("cache lookup error", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("corrupt cache entry, evicting", zap.String("key", key), zap.Error(err))
		_ = c.store.Delete(ctx, key)
		return nil, false
	}

	// 存储层负责过期淘汰，这里兜底校验一次
	if entry.TTL > 0 && time.Now().After(entry.CreatedAt.Add(entry.TTL)) {
		_ = c.store.Delete(ctx, key)
		return nil, false
	}

	return entry.Value, true
}

// put 打包并写入条目。写失败降级为未缓存，不影响本次结果。
func (c *Cache) put(ctx context.Context, key string, value []byte, ttl time.Duration) {
	entry := Entry{
		Value:     value,
		CreatedAt: time.Now(),
		TTL:       ttl,
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		c.logger.Warn("marshal cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		c.logger.Warn("cache set error", zap.String("key", key), zap.Error(err))
	}
}
