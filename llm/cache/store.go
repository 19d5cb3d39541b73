package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheMiss 缓存未命中错误。
var ErrCacheMiss = errors.New("cache miss")

// IsCacheMiss 判断是否为缓存未命中错误。
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Store 键值缓存适配接口。条目不可变：过期即淘汰，不原地更新。
type Store interface {
	// Get 获取缓存值，不存在或已过期时返回 ErrCacheMiss
	Get(ctx context.Context, key string) ([]byte, error)

	// Set 设置缓存值及其 TTL（ttl <= 0 表示不过期）
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete 删除缓存值
	Delete(ctx context.Context, key string) error
}

// ============================================================
// 内存 LRU 存储（双向链表实现 O(1) 操作）
// ============================================================

// MemoryStore 进程内 LRU 存储，用于测试和单机部署。
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*lruNode
	head     *lruNode // 最近使用
	tail     *lruNode // 最久未使用
}

type lruNode struct {
	key       string
	value     []byte
	expiresAt time.Time // 零值表示不过期
	prev      *lruNode
	next      *lruNode
}

// NewMemoryStore 创建内存 LRU 存储。
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryStore{
		capacity: capacity,
		items:    make(map[string]*lruNode),
	}
}

// Get 实现 Store.Get。
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}

	// 过期即淘汰
	if !node.expiresAt.IsZero() && time.Now().After(node.expiresAt) {
		s.removeNode(node)
		delete(s.items, key)
		return nil, ErrCacheMiss
	}

	s.moveToHead(node)
	return node.value, nil
}

// Set 实现 Store.Set。
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	if node, ok := s.items[key]; ok {
		node.value = value
		node.expiresAt = expiresAt
		s.moveToHead(node)
		return nil
	}

	if len(s.items) >= s.capacity {
		s.evictTail()
	}

	node := &lruNode{key: key, value: value, expiresAt: expiresAt}
	s.items[key] = node
	s.addToHead(node)
	return nil
}

// Delete 实现 Store.Delete。
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if node, ok := s.items[key]; ok {
		s.removeNode(node)
		delete(s.items, key)
	}
	return nil
}

// Len 返回当前条目数。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *MemoryStore) addToHead(node *lruNode) {
	node.prev = nil
	node.next = s.head
	if s.head != nil {
		s.head.prev = node
	}
	s.head = node
	if s.tail == nil {
		s.tail = node
	}
}

func (s *MemoryStore) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		s.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		s.tail = node.prev
	}
}

func (s *MemoryStore) moveToHead(node *lruNode) {
	if node == s.head {
		return
	}
	s.removeNode(node)
	s.addToHead(node)
}

func (s *MemoryStore) evictTail() {
	if s.tail == nil {
		return
	}
	delete(s.items, s.tail.key)
	s.removeNode(s.tail)
}

// ============================================================
// Redis 存储
// ============================================================

// RedisStore 基于 Redis 的共享存储，多实例部署时共享缓存条目。
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore 创建 Redis 存储。
func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		prefix: "ragflow:cache:",
		logger: logger.With(zap.String("component", "redis_store")),
	}
}

// Get 实现 Store.Get。
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		s.logger.Warn("redis get error", zap.String("key", key), zap.Error(err))
		return nil, err
	}
	return data, nil
}

// Set 实现 Store.Set。
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		s.logger.Warn("redis set error", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// Delete 实现 Store.Delete。
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
