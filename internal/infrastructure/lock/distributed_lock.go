package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【为什么库存需要分布式锁？】
//
// 场景：两个买家同时购买同一个 SKU 的最后一件库存
//
// 如果没有分布式锁：
//   请求A: 查询可用=1 -> 预留1 -> reserved=1   OK
//   请求B: 查询可用=1 -> 预留1 -> reserved=2 > quantity 超卖了！
//
// 加了分布式锁（按 SKU 维度）：
//   请求A: 获取锁 -> 查询可用=1 -> 预留1 -> 释放锁
//   请求B: 等待... -> 获取锁 -> 查询可用=0 -> 库存不足，拒绝
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（持有者崩溃时锁自动失效，防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：使用 Lua 脚本保证"检查+删除"的原子性
//
// 【已知风险】TTL 是安全性与活性的折中：如果一个事务执行时间超过 TTL，
// 锁会在事务仍在运行时被其他持有者抢占。TTL 需要配置得远大于
// 单次库存事务的最坏耗时。
//
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁，value 使用随机 uuid 标识持有者
func NewDistributedLock(client *redis.Client, key string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      uuid.NewString(),
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
//
// 使用 SetNX 命令，只有当 key 不存在时才能设置成功，
// 保证同一时刻只有一个客户端能获取到锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（固定间隔、有限次数重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// 使用 Lua 脚本保证"检查+删除"操作的原子性。
// 检查 value 的原因：A 获取锁 -> A 执行超过 TTL，锁过期 -> B 获取锁
// -> A 执行完毕调用 Unlock。如果不检查 value，A 会把 B 的锁删掉。
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// 便捷函数：业务锁
// ============================================================================

// NewStockLock 创建库存锁（按 SKU 维度）
//
// 普通下单、取消、支付确认、秒杀订单落库全部复用这一个 keyspace，
// 保证两条下单路径不会在同一条库存行上竞争。
func NewStockLock(client *redis.Client, skuID int64, ttl time.Duration) *DistributedLock {
	key := fmt.Sprintf("lock:inventory:sku:%d", skuID)
	return NewDistributedLock(client, key, ttl)
}

// NewPreloadLock 创建秒杀预热锁（按活动维度），防止同一活动被并发预热
func NewPreloadLock(client *redis.Client, activityID int64, ttl time.Duration) *DistributedLock {
	key := fmt.Sprintf("lock:seckill:preload:%d", activityID)
	return NewDistributedLock(client, key, ttl)
}
