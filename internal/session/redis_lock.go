package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/utils"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = 3 * time.Second

// 值匹配时才删除,避免误删其他实例续上的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock 多主机部署时使用的租约锁
// 过期由redis的PX控制,值为 "<pid>,<unix秒>,<uuid>"
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration

	value string
}

// NewRedisLock 创建redis锁
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl}
}

// NewRedisLockFromAddr 按地址创建客户端与锁
func NewRedisLockFromAddr(addr, key string, ttl time.Duration) (*RedisLock, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("连接redis失败 [%s]: %w", addr, err)
	}
	return NewRedisLock(rdb, key, ttl), nil
}

// TryAcquire SET NX PX
func (l *RedisLock) TryAcquire() bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	value := fmt.Sprintf("%d,%d,%s", os.Getpid(), time.Now().Unix(), uuid.New().String())
	ok, err := l.client.SetNX(ctx, l.key, value, l.ttl).Result()
	if err != nil {
		utils.Warnf("获取redis锁失败: %v", err)
		return false
	}
	if ok {
		l.value = value
	}
	return ok
}

// IsLocked 键存在即视为被持有
func (l *RedisLock) IsLocked() bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	n, err := l.client.Exists(ctx, l.key).Result()
	if err != nil {
		utils.Warnf("查询redis锁失败: %v", err)
		return false
	}
	return n > 0
}

// Release 比较令牌后删除
func (l *RedisLock) Release() bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	current, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return true
	}
	if err != nil {
		utils.Warnf("读取redis锁失败: %v", err)
		return false
	}
	if l.value == "" || current != l.value {
		return false
	}

	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		utils.Warnf("释放redis锁失败: %v", err)
		return false
	}
	if n == 1 {
		l.value = ""
	}
	return n == 1
}

// Snapshot 返回锁的当前值
func (l *RedisLock) Snapshot() string {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	v, err := l.client.Get(ctx, l.key).Result()
	if err != nil {
		return ""
	}
	return v
}

// Close 关闭redis连接
func (l *RedisLock) Close() error {
	return l.client.Close()
}
