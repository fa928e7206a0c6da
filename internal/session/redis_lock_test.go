package session

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// 需要本地redis: WXGATHER_TEST_REDIS=127.0.0.1:6379
func TestRedisLock(t *testing.T) {
	addr := os.Getenv("WXGATHER_TEST_REDIS")
	if addr == "" {
		t.Skip("未设置 WXGATHER_TEST_REDIS")
	}

	key := "wxgather:test:lock:" + uuid.New().String()
	a, err := NewRedisLockFromAddr(addr, key, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := NewRedisLockFromAddr(addr, key, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if !a.TryAcquire() {
		t.Fatal("首次获取应成功")
	}
	if b.TryAcquire() {
		t.Error("其他实例不应获取成功")
	}
	if !b.IsLocked() {
		t.Error("应处于加锁状态")
	}
	if b.Release() {
		t.Error("非持有者不应释放成功")
	}
	if !a.Release() {
		t.Error("持有者释放应成功")
	}
	if !b.Release() {
		t.Error("键不存在时释放应返回true")
	}
}
