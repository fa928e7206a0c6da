package session

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestLock(t *testing.T) (*FileLock, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", ".lock")
	return NewFileLock(path, 10*time.Minute), path
}

func TestFileLock_AcquireRelease(t *testing.T) {
	lock, path := newTestLock(t)

	if !lock.TryAcquire() {
		t.Fatal("首次获取应成功")
	}
	if lock.TryAcquire() {
		t.Error("重复获取应失败")
	}
	if !lock.IsLocked() {
		t.Error("应处于加锁状态")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	pid, _, err := parseLockRecord(string(data))
	if err != nil || pid != os.Getpid() {
		t.Errorf("锁内容错误: %q", data)
	}

	if !lock.Release() {
		t.Error("释放应成功")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("释放后锁文件应被删除")
	}
	if !lock.Release() {
		t.Error("锁文件不存在时释放应返回true")
	}
}

func TestFileLock_ReleaseChecksOwner(t *testing.T) {
	lock, path := newTestLock(t)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}

	// 其他进程持有的锁
	other := os.Getpid() + 1
	record := fmt.Sprintf("%d,%d", other, time.Now().Unix())
	if err := os.WriteFile(path, []byte(record), 0644); err != nil {
		t.Fatal(err)
	}

	if lock.Release() {
		t.Error("非本进程持有的锁不应被释放")
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != record {
		t.Error("锁文件应保持原样")
	}

	if err := os.WriteFile(path, []byte("abc,123"), 0644); err != nil {
		t.Fatal(err)
	}
	if lock.Release() {
		t.Error("PID无法解析时应返回false")
	}
}

func TestFileLock_ReleaseRequiresAcquire(t *testing.T) {
	holder, path := newTestLock(t)
	if !holder.TryAcquire() {
		t.Fatal("首次获取应成功")
	}

	// 同进程内未获取过锁的另一个实例
	other := NewFileLock(path, 10*time.Minute)
	if other.Release() {
		t.Error("未获取锁的实例不应释放锁")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("锁文件应保留: %v", err)
	}

	if !holder.Release() {
		t.Fatal("持有者释放应成功")
	}
	if !other.TryAcquire() {
		t.Fatal("释放后其他实例应能获取")
	}
	if holder.Release() {
		t.Error("已释放的实例不应再释放他人的锁")
	}
	if !other.IsLocked() {
		t.Error("锁应仍被持有")
	}
}

func TestFileLock_TTLExpiryWithLivePID(t *testing.T) {
	lock, path := newTestLock(t)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}

	// 本进程存活,但时间戳已超过TTL
	stale := time.Now().Add(-11 * time.Minute).Unix()
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d,%d", os.Getpid(), stale)), 0644); err != nil {
		t.Fatal(err)
	}

	if lock.IsLocked() {
		t.Error("超过TTL的锁应视为未加锁")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("过期锁文件应被删除")
	}
}

func TestFileLock_DeadPID(t *testing.T) {
	lock, path := newTestLock(t)
	lock.pidAlive = func(int) bool { return false }
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d,%d", 99999, time.Now().Unix())), 0644); err != nil {
		t.Fatal(err)
	}

	if !lock.TryAcquire() {
		t.Error("持有进程已退出时应能自愈并获取锁")
	}
}

func TestFileLock_Unparsable(t *testing.T) {
	lock, path := newTestLock(t)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	if lock.IsLocked() {
		t.Error("格式错误的锁应被清理")
	}
	if lock.Snapshot() != "" {
		t.Error("清理后快照应为空")
	}
}

func TestParseLockRecord(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		pid     int
		ts      int64
		wantErr bool
	}{
		{"文件锁", "123,1700000000", 123, 1700000000, false},
		{"带换行", "123,1700000000\n", 123, 1700000000, false},
		{"redis锁", "123,1700000000,uuid", 123, 1700000000, false},
		{"缺少时间戳", "123", 0, 0, true},
		{"PID无效", "x,1", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pid, ts, err := parseLockRecord(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if !tt.wantErr && (pid != tt.pid || ts != tt.ts) {
				t.Errorf("got %d,%d", pid, ts)
			}
		})
	}
}
