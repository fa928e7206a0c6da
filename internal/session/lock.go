package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/utils"
	"github.com/shirou/gopsutil/v3/process"
)

// DefaultLockTTL 锁文件有效期
const DefaultLockTTL = 10 * time.Minute

// Locker 跨进程登录锁
type Locker interface {
	// TryAcquire 非阻塞获取锁
	TryAcquire() bool
	// IsLocked 锁是否被有效持有,顺带清理失效的锁
	IsLocked() bool
	// Release 释放自己持有的锁
	Release() bool
	// Snapshot 锁内容(日志用)
	Snapshot() string
}

// FileLock 基于 data/.lock 的文件锁
// 文件内容为 "<pid>,<unix秒>"
type FileLock struct {
	path string
	ttl  time.Duration

	mu sync.Mutex
	// 本实例成功获取锁时记录的PID,未持有时为0
	ownerPID int

	now      func() time.Time
	pidAlive func(pid int) bool
}

// NewFileLock 创建文件锁,ttl<=0 时使用默认10分钟
func NewFileLock(path string, ttl time.Duration) *FileLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &FileLock{
		path:     path,
		ttl:      ttl,
		now:      time.Now,
		pidAlive: pidExists,
	}
}

func pidExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return ok
}

// TryAcquire 原子创建锁文件
func (l *FileLock) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// 先清理过期或进程已退出的锁
	if l.isLocked() {
		return false
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		utils.Warnf("创建锁目录失败: %v", err)
		return false
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if !errors.Is(err, os.ErrExist) {
			utils.Warnf("创建锁文件失败: %v", err)
		}
		return false
	}
	defer f.Close()

	pid := os.Getpid()
	if _, err := fmt.Fprintf(f, "%d,%d", pid, l.now().Unix()); err != nil {
		utils.Warnf("写入锁文件失败: %v", err)
		_ = os.Remove(l.path)
		return false
	}
	l.ownerPID = pid
	return true
}

// IsLocked 锁文件存在、未过期且持有进程存活时返回true
func (l *FileLock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isLocked()
}

func (l *FileLock) isLocked() bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return false
	}

	pid, ts, err := parseLockRecord(string(data))
	if err != nil || l.now().Sub(time.Unix(ts, 0)) > l.ttl {
		utils.Debugf("清理过期锁文件: %s", strings.TrimSpace(string(data)))
		_ = os.Remove(l.path)
		return false
	}

	if !l.pidAlive(pid) {
		utils.Debugf("锁持有进程已退出, 清理锁文件: pid=%d", pid)
		_ = os.Remove(l.path)
		return false
	}
	return true
}

// Release 仅删除本实例获取的锁
func (l *FileLock) Release() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true
		}
		utils.Warnf("读取锁文件失败: %v", err)
		return false
	}

	if l.ownerPID == 0 {
		utils.Warnf("本实例未持有锁, 跳过释放: %s", strings.TrimSpace(string(data)))
		return false
	}

	pidStr, _, _ := strings.Cut(strings.TrimSpace(string(data)), ",")
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return false
	}
	if pid != l.ownerPID {
		utils.Warnf("锁文件属于其他进程, 跳过释放: pid=%d owner=%d", pid, l.ownerPID)
		return false
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		utils.Warnf("删除锁文件失败: %v", err)
		return false
	}
	l.ownerPID = 0
	return true
}

// Snapshot 返回锁文件原始内容
func (l *FileLock) Snapshot() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func parseLockRecord(s string) (pid int, ts int64, err error) {
	pidStr, tsStr, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return 0, 0, fmt.Errorf("锁文件格式错误: %q", s)
	}
	pid, err = strconv.Atoi(pidStr)
	if err != nil {
		return 0, 0, fmt.Errorf("锁文件PID无效: %w", err)
	}
	// 第三段为redis锁的令牌,文件锁中不存在
	tsStr, _, _ = strings.Cut(tsStr, ",")
	ts, err = strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("锁文件时间戳无效: %w", err)
	}
	return pid, ts, nil
}
