package driver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/utils"
)

// DefaultRefreshInterval 会话保活间隔
const DefaultRefreshInterval = 24 * time.Hour

const probeTimeout = 30 * time.Second

// ErrSessionExpired 保活时发现会话已失效
var ErrSessionExpired = errors.New("登录已过期")

// RefreshManager 定时刷新后台页面保持会话
// 同一时间最多一个待触发的定时器
type RefreshManager struct {
	interval  time.Duration
	probe     func(ctx context.Context) (string, error) // 刷新页面并返回当前URL
	loggedIn  func() bool
	onExpired func()
	onSuccess func()

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64 // Stop 后旧定时器的回调不再续期
}

// NewRefreshManager 创建保活管理器
func NewRefreshManager(interval time.Duration, probe func(ctx context.Context) (string, error),
	loggedIn func() bool, onExpired, onSuccess func()) *RefreshManager {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &RefreshManager{
		interval:  interval,
		probe:     probe,
		loggedIn:  loggedIn,
		onExpired: onExpired,
		onSuccess: onSuccess,
	}
}

// Start 立即探测一次,成功后按间隔定时探测
func (r *RefreshManager) Start() {
	if !r.loggedIn() {
		utils.Debug("未登录, 跳过会话保活")
		return
	}
	if err := r.tick(); err != nil {
		utils.Warnf("会话保活失败: %v", err)
		return
	}
	r.schedule()
}

func (r *RefreshManager) schedule() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armLocked()
}

func (r *RefreshManager) armLocked() {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.gen++
	gen := r.gen
	r.timer = time.AfterFunc(r.interval, func() { r.onTimer(gen) })
}

func (r *RefreshManager) onTimer(gen uint64) {
	if err := r.tick(); err != nil {
		utils.Warnf("会话保活失败, 停止定时刷新: %v", err)
		r.Stop()
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen == gen {
		r.armLocked()
	}
}

// tick 单次探测
func (r *RefreshManager) tick() error {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	url, err := r.probe(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(url, "home") {
		r.onExpired()
		return ErrSessionExpired
	}
	utils.Debugf("会话保活成功: %s", utils.RedactURL(url))
	if r.onSuccess != nil {
		r.onSuccess()
	}
	return nil
}

// Stop 取消定时器,可重复调用
func (r *RefreshManager) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Scheduled 是否有待触发的定时器
func (r *RefreshManager) Scheduled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}
