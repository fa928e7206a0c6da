package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceGuardConfig 资源检查配置
type ResourceGuardConfig struct {
	SafetyReserveMB int     // 启动浏览器所需的最小可用内存(MB)
	CPUThreshold    float64 // CPU使用率阈值(%),>=200 视为关闭
}

// ResourceGuard 启动浏览器前检查系统资源
type ResourceGuard struct {
	config ResourceGuardConfig

	mu           sync.RWMutex
	lastCPUUsage float64
	cancelFunc   context.CancelFunc
	// 登录与文章两个控制器共用一个guard,按引用计数启停采样
	users int

	availableMB func() (int64, error)
	cpuUsage    func() float64
}

// NewResourceGuard 创建资源检查器
func NewResourceGuard(config ResourceGuardConfig) *ResourceGuard {
	return &ResourceGuard{
		config:      config,
		availableMB: availableMemoryMB,
		cpuUsage:    sampleCPUUsage,
	}
}

func availableMemoryMB() (int64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return int64(vm.Available / (1024 * 1024)), nil
}

func sampleCPUUsage() float64 {
	percentages, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(percentages) == 0 {
		log.Warn().Err(err).Msg("获取CPU使用率失败")
		return 0
	}
	return percentages[0]
}

// StartMonitoring 后台周期采样CPU使用率,每次调用需对应一次StopMonitoring
func (g *ResourceGuard) StartMonitoring(interval time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.users++
	if g.cancelFunc != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancelFunc = cancel
	go g.monitoringLoop(ctx, interval)
}

func (g *ResourceGuard) monitoringLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			usage := g.cpuUsage()
			g.mu.Lock()
			g.lastCPUUsage = usage
			g.mu.Unlock()
		}
	}
}

// StopMonitoring 释放一次引用,最后一个使用者退出时停止采样
func (g *ResourceGuard) StopMonitoring() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.users > 0 {
		g.users--
	}
	if g.users == 0 && g.cancelFunc != nil {
		g.cancelFunc()
		g.cancelFunc = nil
	}
}

// Monitoring 是否正在采样
func (g *ResourceGuard) Monitoring() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cancelFunc != nil
}

// Check 资源不足时返回错误
func (g *ResourceGuard) Check() error {
	if g.config.SafetyReserveMB > 0 {
		avail, err := g.availableMB()
		if err != nil {
			log.Warn().Err(err).Msg("获取系统内存失败, 跳过内存检查")
		} else if avail < int64(g.config.SafetyReserveMB) {
			log.Warn().Msgf("可用内存不足(当前%dMB), 拒绝启动浏览器", avail)
			return fmt.Errorf("%w: 可用内存%dMB, 需要至少%dMB", ErrResourceExhausted, avail, g.config.SafetyReserveMB)
		}
	}

	if g.config.CPUThreshold > 0 && g.config.CPUThreshold < 200 {
		g.mu.RLock()
		usage := g.lastCPUUsage
		g.mu.RUnlock()
		if usage > g.config.CPUThreshold {
			return fmt.Errorf("%w: CPU负载过高(当前%.1f%%)", ErrResourceExhausted, usage)
		}
	}
	return nil
}
