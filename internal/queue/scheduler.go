package queue

import (
	"context"
	"sync"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/utils"
)

// Scheduler 按固定间隔把任务投递到队列
type Scheduler struct {
	queue *Queue

	mu      sync.Mutex
	entries map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler 创建调度器
func NewScheduler(q *Queue) *Scheduler {
	return &Scheduler{queue: q, entries: make(map[string]context.CancelFunc)}
}

// Schedule 每隔interval投递一次任务,runNow为true时立即投递一次
// 同名任务会替换已有的调度
func (s *Scheduler) Schedule(name string, interval time.Duration, runNow bool, fn func(ctx context.Context) error) {
	if interval <= 0 {
		utils.Warnf("调度间隔无效, 跳过: %s", name)
		return
	}

	s.mu.Lock()
	if cancel, ok := s.entries[name]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.entries[name] = cancel
	s.mu.Unlock()

	if runNow {
		s.enqueue(name, fn)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.enqueue(name, fn)
			}
		}
	}()
	utils.Infof("已调度任务 %s, 间隔 %s", name, interval)
}

func (s *Scheduler) enqueue(name string, fn func(ctx context.Context) error) {
	if _, err := s.queue.AddTask(name, fn); err != nil {
		utils.Warnf("投递任务失败 [%s]: %v", name, err)
	}
}

// Unschedule 取消单个调度
func (s *Scheduler) Unschedule(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.entries[name]; ok {
		cancel()
		delete(s.entries, name)
	}
}

// Scheduled 当前调度的任务名
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Stop 取消全部调度并等待调度协程退出
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for name, cancel := range s.entries {
		cancel()
		delete(s.entries, name)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
