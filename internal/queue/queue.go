package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/utils"
)

const (
	// DefaultCapacity 队列容量
	DefaultCapacity = 1000
	dequeueTimeout  = time.Second
)

// ErrQueueFull 队列已满
var ErrQueueFull = errors.New("任务队列已满")

// Queue 单worker的FIFO任务队列,首次AddTask时启动worker
type Queue struct {
	tag     string
	pending chan *models.GatherTask

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	worker  sync.WaitGroup

	// 未执行完的任务数,供Join等待
	inflight sync.WaitGroup
}

// New 创建任务队列
func New(tag string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		tag:     tag,
		pending: make(chan *models.GatherTask, capacity),
	}
}

// AddTask 添加任务,worker未运行时自动启动
func (q *Queue) AddTask(name string, fn func(ctx context.Context) error) (*models.GatherTask, error) {
	task := models.NewGatherTask(name, fn)

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		q.startLocked()
	}

	q.inflight.Add(1)
	select {
	case q.pending <- task:
	default:
		q.inflight.Done()
		return nil, fmt.Errorf("%w: %s", ErrQueueFull, q.tag)
	}
	utils.Infof("%s队列任务添加成功: %s", q.tag, name)
	return task, nil
}

func (q *Queue) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	q.running = true
	q.stopCh = make(chan struct{})
	q.cancel = cancel
	q.worker.Add(1)
	go q.run(ctx, q.stopCh)
	utils.Debugf("%s队列任务后台运行", q.tag)
}

func (q *Queue) run(ctx context.Context, stop <-chan struct{}) {
	defer q.worker.Done()
	timer := time.NewTimer(dequeueTimeout)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(dequeueTimeout)

		select {
		case <-stop:
			return
		case task := <-q.pending:
			q.execute(ctx, task)
		case <-timer.C:
		}
	}
}

func (q *Queue) execute(ctx context.Context, task *models.GatherTask) {
	defer q.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			task.Status = models.TaskStatusFailed
			utils.Errorf("队列任务执行异常 [%s]: %v", task.Name, r)
		}
	}()

	task.Status = models.TaskStatusRunning
	start := time.Now()
	if err := task.Fn(ctx); err != nil {
		task.Status = models.TaskStatusFailed
		utils.Errorf("队列任务执行失败 [%s]: %v", task.Name, err)
		return
	}
	task.Status = models.TaskStatusCompleted
	utils.Infof("任务执行完成 [%s], 耗时: %.2f秒", task.Name, time.Since(start).Seconds())
}

// GetQueueInfo 当前队列状态
func (q *Queue) GetQueueInfo() models.QueueInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	return models.QueueInfo{IsRunning: q.running, PendingTasks: len(q.pending)}
}

// ClearQueue 丢弃所有待执行任务,正在执行的任务不受影响
func (q *Queue) ClearQueue() int {
	n := 0
	for {
		select {
		case <-q.pending:
			q.inflight.Done()
			n++
		default:
			if n > 0 {
				utils.Infof("%s队列已清空, 丢弃%d个任务", q.tag, n)
			}
			return n
		}
	}
}

// Stop 停止worker并等待其退出,正在执行的任务收到取消信号
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopCh)
	q.cancel()
	q.mu.Unlock()

	q.worker.Wait()
}

// DeleteQueue 停止并清空
func (q *Queue) DeleteQueue() {
	q.Stop()
	q.ClearQueue()
	utils.Infof("%s队列已删除", q.tag)
}

// Join 阻塞到所有已添加的任务执行完或被清除
func (q *Queue) Join() {
	q.inflight.Wait()
}
