package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestQueue_FIFO(t *testing.T) {
	q := New("测试", 10)
	defer q.Stop()

	var (
		mu    sync.Mutex
		order []int
	)
	for i := 0; i < 5; i++ {
		i := i
		_, err := q.AddTask("task", func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}
	q.Join()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.True(t, q.GetQueueInfo().IsRunning)
	assert.Equal(t, 0, q.GetQueueInfo().PendingTasks)
}

func TestQueue_SingleWorker(t *testing.T) {
	q := New("测试", 10)
	defer q.Stop()

	var active, maxActive atomic.Int32
	for i := 0; i < 4; i++ {
		q.AddTask("task", func(ctx context.Context) error {
			n := active.Add(1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
			return nil
		})
	}
	q.Join()
	assert.Equal(t, int32(1), maxActive.Load(), "任务不应并发执行")
}

func TestQueue_TaskFailureAndPanic(t *testing.T) {
	q := New("测试", 10)
	defer q.Stop()

	failed, _ := q.AddTask("失败", func(ctx context.Context) error { return errors.New("boom") })
	panicked, _ := q.AddTask("异常", func(ctx context.Context) error { panic("boom") })
	ok, _ := q.AddTask("正常", func(ctx context.Context) error { return nil })
	q.Join()

	assert.Equal(t, models.TaskStatusFailed, failed.Status)
	assert.Equal(t, models.TaskStatusFailed, panicked.Status)
	assert.Equal(t, models.TaskStatusCompleted, ok.Status, "前面的任务失败不影响后续任务")
}

func TestQueue_ClearQueue(t *testing.T) {
	q := New("测试", 10)
	defer q.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	q.AddTask("阻塞", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		q.AddTask("待执行", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	}
	assert.Equal(t, 3, q.GetQueueInfo().PendingTasks)

	assert.Equal(t, 3, q.ClearQueue())
	close(release)
	q.Join()
	assert.Equal(t, int32(0), ran.Load())
}

func TestQueue_Full(t *testing.T) {
	q := New("测试", 1)
	defer q.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	q.AddTask("阻塞", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	_, err := q.AddTask("a", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	_, err = q.AddTask("b", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	q.Join()
}

func TestQueue_StopCancelsRunningTask(t *testing.T) {
	q := New("测试", 10)

	started := make(chan struct{})
	var cancelled atomic.Bool
	q.AddTask("长任务", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	<-started

	q.Stop()
	assert.True(t, cancelled.Load())
	assert.False(t, q.GetQueueInfo().IsRunning)

	// 停止后再添加会重新启动
	done := make(chan struct{})
	q.AddTask("重启", func(ctx context.Context) error {
		close(done)
		return nil
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("队列未重新启动")
	}
	q.DeleteQueue()
	assert.False(t, q.GetQueueInfo().IsRunning)
}

func TestScheduler(t *testing.T) {
	q := New("调度", 100)
	defer q.Stop()
	s := NewScheduler(q)

	var runs atomic.Int32
	s.Schedule("feed-1", 20*time.Millisecond, true, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	assert.Equal(t, []string{"feed-1"}, s.Scheduled())

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	s.Unschedule("feed-1")
	assert.Empty(t, s.Scheduled())

	s.Schedule("feed-2", 0, true, func(ctx context.Context) error { return nil })
	assert.Empty(t, s.Scheduled(), "无效间隔不调度")

	s.Stop()
	q.Join()
	after := runs.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "停止后不再投递")
}
