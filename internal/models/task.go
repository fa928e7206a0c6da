package models

import (
	"context"
	"encoding/json"
	"time"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"   // 待执行
	TaskStatusRunning   TaskStatus = "running"   // 执行中
	TaskStatusCompleted TaskStatus = "completed" // 已完成
	TaskStatusFailed    TaskStatus = "failed"    // 失败
)

// GatherMode 采集模式
type GatherMode string

const (
	ModeAPI GatherMode = "api" // 直接调用列表接口
	ModeApp GatherMode = "app" // APP内嵌接口(appmsgpublish)
	ModeWeb GatherMode = "web" // 浏览器渲染正文
)

// Valid 是否为已知模式
func (m GatherMode) Valid() bool {
	switch m {
	case ModeAPI, ModeApp, ModeWeb:
		return true
	}
	return false
}

// GatherTask 队列中的一个采集任务
type GatherTask struct {
	ID         string                          `json:"id"`
	Name       string                          `json:"name"`
	Fn         func(ctx context.Context) error `json:"-"`
	Status     TaskStatus                      `json:"status"`
	EnqueuedAt time.Time                       `json:"enqueued_at"`
}

// NewGatherTask 创建采集任务
func NewGatherTask(name string, fn func(ctx context.Context) error) *GatherTask {
	return &GatherTask{
		ID:         generateID(),
		Name:       name,
		Fn:         fn,
		Status:     TaskStatusPending,
		EnqueuedAt: time.Now(),
	}
}

// QueueInfo 队列可观测信息
type QueueInfo struct {
	IsRunning    bool `json:"is_running"`
	PendingTasks int  `json:"pending_tasks"`
}

// Feed 待采集的公众号
type Feed struct {
	ID       string `json:"id" yaml:"id"`
	FakerID  string `json:"faker_id" yaml:"faker_id"`
	MpName   string `json:"mp_name" yaml:"mp_name"`
	Interval int    `json:"interval,omitempty" yaml:"interval,omitempty"` // 调度间隔(秒)
}

// GatherStats 单次采集统计
type GatherStats struct {
	Feeds     int     `json:"feeds"`
	Articles  int     `json:"articles"`
	Failed    int     `json:"failed"`
	Duration  float64 `json:"duration"` // 秒
	StartedAt int64   `json:"started_at"`
}

// ToJSON 序列化为JSON
func (s *GatherStats) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
