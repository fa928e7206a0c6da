package models

import (
	"encoding/json"
	"time"
)

// GatherReport 采集运行报告
type GatherReport struct {
	RunID     string     `json:"run_id"`
	Mode      GatherMode `json:"mode"`
	StartTime time.Time  `json:"start_time"`
	EndTime   time.Time  `json:"end_time"`
	Duration  float64    `json:"duration"` // 秒

	Stats GatherStats `json:"stats"`

	Feeds  []FeedResult `json:"feeds"`
	Errors []FeedError  `json:"errors,omitempty"`
}

// FeedResult 单个公众号的采集结果
type FeedResult struct {
	MpID     string `json:"mp_id"`
	MpName   string `json:"mp_name"`
	Articles int    `json:"articles"`
}

// FeedError 单个公众号的采集错误
type FeedError struct {
	MpID      string    `json:"mp_id"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// ToJSON 序列化为JSON
func (r *GatherReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *GatherReport) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
