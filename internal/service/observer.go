package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/utils"
	"github.com/redis/go-redis/v9"
)

const observerTimeout = 3 * time.Second

// statusWriter RedisObserver 用到的命令
type statusWriter interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// StateEvent 登录状态变化事件
type StateEvent struct {
	Status         models.LoginState `json:"status"`
	QRSignedURL    string            `json:"qr_signed_url,omitempty"`
	ExpiresMinutes int               `json:"expires_minutes,omitempty"`
	Error          string            `json:"error,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
	UpdatedAt      int64             `json:"updated_at"`
}

// RedisObserver 把登录状态写入Redis哈希并发布到频道
type RedisObserver struct {
	client    statusWriter
	key       string
	channel   string
	sessionID func() string
}

// NewRedisObserver 创建观察者,sessionID 可为nil
func NewRedisObserver(client statusWriter, key, channel string, sessionID func() string) *RedisObserver {
	return &RedisObserver{client: client, key: key, channel: channel, sessionID: sessionID}
}

// OnStateChange 实现driver.StateObserver,失败只记录日志
func (o *RedisObserver) OnStateChange(state models.LoginState, qrURL, errMsg string, expiresMinutes int) {
	ev := StateEvent{
		Status:         state,
		QRSignedURL:    qrURL,
		ExpiresMinutes: expiresMinutes,
		Error:          errMsg,
		UpdatedAt:      time.Now().Unix(),
	}
	if o.sessionID != nil {
		ev.SessionID = o.sessionID()
	}

	ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
	defer cancel()

	fields := map[string]interface{}{
		"status":     string(ev.Status),
		"updated_at": ev.UpdatedAt,
	}
	if ev.QRSignedURL != "" {
		fields["qr_signed_url"] = ev.QRSignedURL
	}
	if ev.ExpiresMinutes > 0 {
		fields["expires_minutes"] = ev.ExpiresMinutes
	}
	// 成功后清掉上一次的错误
	fields["error"] = ev.Error
	if ev.SessionID != "" {
		fields["session_id"] = ev.SessionID
	}

	if err := o.client.HSet(ctx, o.key, fields).Err(); err != nil {
		utils.Warnf("写入登录状态失败: %v", err)
	}

	if o.channel == "" {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := o.client.Publish(ctx, o.channel, payload).Err(); err != nil {
		utils.Warnf("发布登录状态失败: %v", err)
	}
}
