package gather

import (
	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/utils"
)

// FeedMeta 公众号同步时间
type FeedMeta struct {
	SyncTime   int64 `json:"sync_time"`
	UpdateTime int64 `json:"update_time"`
}

// Hooks 采集过程中的外部通知
type Hooks interface {
	OnUpdateFeed(mpID string, meta FeedMeta)
	OnOver(articles []models.Article, mpID string)
	OnSessionInvalid(msg string, code models.ErrorCode, ctx map[string]string)
}

// NopHooks 默认空实现
type NopHooks struct{}

func (NopHooks) OnUpdateFeed(string, FeedMeta)                                {}
func (NopHooks) OnOver([]models.Article, string)                               {}
func (NopHooks) OnSessionInvalid(string, models.ErrorCode, map[string]string) {}

// HookFuncs 按需设置的函数形式钩子,未设置的项忽略
type HookFuncs struct {
	UpdateFeed     func(mpID string, meta FeedMeta)
	Over           func(articles []models.Article, mpID string)
	SessionInvalid func(msg string, code models.ErrorCode, ctx map[string]string)
}

func (h HookFuncs) OnUpdateFeed(mpID string, meta FeedMeta) {
	if h.UpdateFeed != nil {
		h.UpdateFeed(mpID, meta)
	}
}

func (h HookFuncs) OnOver(articles []models.Article, mpID string) {
	if h.Over != nil {
		h.Over(articles, mpID)
	}
}

func (h HookFuncs) OnSessionInvalid(msg string, code models.ErrorCode, ctx map[string]string) {
	if h.SessionInvalid != nil {
		h.SessionInvalid(msg, code, ctx)
	}
}

func callHook(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			utils.Warnf("采集钩子 %s 执行异常: %v", name, r)
		}
	}()
	fn()
}
