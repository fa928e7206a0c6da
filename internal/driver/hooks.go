package driver

import (
	"context"

	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/utils"
)

// StateObserver 登录状态变化通知
type StateObserver interface {
	OnStateChange(state models.LoginState, qrURL string, errMsg string, expiresMinutes int)
}

// QrUploader 上传二维码截图,返回可访问的URL(为空表示不发布)
type QrUploader interface {
	Upload(ctx context.Context, png []byte) (string, error)
}

// LoginCallback 登录成功回调
type LoginCallback func(sess *models.Session, ext map[string]string)

// NoticeFunc 二维码就绪后的提醒
type NoticeFunc func()

type noopObserver struct{}

func (noopObserver) OnStateChange(models.LoginState, string, string, int) {}

type noopUploader struct{}

func (noopUploader) Upload(context.Context, []byte) (string, error) { return "", nil }

// ObserverFunc 函数形式的StateObserver
type ObserverFunc func(state models.LoginState, qrURL string, errMsg string, expiresMinutes int)

// OnStateChange 实现StateObserver
func (f ObserverFunc) OnStateChange(state models.LoginState, qrURL string, errMsg string, expiresMinutes int) {
	f(state, qrURL, errMsg, expiresMinutes)
}

// MultiObserver 依次通知多个观察者
type MultiObserver []StateObserver

// OnStateChange 实现StateObserver
func (m MultiObserver) OnStateChange(state models.LoginState, qrURL string, errMsg string, expiresMinutes int) {
	for _, o := range m {
		safeCall("state observer", func() { o.OnStateChange(state, qrURL, errMsg, expiresMinutes) })
	}
}

// safeCall 执行外部钩子,panic只记录
func safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			utils.Warnf("钩子 %s 执行异常: %v", name, r)
		}
	}()
	fn()
}
