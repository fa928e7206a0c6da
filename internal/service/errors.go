package service

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/RecoveryAshes/wxgather/internal/driver"
	"github.com/RecoveryAshes/wxgather/internal/models"
)

// 登录流程的哨兵错误优先于关键字匹配
var sentinelRules = []struct {
	target    error
	code      models.ErrorCode
	message   string
	retryable bool
}{
	{driver.ErrQRNotReady, models.CodeQRNotReady, "qr code not ready", true},
	{driver.ErrScanTimeout, models.CodeNetworkTimeout, "scan timeout", true},
}

// 关键字到错误码的兜底映射,按顺序匹配
var keywordRules = []struct {
	keywords  []string
	code      models.ErrorCode
	message   string
	retryable bool
}{
	{[]string{"Timeout", "timeout", "timed out"}, models.CodeNetworkTimeout, "network timeout", true},
	{[]string{"当前环境异常", "完成验证"}, models.CodeEnvBlocked, "environment blocked", false},
	{[]string{"验证码", "captcha", "人机"}, models.CodeCaptchaRequired, "captcha required", false},
	{[]string{"已删除", "已下架", "内容已被发布者删除"}, models.CodeArticleDeleted, "article deleted", false},
	{[]string{"无法查看", "内容违规", "已被投诉", "已停止访问"}, models.CodeArticleRestricted, "article restricted", false},
}

// ToWxError 把任意错误归一为WxError
func ToWxError(err error, stage string) *models.WxError {
	if err == nil {
		return models.NewWxError(models.CodeInternal, "internal error", "", false, stage)
	}

	if we, ok := models.AsWxError(err); ok {
		return remapInternal(we, stage)
	}

	msg := err.Error()
	for _, rule := range sentinelRules {
		if errors.Is(err, rule.target) {
			return models.NewWxError(rule.code, rule.message, msg, rule.retryable, stage).WithCause(err)
		}
	}
	if isTimeout(err) {
		return models.NewWxError(models.CodeNetworkTimeout, "network timeout", msg, true, stage).WithCause(err)
	}

	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(msg, kw) {
				return models.NewWxError(rule.code, rule.message, msg, rule.retryable, stage).WithCause(err)
			}
		}
	}
	return models.NewWxError(models.CodeInternal, "internal error", msg, false, stage).WithCause(err)
}

// remapInternal 采集引擎内部码不直接暴露
func remapInternal(we *models.WxError, stage string) *models.WxError {
	if we.Stage == "" {
		we.Stage = stage
	}
	switch we.Code {
	case models.CodeInvalidSession:
		return models.NewWxError(models.CodeSessionExpired, "session expired", we.Message, false, we.Stage).WithCause(we)
	case models.CodeFrequencyControl:
		return models.NewWxError(models.CodeInternal, "frequency control", we.Message, false, we.Stage).WithCause(we)
	}
	return we
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// MapError 生成失败的envelope
func MapError(err error, stage string, state models.LoginState) models.Envelope {
	return models.Fail(ToWxError(err, stage), string(state))
}
