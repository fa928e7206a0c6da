package models

import (
	"errors"
	"fmt"
)

// ErrorCode 对外稳定错误码
type ErrorCode string

const (
	CodeNotLoggedIn       ErrorCode = "NOT_LOGGED_IN"
	CodeSessionExpired    ErrorCode = "SESSION_EXPIRED"
	CodeQRNotReady        ErrorCode = "QR_NOT_READY"
	CodeCaptchaRequired   ErrorCode = "CAPTCHA_REQUIRED"
	CodeEnvBlocked        ErrorCode = "ENV_BLOCKED"
	CodeArticleDeleted    ErrorCode = "ARTICLE_DELETED"
	CodeArticleRestricted ErrorCode = "ARTICLE_RESTRICTED"
	CodeArticleParse      ErrorCode = "ARTICLE_PARSE_FAILED"
	CodeNetworkTimeout    ErrorCode = "NETWORK_TIMEOUT"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"

	// 采集引擎内部信号,在门面层重新映射
	CodeFrequencyControl ErrorCode = "FREQUENCY_CONTROL"
	CodeInvalidSession   ErrorCode = "INVALID_SESSION"
)

// WxError 跨越核心边界的唯一错误形态
type WxError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Reason    string    `json:"reason,omitempty"`
	Retryable bool      `json:"retryable"`
	Stage     string    `json:"stage"`
	Raw       string    `json:"raw,omitempty"`

	cause error
}

// NewWxError 创建错误
func NewWxError(code ErrorCode, message, reason string, retryable bool, stage string) *WxError {
	return &WxError{
		Code:      code,
		Message:   message,
		Reason:    reason,
		Retryable: retryable,
		Stage:     stage,
	}
}

// WithCause 记录底层错误
func (e *WxError) WithCause(err error) *WxError {
	e.cause = err
	if err != nil && e.Raw == "" {
		e.Raw = err.Error()
	}
	return e
}

// Error 实现error接口
func (e *WxError) Error() string {
	if e.Reason != "" && e.Reason != e.Message {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Reason)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *WxError) Unwrap() error {
	return e.cause
}

// Is 按错误码比较
func (e *WxError) Is(target error) bool {
	var t *WxError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// AsWxError 从错误链中取出WxError
func AsWxError(err error) (*WxError, bool) {
	var we *WxError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// 可用于errors.Is比较的错误码哨兵
var (
	ErrFrequencyControl = &WxError{Code: CodeFrequencyControl}
	ErrInvalidSession   = &WxError{Code: CodeInvalidSession}
	ErrArticleDeleted   = &WxError{Code: CodeArticleDeleted}
	ErrArticleRestrict  = &WxError{Code: CodeArticleRestricted}
	ErrEnvBlocked       = &WxError{Code: CodeEnvBlocked}
)

// EnvBlockedText 公众号平台风控拦截页的提示文字
const EnvBlockedText = "当前环境异常，完成验证后即可继续访问"
