package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"有效的HTTPS URL", "https://mp.weixin.qq.com/s/abc", false},
		{"有效的HTTP URL", "http://example.com", false},
		{"无效的协议", "ftp://example.com", true},
		{"无效的URL", "not a url", true},
		{"空URL", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateArticleURL(t *testing.T) {
	if err := ValidateArticleURL("https://mp.weixin.qq.com/s/xyz"); err != nil {
		t.Errorf("公众号链接应通过: %v", err)
	}
	if err := ValidateArticleURL("https://example.com/s/xyz"); err == nil {
		t.Error("非公众号链接应报错")
	}
}

func TestLoginState_IsTerminal(t *testing.T) {
	tests := []struct {
		state LoginState
		want  bool
	}{
		{StateIdle, false},
		{StateStarting, false},
		{StateQRReady, false},
		{StateWaiting, false},
		{StateSuccess, true},
		{StateFailed, true},
		{StateExpired, true},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWxError(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	err := NewWxError(CodeNetworkTimeout, "网络超时", "", true, "fetch").WithCause(cause)

	t.Run("错误链", func(t *testing.T) {
		wrapped := fmt.Errorf("外层: %w", err)
		if !errors.Is(wrapped, cause) {
			t.Error("应能通过errors.Is找到底层错误")
		}
		we, ok := AsWxError(wrapped)
		if !ok || we.Code != CodeNetworkTimeout {
			t.Errorf("AsWxError() = %v, %v", we, ok)
		}
	})

	t.Run("按错误码比较", func(t *testing.T) {
		fc := NewWxError(CodeFrequencyControl, "频率控制", "", false, "gather")
		if !errors.Is(fc, ErrFrequencyControl) {
			t.Error("相同错误码应视为相等")
		}
		if errors.Is(fc, ErrInvalidSession) {
			t.Error("不同错误码不应相等")
		}
	})

	t.Run("原始错误写入Raw", func(t *testing.T) {
		if err.Raw != cause.Error() {
			t.Errorf("Raw = %q", err.Raw)
		}
		if !strings.Contains(err.Error(), string(CodeNetworkTimeout)) {
			t.Errorf("Error() = %q", err.Error())
		}
	})
}

func TestEnvelope_JSON(t *testing.T) {
	env := Fail(NewWxError(CodeNotLoggedIn, "未登录", "", true, "cookie"), "idle")
	data, err := env.ToJSON()
	if err != nil {
		t.Fatalf("序列化失败: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("反序列化失败: %v", err)
	}
	if m["ok"] != false {
		t.Errorf("ok = %v", m["ok"])
	}
	e := m["error"].(map[string]interface{})
	if e["code"] != "NOT_LOGGED_IN" || e["retryable"] != true {
		t.Errorf("error = %v", e)
	}
	if _, exists := m["data"]; exists {
		t.Error("失败结果不应包含data")
	}
}

func TestSession_Clone(t *testing.T) {
	qr := "https://example.com/qr.png"
	s := &Session{
		Cookies:    []Cookie{NewCookie("slave_sid", "abc")},
		LoginQRURL: &qr,
		Expiry:     &Expiry{Timestamp: 100, RemainingSeconds: 10},
		ExtData:    map[string]string{"nick_name": "测试号"},
	}
	c := s.Clone()
	*c.Cookies[0].Value = "changed"
	c.ExtData["nick_name"] = "x"
	c.Expiry.RemainingSeconds = 0

	if s.Cookies[0].ValueString() != "abc" {
		t.Error("cookie值不应被克隆体修改")
	}
	if s.ExtData["nick_name"] != "测试号" {
		t.Error("扩展数据不应被克隆体修改")
	}
	if s.Expiry.RemainingSeconds != 10 {
		t.Error("过期信息不应被克隆体修改")
	}
	if (*Session)(nil).Clone() != nil {
		t.Error("nil会话克隆应为nil")
	}
}

func TestCookie_NullValue(t *testing.T) {
	var c Cookie
	if err := json.Unmarshal([]byte(`{"name":"a","value":null}`), &c); err != nil {
		t.Fatal(err)
	}
	if c.Value != nil {
		t.Error("null值应解析为nil")
	}
	if c.ValueString() != "" {
		t.Error("nil值应返回空串")
	}
}

func TestCliHeaders_Parse(t *testing.T) {
	h, err := CliHeaders{"X-Test: 1", "origin:https://mp.weixin.qq.com", "X-Test: 2"}.Parse()
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if h.Get("X-Test") != "2" || h.Get("Origin") != "https://mp.weixin.qq.com" {
		t.Errorf("解析结果 = %v", h)
	}
	for _, bad := range []string{"bad", ": value"} {
		if _, err := (CliHeaders{bad}).Parse(); err == nil {
			t.Errorf("%q 应报错", bad)
		}
	}
}

func TestGatherMode_Valid(t *testing.T) {
	for _, m := range []GatherMode{ModeAPI, ModeApp, ModeWeb} {
		if !m.Valid() {
			t.Errorf("%s 应为有效模式", m)
		}
	}
	if GatherMode("rss").Valid() {
		t.Error("未知模式不应有效")
	}
}
