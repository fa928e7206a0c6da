package models

import (
	"encoding/json"
	"strings"
)

// Cookie 浏览器cookie
// Value 为nil表示cookie值缺失(区别于空字符串)
type Cookie struct {
	Name     string  `json:"name"`
	Value    *string `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"` // unix秒,-1或0表示会话cookie
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// NewCookie 创建带值的cookie
func NewCookie(name, value string) Cookie {
	v := value
	return Cookie{Name: name, Value: &v}
}

// ValueString 返回cookie值,nil时返回空串
func (c Cookie) ValueString() string {
	if c.Value == nil {
		return ""
	}
	return *c.Value
}

// Expiry 会话过期信息
type Expiry struct {
	Timestamp        float64 `json:"expiry_timestamp"`
	RemainingSeconds int64   `json:"remaining_seconds"`
	HumanReadable    string  `json:"expiry_time"`
}

// Session 公众号后台会话
type Session struct {
	Cookies       []Cookie          `json:"cookies"`
	CookiesHeader string            `json:"cookies_str"`
	LoginQRURL    *string           `json:"wx_login_url,omitempty"`
	Expiry        *Expiry           `json:"expiry,omitempty"`
	ExtData       map[string]string `json:"ext_data,omitempty"`
	UpdatedAt     int64             `json:"updated_at,omitempty"`
}

// Clone 深拷贝会话
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Cookies = make([]Cookie, len(s.Cookies))
	for i, c := range s.Cookies {
		if c.Value != nil {
			v := *c.Value
			c.Value = &v
		}
		out.Cookies[i] = c
	}
	if s.LoginQRURL != nil {
		u := *s.LoginQRURL
		out.LoginQRURL = &u
	}
	if s.Expiry != nil {
		e := *s.Expiry
		out.Expiry = &e
	}
	if s.ExtData != nil {
		out.ExtData = make(map[string]string, len(s.ExtData))
		for k, v := range s.ExtData {
			out.ExtData[k] = v
		}
	}
	return &out
}

// CookieNames 返回cookie名称列表(日志用,不含值)
func (s *Session) CookieNames() string {
	if s == nil {
		return ""
	}
	names := make([]string, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		names = append(names, c.Name)
	}
	return strings.Join(names, ",")
}

// ToJSON 序列化为JSON
func (s *Session) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// FromJSON 从JSON反序列化
func (s *Session) FromJSON(data []byte) error {
	return json.Unmarshal(data, s)
}

// SessionInfo GetSessionInfo 返回结构
type SessionInfo struct {
	State   LoginState        `json:"state"`
	Error   string            `json:"error,omitempty"`
	HasCode bool              `json:"has_code"`
	QRURL   string            `json:"wx_login_url,omitempty"`
	Session *Session          `json:"session,omitempty"`
	ExtData map[string]string `json:"ext_data,omitempty"`
}
