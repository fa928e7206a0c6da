package session

import (
	"strings"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/models"
)

const (
	// DefaultCookieDomain 注入浏览器时的默认域
	DefaultCookieDomain = ".weixin.qq.com"
	// ExpiryCookieName 决定会话过期时间的cookie
	ExpiryCookieName = "slave_sid"

	expiryTimeLayout = "2006-01-02 15:04:05"
)

// FormatSession 由浏览器cookie构建会话
func FormatSession(raw []models.Cookie, qrURL *string) *models.Session {
	return formatSessionAt(raw, qrURL, time.Now())
}

func formatSessionAt(raw []models.Cookie, qrURL *string, now time.Time) *models.Session {
	cookies := make([]models.Cookie, len(raw))
	copy(cookies, raw)

	s := &models.Session{
		Cookies:       cookies,
		CookiesHeader: CookieHeader(cookies),
		Expiry:        extractExpiryAt(cookies, ExpiryCookieName, now),
		UpdatedAt:     now.Unix(),
	}
	if qrURL != nil {
		u := *qrURL
		s.LoginQRURL = &u
	}
	return s
}

// CookieHeader 拼接为 "a=1; b=2",跳过空名称与空值cookie
func CookieHeader(cookies []models.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" || c.Value == nil {
			continue
		}
		parts = append(parts, c.Name+"="+*c.Value)
	}
	return strings.Join(parts, "; ")
}

// ExtractExpiry 读取指定cookie的过期时间,已过期或缺失返回nil
func ExtractExpiry(cookies []models.Cookie, name string) *models.Expiry {
	return extractExpiryAt(cookies, name, time.Now())
}

func extractExpiryAt(cookies []models.Cookie, name string, now time.Time) *models.Expiry {
	for _, c := range cookies {
		if c.Name != name || c.Expires <= 0 {
			continue
		}
		remaining := int64(c.Expires) - now.Unix()
		if remaining <= 0 {
			return nil
		}
		return &models.Expiry{
			Timestamp:        c.Expires,
			RemainingSeconds: remaining,
			HumanReadable:    time.Unix(int64(c.Expires), 0).Format(expiryTimeLayout),
		}
	}
	return nil
}

// IsValid 至少一个有效cookie,且未过期(无过期信息视为有效)
// 剩余时间按当前时间重新计算,持久化时的快照值不作数
func IsValid(s *models.Session) bool {
	return isValidAt(s, time.Now())
}

func isValidAt(s *models.Session, now time.Time) bool {
	if s == nil {
		return false
	}

	hasCookie := false
	for _, c := range s.Cookies {
		if c.Name != "" && c.Value != nil {
			hasCookie = true
			break
		}
	}
	if !hasCookie {
		return false
	}

	if s.Expiry == nil {
		return true
	}
	if s.Expiry.Timestamp > 0 {
		return int64(s.Expiry.Timestamp)-now.Unix() > 0
	}
	return s.Expiry.RemainingSeconds > 0
}

// NormalizeCookies 补齐domain与path,便于注入浏览器
func NormalizeCookies(cookies []models.Cookie) []models.Cookie {
	out := make([]models.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" || c.Value == nil {
			continue
		}
		if c.Domain == "" {
			c.Domain = DefaultCookieDomain
		}
		if c.Path == "" {
			c.Path = "/"
		}
		out = append(out, c)
	}
	return out
}
