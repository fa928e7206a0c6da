package utils

import (
	"net/http"
	"regexp"
	"strings"
)

var (
	// SensitiveKeywords 敏感头部名称关键字
	SensitiveKeywords = []string{
		"authorization",
		"cookie",
		"token",
		"key",
		"secret",
		"password",
		"credential",
	}

	tokenParamRe = regexp.MustCompile(`([?&]token=)[^&]+`)
)

// HeaderRedactor 头部脱敏器
type HeaderRedactor struct {
	sensitiveKeywords []string
}

// NewHeaderRedactor 创建头部脱敏器
func NewHeaderRedactor() *HeaderRedactor {
	return &HeaderRedactor{
		sensitiveKeywords: SensitiveKeywords,
	}
}

// IsSensitiveHeader 根据名称关键字判断是否为敏感头部
func (hr *HeaderRedactor) IsSensitiveHeader(name string) bool {
	nameLower := strings.ToLower(name)
	for _, keyword := range hr.sensitiveKeywords {
		if strings.Contains(nameLower, keyword) {
			return true
		}
	}
	return false
}

// RedactHeaderValue 脱敏单个头部值
func (hr *HeaderRedactor) RedactHeaderValue(name, value string) string {
	if !hr.IsSensitiveHeader(name) {
		return value
	}
	if strings.EqualFold(name, "cookie") {
		return RedactCookieHeader(value)
	}
	if strings.HasPrefix(value, "Bearer ") {
		return "Bearer ***"
	}
	return MaskValue(value)
}

// Redact 脱敏整个http.Header,返回可直接写日志的map
func (hr *HeaderRedactor) Redact(headers http.Header) map[string]string {
	result := make(map[string]string)
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		result[name] = hr.RedactHeaderValue(name, values[0])
	}
	return result
}

// RedactToString 脱敏并格式化为 "Header1: value1, Header2: value2"
func (hr *HeaderRedactor) RedactToString(headers http.Header) string {
	redacted := hr.Redact(headers)
	var parts []string
	for name, value := range redacted {
		parts = append(parts, name+": "+value)
	}
	return strings.Join(parts, ", ")
}

// MaskValue 长值保留首尾4位,短值完全隐藏
func MaskValue(value string) string {
	if len(value) > 8 {
		return value[:4] + "***" + value[len(value)-4:]
	}
	return "***"
}

// RedactCookieHeader 保留cookie名称,隐藏值
// "a=1; slave_sid=xxxx" -> "a=***; slave_sid=***"
func RedactCookieHeader(header string) string {
	if header == "" {
		return ""
	}
	pairs := strings.Split(header, ";")
	for i, p := range pairs {
		name, _, _ := strings.Cut(strings.TrimSpace(p), "=")
		pairs[i] = name + "=***"
	}
	return strings.Join(pairs, "; ")
}

// RedactURL 隐藏URL中的token参数
func RedactURL(raw string) string {
	return tokenParamRe.ReplaceAllString(raw, "${1}***")
}
