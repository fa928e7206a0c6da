package models

import (
	"fmt"
	"net/http"
	"strings"
)

// HeaderConfig configs/headers.yaml 中的附加头部,键为标准形式
type HeaderConfig struct {
	Headers map[string]string `yaml:"headers"`
}

// CliHeaders -H 参数,形如 "X-Requested-With: XMLHttpRequest"
type CliHeaders []string

// Parse 同名项以最后一次为准
func (ch CliHeaders) Parse() (http.Header, error) {
	result := make(http.Header, len(ch))
	for i, s := range ch {
		name, value, ok := strings.Cut(s, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("-H 第%d项 %q 应为 'Name: Value'", i+1, s)
		}
		result.Set(name, strings.TrimSpace(value))
	}
	return result, nil
}

// ValidationError 自定义头部不能用于公众号请求
type ValidationError struct {
	Field      string // name|value
	HeaderName string
	Reason     string
	Suggestion string
}

func (e *ValidationError) Error() string {
	if e.Suggestion == "" {
		return fmt.Sprintf("请求头 %s 无效: %s", e.HeaderName, e.Reason)
	}
	return fmt.Sprintf("请求头 %s 无效: %s, %s", e.HeaderName, e.Reason, e.Suggestion)
}

// ConfigError 读取或解析配置文件失败
type ConfigError struct {
	FilePath string
	Cause    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置文件 %s: %v", e.FilePath, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }
