package utils

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/RecoveryAshes/wxgather/internal/models"
	"golang.org/x/net/http/httpguts"
)

// MaxHeaderValueLength 公众号后台接入层对单个头部的长度上限
const MaxHeaderValueLength = 4096

// WeixinOrigin 采集请求所在的站点
const WeixinOrigin = "https://mp.weixin.qq.com"

// SupportedContentEncodings 采集客户端能够解码的响应编码
var SupportedContentEncodings = []string{"gzip", "deflate", "br", "identity"}

// managedHeader 由采集引擎或HTTP客户端写入的头部,用户配置不会生效
type managedHeader struct {
	owner      string
	suggestion string
}

var managedHeaders = map[string]managedHeader{
	"Cookie":     {"登录会话", "重新扫码登录或执行 token 命令刷新会话"},
	"Referer":    {"采集引擎(取当前请求地址)", "删除该项"},
	"User-Agent": {"登录会话(须与扫码浏览器一致)", "删除该项, 在 browser 配置中调整浏览器"},

	"Host":              {"HTTP客户端", "删除该项"},
	"Content-Length":    {"HTTP客户端", "删除该项"},
	"Transfer-Encoding": {"HTTP客户端", "删除该项"},
	"Connection":        {"HTTP客户端", "删除该项"},
}

// valueRule 针对特定头部的取值约束,Accept-Encoding 单独按解码能力检查
type valueRule func(value string) (reason, suggestion string)

var valueRules = map[string]valueRule{
	"Origin":           checkOrigin,
	"X-Requested-With": checkRequestedWith,
}

// HeaderValidator 校验叠加到公众号请求上的自定义头部
type HeaderValidator struct {
	maxValueLength int
	encodings      map[string]bool
}

// NewHeaderValidator 创建验证器
func NewHeaderValidator() *HeaderValidator {
	enc := make(map[string]bool, len(SupportedContentEncodings))
	for _, e := range SupportedContentEncodings {
		enc[e] = true
	}
	return &HeaderValidator{maxValueLength: MaxHeaderValueLength, encodings: enc}
}

// ValidateHeader 校验单个头部
func (hv *HeaderValidator) ValidateHeader(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) {
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     "不是合法的头部名称",
			Suggestion: "只使用字母、数字和连字符, 如 X-Requested-With",
		}
	}

	key := http.CanonicalHeaderKey(name)
	if m, ok := managedHeaders[key]; ok {
		return &models.ValidationError{
			Field:      "name",
			HeaderName: key,
			Reason:     fmt.Sprintf("该头部由%s写入, 配置不会生效", m.owner),
			Suggestion: m.suggestion,
		}
	}

	if len(value) > hv.maxValueLength {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: key,
			Reason:     fmt.Sprintf("头部值 %d 字节, 超过上限 %d", len(value), hv.maxValueLength),
		}
	}
	if !httpguts.ValidHeaderFieldValue(value) || !isASCII(value) {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: key,
			Reason:     "头部值含控制字符或非ASCII字符",
			Suggestion: "中文等内容需先做URL编码",
		}
	}

	if key == "Accept-Encoding" {
		if reason, suggestion := hv.checkEncodings(value); reason != "" {
			return &models.ValidationError{Field: "value", HeaderName: key, Reason: reason, Suggestion: suggestion}
		}
		return nil
	}
	if rule, ok := valueRules[key]; ok {
		if reason, suggestion := rule(value); reason != "" {
			return &models.ValidationError{Field: "value", HeaderName: key, Reason: reason, Suggestion: suggestion}
		}
	}
	return nil
}

// Validate 校验整组头部,返回第一个错误
func (hv *HeaderValidator) Validate(headers http.Header) error {
	for name, values := range headers {
		for _, value := range values {
			if err := hv.ValidateHeader(name, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (hv *HeaderValidator) checkEncodings(value string) (reason, suggestion string) {
	for _, part := range strings.Split(value, ",") {
		coding, _, _ := strings.Cut(part, ";")
		coding = strings.ToLower(strings.TrimSpace(coding))
		if coding == "" {
			continue
		}
		if !hv.encodings[coding] {
			return fmt.Sprintf("响应编码 %q 无法解码", coding),
				"只使用 " + strings.Join(SupportedContentEncodings, ", ")
		}
	}
	return "", ""
}

func checkOrigin(value string) (string, string) {
	if strings.TrimRight(value, "/") != WeixinOrigin {
		return "Origin 与公众号后台不一致, 接口会返回登录失效", "改为 " + WeixinOrigin
	}
	return "", ""
}

func checkRequestedWith(value string) (string, string) {
	if value != "XMLHttpRequest" {
		return "X-Requested-With 只接受 XMLHttpRequest", ""
	}
	return "", ""
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
