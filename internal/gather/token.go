package gather

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/utils"
	"golang.org/x/sync/singleflight"
)

var (
	tokenURLRe  = regexp.MustCompile(`[?&]token=([^&]+)`)
	tokenHTMLRe = regexp.MustCompile(`[?&]token=([^&"']+)`)
	tokenVarRe  = regexp.MustCompile(`token\s*[:=]\s*['"](\d+)['"]`)
)

// TokenDeriver 从已登录的cookie推导后台token
type TokenDeriver interface {
	DeriveToken(ctx context.Context, cookieHeader string) (string, error)
}

// HomeTokenDeriver 请求后台首页,从跳转地址或页面源码中提取token
type HomeTokenDeriver struct {
	client  *Client
	baseURL string
	header  func(url string) http.Header
}

// NewHomeTokenDeriver 创建token推导器
func NewHomeTokenDeriver(client *Client, baseURL string, header func(url string) http.Header) *HomeTokenDeriver {
	return &HomeTokenDeriver{client: client, baseURL: strings.TrimRight(baseURL, "/"), header: header}
}

// DeriveToken 实现TokenDeriver,遇到风控页返回空token
func (d *HomeTokenDeriver) DeriveToken(ctx context.Context, cookieHeader string) (string, error) {
	homeURL := d.baseURL + "/cgi-bin/home?t=home/index&lang=zh_CN"
	h := d.header(homeURL)
	h.Set("Cookie", cookieHeader)

	resp, err := d.client.Get(ctx, homeURL, h)
	if err != nil {
		return "", err
	}
	return extractToken(resp.FinalURL, string(resp.Body)), nil
}

// extractToken 依次尝试跳转地址、页面中的链接参数与脚本变量
func extractToken(finalURL, html string) string {
	if m := tokenURLRe.FindStringSubmatch(finalURL); m != nil {
		return m[1]
	}
	if strings.Contains(html, models.EnvBlockedText) {
		utils.Warn("后台首页触发环境验证, 无法获取token")
		return ""
	}
	if m := tokenHTMLRe.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	if m := tokenVarRe.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	return ""
}

// tokenCache 缓存token,并发推导合并为一次请求
type tokenCache struct {
	deriver TokenDeriver
	group   singleflight.Group

	mu    sync.Mutex
	token string
}

func (c *tokenCache) get(ctx context.Context, cookieHeader string) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		t, err := c.deriver.DeriveToken(ctx, cookieHeader)
		if err != nil {
			return "", err
		}
		if t != "" {
			c.mu.Lock()
			c.token = t
			c.mu.Unlock()
		}
		return t, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *tokenCache) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
