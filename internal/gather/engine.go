package gather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/browser"
	"github.com/RecoveryAshes/wxgather/internal/core"
	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/utils"
)

const (
	// 每页文章数
	pageSize = 5
	// ret 200013 表示触发频控
	retFrequencyControl = 200013

	DefaultBaseURL = "https://mp.weixin.qq.com"

	msgNeedLogin = "请先扫码登录公众号平台"
)

// CookieSource 提供已登录会话的Cookie头
type CookieSource interface {
	GetCookieHeader() (string, error)
}

// CookieFunc 函数形式的CookieSource
type CookieFunc func() (string, error)

// GetCookieHeader 实现CookieSource
func (f CookieFunc) GetCookieHeader() (string, error) { return f() }

// ArticleCallback 单篇文章回调,返回false时不计入结果
type ArticleCallback func(a *models.Article) bool

// Request 单个公众号的采集参数
type Request struct {
	FakeID        string
	MpID          string
	MpTitle       string
	Callback      ArticleCallback
	OnPage        func(page int) // 每页处理完成后调用
	StartPage     int
	MaxPage       int
	Interval      int // 翻页前随机等待上限(秒)
	GatherContent bool
}

// Config 采集引擎配置
type Config struct {
	BaseURL        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Headers        http.Header // 额外请求头,Cookie由会话提供
}

// Option 引擎选项
type Option func(*Engine)

// WithHooks 设置采集钩子
func WithHooks(h Hooks) Option {
	return func(e *Engine) {
		if h != nil {
			e.hooks = h
		}
	}
}

// WithTokenDeriver 替换token推导方式
func WithTokenDeriver(d TokenDeriver) Option {
	return func(e *Engine) {
		if d != nil {
			e.tokens.deriver = d
		}
	}
}

// Engine 采集公共逻辑:会话上下文、去重、回调与错误处理
type Engine struct {
	cfg     Config
	client  *Client
	cookies CookieSource
	hooks   Hooks
	tokens  *tokenCache

	mu           sync.Mutex
	articles     []models.Article
	seen         map[string]struct{}
	mpID         string
	cookieHeader string
	userAgent    string
	stopped      bool
}

// NewEngine 创建采集引擎
func NewEngine(cfg Config, cookies CookieSource, opts ...Option) *Engine {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	e := &Engine{
		cfg:     cfg,
		client:  NewClient(cfg.ConnectTimeout, cfg.ReadTimeout),
		cookies: cookies,
		hooks:   NopHooks{},
		seen:    make(map[string]struct{}),
	}
	e.tokens = &tokenCache{deriver: NewHomeTokenDeriver(e.client, cfg.BaseURL, e.FixHeader)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// prepare 读取Cookie并选定本轮UA
func (e *Engine) prepare() error {
	header, err := e.cookies.GetCookieHeader()
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.cookieHeader = header
	if e.userAgent == "" {
		e.userAgent = browser.RandomUserAgent(false)
	}
	e.mu.Unlock()
	return nil
}

// Start 开始采集一个公众号,重置本轮累积结果
func (e *Engine) Start(mpID string) error {
	if err := e.prepare(); err != nil {
		return err
	}

	e.mu.Lock()
	e.articles = nil
	e.seen = make(map[string]struct{})
	e.mpID = mpID
	e.stopped = false
	e.mu.Unlock()

	now := time.Now().Unix()
	callHook("update_feed", func() {
		e.hooks.OnUpdateFeed(mpID, FeedMeta{SyncTime: now, UpdateTime: now})
	})
	return nil
}

// Over 本轮结束,通知累积的文章
func (e *Engine) Over() {
	articles := e.Articles()
	mpID := ""
	if len(articles) > 0 {
		mpID = articles[0].MpID
	}
	callHook("over", func() { e.hooks.OnOver(articles, mpID) })
}

// HasGathered 本轮是否已下载过该文章正文,首次查询时记录
func (e *Engine) HasGathered(aid string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.seen[aid]; ok {
		return true
	}
	e.seen[aid] = struct{}{}
	return false
}

// FillBack 把列表条目转成文章并回调,回调返回false时不计入结果
func (e *Engine) FillBack(cb ArticleCallback, raw models.RawItem, ext map[string]string) *models.Article {
	art := &models.Article{
		ID:          raw.Aid,
		MpID:        raw.MpID,
		Title:       raw.Title,
		URL:         raw.Link,
		PicURL:      raw.Cover,
		PublishTime: raw.UpdateTime,
		Content:     raw.Content,
		Description: raw.Digest,
		Ext:         ext,
	}

	keep := true
	if cb != nil {
		callHook("article callback", func() { keep = cb(art) })
	}
	if keep {
		e.mu.Lock()
		e.articles = append(e.articles, *art)
		e.mu.Unlock()
	}
	return art
}

// Articles 本轮已采集的文章副本
func (e *Engine) Articles() []models.Article {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Article(nil), e.articles...)
}

// Stopped 本轮是否因会话失效而停止
func (e *Engine) Stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// Error 处理采集错误
// 会话失效时触发钩子并静默停止(返回nil),code为空时返回普通错误
func (e *Engine) Error(msg string, code models.ErrorCode) error {
	if code == models.CodeInvalidSession {
		e.tokens.invalidate()
		e.mu.Lock()
		e.stopped = true
		mpID := e.mpID
		e.mu.Unlock()

		utils.Warnf("公众号平台会话失效: %s", msg)
		callHook("session_invalid", func() {
			e.hooks.OnSessionInvalid(msg, code, map[string]string{"mp_id": mpID})
		})
		return nil
	}

	utils.Errorf("采集失败: %s", msg)
	if code == "" {
		return errors.New(msg)
	}
	return models.NewWxError(code, msg, "", false, "gather")
}

// Token 取缓存的后台token,没有时从首页推导
func (e *Engine) Token(ctx context.Context) (string, error) {
	e.mu.Lock()
	cookie := e.cookieHeader
	e.mu.Unlock()
	return e.tokens.get(ctx, cookie)
}

// InvalidateToken 丢弃缓存的token
func (e *Engine) InvalidateToken() {
	e.tokens.invalidate()
}

// FixHeader 生成请求头
// 自定义头部叠加在默认值之上,User-Agent/Referer/Cookie 始终以会话为准
func (e *Engine) FixHeader(rawURL string) http.Header {
	h := http.Header{}
	h.Set("Accept", core.DefaultAccept)
	h.Set("Accept-Language", core.DefaultAcceptLanguage)
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Connection", "keep-alive")

	for name, values := range e.cfg.Headers {
		if len(values) > 0 {
			h.Set(name, values[0])
		}
	}

	e.mu.Lock()
	ua, cookie := e.userAgent, e.cookieHeader
	e.mu.Unlock()
	if ua == "" {
		ua = core.DefaultUserAgent
	}
	h.Set("User-Agent", ua)
	h.Set("Referer", rawURL)
	if cookie != "" {
		h.Set("Cookie", cookie)
	}
	return h
}

type baseResp struct {
	Ret    *int   `json:"ret"`
	ErrMsg string `json:"err_msg"`
}

// callAPI 请求后台JSON接口并检查 base_resp.ret
func (e *Engine) callAPI(ctx context.Context, path string, params url.Values, label string, out interface{}) error {
	endpoint := e.cfg.BaseURL + path + "?" + params.Encode()
	resp, err := e.client.Get(ctx, endpoint, e.FixHeader(endpoint))
	if err != nil {
		return err
	}

	var envelope struct {
		BaseResp *baseResp `json:"base_resp"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return fmt.Errorf("解析接口响应失败: %w", err)
	}

	if envelope.BaseResp == nil || envelope.BaseResp.Ret == nil {
		return models.NewWxError(models.CodeInvalidSession, "接口未返回base_resp", "", false, "gather_list")
	}
	switch ret := *envelope.BaseResp.Ret; ret {
	case 0:
	case retFrequencyControl:
		return models.NewWxError(models.CodeFrequencyControl,
			fmt.Sprintf("frequencey control, stop at %s", label), "", false, "gather_list")
	default:
		return models.NewWxError(models.CodeInvalidSession,
			fmt.Sprintf("错误原因:%s:代码:%d", envelope.BaseResp.ErrMsg, ret), "", false, "gather_list")
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("解析接口响应失败: %w", err)
	}
	return nil
}

// fetchPage 带会话请求文章页,失败返回空串
func (e *Engine) fetchPage(ctx context.Context, link string) string {
	resp, err := e.client.Get(ctx, link, e.FixHeader(link))
	if err != nil {
		utils.Warnf("获取文章内容失败 [%s]: %v", utils.RedactURL(link), err)
		return ""
	}
	return string(resp.Body)
}

// listFunc 拉取一页列表,begin为偏移量
type listFunc func(ctx context.Context, token string, req Request, begin int) ([]models.RawItem, error)

// contentFunc 获取单篇文章正文
type contentFunc func(ctx context.Context, link string) string

// run 分页采集
func (e *Engine) run(ctx context.Context, req Request, list listFunc, content contentFunc) ([]models.Article, error) {
	if err := e.Start(req.MpID); err != nil {
		return nil, err
	}

	token, err := e.Token(ctx)
	if err != nil {
		utils.Error(err, "获取token失败")
		return nil, err
	}
	if token == "" {
		return nil, e.Error(msgNeedLogin, "")
	}

	lbl := label(req)
	maxPage := req.MaxPage
	if maxPage <= 0 {
		maxPage = 1
	}

	for page := req.StartPage; page < maxPage; page++ {
		if err := sleepCtx(ctx, utils.RandomDuration(time.Duration(req.Interval)*time.Second)); err != nil {
			return e.Articles(), err
		}

		items, err := list(ctx, token, req, page*pageSize)
		if err != nil {
			if errors.Is(err, models.ErrFrequencyControl) {
				utils.Warnf("触发频控, 停止采集: %s", lbl)
				return e.Articles(), err
			}
			if we, ok := models.AsWxError(err); ok && we.Code == models.CodeInvalidSession {
				return e.Articles(), e.Error(we.Message, models.CodeInvalidSession)
			}
			utils.Error(err, "请求失败")
			return e.Articles(), err
		}
		if len(items) == 0 {
			utils.Debugf("没有更多文章: %s page=%d", lbl, page)
			break
		}

		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return e.Articles(), err
			}
			item.MpID = req.MpID
			// 去重只限制正文下载,重复出现的文章仍会回调
			if req.GatherContent && item.Link != "" && (item.Aid == "" || !e.HasGathered(item.Aid)) {
				item.Content = content(ctx, item.Link)
			}
			e.FillBack(req.Callback, item, map[string]string{"mp_title": req.MpTitle})
		}

		if req.OnPage != nil {
			callHook("page callback", func() { req.OnPage(page) })
		}
	}

	e.Over()
	return e.Articles(), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
