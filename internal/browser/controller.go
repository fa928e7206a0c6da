package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

var (
	// ErrBrowserNotStarted 浏览器未启动
	ErrBrowserNotStarted = errors.New("浏览器未启动")
	// ErrResourceExhausted 系统资源不足
	ErrResourceExhausted = errors.New("系统资源不足")
)

// 启动与关闭浏览器全局串行,之后才获取实例锁
var launchMu sync.Mutex

const urlPollInterval = 500 * time.Millisecond

// Options 浏览器启动参数
type Options struct {
	Headless      bool
	MobileMode    bool
	BlockImages   bool
	AntiDetection bool
}

// Automation 登录驱动与文章抓取依赖的浏览器能力
type Automation interface {
	StartBrowser(ctx context.Context, opts Options) error
	Open(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	WaitFunction(ctx context.Context, js string, timeout time.Duration) error
	WaitURLContains(ctx context.Context, marker string, timeout time.Duration) error
	WaitURLPrefix(ctx context.Context, prefix string, timeout time.Duration) error
	Reload(ctx context.Context) error
	ElementScreenshot(selector string) ([]byte, error)
	PageScreenshot(path string) error
	CurrentURL() string
	Title() string
	Cookies() ([]models.Cookie, error)
	AddCookies(cookies []models.Cookie) error
	Text(selector string) (string, error)
	Attr(selector, name string) (string, error)
	HTML(selector string) (string, error)
	Eval(js string) (string, error)
	Running() bool
	Cleanup()
}

// Controller 基于go-rod的单页面浏览器控制器
type Controller struct {
	guard *ResourceGuard

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	router   *rod.HijackRouter
	opts     Options
	// 是否持有guard的一次采样引用
	monitoring bool
}

var _ Automation = (*Controller)(nil)

// NewController 创建控制器,guard 可为nil
func NewController(guard *ResourceGuard) *Controller {
	return &Controller{guard: guard}
}

// StartBrowser 启动浏览器并创建页面,已启动时直接返回
func (c *Controller) StartBrowser(ctx context.Context, opts Options) error {
	launchMu.Lock()
	defer launchMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.page != nil {
		return nil
	}

	if c.guard != nil {
		if err := c.guard.Check(); err != nil {
			return err
		}
	}

	if err := c.launch(ctx, opts); err != nil {
		utils.Warnf("浏览器启动失败, 清理后重试: %v", err)
		c.cleanupLocked()
		if err := c.launch(ctx, opts); err != nil {
			c.cleanupLocked()
			return fmt.Errorf("启动浏览器失败: %w", err)
		}
	}

	if c.guard != nil {
		c.guard.StartMonitoring(5 * time.Second)
		c.monitoring = true
	}
	c.opts = opts
	return nil
}

// pace 开启反检测时在页面操作前插入随机间隔
func (c *Controller) pace(ctx context.Context) error {
	c.mu.Lock()
	on := c.opts.AntiDetection
	c.mu.Unlock()
	if !on {
		return nil
	}
	return HumanDelay(ctx)
}

func (c *Controller) launch(ctx context.Context, opts Options) error {
	l := launcher.New().
		Headless(opts.Headless).
		Set("no-sandbox").
		Set("disable-blink-features", "AutomationControlled").
		Set("lang", "zh-CN")
	c.launcher = l

	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		return fmt.Errorf("启动浏览器进程失败: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("连接浏览器失败: %w", err)
	}
	c.browser = b

	var page *rod.Page
	if opts.AntiDetection {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return fmt.Errorf("创建页面失败: %w", err)
	}
	c.page = page

	return c.setupPage(page, opts)
}

func (c *Controller) setupPage(page *rod.Page, opts Options) error {
	ua := RandomUserAgent(opts.MobileMode)
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      ua,
		AcceptLanguage: AcceptLanguage,
	}); err != nil {
		return fmt.Errorf("设置UA失败: %w", err)
	}

	headers := []string{"Accept-Language", AcceptLanguage}
	if opts.MobileMode {
		headers = append(headers, "X-Requested-With", "com.tencent.mm")
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             MobileWidth,
			Height:            MobileHeight,
			DeviceScaleFactor: 3,
			Mobile:            true,
		}); err != nil {
			return fmt.Errorf("设置移动端视口失败: %w", err)
		}
		_ = proto.EmulationSetTouchEmulationEnabled{Enabled: true}.Call(page)
	} else {
		w, h := RandomViewport()
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             w,
			Height:            h,
			DeviceScaleFactor: 1,
		}); err != nil {
			return fmt.Errorf("设置视口失败: %w", err)
		}
	}
	if _, err := page.SetExtraHeaders(headers); err != nil {
		return fmt.Errorf("设置请求头失败: %w", err)
	}

	if opts.AntiDetection {
		if _, err := page.EvalOnNewDocument(hideWebdriverScript); err != nil {
			return fmt.Errorf("注入脚本失败: %w", err)
		}
	}

	if opts.BlockImages {
		router := page.HijackRequests()
		if err := router.Add("*", "", func(h *rod.Hijack) {
			if h.Request.Type() == proto.NetworkResourceTypeImage {
				h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
			h.ContinueRequest(&proto.FetchContinueRequest{})
		}); err != nil {
			return fmt.Errorf("设置请求拦截失败: %w", err)
		}
		go router.Run()
		c.router = router
	}

	utils.Debugf("浏览器页面已就绪: mobile=%v ua=%s", opts.MobileMode, ua)
	return nil
}

func (c *Controller) currentPage() (*rod.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page == nil {
		return nil, ErrBrowserNotStarted
	}
	return c.page, nil
}

// Running 浏览器是否已启动
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page != nil
}

// Open 打开URL并等待加载
func (c *Controller) Open(ctx context.Context, url string) error {
	page, err := c.currentPage()
	if err != nil {
		return err
	}
	if err := c.pace(ctx); err != nil {
		return err
	}
	p := page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("打开页面失败 [%s]: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		utils.Debugf("等待页面加载失败 [%s]: %v", url, err)
	}
	return nil
}

// WaitVisible 等待元素可见
func (c *Controller) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	page, err := c.currentPage()
	if err != nil {
		return err
	}
	if err := c.pace(ctx); err != nil {
		return err
	}
	p := page.Context(ctx).Timeout(timeout)
	el, err := p.Element(selector)
	if err != nil {
		return fmt.Errorf("等待元素 %s 失败: %w", selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("等待元素 %s 可见失败: %w", selector, err)
	}
	return nil
}

// WaitFunction 等待js函数返回真值
func (c *Controller) WaitFunction(ctx context.Context, js string, timeout time.Duration) error {
	page, err := c.currentPage()
	if err != nil {
		return err
	}
	if err := page.Context(ctx).Timeout(timeout).Wait(rod.Eval(js)); err != nil {
		return fmt.Errorf("等待页面条件失败: %w", err)
	}
	return nil
}

// WaitURLContains 等待当前URL包含marker
func (c *Controller) WaitURLContains(ctx context.Context, marker string, timeout time.Duration) error {
	return c.waitURL(ctx, timeout, marker, func(u string) bool { return strings.Contains(u, marker) })
}

// WaitURLPrefix 等待当前URL以prefix开头
func (c *Controller) WaitURLPrefix(ctx context.Context, prefix string, timeout time.Duration) error {
	return c.waitURL(ctx, timeout, prefix, func(u string) bool { return strings.HasPrefix(u, prefix) })
}

func (c *Controller) waitURL(ctx context.Context, timeout time.Duration, want string, match func(string) bool) error {
	if _, err := c.currentPage(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(urlPollInterval)
	defer ticker.Stop()
	for {
		if match(c.CurrentURL()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("等待URL %s 超时(当前 %s): %w", want, c.CurrentURL(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Reload 刷新页面
func (c *Controller) Reload(ctx context.Context) error {
	page, err := c.currentPage()
	if err != nil {
		return err
	}
	if err := c.pace(ctx); err != nil {
		return err
	}
	p := page.Context(ctx)
	if err := p.Reload(); err != nil {
		return fmt.Errorf("刷新页面失败: %w", err)
	}
	_ = p.WaitLoad()
	return nil
}

// ElementScreenshot 元素截图(PNG)
func (c *Controller) ElementScreenshot(selector string) ([]byte, error) {
	page, err := c.currentPage()
	if err != nil {
		return nil, err
	}
	el, err := page.Element(selector)
	if err != nil {
		return nil, fmt.Errorf("查找元素 %s 失败: %w", selector, err)
	}
	return el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
}

// PageScreenshot 整页截图写入文件
func (c *Controller) PageScreenshot(path string) error {
	page, err := c.currentPage()
	if err != nil {
		return err
	}
	data, err := page.Screenshot(true, nil)
	if err != nil {
		return fmt.Errorf("页面截图失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// CurrentURL 当前页面URL,未启动时返回空串
func (c *Controller) CurrentURL() string {
	page, err := c.currentPage()
	if err != nil {
		return ""
	}
	info, err := page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Title 页面标题
func (c *Controller) Title() string {
	page, err := c.currentPage()
	if err != nil {
		return ""
	}
	info, err := page.Info()
	if err != nil {
		return ""
	}
	return info.Title
}

// Cookies 当前浏览器上下文的全部cookie
func (c *Controller) Cookies() ([]models.Cookie, error) {
	page, err := c.currentPage()
	if err != nil {
		return nil, err
	}
	raw, err := page.Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("读取cookie失败: %w", err)
	}

	out := make([]models.Cookie, 0, len(raw))
	for _, rc := range raw {
		ck := models.NewCookie(rc.Name, rc.Value)
		ck.Domain = rc.Domain
		ck.Path = rc.Path
		ck.Expires = float64(rc.Expires)
		ck.HTTPOnly = rc.HTTPOnly
		ck.Secure = rc.Secure
		ck.SameSite = string(rc.SameSite)
		out = append(out, ck)
	}
	return out, nil
}

// AddCookies 注入cookie
func (c *Controller) AddCookies(cookies []models.Cookie) error {
	page, err := c.currentPage()
	if err != nil {
		return err
	}

	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, ck := range cookies {
		if ck.Name == "" || ck.Value == nil {
			continue
		}
		p := &proto.NetworkCookieParam{
			Name:     ck.Name,
			Value:    *ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
			SameSite: proto.NetworkCookieSameSite(ck.SameSite),
		}
		if ck.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(ck.Expires)
		}
		params = append(params, p)
	}
	if len(params) == 0 {
		return nil
	}
	if err := page.SetCookies(params); err != nil {
		return fmt.Errorf("注入cookie失败: %w", err)
	}
	return nil
}

// Text 元素文本
func (c *Controller) Text(selector string) (string, error) {
	el, err := c.element(selector)
	if err != nil {
		return "", err
	}
	return el.Text()
}

// Attr 元素属性,不存在时返回空串
func (c *Controller) Attr(selector, name string) (string, error) {
	el, err := c.element(selector)
	if err != nil {
		return "", err
	}
	v, err := el.Attribute(name)
	if err != nil || v == nil {
		return "", err
	}
	return *v, nil
}

// HTML 元素outerHTML
func (c *Controller) HTML(selector string) (string, error) {
	el, err := c.element(selector)
	if err != nil {
		return "", err
	}
	return el.HTML()
}

func (c *Controller) element(selector string) (*rod.Element, error) {
	page, err := c.currentPage()
	if err != nil {
		return nil, err
	}
	has, el, err := page.Has(selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, fmt.Errorf("元素不存在: %s", selector)
	}
	return el, nil
}

// Eval 执行js函数,返回字符串结果
func (c *Controller) Eval(js string) (string, error) {
	page, err := c.currentPage()
	if err != nil {
		return "", err
	}
	res, err := page.Eval(js)
	if err != nil {
		return "", fmt.Errorf("执行脚本失败: %w", err)
	}
	return res.Value.Str(), nil
}

// Cleanup 关闭页面与浏览器,可重复调用,错误只记录
func (c *Controller) Cleanup() {
	launchMu.Lock()
	defer launchMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
}

func (c *Controller) cleanupLocked() {
	if c.router != nil {
		_ = c.router.Stop()
		c.router = nil
	}
	if c.page != nil {
		if err := c.page.Close(); err != nil {
			utils.Debugf("关闭页面失败: %v", err)
		}
		c.page = nil
	}
	if c.browser != nil {
		if err := c.browser.Close(); err != nil {
			utils.Debugf("关闭浏览器失败: %v", err)
		}
		c.browser = nil
	}
	if c.launcher != nil {
		c.launcher.Kill()
		c.launcher.Cleanup()
		c.launcher = nil
	}
	if c.guard != nil && c.monitoring {
		c.guard.StopMonitoring()
		c.monitoring = false
	}
}
